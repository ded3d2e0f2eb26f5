package httpapi

import (
	"encoding/json"
	"net/http"

	"promptd/internal/generate"
	"promptd/internal/supervisor"
	"promptd/pkg/types"
)

// errorStatus maps the engine error taxonomy to HTTP status codes.
// Validation failures are client errors; a missing binary or model means
// the backend dependency is unavailable; a port conflict is a resource
// conflict the user must resolve.
func errorStatus(err error) int {
	switch {
	case generate.IsValidation(err):
		return http.StatusBadRequest
	case generate.IsBusy(err):
		return http.StatusTooManyRequests
	case supervisor.IsBinaryNotFound(err), supervisor.IsInvalidModelFile(err):
		return http.StatusServiceUnavailable
	case supervisor.IsPortInUse(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err onto the taxonomy and writes the JSON payload.
func writeError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	if status == http.StatusTooManyRequests {
		IncrementBackpressure("queue_full")
	}
	writeJSONError(w, status, err.Error())
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}
