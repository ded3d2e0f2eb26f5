// Package httpapi exposes the engine over a local control-plane HTTP API
// consumed by the desktop UI.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"promptd/internal/generate"
	"promptd/pkg/types"
)

// Service defines the engine methods required by the HTTP layer.
type Service interface {
	Status() types.StatusResponse
	Models() []types.ModelInfo
	Healthy() bool
	StartServer(modelPath string) error
	StopServer() error
	RestartServer(modelPath string) error
	ClearConversation()
	Generate(ctx context.Context, req types.GenerateRequest, w io.Writer, flush func()) (types.GenerationResult, error)
	Iterate(ctx context.Context, req types.IterateRequest, progress generate.ProgressFunc) ([]types.IterationResult, error)
	CompareModels(ctx context.Context, req types.CompareRequest, progress generate.ProgressFunc) ([]types.CompareResult, error)
}

// NewMux builds the chi router for the control-plane API.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Healthy() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, svc.Status())
	})

	r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, types.ModelsResponse{Models: svc.Models()})
	})

	r.Post("/server/start", func(w http.ResponseWriter, r *http.Request) {
		var req types.StartRequest
		if r.ContentLength > 0 {
			if !decodeJSON(w, r, &req) {
				return
			}
		}
		if err := svc.StartServer(req.ModelPath); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, svc.Status())
	})

	r.Post("/server/stop", func(w http.ResponseWriter, r *http.Request) {
		if err := svc.StopServer(); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, svc.Status())
	})

	r.Post("/server/restart", func(w http.ResponseWriter, r *http.Request) {
		var req types.StartRequest
		if r.ContentLength > 0 {
			if !decodeJSON(w, r, &req) {
				return
			}
		}
		if err := svc.RestartServer(req.ModelPath); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, svc.Status())
	})

	r.Post("/conversation/clear", func(w http.ResponseWriter, r *http.Request) {
		svc.ClearConversation()
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/generate", func(w http.ResponseWriter, r *http.Request) {
		var req types.GenerateRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Prompt) == "" {
			writeJSONError(w, http.StatusBadRequest, "prompt is required")
			return
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		var flush func()
		if f, ok := w.(http.Flusher); ok {
			flush = f.Flush
		}
		start := time.Now()
		logStart(r, "generate")

		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		res, err := svc.Generate(ctx, req, w, flush)
		if err != nil {
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			writeError(w, err)
			logEnd(r, "generate", errorStatus(err), time.Since(start), err)
			return
		}
		logEnd(r, "generate", http.StatusOK, time.Since(start), nil)
		if res.Outcome == types.OutcomeCompleted {
			ObserveGeneration(res.LatencySeconds, res.OutputTokensEst)
		}
	})

	r.Post("/iterate", func(w http.ResponseWriter, r *http.Request) {
		var req types.IterateRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		var flush func()
		if f, ok := w.(http.Flusher); ok {
			flush = f.Flush
		}
		enc := json.NewEncoder(w)
		progress := func(cur, total int) {
			_ = enc.Encode(map[string]any{"progress": types.ProgressEvent{Current: cur, Total: total}})
			if flush != nil {
				flush()
			}
		}

		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		start := time.Now()
		logStart(r, "iterate")
		results, err := svc.Iterate(ctx, req, progress)
		if err != nil {
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			writeError(w, err)
			logEnd(r, "iterate", errorStatus(err), time.Since(start), err)
			return
		}
		_ = enc.Encode(map[string]any{"done": true, "results": results})
		logEnd(r, "iterate", http.StatusOK, time.Since(start), nil)
	})

	r.Post("/compare", func(w http.ResponseWriter, r *http.Request) {
		var req types.CompareRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		var flush func()
		if f, ok := w.(http.Flusher); ok {
			flush = f.Flush
		}
		enc := json.NewEncoder(w)
		progress := func(cur, total int) {
			_ = enc.Encode(map[string]any{"progress": types.ProgressEvent{Current: cur, Total: total}})
			if flush != nil {
				flush()
			}
		}

		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		start := time.Now()
		logStart(r, "compare")
		results, err := svc.CompareModels(ctx, req, progress)
		if err != nil {
			if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
				return
			}
			writeError(w, err)
			logEnd(r, "compare", errorStatus(err), time.Since(start), err)
			return
		}
		_ = enc.Encode(map[string]any{"done": true, "results": results})
		logEnd(r, "compare", http.StatusOK, time.Since(start), nil)
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

// decodeJSON enforces the content type and body size limit, decoding into v.
// Writes the error response itself and returns false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
	}
}
