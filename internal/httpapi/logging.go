package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// zlog is the structured logger used by the HTTP layer. Defaults to a
// disabled logger until SetLogger is called.
var zlog = zerolog.Nop()

// SetLogger installs the structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = l }

func logStart(r *http.Request, op string) {
	ev := zlog.Info().Str("op", op).Str("path", r.URL.Path)
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		ev = ev.Str("request_id", rid)
	}
	ev.Msg("request start")
}

func logEnd(r *http.Request, op string, status int, dur time.Duration, err error) {
	ev := zlog.Info().Str("op", op).Int("status", status).Dur("dur", dur)
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		ev = ev.Str("request_id", rid)
	}
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg("request end")
}
