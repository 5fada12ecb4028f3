package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// requestLogger emits one structured line per request at debug level.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sr := &statusRecorder{ResponseWriter: w, status: 200}
			start := time.Now()
			next.ServeHTTP(sr, r)

			ev := log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", sr.status).
				Dur("duration", time.Since(start))
			if rid := middleware.GetReqID(r.Context()); rid != "" {
				ev = ev.Str("request_id", rid)
			}
			ev.Msg("http request")
		})
	}
}
