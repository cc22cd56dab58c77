package middleware

import (
	"net/http"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/kozaktomas/gate-attendance/internal/logger"
)

// RequestLogger logs one structured line per request.
func RequestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			started := time.Now()
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			kv := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"elapsed", time.Since(started).String(),
				"request_id", chiMiddleware.GetReqID(r.Context()),
			}
			if status >= http.StatusInternalServerError {
				log.Warn("request failed", kv...)
				return
			}
			log.Debug("request", kv...)
		})
	}
}
