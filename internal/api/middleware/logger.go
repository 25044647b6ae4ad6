package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"safereport/pkg/logger"
)

// Logger returns a middleware that logs one line per request and stores a
// request-scoped logger in the context. Query strings and client addresses
// are not logged.
func Logger(log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			reqLog := log.WithRequestID(middleware.GetReqID(r.Context()))
			r = r.WithContext(logger.NewContext(r.Context(), reqLog))

			defer func() {
				var event *zerolog.Event
				switch status := ww.Status(); {
				case status >= 500:
					event = reqLog.Error()
				case status >= 400:
					event = reqLog.Warn()
				default:
					event = reqLog.Info()
				}
				event.
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(start)).
					Msg("request completed")
			}()

			next.ServeHTTP(ww, r)
		}
		return http.HandlerFunc(fn)
	}
}
