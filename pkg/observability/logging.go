package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ajitpratap0/datasync/pkg/logger"
)

// RequestLogger logs one line per request and puts the chi request id into
// the context so handlers' loggers carry it. It must run after
// middleware.RequestID.
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	log = logger.OrNop(log).With(zap.String("component", "http"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := r.Context()
			if id := middleware.GetReqID(ctx); id != "" {
				ctx = logger.WithRequestID(ctx, id)
			}
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("route", routePattern(r)),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			}
			reqLog := logger.WithContext(ctx, log)
			switch {
			case status >= http.StatusInternalServerError:
				reqLog.Error("request failed", fields...)
			case status >= http.StatusBadRequest:
				reqLog.Info("request rejected", fields...)
			default:
				reqLog.Debug("request served", fields...)
			}
		})
	}
}
