package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/suragms/BillingApp-sub007/pkg/logger"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// Logging writes one line per request once the handler returns. Health check
// and metrics scrape traffic is logged at debug.
func Logging(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logg == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := logg.WithFields(r.Context(), map[string]any{
				"method": r.Method,
				"path":   r.URL.Path,
			})
			rec := &statusRecorder{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(rec, r.WithContext(ctx))
			if rec.status == 0 {
				rec.status = http.StatusOK
			}

			ctx = logg.WithFields(ctx, map[string]any{
				"status":        rec.status,
				"bytes":         rec.bytes,
				"duration_ms":   time.Since(start).Milliseconds(),
				"idempotent_rq": r.Header.Get(IdempotencyHeader) != "",
			})
			switch {
			case rec.status >= http.StatusInternalServerError:
				logg.Warn(ctx, "request failed")
			case quietPath(r.URL.Path):
				logg.Debug(ctx, "request complete")
			default:
				logg.Info(ctx, "request complete")
			}
		})
	}
}

func quietPath(path string) bool {
	return path == "/metrics" || strings.HasPrefix(path, "/health/")
}
