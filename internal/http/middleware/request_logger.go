package middleware

import (
	"context"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/fichaclinica/intake-api/internal/practitioner"
	"github.com/fichaclinica/intake-api/pkg/logging"
)

const requestInfoKey contextKey = "requestInfo"

// requestInfo is filled in by middleware further down the chain, which only
// sees a derived request.
type requestInfo struct {
	practitionerID string
}

func notePractitioner(ctx context.Context, id string) {
	if info, ok := ctx.Value(requestInfoKey).(*requestInfo); ok {
		info.practitionerID = id
	}
}

// RequestLogger logs one line per request and echoes X-Request-ID, minting
// one when the client sent none.
func RequestLogger(logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", reqID)

			info := &requestInfo{}
			if id, ok := practitioner.IDFromContext(r.Context()); ok {
				info.practitionerID = id
			}
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), requestInfoKey, info)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", reqID,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if info.practitionerID != "" {
				attrs = append(attrs, "practitioner_id", info.practitionerID)
			}
			switch {
			case status >= http.StatusInternalServerError:
				logger.Error("request completed", attrs...)
			case status >= http.StatusBadRequest:
				logger.Warn("request completed", attrs...)
			default:
				logger.Info("request completed", attrs...)
			}
		})
	}
}
