package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/daochan/daochan/internal/metrics"
)

type contextKey string

const ContextKeyAddress contextKey = "address"

// RequireAuth returns middleware that requires a valid bearer token. An
// X-Address header, when sent, must name the token's owner.
func (h *Handler) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenStr := h.getToken(r)
		if tokenStr == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		address, err := h.auth.ValidateToken(tokenStr)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		if claimed := r.Header.Get("X-Address"); claimed != "" && !strings.EqualFold(claimed, address) {
			writeError(w, http.StatusUnauthorized, "token does not belong to address")
			return
		}

		ctx := context.WithValue(r.Context(), ContextKeyAddress, address)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// GetAddressFromContext returns the authenticated address, if any
func GetAddressFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ContextKeyAddress).(string); ok {
		return v
	}
	return ""
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// LogRequests returns middleware that logs all incoming requests and counts
// them by route pattern.
func LogRequests(log zerolog.Logger, m *metrics.Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequest(route, rec.status)

		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
