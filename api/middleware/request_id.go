package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketpay-backend/pkg/logger"
)

const (
	requestIDHeader = "X-Request-Id"
	maxRequestIDLen = 64
)

// RequestID keeps a well-formed caller id, mints a UUID otherwise and tags
// the logger context with it.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := headerToken(r, requestIDHeader, maxRequestIDLen)
			if !ok {
				id = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, id)
			if logg == nil {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(logg.WithRequestID(r.Context(), id)))
		})
	}
}
