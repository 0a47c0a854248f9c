package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/angelmondragon/marketpay-backend/pkg/logger"
)

const (
	sessionIDHeader = "X-Session-Id"
	maxSessionLen   = 128
)

type ctxKey int

const sessionKey ctxKey = iota

// SessionIDFromContext returns the cart session set by Session, if any.
func SessionIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(sessionKey).(string)
	return id
}

// WithSessionID stores the cart session identifier on ctx.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, sessionKey, sessionID)
}

// Session copies the anonymous cart session header into the request context.
// Requests without one pass through; handlers that need it reject them.
func Session(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID, ok := headerToken(r, sessionIDHeader, maxSessionLen)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			ctx := WithSessionID(r.Context(), sessionID)
			if logg != nil {
				ctx = logg.WithSessionID(ctx, sessionID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// headerToken returns the trimmed header value when it is present, at most
// max bytes long and free of control characters.
func headerToken(r *http.Request, header string, max int) (string, bool) {
	value := strings.TrimSpace(r.Header.Get(header))
	if value == "" || len(value) > max {
		return "", false
	}
	if strings.IndexFunc(value, func(c rune) bool { return c < 0x20 || c == 0x7f }) >= 0 {
		return "", false
	}
	return value, true
}
