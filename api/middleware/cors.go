package middleware

import (
	"net/http"
	"slices"

	"github.com/go-chi/cors"
)

const corsMaxAgeSeconds = 300

// CORS allows browser carts on the listed origins to send the session and
// idempotency headers and to read the replay and retry hints back. A "*"
// entry allows any origin.
func CORS(origins []string) func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", sessionIDHeader, idempotencyHeader, requestIDHeader},
		ExposedHeaders: []string{requestIDHeader, replayedHeader, "Retry-After"},
		MaxAge:         corsMaxAgeSeconds,
	}
	if slices.Contains(origins, "*") {
		opts.AllowOriginFunc = func(*http.Request, string) bool { return true }
	} else {
		opts.AllowedOrigins = origins
	}
	return cors.New(opts).Handler
}
