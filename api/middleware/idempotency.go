package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/marketpay-backend/api/responses"
	pkgerrors "github.com/angelmondragon/marketpay-backend/pkg/errors"
	"github.com/angelmondragon/marketpay-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/marketpay-backend/pkg/redis"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
	maxIdempotencyKey = 128

	orderKeyTTL   = 24 * time.Hour
	paymentKeyTTL = 7 * 24 * time.Hour
	// A claim outlives any single request; a crashed handler frees the key
	// once it lapses.
	inFlightTTL = 2 * time.Minute
)

type keyState string

const (
	keyInFlight keyState = "in_flight"
	keyDone     keyState = "done"
)

// idempotencyRule patterns use path.Match syntax; '*' spans one segment.
type idempotencyRule struct {
	method   string
	pattern  string
	ttl      time.Duration
	required bool
}

var idempotencyRules = []idempotencyRule{
	{http.MethodPost, "/api/v1/orders", orderKeyTTL, false},
	{http.MethodPost, "/api/v1/cart/checkout", orderKeyTTL, false},
	{http.MethodPost, "/api/v1/payments/initiate", paymentKeyTTL, true},
	{http.MethodPost, "/api/v1/payments/mobile", paymentKeyTTL, true},
	{http.MethodPost, "/api/v1/payments/card", paymentKeyTTL, true},
	{http.MethodPost, "/api/v1/transactions", paymentKeyTTL, true},
	{http.MethodPost, "/api/v1/transactions/*/refund", paymentKeyTTL, true},
	{http.MethodPost, "/api/v1/transactions/*/fail", paymentKeyTTL, true},
}

// keyRecord is what lives under an idempotency key: first a claim, then the
// captured response.
type keyRecord struct {
	State       keyState `json:"state"`
	RequestHash string   `json:"request_hash"`
	Status      int      `json:"status,omitempty"`
	ContentType string   `json:"content_type,omitempty"`
	Body        []byte   `json:"body,omitempty"`
}

// Idempotency claims the caller's key before running the handler and
// replays the stored response for repeats with the same body. A repeat that
// arrives while the first request runs, or that carries a different body,
// gets a conflict. 5xx outcomes release the key so the client can retry.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rule, ok := matchRule(r.Method, r.URL.Path)
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			clientKey, present := headerToken(r, idempotencyHeader, maxIdempotencyKey)
			if !present {
				if rule.required {
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			hash := fingerprint(body)
			storeKey := store.IdempotencyKey(strings.Join([]string{SessionIDFromContext(ctx), r.Method, r.URL.Path}, "|"), clientKey)

			claim, _ := json.Marshal(keyRecord{State: keyInFlight, RequestHash: hash})
			claimed, err := store.SetNX(ctx, storeKey, string(claim), inFlightTTL)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key"))
				return
			}
			if !claimed {
				replayExisting(w, r, store, storeKey, hash, logg)
				return
			}

			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r)

			if err := store.Del(ctx, storeKey); err != nil && logg != nil {
				logg.Error(ctx, "release idempotency claim", err)
			}
			if capture.statusCode() >= http.StatusInternalServerError {
				return
			}
			done, err := json.Marshal(keyRecord{
				State:       keyDone,
				RequestHash: hash,
				Status:      capture.statusCode(),
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.body.Bytes(),
			})
			if err == nil {
				_, err = store.SetNX(ctx, storeKey, string(done), rule.ttl)
			}
			if err != nil && logg != nil {
				logg.Error(ctx, "persist idempotent response", err)
			}
		})
	}
}

func replayExisting(w http.ResponseWriter, r *http.Request, store pkgredis.IdempotencyStore, storeKey, hash string, logg *logger.Logger) {
	ctx := r.Context()
	raw, err := store.Get(ctx, storeKey)
	if err != nil && !errors.Is(err, redis.Nil) {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load idempotency record"))
		return
	}
	if raw == "" {
		// the claim lapsed between SETNX and GET
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "idempotent request is still being processed"))
		return
	}
	var record keyRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	switch {
	case record.RequestHash != hash:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "idempotency key reused with different request body"))
	case record.State != keyDone:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "idempotent request is still being processed"))
	default:
		if record.ContentType != "" {
			w.Header().Set("Content-Type", record.ContentType)
		}
		w.Header().Set(replayedHeader, "true")
		w.WriteHeader(record.Status)
		_, _ = w.Write(record.Body)
	}
}

func matchRule(method, urlPath string) (idempotencyRule, bool) {
	urlPath = strings.TrimRight(urlPath, "/")
	if urlPath == "" {
		return idempotencyRule{}, false
	}
	for _, rule := range idempotencyRules {
		if rule.method != method {
			continue
		}
		if ok, _ := path.Match(rule.pattern, urlPath); ok {
			return rule, true
		}
	}
	return idempotencyRule{}, false
}

func fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *responseCapture) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}
