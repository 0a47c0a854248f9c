package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	pkgerrors "github.com/angelmondragon/marketpay-backend/pkg/errors"
	"github.com/angelmondragon/marketpay-backend/pkg/logger"
)

const retryAfter = 5 * time.Second

func WriteSuccess(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Success{Data: data})
}

func WriteCreated(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, Success{Data: data})
}

// WritePage writes a list with its cursor metadata.
func WritePage(w http.ResponseWriter, data any, limit int, nextCursor string) {
	writeJSON(w, http.StatusOK, Success{Data: data, Meta: &Page{Limit: limit, NextCursor: nextCursor}})
}

// WriteError renders err with its code's status. Client errors (4xx) carry
// the error's own message; server errors only the code's public message.
// Untyped errors are treated as CodeInternal.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	meta := pkgerrors.MetadataFor(typed.Code())

	body := ErrorBody{Code: string(typed.Code()), Message: meta.PublicMessage}
	if meta.HTTPStatus < http.StatusInternalServerError && typed.Message() != "" {
		body.Message = typed.Message()
	}
	if meta.DetailsAllowed {
		body.Details = typed.Details()
	}

	if logg != nil {
		logRejection(ctx, logg, err, meta)
	}
	if meta.Retryable || meta.HTTPStatus == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
	}
	writeJSON(w, meta.HTTPStatus, Failure{Error: body})
}

func logRejection(ctx context.Context, logg *logger.Logger, err error, meta pkgerrors.Metadata) {
	d := pkgerrors.Dump(err)
	fields := map[string]any{
		"error":       d.TopMessage,
		"error_code":  d.Code,
		"error_chain": d.Chain,
		"http_status": meta.HTTPStatus,
		"retryable":   meta.Retryable,
	}
	if d.PGCode != "" {
		fields["pg_code"] = d.PGCode
		fields["pg_constraint"] = d.PGConstraint
	}
	ctx = logg.WithFields(ctx, fields)
	if meta.HTTPStatus >= http.StatusInternalServerError {
		logg.Error(ctx, "request.error", err)
		return
	}
	logg.Warn(ctx, "request.rejected")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Int("status", status).Msg("encode response")
	}
}
