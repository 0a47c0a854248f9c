package cart

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketpay-backend/api/middleware"
	"github.com/angelmondragon/marketpay-backend/api/responses"
	"github.com/angelmondragon/marketpay-backend/api/validators"
	internalcart "github.com/angelmondragon/marketpay-backend/internal/cart"
	pkgerrors "github.com/angelmondragon/marketpay-backend/pkg/errors"
	"github.com/angelmondragon/marketpay-backend/pkg/logger"
	"github.com/angelmondragon/marketpay-backend/pkg/types"
)

type Service interface {
	GetValidatedCart(ctx context.Context, sessionID string) (*internalcart.ValidatedCart, error)
	Add(ctx context.Context, sessionID string, input internalcart.AddItemInput) (*internalcart.ValidatedCart, error)
	UpdateQuantity(ctx context.Context, sessionID string, entryID uuid.UUID, quantity int) (*internalcart.ValidatedCart, error)
	Remove(ctx context.Context, sessionID string, entryID uuid.UUID) error
	Clear(ctx context.Context, sessionID string) error
	Count(ctx context.Context, sessionID string) (internalcart.Count, error)
}

type AddItemRequest struct {
	ProductID       string                 `json:"product_id" validate:"required,uuid"`
	Quantity        int                    `json:"quantity" validate:"gte=1,lte=999"`
	SelectedVariant types.VariantSelection `json:"selected_variant,omitempty"`
}

type UpdateQuantityRequest struct {
	Quantity int `json:"quantity" validate:"gte=1,lte=999"`
}

// Get returns the cart after it was reconciled against live stock; removed
// and clamped entries are reported alongside the surviving items.
func Get(svc Service, logg *logger.Logger) http.HandlerFunc {
	return withSession(logg, func(w http.ResponseWriter, r *http.Request, sessionID string) {
		validated, err := svc.GetValidatedCart(r.Context(), sessionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, validated)
	})
}

func AddItem(svc Service, logg *logger.Logger) http.HandlerFunc {
	return withSession(logg, func(w http.ResponseWriter, r *http.Request, sessionID string) {
		var body AddItemRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		validated, err := svc.Add(r.Context(), sessionID, internalcart.AddItemInput{
			ProductID:       uuid.MustParse(body.ProductID),
			Quantity:        body.Quantity,
			SelectedVariant: body.SelectedVariant,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, validated)
	})
}

func UpdateQuantity(svc Service, logg *logger.Logger) http.HandlerFunc {
	return withSession(logg, func(w http.ResponseWriter, r *http.Request, sessionID string) {
		entryID, err := validators.ParseUUIDParam(r, "entryId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body UpdateQuantityRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		validated, err := svc.UpdateQuantity(r.Context(), sessionID, entryID, body.Quantity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, validated)
	})
}

func RemoveItem(svc Service, logg *logger.Logger) http.HandlerFunc {
	return withSession(logg, func(w http.ResponseWriter, r *http.Request, sessionID string) {
		entryID, err := validators.ParseUUIDParam(r, "entryId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Remove(r.Context(), sessionID, entryID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func Clear(svc Service, logg *logger.Logger) http.HandlerFunc {
	return withSession(logg, func(w http.ResponseWriter, r *http.Request, sessionID string) {
		if err := svc.Clear(r.Context(), sessionID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func Count(svc Service, logg *logger.Logger) http.HandlerFunc {
	return withSession(logg, func(w http.ResponseWriter, r *http.Request, sessionID string) {
		count, err := svc.Count(r.Context(), sessionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, count)
	})
}

func withSession(logg *logger.Logger, next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := middleware.SessionIDFromContext(r.Context())
		if sessionID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "cart session is required"))
			return
		}
		next(w, r, sessionID)
	}
}
