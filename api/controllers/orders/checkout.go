package orders

import (
	"context"
	"net/http"

	"github.com/angelmondragon/marketpay-backend/api/controllers/dto"
	"github.com/angelmondragon/marketpay-backend/api/middleware"
	"github.com/angelmondragon/marketpay-backend/api/responses"
	"github.com/angelmondragon/marketpay-backend/api/validators"
	internalorders "github.com/angelmondragon/marketpay-backend/internal/orders"
	"github.com/angelmondragon/marketpay-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketpay-backend/pkg/errors"
	"github.com/angelmondragon/marketpay-backend/pkg/logger"
)

type CheckoutService interface {
	CreateFromCart(ctx context.Context, input internalorders.CheckoutInput) (*models.Order, error)
}

// Checkout places an order from the caller's validated cart. The ordered
// entries leave the cart in the same transaction.
func Checkout(svc CheckoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := middleware.SessionIDFromContext(r.Context())
		if sessionID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "cart session is required"))
			return
		}
		var body CheckoutRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.CreateFromCart(r.Context(), body.toInput(sessionID))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, dto.NewOrder(order))
	}
}
