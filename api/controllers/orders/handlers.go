package orders

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/marketpay-backend/api/controllers/dto"
	"github.com/angelmondragon/marketpay-backend/api/middleware"
	"github.com/angelmondragon/marketpay-backend/api/responses"
	"github.com/angelmondragon/marketpay-backend/api/validators"
	"github.com/angelmondragon/marketpay-backend/internal/fees"
	internalorders "github.com/angelmondragon/marketpay-backend/internal/orders"
	"github.com/angelmondragon/marketpay-backend/pkg/db/models"
	"github.com/angelmondragon/marketpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketpay-backend/pkg/errors"
	"github.com/angelmondragon/marketpay-backend/pkg/logger"
	"github.com/angelmondragon/marketpay-backend/pkg/pagination"
)

// Service is the slice of the orders service these handlers drive.
type Service interface {
	Create(ctx context.Context, input internalorders.CreateInput) (*models.Order, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetByNumber(ctx context.Context, number string) (*models.Order, error)
	ListByShop(ctx context.Context, shopID uuid.UUID, params internalorders.ListParams) (*internalorders.ListResult, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, target enums.OrderStatus) (*models.Order, error)
	UpdatePaymentStatus(ctx context.Context, id uuid.UUID, status enums.OrderPaymentStatus, method *enums.PaymentMethod) (*models.Order, error)
	RecomputeTotals(ctx context.Context, id uuid.UUID) (*models.Order, error)
}

// Quoter prices every payment purpose for an order.
type Quoter interface {
	Quote(order *models.Order) ([]fees.Expectation, error)
}

// PaymentQuoteResponse lists the expected amount per payment purpose.
type PaymentQuoteResponse struct {
	OrderID         uuid.UUID          `json:"order_id"`
	OrderNumber     string             `json:"order_number"`
	AmountPaidCents int64              `json:"amount_paid_cents"`
	Quotes          []fees.Expectation `json:"quotes"`
}

func Create(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body CreateOrderRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.Create(r.Context(), body.toInput(middleware.SessionIDFromContext(r.Context())))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, dto.NewOrder(order))
	}
}

func Detail(svc Service, logg *logger.Logger) http.HandlerFunc {
	return withOrderID(logg, func(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
		order, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewOrder(order))
	})
}

func DetailByNumber(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		number := strings.TrimSpace(chi.URLParam(r, "orderNumber"))
		if number == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "order number is required"))
			return
		}
		order, err := svc.GetByNumber(r.Context(), number)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewOrder(order))
	}
}

// ListByShop pages a shop's orders newest first, optionally by status.
func ListByShop(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shopID, err := validators.ParseUUIDParam(r, "shopId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params := internalorders.ListParams{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err := enums.ParseOrderStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter"))
				return
			}
			params.Status = &status
		}

		result, err := svc.ListByShop(r.Context(), shopID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WritePage(w, dto.NewOrders(result.Orders), limit, result.NextCursor)
	}
}

func UpdateStatus(svc Service, logg *logger.Logger) http.HandlerFunc {
	return withOrderID(logg, func(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
		var body UpdateStatusRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.UpdateStatus(r.Context(), id, enums.OrderStatus(body.Status))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewOrder(order))
	})
}

func UpdatePaymentStatus(svc Service, logg *logger.Logger) http.HandlerFunc {
	return withOrderID(logg, func(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
		var body UpdatePaymentStatusRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.UpdatePaymentStatus(r.Context(), id, enums.OrderPaymentStatus(body.PaymentStatus), body.method())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewOrder(order))
	})
}

func RecomputeTotals(svc Service, logg *logger.Logger) http.HandlerFunc {
	return withOrderID(logg, func(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
		order, err := svc.RecomputeTotals(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewOrder(order))
	})
}

// PaymentQuote shows what each payment purpose would cost for the order,
// service fee included.
func PaymentQuote(svc Service, quoter Quoter, logg *logger.Logger) http.HandlerFunc {
	return withOrderID(logg, func(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
		order, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		quotes, err := quoter.Quote(order)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, PaymentQuoteResponse{
			OrderID:         order.ID,
			OrderNumber:     order.OrderNumber,
			AmountPaidCents: order.AmountPaidCents,
			Quotes:          quotes,
		})
	})
}

func withOrderID(logg *logger.Logger, next func(http.ResponseWriter, *http.Request, uuid.UUID)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithOrderID(ctx, id.String())
		}
		next(w, r.WithContext(ctx), id)
	}
}
