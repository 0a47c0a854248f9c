package payments

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/marketpay-backend/api/controllers/dto"
	"github.com/angelmondragon/marketpay-backend/api/responses"
	"github.com/angelmondragon/marketpay-backend/api/validators"
	internalpayments "github.com/angelmondragon/marketpay-backend/internal/payments"
	"github.com/angelmondragon/marketpay-backend/pkg/db/models"
	"github.com/angelmondragon/marketpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketpay-backend/pkg/errors"
	"github.com/angelmondragon/marketpay-backend/pkg/logger"
	"github.com/angelmondragon/marketpay-backend/pkg/pagination"
)

// Service is the slice of the payments service these handlers drive.
type Service interface {
	Initiate(ctx context.Context, input internalpayments.InitiateInput) (*models.Transaction, error)
	InitiateMobilePayment(ctx context.Context, input internalpayments.GatewayPaymentInput) (*internalpayments.GatewayPaymentResult, error)
	InitiateCardPayment(ctx context.Context, input internalpayments.GatewayPaymentInput) (*internalpayments.GatewayPaymentResult, error)
	VerifyPayment(ctx context.Context, billID string) (*internalpayments.VerifyResult, error)
	Create(ctx context.Context, input internalpayments.CreateInput) (*models.Transaction, error)
	Update(ctx context.Context, id uuid.UUID, input internalpayments.UpdateInput) (*models.Transaction, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	List(ctx context.Context, params internalpayments.ListParams) (*internalpayments.ListResult, error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) (*models.Transaction, error)
	Refund(ctx context.Context, id uuid.UUID, reason string) (*models.Transaction, error)
}

// GatewayPaymentResponse is returned by the mobile and card initiations.
type GatewayPaymentResponse struct {
	Transaction *dto.Transaction `json:"transaction"`
	BillID      string           `json:"bill_id"`
	Pushed      bool             `json:"ussd_pushed"`
}

type VerifyResponse struct {
	BillID        string           `json:"bill_id"`
	Outcome       string           `json:"outcome"`
	Confirmed     bool             `json:"confirmed"`
	ProviderState string           `json:"provider_state,omitempty"`
	Transaction   *dto.Transaction `json:"transaction,omitempty"`
	Order         *dto.Order       `json:"order,omitempty"`
}

// Initiate records a pending transaction against an order without
// contacting the billing provider.
func Initiate(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body InitiateRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		txn, err := svc.Initiate(r.Context(), body.toInput())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, dto.NewTransaction(txn))
	}
}

func InitiateMobile(svc Service, logg *logger.Logger) http.HandlerFunc {
	return gatewayInitiation(svc.InitiateMobilePayment, logg)
}

func InitiateCard(svc Service, logg *logger.Logger) http.HandlerFunc {
	return gatewayInitiation(svc.InitiateCardPayment, logg)
}

func gatewayInitiation(
	initiate func(context.Context, internalpayments.GatewayPaymentInput) (*internalpayments.GatewayPaymentResult, error),
	logg *logger.Logger,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body GatewayPaymentRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := initiate(r.Context(), body.toInput())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, GatewayPaymentResponse{
			Transaction: dto.NewTransaction(result.Transaction),
			BillID:      result.BillID,
			Pushed:      result.Pushed,
		})
	}
}

// Verify asks the provider for the bill's state and settles the matching
// transaction when it is paid. Non-settling outcomes still answer 200.
func Verify(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		billID := strings.TrimSpace(chi.URLParam(r, "billId"))
		if billID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "bill id is required"))
			return
		}
		result, err := svc.VerifyPayment(r.Context(), billID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, VerifyResponse{
			BillID:        result.BillID,
			Outcome:       result.Outcome,
			Confirmed:     result.Confirmed(),
			ProviderState: result.ProviderState,
			Transaction:   dto.NewTransaction(result.Transaction),
			Order:         dto.NewOrder(result.Order),
		})
	}
}

func Create(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body CreateTransactionRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		txn, err := svc.Create(r.Context(), body.toInput())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, dto.NewTransaction(txn))
	}
}

func List(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseOptionalUUIDQuery(r, "order_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params := internalpayments.ListParams{
			Limit:   limit,
			Cursor:  strings.TrimSpace(r.URL.Query().Get("cursor")),
			OrderID: orderID,
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err := enums.ParseTransactionStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter"))
				return
			}
			params.Status = &status
		}

		result, err := svc.List(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WritePage(w, dto.NewTransactions(result.Transactions), limit, result.NextCursor)
	}
}

func Detail(svc Service, logg *logger.Logger) http.HandlerFunc {
	return withTransactionID(logg, func(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
		txn, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewTransaction(txn))
	})
}

// Update edits the descriptive fields; amount and status are not editable.
func Update(svc Service, logg *logger.Logger) http.HandlerFunc {
	return withTransactionID(logg, func(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
		var body UpdateTransactionRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		txn, err := svc.Update(r.Context(), id, body.toInput())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewTransaction(txn))
	})
}

func Refund(svc Service, logg *logger.Logger) http.HandlerFunc {
	return withReason(logg, svc.Refund)
}

func MarkFailed(svc Service, logg *logger.Logger) http.HandlerFunc {
	return withReason(logg, svc.MarkFailed)
}

func withReason(logg *logger.Logger, action func(context.Context, uuid.UUID, string) (*models.Transaction, error)) http.HandlerFunc {
	return withTransactionID(logg, func(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
		var body ReasonRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &body); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		txn, err := action(r.Context(), id, validators.SanitizeString(body.Reason, 500))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewTransaction(txn))
	})
}

func withTransactionID(logg *logger.Logger, next func(http.ResponseWriter, *http.Request, uuid.UUID)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "transactionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithTransactionID(ctx, id.String())
		}
		next(w, r.WithContext(ctx), id)
	}
}
