package payments

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/marketpay-backend/pkg/db/models"
	"github.com/angelmondragon/marketpay-backend/pkg/enums"
)

// InitiateInput opens a pending transaction against an order. A zero
// amount on a fixed purpose is filled with the expected amount.
type InitiateInput struct {
	OrderID        uuid.UUID
	AmountCents    int64
	PaymentMethod  enums.PaymentMethod
	PaymentPurpose enums.PaymentPurpose
	PhoneNumber    *string
	Notes          *string
	Reference      string
}

// GatewayPaymentInput drives an initiation through the billing gateway.
type GatewayPaymentInput struct {
	InitiateInput
	PayerName  string
	PayerEmail string
	// PaymentSystem is the operator code for the USSD push; derived from
	// the payment method when empty.
	PaymentSystem string
}

// GatewayPaymentResult is a transaction plus the provider bill it maps to.
type GatewayPaymentResult struct {
	Transaction *models.Transaction `json:"transaction"`
	BillID      string              `json:"bill_id"`
	Pushed      bool                `json:"ussd_pushed"`
}

// CreateInput records a transaction directly, e.g. cash received.
type CreateInput struct {
	OrderID        *uuid.UUID
	AmountCents    int64
	PaymentMethod  enums.PaymentMethod
	PaymentPurpose enums.PaymentPurpose
	Status         enums.TransactionStatus
	PhoneNumber    *string
	Notes          *string
	Reference      string
}

// UpdateInput changes descriptive fields only; status moves through the
// dedicated operations.
type UpdateInput struct {
	PhoneNumber   *string
	Notes         *string
	PaymentMethod *enums.PaymentMethod
}

// ListParams filters transaction listings.
type ListParams struct {
	Limit   int
	Cursor  string
	OrderID *uuid.UUID
	Status  *enums.TransactionStatus
}

// ListResult is one page of transactions.
type ListResult struct {
	Transactions []models.Transaction `json:"transactions"`
	NextCursor   string               `json:"next_cursor,omitempty"`
}

// Verification outcomes.
const (
	OutcomeConfirmed      = "confirmed"
	OutcomeAlreadySettled = "already_settled"
	OutcomeHeldForReview  = "settled_held_for_review"
	OutcomePending        = "pending_confirmation"
	OutcomeMismatch       = "amount_mismatch"
	OutcomeNotFound       = "transaction_not_found"
	OutcomeGatewayError   = "gateway_error"
)

// VerifyResult reports what a verification did.
type VerifyResult struct {
	BillID        string              `json:"bill_id"`
	Outcome       string              `json:"outcome"`
	ProviderState string              `json:"provider_state,omitempty"`
	Transaction   *models.Transaction `json:"transaction"`
	Order         *models.Order       `json:"order,omitempty"`
}

// Confirmed reports whether the transaction is paid after verification.
func (r *VerifyResult) Confirmed() bool {
	return r != nil && (r.Outcome == OutcomeConfirmed || r.Outcome == OutcomeAlreadySettled || r.Outcome == OutcomeHeldForReview)
}
