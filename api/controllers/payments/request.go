package payments

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/marketpay-backend/api/validators"
	internalpayments "github.com/angelmondragon/marketpay-backend/internal/payments"
	"github.com/angelmondragon/marketpay-backend/pkg/enums"
)

type InitiateRequest struct {
	OrderID        string  `json:"order_id" validate:"required,uuid"`
	AmountCents    int64   `json:"amount_cents" validate:"gt=0"`
	PaymentMethod  string  `json:"payment_method" validate:"required,payment_method"`
	PaymentPurpose string  `json:"payment_purpose,omitempty" validate:"omitempty,max=40"`
	PhoneNumber    *string `json:"phone_number,omitempty" validate:"omitempty,max=32"`
	Notes          *string `json:"notes,omitempty" validate:"omitempty,max=1000"`
	Reference      string  `json:"reference,omitempty" validate:"omitempty,max=64"`
}

// GatewayPaymentRequest adds the payer details the billing provider needs.
type GatewayPaymentRequest struct {
	InitiateRequest
	PayerName     string `json:"payer_name,omitempty" validate:"omitempty,max=120"`
	PayerEmail    string `json:"payer_email,omitempty" validate:"omitempty,email"`
	PaymentSystem string `json:"payment_system,omitempty" validate:"omitempty,max=40"`
}

type CreateTransactionRequest struct {
	OrderID        *string `json:"order_id,omitempty" validate:"omitempty,uuid"`
	AmountCents    int64   `json:"amount_cents" validate:"gt=0"`
	PaymentMethod  string  `json:"payment_method" validate:"required,payment_method"`
	PaymentPurpose string  `json:"payment_purpose,omitempty" validate:"omitempty,max=40"`
	Status         string  `json:"status,omitempty" validate:"omitempty,oneof=pending paid"`
	PhoneNumber    *string `json:"phone_number,omitempty" validate:"omitempty,max=32"`
	Notes          *string `json:"notes,omitempty" validate:"omitempty,max=1000"`
	Reference      string  `json:"reference,omitempty" validate:"omitempty,max=64"`
}

type UpdateTransactionRequest struct {
	PhoneNumber   *string `json:"phone_number,omitempty" validate:"omitempty,max=32"`
	Notes         *string `json:"notes,omitempty" validate:"omitempty,max=1000"`
	PaymentMethod *string `json:"payment_method,omitempty" validate:"omitempty,payment_method"`
}

// ReasonRequest is the optional body of the refund and fail actions.
type ReasonRequest struct {
	Reason string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

func (r InitiateRequest) toInput() internalpayments.InitiateInput {
	return internalpayments.InitiateInput{
		OrderID:        uuid.MustParse(r.OrderID),
		AmountCents:    r.AmountCents,
		PaymentMethod:  enums.PaymentMethod(r.PaymentMethod),
		PaymentPurpose: enums.PaymentPurpose(r.PaymentPurpose).Normalize(),
		PhoneNumber:    validators.SanitizeOptional(r.PhoneNumber, 32),
		Notes:          validators.SanitizeOptional(r.Notes, 1000),
		Reference:      validators.SanitizeString(r.Reference, 64),
	}
}

func (r GatewayPaymentRequest) toInput() internalpayments.GatewayPaymentInput {
	return internalpayments.GatewayPaymentInput{
		InitiateInput: r.InitiateRequest.toInput(),
		PayerName:     validators.SanitizeString(r.PayerName, 120),
		PayerEmail:    validators.SanitizeString(r.PayerEmail, 255),
		PaymentSystem: validators.SanitizeString(r.PaymentSystem, 40),
	}
}

func (r CreateTransactionRequest) toInput() internalpayments.CreateInput {
	input := internalpayments.CreateInput{
		AmountCents:    r.AmountCents,
		PaymentMethod:  enums.PaymentMethod(r.PaymentMethod),
		PaymentPurpose: enums.PaymentPurpose(r.PaymentPurpose).Normalize(),
		Status:         enums.TransactionStatus(r.Status),
		PhoneNumber:    validators.SanitizeOptional(r.PhoneNumber, 32),
		Notes:          validators.SanitizeOptional(r.Notes, 1000),
		Reference:      validators.SanitizeString(r.Reference, 64),
	}
	if r.OrderID != nil {
		id := uuid.MustParse(*r.OrderID)
		input.OrderID = &id
	}
	return input
}

func (r UpdateTransactionRequest) toInput() internalpayments.UpdateInput {
	input := internalpayments.UpdateInput{
		PhoneNumber: validators.SanitizeOptional(r.PhoneNumber, 32),
		Notes:       validators.SanitizeOptional(r.Notes, 1000),
	}
	if r.PaymentMethod != nil {
		method := enums.PaymentMethod(*r.PaymentMethod)
		input.PaymentMethod = &method
	}
	return input
}
