package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketpay-backend/pkg/db/models"
	"github.com/angelmondragon/marketpay-backend/pkg/enums"
)

type Transaction struct {
	ID                    uuid.UUID               `json:"id"`
	OrderID               *uuid.UUID              `json:"order_id,omitempty"`
	Reference             string                  `json:"reference"`
	OperatorReference     *string                 `json:"operator_reference,omitempty"`
	AmountCents           int64                   `json:"amount_cents"`
	PaymentMethod         enums.PaymentMethod     `json:"payment_method"`
	PaymentPurpose        enums.PaymentPurpose    `json:"payment_purpose"`
	Status                enums.TransactionStatus `json:"status"`
	PhoneNumber           *string                 `json:"phone_number,omitempty"`
	Notes                 *string                 `json:"notes,omitempty"`
	NeedsReview           bool                    `json:"needs_review"`
	OperatorTransactionID *string                 `json:"operator_transaction_id,omitempty"`
	ConfirmedAt           *time.Time              `json:"confirmed_at,omitempty"`
	CreatedAt             time.Time               `json:"created_at"`
	UpdatedAt             time.Time               `json:"updated_at"`
}

func NewTransaction(txn *models.Transaction) *Transaction {
	if txn == nil {
		return nil
	}
	return &Transaction{
		ID:                    txn.ID,
		OrderID:               txn.OrderID,
		Reference:             txn.Reference,
		OperatorReference:     txn.OperatorReference,
		AmountCents:           txn.AmountCents,
		PaymentMethod:         txn.PaymentMethod,
		PaymentPurpose:        txn.PaymentPurpose,
		Status:                txn.Status,
		PhoneNumber:           txn.PhoneNumber,
		Notes:                 txn.Notes,
		NeedsReview:           txn.NeedsReview,
		OperatorTransactionID: txn.OperatorTxID,
		ConfirmedAt:           txn.ConfirmedAt,
		CreatedAt:             txn.CreatedAt,
		UpdatedAt:             txn.UpdatedAt,
	}
}

func NewTransactions(txns []models.Transaction) []*Transaction {
	out := make([]*Transaction, 0, len(txns))
	for i := range txns {
		out = append(out, NewTransaction(&txns[i]))
	}
	return out
}
