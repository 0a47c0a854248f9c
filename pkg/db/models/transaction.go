package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketpay-backend/pkg/enums"
)

// Transaction is one attempt to pay some or all of an order.
type Transaction struct {
	ID                uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	OrderID           *uuid.UUID              `gorm:"column:order_id;type:uuid;index"`
	Reference         string                  `gorm:"column:reference;not null;uniqueIndex"`
	OperatorReference *string                 `gorm:"column:operator_reference;uniqueIndex"`
	AmountCents       int64                   `gorm:"column:amount_cents;not null"`
	PaymentMethod     enums.PaymentMethod     `gorm:"column:payment_method;not null"`
	PaymentPurpose    enums.PaymentPurpose    `gorm:"column:payment_purpose;not null;default:'full_payment'"`
	Status            enums.TransactionStatus `gorm:"column:status;not null;default:'pending'"`
	PhoneNumber       *string                 `gorm:"column:phone_number"`
	Notes             *string                 `gorm:"column:notes"`
	NeedsReview       bool                    `gorm:"column:needs_review;not null;default:false"`
	OperatorTxID      *string                 `gorm:"column:operator_transaction_id"`
	ConfirmedAt       *time.Time              `gorm:"column:confirmed_at"`
	LastCheckedAt     *time.Time              `gorm:"column:last_checked_at"`
	CreatedAt         time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (Transaction) TableName() string { return "transactions" }

func (t *Transaction) BeforeCreate(*gorm.DB) error {
	assignID(&t.ID)
	return nil
}
