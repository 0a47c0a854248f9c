package enums

import (
	"fmt"
	"strings"
)

// PaymentPurpose declares which portion of an order a transaction covers.
type PaymentPurpose string

const (
	PaymentPurposeFullPayment          PaymentPurpose = "full_payment"
	PaymentPurposeDeposit              PaymentPurpose = "deposit"
	PaymentPurposeDeliveryFee          PaymentPurpose = "delivery_fee"
	PaymentPurposeBalanceAfterDelivery PaymentPurpose = "balance_after_delivery"
	PaymentPurposeTopUp                PaymentPurpose = "top_up"
)

var validPaymentPurposes = []PaymentPurpose{
	PaymentPurposeFullPayment,
	PaymentPurposeDeposit,
	PaymentPurposeDeliveryFee,
	PaymentPurposeBalanceAfterDelivery,
	PaymentPurposeTopUp,
}

// String implements fmt.Stringer.
func (p PaymentPurpose) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentPurpose.
func (p PaymentPurpose) IsValid() bool {
	for _, candidate := range validPaymentPurposes {
		if candidate == p {
			return true
		}
	}
	return false
}

// HasFixedAmount reports whether the purpose is tied to a computed amount.
func (p PaymentPurpose) HasFixedAmount() bool {
	return p != PaymentPurposeDeposit && p != PaymentPurposeTopUp
}

// Normalize maps unknown or empty purposes to full payment.
func (p PaymentPurpose) Normalize() PaymentPurpose {
	if p.IsValid() {
		return p
	}
	return PaymentPurposeFullPayment
}

// ParsePaymentPurpose converts raw input into a PaymentPurpose. Empty input
// defaults to full payment.
func ParsePaymentPurpose(value string) (PaymentPurpose, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return PaymentPurposeFullPayment, nil
	}
	for _, candidate := range validPaymentPurposes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment purpose %q", value)
}
