package enums

import "fmt"

// OrderPaymentStatus summarises how much of an order has been settled.
type OrderPaymentStatus string

const (
	OrderPaymentStatusUnpaid        OrderPaymentStatus = "unpaid"
	OrderPaymentStatusPending       OrderPaymentStatus = "pending"
	OrderPaymentStatusPartiallyPaid OrderPaymentStatus = "partially_paid"
	OrderPaymentStatusPaid          OrderPaymentStatus = "paid"
	OrderPaymentStatusRefunded      OrderPaymentStatus = "refunded"
)

var validOrderPaymentStatuses = []OrderPaymentStatus{
	OrderPaymentStatusUnpaid,
	OrderPaymentStatusPending,
	OrderPaymentStatusPartiallyPaid,
	OrderPaymentStatusPaid,
	OrderPaymentStatusRefunded,
}

// String implements fmt.Stringer.
func (p OrderPaymentStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known OrderPaymentStatus.
func (p OrderPaymentStatus) IsValid() bool {
	for _, candidate := range validOrderPaymentStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseOrderPaymentStatus converts raw input into an OrderPaymentStatus.
func ParseOrderPaymentStatus(value string) (OrderPaymentStatus, error) {
	for _, candidate := range validOrderPaymentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}
