package enums

import (
	"fmt"
	"strings"
)

// PaymentMethod describes how a buyer settles a transaction.
type PaymentMethod string

const (
	PaymentMethodAirtelMoney  PaymentMethod = "airtel_money"
	PaymentMethodMoovMoney    PaymentMethod = "moov_money"
	PaymentMethodMobileMoney  PaymentMethod = "mobile_money"
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
)

var validPaymentMethods = []PaymentMethod{
	PaymentMethodAirtelMoney,
	PaymentMethodMoovMoney,
	PaymentMethodMobileMoney,
	PaymentMethodCard,
	PaymentMethodCash,
	PaymentMethodBankTransfer,
}

// String implements fmt.Stringer.
func (p PaymentMethod) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentMethod.
func (p PaymentMethod) IsValid() bool {
	for _, candidate := range validPaymentMethods {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsMobileMoney reports whether the method settles through an operator USSD prompt.
func (p PaymentMethod) IsMobileMoney() bool {
	switch p {
	case PaymentMethodAirtelMoney, PaymentMethodMoovMoney, PaymentMethodMobileMoney:
		return true
	default:
		return false
	}
}

// ParsePaymentMethod converts raw input into a PaymentMethod.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	for _, candidate := range validPaymentMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment method %q", value)
}

// PaymentMethodFromSystem maps a billing provider payment-system name onto a
// local payment method.
func PaymentMethodFromSystem(system string) PaymentMethod {
	switch strings.ToLower(strings.TrimSpace(system)) {
	case "airtelmoney":
		return PaymentMethodAirtelMoney
	case "moovmoney", "moovmoney1":
		return PaymentMethodMoovMoney
	default:
		return PaymentMethodMobileMoney
	}
}

// PaymentSystem returns the provider payment-system name used for USSD pushes.
func (p PaymentMethod) PaymentSystem() string {
	switch p {
	case PaymentMethodAirtelMoney:
		return "airtelmoney"
	case PaymentMethodMoovMoney:
		return "moovmoney1"
	default:
		return ""
	}
}
