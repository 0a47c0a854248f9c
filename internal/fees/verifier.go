package fees

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketpay-backend/pkg/config"
	"github.com/angelmondragon/marketpay-backend/pkg/db/models"
	"github.com/angelmondragon/marketpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketpay-backend/pkg/errors"
)

// DefaultToleranceCents absorbs rounding differences on the provider side.
const DefaultToleranceCents int64 = 2

var defaultRate = decimal.RequireFromString("0.10")

// Expectation is the amount a transaction of a given purpose should carry.
// Fixed is false for purposes that accept any positive amount.
type Expectation struct {
	Purpose          enums.PaymentPurpose `json:"purpose"`
	Fixed            bool                 `json:"fixed"`
	LineTotalsCents  int64                `json:"line_totals_cents"`
	ShippingFeeCents int64                `json:"shipping_fee_cents"`
	BaseCents        int64                `json:"base_cents"`
	ServiceFeeRate   string               `json:"service_fee_rate"`
	ServiceFeeCents  int64                `json:"service_fee_cents"`
	ExpectedCents    int64                `json:"expected_cents"`
}

// Verifier computes and checks payment amounts with the marketplace service fee.
type Verifier struct {
	rate      decimal.Decimal
	tolerance int64
}

// NewVerifier builds a verifier; a negative rate or tolerance is rejected.
func NewVerifier(rate decimal.Decimal, toleranceCents int64) (*Verifier, error) {
	if rate.IsNegative() {
		return nil, fmt.Errorf("service fee rate must not be negative")
	}
	if toleranceCents < 0 {
		return nil, fmt.Errorf("tolerance must not be negative")
	}
	return &Verifier{rate: rate, tolerance: toleranceCents}, nil
}

// NewVerifierFromConfig reads the rate and tolerance from config.
func NewVerifierFromConfig(cfg config.FeesConfig) (*Verifier, error) {
	rate, err := cfg.Rate()
	if err != nil {
		return nil, err
	}
	return NewVerifier(rate, cfg.ToleranceCents)
}

// Default is the 10% fee with a 2 unit tolerance.
func Default() *Verifier {
	return &Verifier{rate: defaultRate, tolerance: DefaultToleranceCents}
}

// Rate returns the configured service fee rate.
func (v *Verifier) Rate() decimal.Decimal { return v.rate }

// Expected computes the amount for purpose. Unknown purposes are treated as
// full payment.
func (v *Verifier) Expected(order *models.Order, purpose enums.PaymentPurpose) (Expectation, error) {
	if order == nil {
		return Expectation{}, pkgerrors.New(pkgerrors.CodeValidation, "order is required")
	}
	purpose = purpose.Normalize()
	exp := Expectation{
		Purpose:          purpose,
		Fixed:            purpose.HasFixedAmount(),
		LineTotalsCents:  order.LineTotalCents(),
		ShippingFeeCents: order.ShippingFeeCents,
		ServiceFeeRate:   v.rate.String(),
	}
	if !exp.Fixed {
		return exp, nil
	}

	switch purpose {
	case enums.PaymentPurposeDeliveryFee:
		exp.BaseCents = exp.ShippingFeeCents
	case enums.PaymentPurposeBalanceAfterDelivery:
		exp.BaseCents = exp.LineTotalsCents
	default:
		exp.BaseCents = exp.LineTotalsCents + exp.ShippingFeeCents
	}
	if exp.BaseCents <= 0 {
		return exp, nil
	}

	exp.ExpectedCents = v.withFee(exp.BaseCents)
	exp.ServiceFeeCents = exp.ExpectedCents - exp.BaseCents
	return exp, nil
}

// Verify checks amountCents against the expectation for purpose.
func (v *Verifier) Verify(order *models.Order, purpose enums.PaymentPurpose, amountCents int64) error {
	exp, err := v.Expected(order, purpose)
	if err != nil {
		return err
	}
	if !exp.Fixed {
		if amountCents <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive").
				WithDetails(map[string]any{"purpose": exp.Purpose, "actual": amountCents})
		}
		return nil
	}

	diff := exp.ExpectedCents - amountCents
	if diff < 0 {
		diff = -diff
	}
	if diff <= v.tolerance {
		return nil
	}
	return pkgerrors.Newf(pkgerrors.CodeAmountMismatch,
		"%s payment of %d does not match expected %d (line totals %d, shipping %d, service fee %s = %d)",
		exp.Purpose, amountCents, exp.ExpectedCents, exp.LineTotalsCents, exp.ShippingFeeCents, exp.ServiceFeeRate, exp.ServiceFeeCents,
	).WithDetails(map[string]any{
		"purpose":          exp.Purpose,
		"line_totals":      exp.LineTotalsCents,
		"shipping_fee":     exp.ShippingFeeCents,
		"service_fee_rate": exp.ServiceFeeRate,
		"service_fee":      exp.ServiceFeeCents,
		"expected":         exp.ExpectedCents,
		"actual":           amountCents,
		"difference":       amountCents - exp.ExpectedCents,
		"tolerance":        v.tolerance,
	})
}

// VerifyTransaction checks a transaction against its own purpose.
func (v *Verifier) VerifyTransaction(order *models.Order, tx *models.Transaction) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "transaction is required")
	}
	return v.Verify(order, tx.PaymentPurpose, tx.AmountCents)
}

// Quote returns the expectation for every purpose.
func (v *Verifier) Quote(order *models.Order) ([]Expectation, error) {
	purposes := []enums.PaymentPurpose{
		enums.PaymentPurposeFullPayment,
		enums.PaymentPurposeDeliveryFee,
		enums.PaymentPurposeBalanceAfterDelivery,
		enums.PaymentPurposeDeposit,
		enums.PaymentPurposeTopUp,
	}
	out := make([]Expectation, 0, len(purposes))
	for _, p := range purposes {
		exp, err := v.Expected(order, p)
		if err != nil {
			return nil, err
		}
		out = append(out, exp)
	}
	return out, nil
}

// withFee returns round(base * (1 + rate)), halves rounded away from zero.
func (v *Verifier) withFee(baseCents int64) int64 {
	return decimal.NewFromInt(baseCents).
		Mul(decimal.NewFromInt(1).Add(v.rate)).
		Round(0).
		IntPart()
}
