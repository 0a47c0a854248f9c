package fees

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketpay-backend/pkg/config"
	"github.com/angelmondragon/marketpay-backend/pkg/db/models"
	"github.com/angelmondragon/marketpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketpay-backend/pkg/errors"
)

func sampleOrder(lineTotal, shipping int64) *models.Order {
	return &models.Order{
		ShippingFeeCents: shipping,
		Lines: []models.OrderLine{
			{UnitPriceCents: lineTotal / 2, Quantity: 2, LineTotalCents: lineTotal},
		},
	}
}

func TestExpectedPerPurpose(t *testing.T) {
	v := Default()
	order := sampleOrder(8000, 2000)

	cases := map[enums.PaymentPurpose]int64{
		enums.PaymentPurposeFullPayment:          11000,
		enums.PaymentPurposeDeliveryFee:          2200,
		enums.PaymentPurposeBalanceAfterDelivery: 8800,
		enums.PaymentPurpose(""):                 11000,
		enums.PaymentPurpose("something_else"):   11000,
	}
	for purpose, want := range cases {
		exp, err := v.Expected(order, purpose)
		require.NoError(t, err)
		assert.True(t, exp.Fixed)
		assert.Equal(t, want, exp.ExpectedCents, "purpose %q", purpose)
	}

	full, err := v.Expected(order, enums.PaymentPurposeFullPayment)
	require.NoError(t, err)
	assert.EqualValues(t, 10000, full.BaseCents)
	assert.EqualValues(t, 1000, full.ServiceFeeCents)
}

func TestExpectedDeliveryFeeWithoutShipping(t *testing.T) {
	exp, err := Default().Expected(sampleOrder(8000, 0), enums.PaymentPurposeDeliveryFee)
	require.NoError(t, err)
	assert.Zero(t, exp.ExpectedCents)
}

func TestExpectedRoundsHalfAwayFromZero(t *testing.T) {
	exp, err := Default().Expected(sampleOrder(15, 0), enums.PaymentPurposeBalanceAfterDelivery)
	require.NoError(t, err)
	// 15 * 1.10 = 16.5
	assert.EqualValues(t, 17, exp.ExpectedCents)
}

func TestVerifyTolerance(t *testing.T) {
	v := Default()
	order := sampleOrder(8000, 2000)

	for _, amount := range []int64{10998, 11000, 11002} {
		assert.NoError(t, v.Verify(order, enums.PaymentPurposeFullPayment, amount))
	}

	err := v.Verify(order, enums.PaymentPurposeFullPayment, 10000)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeAmountMismatch))
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	details, ok := typed.Details().(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 11000, details["expected"])
	assert.EqualValues(t, 10000, details["actual"])
	assert.EqualValues(t, -1000, details["difference"])
	assert.Equal(t, "0.1", details["service_fee_rate"])

	assert.True(t, pkgerrors.IsCode(v.Verify(order, enums.PaymentPurposeDeliveryFee, 2203), pkgerrors.CodeAmountMismatch))
}

func TestVerifyOpenPurposes(t *testing.T) {
	v := Default()
	order := sampleOrder(8000, 2000)

	assert.NoError(t, v.Verify(order, enums.PaymentPurposeDeposit, 1))
	assert.NoError(t, v.Verify(order, enums.PaymentPurposeTopUp, 999999))
	assert.True(t, pkgerrors.IsCode(v.Verify(order, enums.PaymentPurposeDeposit, 0), pkgerrors.CodeValidation))
}

func TestVerifyTransaction(t *testing.T) {
	v := Default()
	order := sampleOrder(8000, 2000)
	tx := &models.Transaction{PaymentPurpose: enums.PaymentPurposeBalanceAfterDelivery, AmountCents: 8800}
	assert.NoError(t, v.VerifyTransaction(order, tx))
	assert.Error(t, v.VerifyTransaction(order, nil))
}

func TestQuote(t *testing.T) {
	quote, err := Default().Quote(sampleOrder(8000, 2000))
	require.NoError(t, err)
	require.Len(t, quote, 5)
	assert.EqualValues(t, 11000, quote[0].ExpectedCents)
	assert.False(t, quote[3].Fixed)
	assert.False(t, quote[4].Fixed)
}

func TestNewVerifierFromConfig(t *testing.T) {
	v, err := NewVerifierFromConfig(config.FeesConfig{ServiceFeeRate: "0.05", ToleranceCents: 0})
	require.NoError(t, err)
	assert.True(t, v.Rate().Equal(decimal.RequireFromString("0.05")))

	exp, err := v.Expected(sampleOrder(1000, 0), enums.PaymentPurposeFullPayment)
	require.NoError(t, err)
	assert.EqualValues(t, 1050, exp.ExpectedCents)
	assert.Error(t, v.Verify(sampleOrder(1000, 0), enums.PaymentPurposeFullPayment, 1051))

	_, err = NewVerifierFromConfig(config.FeesConfig{ServiceFeeRate: "abc"})
	assert.Error(t, err)
	_, err = NewVerifier(decimal.NewFromInt(-1), 2)
	assert.Error(t, err)
}
