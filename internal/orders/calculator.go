package orders

import "github.com/angelmondragon/marketpay-backend/pkg/db/models"

// Adjustments are the order-level amounts applied on top of the line subtotal.
type Adjustments struct {
	ShippingFeeCents int64
	TaxCents         int64
	DiscountCents    int64
}

// Totals is the result of Calculate. DiscountCents may be lower than the
// requested discount when the discount exceeds everything else.
type Totals struct {
	SubtotalCents    int64
	ShippingFeeCents int64
	TaxCents         int64
	DiscountCents    int64
	TotalCents       int64
}

// Calculate returns subtotal = Σ unit*qty and
// total = subtotal + shipping + tax - discount, never below zero.
func Calculate(lines []models.OrderLine, adj Adjustments) Totals {
	var subtotal int64
	for _, line := range lines {
		subtotal += lineTotal(line.UnitPriceCents, line.Quantity)
	}
	gross := subtotal + adj.ShippingFeeCents + adj.TaxCents
	discount := adj.DiscountCents
	if discount > gross {
		discount = gross
	}
	if discount < 0 {
		discount = 0
	}
	return Totals{
		SubtotalCents:    subtotal,
		ShippingFeeCents: adj.ShippingFeeCents,
		TaxCents:         adj.TaxCents,
		DiscountCents:    discount,
		TotalCents:       gross - discount,
	}
}

func lineTotal(unitPriceCents int64, quantity int) int64 {
	return unitPriceCents * int64(quantity)
}

func adjustmentsOf(order *models.Order) Adjustments {
	return Adjustments{
		ShippingFeeCents: order.ShippingFeeCents,
		TaxCents:         order.TaxCents,
		DiscountCents:    order.DiscountCents,
	}
}
