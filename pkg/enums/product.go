package enums

import "fmt"

// ProductStatus controls whether a listing can be sold.
type ProductStatus string

const (
	ProductStatusActive   ProductStatus = "active"
	ProductStatusInactive ProductStatus = "inactive"
	ProductStatusDraft    ProductStatus = "draft"
	ProductStatusArchived ProductStatus = "archived"
)

var validProductStatuses = []ProductStatus{
	ProductStatusActive,
	ProductStatusInactive,
	ProductStatusDraft,
	ProductStatusArchived,
}

// String implements fmt.Stringer.
func (s ProductStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known ProductStatus.
func (s ProductStatus) IsValid() bool {
	for _, candidate := range validProductStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsSellable reports whether the product may be added to carts and orders.
func (s ProductStatus) IsSellable() bool {
	return s == ProductStatusActive
}

// ParseProductStatus converts raw input into a ProductStatus.
func ParseProductStatus(value string) (ProductStatus, error) {
	for _, candidate := range validProductStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid product status %q", value)
}

// StockDirection is the sign applied to order quantities when stock changes.
type StockDirection string

const (
	StockDirectionDecrement StockDirection = "decrement"
	StockDirectionIncrement StockDirection = "increment"
)

// IsValid reports whether the value is a known StockDirection.
func (d StockDirection) IsValid() bool {
	return d == StockDirectionDecrement || d == StockDirectionIncrement
}

// Sign returns +1 for decrement and -1 for increment, matching the delta
// convention of stock adjustments (positive delta removes stock).
func (d StockDirection) Sign() int {
	if d == StockDirectionIncrement {
		return -1
	}
	return 1
}
