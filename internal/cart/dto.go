package cart

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/marketpay-backend/pkg/types"
)

// Removal reasons reported on RemovedItem.
const (
	ReasonProductNotFound = "product_not_found"
	ReasonUnavailable     = "product_unavailable"
	ReasonOutOfStock      = "out_of_stock"
)

// CartItem is a validated cart entry priced from the current product row.
type CartItem struct {
	EntryID         uuid.UUID              `json:"entry_id"`
	ProductID       uuid.UUID              `json:"product_id"`
	ShopID          uuid.UUID              `json:"shop_id"`
	Name            string                 `json:"name"`
	UnitPriceCents  int64                  `json:"unit_price_cents"`
	Quantity        int                    `json:"quantity"`
	LineTotalCents  int64                  `json:"line_total_cents"`
	SelectedVariant types.VariantSelection `json:"selected_variant,omitempty"`
	Available       int                    `json:"available"`
}

// RemovedItem is an entry dropped during validation.
type RemovedItem struct {
	EntryID   uuid.UUID `json:"entry_id"`
	ProductID uuid.UUID `json:"product_id"`
	Name      string    `json:"name,omitempty"`
	Reason    string    `json:"reason"`
}

// AdjustedItem is an entry whose quantity was clamped to available stock.
type AdjustedItem struct {
	EntryID          uuid.UUID `json:"entry_id"`
	ProductID        uuid.UUID `json:"product_id"`
	Name             string    `json:"name"`
	OriginalQuantity int       `json:"original_quantity"`
	NewQuantity      int       `json:"new_quantity"`
}

// ValidatedCart is the cart after reconciliation against live stock.
type ValidatedCart struct {
	SessionID     string         `json:"session_id"`
	Items         []CartItem     `json:"items"`
	RemovedItems  []RemovedItem  `json:"removed_items"`
	AdjustedItems []AdjustedItem `json:"adjusted_items"`
	SubtotalCents int64          `json:"subtotal_cents"`
	ItemCount     int            `json:"item_count"`
}

// HasChanges reports whether validation removed or clamped anything.
func (c *ValidatedCart) HasChanges() bool {
	return len(c.RemovedItems) > 0 || len(c.AdjustedItems) > 0
}

// ShopIDs returns the distinct shops of the surviving items in first-seen order.
func (c *ValidatedCart) ShopIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(c.Items))
	ids := make([]uuid.UUID, 0, len(c.Items))
	for _, item := range c.Items {
		if _, ok := seen[item.ShopID]; ok {
			continue
		}
		seen[item.ShopID] = struct{}{}
		ids = append(ids, item.ShopID)
	}
	return ids
}

// AddItemInput adds a product to a session cart.
type AddItemInput struct {
	ProductID       uuid.UUID
	Quantity        int
	SelectedVariant types.VariantSelection
}

// Count summarizes a cart for badge displays.
type Count struct {
	Entries  int `json:"entries"`
	Quantity int `json:"quantity"`
}
