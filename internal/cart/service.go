package cart

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketpay-backend/internal/inventory"
	"github.com/angelmondragon/marketpay-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketpay-backend/pkg/errors"
	"github.com/angelmondragon/marketpay-backend/pkg/logger"
	"github.com/angelmondragon/marketpay-backend/pkg/metrics"
)

// Service reconciles session carts against live product stock.
type Service interface {
	GetValidatedCart(ctx context.Context, sessionID string) (*ValidatedCart, error)
	Add(ctx context.Context, sessionID string, input AddItemInput) (*ValidatedCart, error)
	UpdateQuantity(ctx context.Context, sessionID string, entryID uuid.UUID, quantity int) (*ValidatedCart, error)
	Remove(ctx context.Context, sessionID string, entryID uuid.UUID) error
	Clear(ctx context.Context, sessionID string) error
	Count(ctx context.Context, sessionID string) (Count, error)
	RemoveTx(ctx context.Context, tx *gorm.DB, sessionID string, entryIDs []uuid.UUID) error
}

type service struct {
	repo    Repository
	stock   inventory.Store
	metrics *metrics.Reconciliation
	logg    *logger.Logger
}

// NewService wires the cart service.
func NewService(repo Repository, stock inventory.Store, m *metrics.Reconciliation, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if stock == nil {
		return nil, fmt.Errorf("inventory store required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{repo: repo, stock: stock, metrics: m, logg: logg}, nil
}

func (s *service) GetValidatedCart(ctx context.Context, sessionID string) (*ValidatedCart, error) {
	sessionID, err := normalizeSession(sessionID)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithSessionID(ctx, sessionID)

	entries, err := s.repo.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list cart entries")
	}

	result := &ValidatedCart{
		SessionID:     sessionID,
		Items:         []CartItem{},
		RemovedItems:  []RemovedItem{},
		AdjustedItems: []AdjustedItem{},
	}
	var drop []uuid.UUID

	for _, entry := range entries {
		level, err := s.stock.Get(ctx, entry.ProductID)
		if err != nil && !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil, err
		}
		if level == nil {
			drop = append(drop, entry.ID)
			result.RemovedItems = append(result.RemovedItems, RemovedItem{
				EntryID:   entry.ID,
				ProductID: entry.ProductID,
				Reason:    ReasonProductNotFound,
			})
			continue
		}
		if !level.Sellable {
			drop = append(drop, entry.ID)
			result.RemovedItems = append(result.RemovedItems, removed(entry, level, ReasonUnavailable))
			continue
		}

		available := level.Available(entry.SelectedVariant)
		if level.Aggregate <= 0 || available <= 0 {
			drop = append(drop, entry.ID)
			result.RemovedItems = append(result.RemovedItems, removed(entry, level, ReasonOutOfStock))
			continue
		}

		if entry.Quantity > available {
			if err := s.repo.UpdateQuantity(ctx, entry.ID, available); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clamp cart quantity")
			}
			result.AdjustedItems = append(result.AdjustedItems, AdjustedItem{
				EntryID:          entry.ID,
				ProductID:        entry.ProductID,
				Name:             level.Name,
				OriginalQuantity: entry.Quantity,
				NewQuantity:      available,
			})
			entry.Quantity = available
		}

		item := toItem(entry, level, available)
		result.Items = append(result.Items, item)
		result.SubtotalCents += item.LineTotalCents
		result.ItemCount += item.Quantity
	}

	if len(drop) > 0 {
		if _, err := s.repo.Delete(ctx, sessionID, drop...); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "drop stale cart entries")
		}
	}

	s.metrics.AddCartChanges("removed", len(result.RemovedItems))
	s.metrics.AddCartChanges("adjusted", len(result.AdjustedItems))
	if result.HasChanges() {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"removed":  len(result.RemovedItems),
			"adjusted": len(result.AdjustedItems),
		}), "cart reconciled against stock")
	}

	return result, nil
}

func (s *service) Add(ctx context.Context, sessionID string, input AddItemInput) (*ValidatedCart, error) {
	sessionID, err := normalizeSession(sessionID)
	if err != nil {
		return nil, err
	}
	if input.ProductID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product_id is required")
	}
	if input.Quantity < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}

	level, err := s.stock.Get(ctx, input.ProductID)
	if err != nil {
		return nil, err
	}
	if !level.Sellable {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product is not available").
			WithDetails(map[string]any{"product_id": input.ProductID.String(), "status": level.Status})
	}
	if !level.KnowsSelection(input.SelectedVariant) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "selected variant does not exist").
			WithDetails(map[string]any{"product_id": input.ProductID.String(), "selected_variant": input.SelectedVariant})
	}
	available := level.Available(input.SelectedVariant)
	if available <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock, "product is out of stock").
			WithDetails(map[string]any{"product_id": input.ProductID.String(), "available": available})
	}

	existing, err := s.repo.ListForProduct(ctx, sessionID, input.ProductID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart entries")
	}
	var match *models.CartEntry
	for i := range existing {
		if existing[i].SelectedVariant.Equal(input.SelectedVariant) {
			match = &existing[i]
			break
		}
	}

	if match != nil {
		qty := min(match.Quantity+input.Quantity, available)
		if err := s.repo.UpdateQuantity(ctx, match.ID, qty); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update cart entry")
		}
	} else {
		entry := &models.CartEntry{
			SessionID:       sessionID,
			ShopID:          level.ShopID,
			ProductID:       input.ProductID,
			Quantity:        min(input.Quantity, available),
			SelectedVariant: input.SelectedVariant,
		}
		if err := s.repo.Create(ctx, entry); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create cart entry")
		}
	}

	return s.GetValidatedCart(ctx, sessionID)
}

func (s *service) UpdateQuantity(ctx context.Context, sessionID string, entryID uuid.UUID, quantity int) (*ValidatedCart, error) {
	sessionID, err := normalizeSession(sessionID)
	if err != nil {
		return nil, err
	}
	entry, err := s.repo.FindByID(ctx, sessionID, entryID)
	if err != nil {
		return nil, err
	}

	if quantity <= 0 {
		if _, err := s.repo.Delete(ctx, sessionID, entry.ID); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete cart entry")
		}
		return s.GetValidatedCart(ctx, sessionID)
	}

	if err := s.repo.UpdateQuantity(ctx, entry.ID, quantity); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update cart entry")
	}
	return s.GetValidatedCart(ctx, sessionID)
}

func (s *service) Remove(ctx context.Context, sessionID string, entryID uuid.UUID) error {
	sessionID, err := normalizeSession(sessionID)
	if err != nil {
		return err
	}
	deleted, err := s.repo.Delete(ctx, sessionID, entryID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete cart entry")
	}
	if deleted == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
	}
	return nil
}

func (s *service) Clear(ctx context.Context, sessionID string) error {
	sessionID, err := normalizeSession(sessionID)
	if err != nil {
		return err
	}
	if _, err := s.repo.DeleteBySession(ctx, sessionID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear cart")
	}
	return nil
}

func (s *service) Count(ctx context.Context, sessionID string) (Count, error) {
	sessionID, err := normalizeSession(sessionID)
	if err != nil {
		return Count{}, err
	}
	entries, err := s.repo.ListBySession(ctx, sessionID)
	if err != nil {
		return Count{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count cart entries")
	}
	out := Count{Entries: len(entries)}
	for _, e := range entries {
		out.Quantity += e.Quantity
	}
	return out, nil
}

// RemoveTx deletes ordered entries inside the caller's transaction.
func (s *service) RemoveTx(ctx context.Context, tx *gorm.DB, sessionID string, entryIDs []uuid.UUID) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required")
	}
	if _, err := s.repo.WithTx(tx).Delete(ctx, sessionID, entryIDs...); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "remove ordered cart entries")
	}
	return nil
}

func normalizeSession(sessionID string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "session id is required")
	}
	return sessionID, nil
}

func removed(entry models.CartEntry, level *inventory.StockLevel, reason string) RemovedItem {
	return RemovedItem{
		EntryID:   entry.ID,
		ProductID: entry.ProductID,
		Name:      level.Name,
		Reason:    reason,
	}
}

func toItem(entry models.CartEntry, level *inventory.StockLevel, available int) CartItem {
	return CartItem{
		EntryID:         entry.ID,
		ProductID:       entry.ProductID,
		ShopID:          level.ShopID,
		Name:            level.Name,
		UnitPriceCents:  level.PriceCents,
		Quantity:        entry.Quantity,
		LineTotalCents:  level.PriceCents * int64(entry.Quantity),
		SelectedVariant: entry.SelectedVariant,
		Available:       available,
	}
}
