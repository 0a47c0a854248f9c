package cart

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketpay-backend/internal/inventory"
	"github.com/angelmondragon/marketpay-backend/pkg/db/models"
	"github.com/angelmondragon/marketpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketpay-backend/pkg/errors"
	"github.com/angelmondragon/marketpay-backend/pkg/metrics"
	"github.com/angelmondragon/marketpay-backend/pkg/types"
)

const sessionID = "sess-abc"

type fixture struct {
	db  *gorm.DB
	svc Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dsn := "file:cart_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))

	m := metrics.NewReconciliation(prometheus.NewRegistry())
	store, err := inventory.NewStore(db, m)
	require.NoError(t, err)
	svc, err := NewService(NewRepository(db), store, m, nil)
	require.NoError(t, err)
	return fixture{db: db, svc: svc}
}

func (f fixture) product(t *testing.T, stock int, status enums.ProductStatus, variants string) models.Product {
	t.Helper()
	p := models.Product{
		ShopID:     uuid.New(),
		Name:       "Sac en raphia",
		PriceCents: 2500,
		Status:     status,
		Stock:      stock,
	}
	if variants != "" {
		parsed, err := types.ParseVariantStock([]byte(variants))
		require.NoError(t, err)
		p.Variants = parsed
	}
	require.NoError(t, f.db.Create(&p).Error)
	return p
}

func (f fixture) entry(t *testing.T, p models.Product, qty int, sel types.VariantSelection) models.CartEntry {
	t.Helper()
	e := models.CartEntry{SessionID: sessionID, ShopID: p.ShopID, ProductID: p.ID, Quantity: qty, SelectedVariant: sel}
	require.NoError(t, f.db.Create(&e).Error)
	return e
}

func (f fixture) stored(t *testing.T) []models.CartEntry {
	t.Helper()
	var rows []models.CartEntry
	require.NoError(t, f.db.Where("session_id = ?", sessionID).Order("created_at ASC").Find(&rows).Error)
	return rows
}

func TestGetValidatedCart_ClampsToAvailableStock(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, 3, enums.ProductStatusActive, "")
	e := f.entry(t, p, 10, nil)

	cart, err := f.svc.GetValidatedCart(context.Background(), sessionID)
	require.NoError(t, err)

	require.Len(t, cart.Items, 1)
	assert.Equal(t, 3, cart.Items[0].Quantity)
	assert.EqualValues(t, 7500, cart.SubtotalCents)
	assert.Equal(t, 3, cart.ItemCount)
	require.Len(t, cart.AdjustedItems, 1)
	assert.Equal(t, AdjustedItem{EntryID: e.ID, ProductID: p.ID, Name: p.Name, OriginalQuantity: 10, NewQuantity: 3}, cart.AdjustedItems[0])
	assert.Empty(t, cart.RemovedItems)

	rows := f.stored(t)
	require.Len(t, rows, 1)
	assert.Equal(t, 3, rows[0].Quantity)
}

func TestGetValidatedCart_RemovesUnavailableProducts(t *testing.T) {
	f := newFixture(t)
	inactive := f.product(t, 5, enums.ProductStatusInactive, "")
	empty := f.product(t, 0, enums.ProductStatusActive, "")
	deleted := f.product(t, 5, enums.ProductStatusActive, "")
	keep := f.product(t, 5, enums.ProductStatusActive, "")
	f.entry(t, inactive, 1, nil)
	f.entry(t, empty, 1, nil)
	f.entry(t, deleted, 1, nil)
	kept := f.entry(t, keep, 2, nil)
	ghost := f.entry(t, models.Product{ID: uuid.New(), ShopID: uuid.New()}, 1, nil)
	require.NoError(t, f.db.Delete(&deleted).Error)

	cart, err := f.svc.GetValidatedCart(context.Background(), sessionID)
	require.NoError(t, err)

	require.Len(t, cart.Items, 1)
	assert.Equal(t, kept.ID, cart.Items[0].EntryID)
	assert.Empty(t, cart.AdjustedItems)

	reasons := map[uuid.UUID]string{}
	for _, r := range cart.RemovedItems {
		reasons[r.ProductID] = r.Reason
	}
	assert.Equal(t, map[uuid.UUID]string{
		inactive.ID:      ReasonUnavailable,
		empty.ID:         ReasonOutOfStock,
		deleted.ID:       ReasonUnavailable,
		ghost.ProductID: ReasonProductNotFound,
	}, reasons)

	rows := f.stored(t)
	require.Len(t, rows, 1)
	assert.Equal(t, kept.ID, rows[0].ID)
}

func TestGetValidatedCart_UsesVariantQuantity(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, 0, enums.ProductStatusActive, `{"variants":[{"name":"Rouge","quantity":1},{"name":"Noir","quantity":6}],"options":[]}`)
	red := f.entry(t, p, 4, types.VariantSelection{"name": "Rouge"})
	black := f.entry(t, p, 4, types.VariantSelection{"name": "Noir"})

	cart, err := f.svc.GetValidatedCart(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, cart.Items, 2)
	quantities := map[uuid.UUID]int{}
	for _, item := range cart.Items {
		quantities[item.EntryID] = item.Quantity
	}
	assert.Equal(t, map[uuid.UUID]int{red.ID: 1, black.ID: 4}, quantities)
	require.Len(t, cart.AdjustedItems, 1)
	assert.Equal(t, red.ID, cart.AdjustedItems[0].EntryID)
	assert.Equal(t, 1, cart.AdjustedItems[0].NewQuantity)
}

func TestGetValidatedCart_RequiresSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetValidatedCart(context.Background(), "  ")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestAdd_MergesSameProductAndVariant(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, 5, enums.ProductStatusActive, "")
	ctx := context.Background()

	_, err := f.svc.Add(ctx, sessionID, AddItemInput{ProductID: p.ID, Quantity: 2})
	require.NoError(t, err)
	cart, err := f.svc.Add(ctx, sessionID, AddItemInput{ProductID: p.ID, Quantity: 2})
	require.NoError(t, err)

	require.Len(t, cart.Items, 1)
	assert.Equal(t, 4, cart.Items[0].Quantity)

	cart, err = f.svc.Add(ctx, sessionID, AddItemInput{ProductID: p.ID, Quantity: 9})
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 5, cart.Items[0].Quantity)
}

func TestAdd_RejectsUnsellable(t *testing.T) {
	f := newFixture(t)
	draft := f.product(t, 5, enums.ProductStatusDraft, "")
	empty := f.product(t, 0, enums.ProductStatusActive, "")
	ctx := context.Background()

	_, err := f.svc.Add(ctx, sessionID, AddItemInput{ProductID: draft.ID, Quantity: 1})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.Add(ctx, sessionID, AddItemInput{ProductID: empty.ID, Quantity: 1})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock))

	_, err = f.svc.Add(ctx, sessionID, AddItemInput{ProductID: uuid.New(), Quantity: 1})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = f.svc.Add(ctx, sessionID, AddItemInput{ProductID: empty.ID, Quantity: 0})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestAdd_RejectsUnknownVariant(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, 0, enums.ProductStatusActive, `{"variants":[{"name":"Rouge","quantity":1},{"name":"Noir","quantity":6}],"options":[]}`)
	ctx := context.Background()

	_, err := f.svc.Add(ctx, sessionID, AddItemInput{ProductID: p.ID, Quantity: 1, SelectedVariant: types.VariantSelection{"name": "Vert"}})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Empty(t, f.stored(t))

	cart, err := f.svc.Add(ctx, sessionID, AddItemInput{ProductID: p.ID, Quantity: 2, SelectedVariant: types.VariantSelection{"name": "Noir"}})
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 2, cart.Items[0].Quantity)
}

func TestUpdateQuantityRemoveAndCount(t *testing.T) {
	f := newFixture(t)
	a := f.product(t, 10, enums.ProductStatusActive, "")
	b := f.product(t, 10, enums.ProductStatusActive, "")
	ea := f.entry(t, a, 1, nil)
	eb := f.entry(t, b, 2, nil)
	ctx := context.Background()

	cart, err := f.svc.UpdateQuantity(ctx, sessionID, ea.ID, 6)
	require.NoError(t, err)
	assert.Equal(t, 8, cart.ItemCount)

	count, err := f.svc.Count(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, Count{Entries: 2, Quantity: 8}, count)

	cart, err = f.svc.UpdateQuantity(ctx, sessionID, eb.ID, 0)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)

	_, err = f.svc.UpdateQuantity(ctx, "other-session", ea.ID, 3)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	require.NoError(t, f.svc.Remove(ctx, sessionID, ea.ID))
	assert.True(t, pkgerrors.IsCode(f.svc.Remove(ctx, sessionID, ea.ID), pkgerrors.CodeNotFound))

	f.entry(t, a, 1, nil)
	require.NoError(t, f.svc.Clear(ctx, sessionID))
	assert.Empty(t, f.stored(t))
}

func TestRemoveTxRequiresTransaction(t *testing.T) {
	f := newFixture(t)
	p := f.product(t, 10, enums.ProductStatusActive, "")
	e := f.entry(t, p, 1, nil)
	ctx := context.Background()

	assert.True(t, pkgerrors.IsCode(f.svc.RemoveTx(ctx, nil, sessionID, []uuid.UUID{e.ID}), pkgerrors.CodeDependency))
	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		return f.svc.RemoveTx(ctx, tx, sessionID, []uuid.UUID{e.ID})
	}))
	assert.Empty(t, f.stored(t))
}
