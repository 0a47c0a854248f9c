package inventory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketpay-backend/pkg/db/models"
	"github.com/angelmondragon/marketpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketpay-backend/pkg/errors"
	"github.com/angelmondragon/marketpay-backend/pkg/types"
)

const variantPayload = `{"variants":[{"name":"Rouge / M","quantity":2},{"name":"Bleu / L","quantity":5}],"options":[]}`

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:inventory_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

func seedProduct(t *testing.T, db *gorm.DB, stock int, variants string) models.Product {
	t.Helper()
	product := models.Product{
		ShopID:     uuid.New(),
		Name:       "Pagne wax",
		PriceCents: 4000,
		Status:     enums.ProductStatusActive,
		Stock:      stock,
	}
	if variants != "" {
		parsed, err := types.ParseVariantStock([]byte(variants))
		require.NoError(t, err)
		product.Variants = parsed
	}
	require.NoError(t, db.Create(&product).Error)
	return product
}

func reload(t *testing.T, db *gorm.DB, id uuid.UUID) models.Product {
	t.Helper()
	var product models.Product
	require.NoError(t, db.Unscoped().First(&product, "id = ?", id).Error)
	return product
}

func newTestStore(t *testing.T, db *gorm.DB) Store {
	t.Helper()
	store, err := NewStore(db, nil)
	require.NoError(t, err)
	return store
}

func TestAdjust_DecrementsAndFlipsInStock(t *testing.T) {
	db := newTestDB(t)
	store := newTestStore(t, db)
	product := seedProduct(t, db, 3, "")
	ctx := context.Background()

	require.NoError(t, store.Adjust(ctx, nil, product.ID, 2))
	got := reload(t, db, product.ID)
	assert.Equal(t, 1, got.Stock)
	assert.True(t, got.InStock)
	assert.Equal(t, product.Version+1, got.Version)

	require.NoError(t, store.Adjust(ctx, nil, product.ID, 1))
	got = reload(t, db, product.ID)
	assert.Equal(t, 0, got.Stock)
	assert.False(t, got.InStock)

	require.NoError(t, store.Adjust(ctx, nil, product.ID, -4))
	got = reload(t, db, product.ID)
	assert.Equal(t, 4, got.Stock)
	assert.True(t, got.InStock)
}

func TestAdjust_InsufficientStockLeavesRowUnchanged(t *testing.T) {
	db := newTestDB(t)
	store := newTestStore(t, db)
	product := seedProduct(t, db, 2, "")

	err := store.Adjust(context.Background(), nil, product.ID, 3)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock))

	got := reload(t, db, product.ID)
	assert.Equal(t, 2, got.Stock)
	assert.Equal(t, product.Version, got.Version)
}

func TestAdjust_UnknownProduct(t *testing.T) {
	db := newTestDB(t)
	store := newTestStore(t, db)

	err := store.Adjust(context.Background(), nil, uuid.New(), 1)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestAdjustVariant_UpdatesEntryAndAggregate(t *testing.T) {
	db := newTestDB(t)
	store := newTestStore(t, db)
	product := seedProduct(t, db, 0, variantPayload)
	require.Equal(t, 7, product.Stock)

	err := store.AdjustVariant(context.Background(), nil, product.ID, 2, types.VariantSelection{"name": "Bleu / L"})
	require.NoError(t, err)

	got := reload(t, db, product.ID)
	assert.Equal(t, 5, got.Stock)
	assert.True(t, got.InStock)
	assert.Equal(t, types.VariantShapeCurrent, got.Variants.Shape)
	assert.Equal(t, 2, got.Variants.Entries[0].Quantity)
	assert.Equal(t, 3, got.Variants.Entries[1].Quantity)
}

func TestAdjustVariant_PerVariantInsufficientStock(t *testing.T) {
	db := newTestDB(t)
	store := newTestStore(t, db)
	product := seedProduct(t, db, 0, variantPayload)

	err := store.AdjustVariant(context.Background(), nil, product.ID, 3, types.VariantSelection{"name": "Rouge / M"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock))

	got := reload(t, db, product.ID)
	assert.Equal(t, 7, got.Stock)
	assert.Equal(t, 2, got.Variants.Entries[0].Quantity)
}

func TestAdjustVariant_UnmatchedSelectionFallsBackToAggregate(t *testing.T) {
	db := newTestDB(t)
	store := newTestStore(t, db)
	scalar := seedProduct(t, db, 4, "")
	varied := seedProduct(t, db, 0, variantPayload)
	ctx := context.Background()

	require.NoError(t, store.AdjustVariant(ctx, nil, scalar.ID, 1, types.VariantSelection{"name": "Rouge / M"}))
	assert.Equal(t, 3, reload(t, db, scalar.ID).Stock)

	require.NoError(t, store.AdjustVariant(ctx, nil, varied.ID, 1, types.VariantSelection{"name": "Vert / S"}))
	got := reload(t, db, varied.ID)
	assert.Equal(t, 6, got.Stock)
	assert.Equal(t, 2, got.Variants.Entries[0].Quantity)
	assert.Equal(t, 5, got.Variants.Entries[1].Quantity)
}

func TestGet_ReportsVariantAvailability(t *testing.T) {
	db := newTestDB(t)
	store := newTestStore(t, db)
	product := seedProduct(t, db, 0, variantPayload)

	level, err := store.Get(context.Background(), product.ID)
	require.NoError(t, err)
	assert.True(t, level.Sellable)
	assert.Equal(t, 7, level.Aggregate)
	assert.Equal(t, 2, level.Available(types.VariantSelection{"name": "rouge / m"}))
	assert.Equal(t, 7, level.Available(nil))

	_, err = store.Get(context.Background(), uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}
