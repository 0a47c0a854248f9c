package orders

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketpay-backend/internal/cart"
	"github.com/angelmondragon/marketpay-backend/internal/inventory"
	dbpkg "github.com/angelmondragon/marketpay-backend/pkg/db"
	"github.com/angelmondragon/marketpay-backend/pkg/db/models"
	"github.com/angelmondragon/marketpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketpay-backend/pkg/errors"
	"github.com/angelmondragon/marketpay-backend/pkg/outbox"
	"github.com/angelmondragon/marketpay-backend/pkg/types"
)

var fixedNow = time.Date(2026, time.October, 5, 9, 30, 0, 0, time.UTC)

type harness struct {
	db     *gorm.DB
	repo   Repository
	svc    Service
	cart   cart.Service
	shopID uuid.UUID
}

func newHarness(t *testing.T, wrap func(Repository) Repository) harness {
	t.Helper()
	dsn := "file:orders_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))

	store, err := inventory.NewStore(db, nil)
	require.NoError(t, err)
	reconciler, err := inventory.NewReconciler(store, nil)
	require.NoError(t, err)
	cartSvc, err := cart.NewService(cart.NewRepository(db), store, nil, nil)
	require.NoError(t, err)

	repo := NewRepository(db)
	if wrap != nil {
		repo = wrap(repo)
	}
	svc, err := NewService(ServiceParams{
		Repo:       repo,
		Tx:         dbpkg.FromConn(db),
		Outbox:     outbox.NewService(outbox.NewRepository(db), nil),
		Stock:      store,
		Reconciler: reconciler,
		Cart:       cartSvc,
		Strict:     true,
		Now:        func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return harness{db: db, repo: repo, svc: svc, cart: cartSvc, shopID: uuid.New()}
}

func (h harness) product(t *testing.T, price int64, stock int, variants string) models.Product {
	t.Helper()
	p := models.Product{
		ShopID:     h.shopID,
		Name:       "Boubou brodé",
		PriceCents: price,
		Status:     enums.ProductStatusActive,
		Stock:      stock,
	}
	if variants != "" {
		parsed, err := types.ParseVariantStock([]byte(variants))
		require.NoError(t, err)
		p.Variants = parsed
	}
	require.NoError(t, h.db.Create(&p).Error)
	return p
}

func (h harness) stock(t *testing.T, id uuid.UUID) models.Product {
	t.Helper()
	var p models.Product
	require.NoError(t, h.db.Unscoped().First(&p, "id = ?", id).Error)
	return p
}

func (h harness) events(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.db.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&n).Error)
	return n
}

func (h harness) input(lines ...LineInput) CreateInput {
	return CreateInput{
		ShopID:   h.shopID,
		Customer: Customer{Name: "Mireille Nzé", Phone: "+24166000000"},
		Lines:    lines,
	}
}

func TestCreate_SequentialNumbersAndTotals(t *testing.T) {
	h := newHarness(t, nil)
	p := h.product(t, 4000, 10, "")
	ctx := context.Background()

	in := h.input(LineInput{ProductID: p.ID, Quantity: 2})
	in.Adjustments = Adjustments{ShippingFeeCents: 2000, TaxCents: 300, DiscountCents: 500}

	first, err := h.svc.Create(ctx, in)
	require.NoError(t, err)
	second, err := h.svc.Create(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, "COM-2026-100001", first.OrderNumber)
	assert.Equal(t, "COM-2026-100002", second.OrderNumber)

	assert.EqualValues(t, 8000, first.SubtotalCents)
	assert.EqualValues(t, 9800, first.TotalCents)
	assert.Equal(t, first.SubtotalCents+first.ShippingFeeCents+first.TaxCents-first.DiscountCents, first.TotalCents)
	assert.Equal(t, enums.OrderStatusPending, first.Status)
	assert.Equal(t, enums.OrderPaymentStatusUnpaid, first.PaymentStatus)
	require.Len(t, first.Lines, 1)
	assert.Equal(t, "Boubou brodé", first.Lines[0].ProductName)
	assert.EqualValues(t, 8000, first.Lines[0].LineTotalCents)

	assert.Equal(t, 10, h.stock(t, p.ID).Stock)
	assert.EqualValues(t, 2, h.events(t, enums.EventOrderCreated))
}

func TestCreate_RejectsInvalidLines(t *testing.T) {
	h := newHarness(t, nil)
	p := h.product(t, 4000, 2, "")
	foreign := models.Product{ShopID: uuid.New(), Name: "x", PriceCents: 100, Status: enums.ProductStatusActive, Stock: 5}
	require.NoError(t, h.db.Create(&foreign).Error)
	inactive := h.product(t, 4000, 5, "")
	require.NoError(t, h.db.Model(&inactive).Update("status", enums.ProductStatusArchived).Error)
	varied := h.product(t, 2500, 0, `[{"name":"Taille","options":["S","M"],"quantities":[1,3]}]`)
	wrongPrice := int64(3999)
	ctx := context.Background()

	cases := []struct {
		name string
		in   CreateInput
		code pkgerrors.Code
	}{
		{"no lines", h.input(), pkgerrors.CodeValidation},
		{"zero quantity", h.input(LineInput{ProductID: p.ID, Quantity: 0}), pkgerrors.CodeValidation},
		{"unknown product", h.input(LineInput{ProductID: uuid.New(), Quantity: 1}), pkgerrors.CodeNotFound},
		{"other shop", h.input(LineInput{ProductID: foreign.ID, Quantity: 1}), pkgerrors.CodeValidation},
		{"inactive", h.input(LineInput{ProductID: inactive.ID, Quantity: 1}), pkgerrors.CodeValidation},
		{"price drift", h.input(LineInput{ProductID: p.ID, Quantity: 1, UnitPriceCents: &wrongPrice}), pkgerrors.CodeValidation},
		{"too many", h.input(LineInput{ProductID: p.ID, Quantity: 3}), pkgerrors.CodeInsufficientStock},
		{"unknown variant", h.input(LineInput{ProductID: varied.ID, Quantity: 1, SelectedVariant: types.VariantSelection{"name": "Taille", "option": "XL"}}), pkgerrors.CodeValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.Create(ctx, tc.in)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, tc.code), "got %v", err)
		})
	}

	var count int64
	require.NoError(t, h.db.Model(&models.Order{}).Count(&count).Error)
	assert.Zero(t, count)
}

type failingSequence struct {
	Repository
}

func (f failingSequence) WithTx(tx *gorm.DB) Repository {
	return failingSequence{Repository: f.Repository.WithTx(tx)}
}

func (failingSequence) NextSequence(context.Context, string) (int, error) {
	return 0, errors.New("sequence table missing")
}

func TestCreate_FallsBackToRandomNumber(t *testing.T) {
	h := newHarness(t, func(r Repository) Repository { return failingSequence{Repository: r} })
	p := h.product(t, 1000, 5, "")

	order, err := h.svc.Create(context.Background(), h.input(LineInput{ProductID: p.ID, Quantity: 1}))
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^COM-2026-10\d{4}$`), order.OrderNumber)
}

func TestUpdateStatus_ConfirmTwiceDecrementsOnce(t *testing.T) {
	h := newHarness(t, nil)
	p := h.product(t, 1000, 5, "")
	ctx := context.Background()
	order, err := h.svc.Create(ctx, h.input(LineInput{ProductID: p.ID, Quantity: 2}))
	require.NoError(t, err)

	confirmed, err := h.svc.UpdateStatus(ctx, order.ID, enums.OrderStatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusConfirmed, confirmed.Status)
	require.NotNil(t, confirmed.ConfirmedAt)

	_, err = h.svc.UpdateStatus(ctx, order.ID, enums.OrderStatusConfirmed)
	require.NoError(t, err)

	got := h.stock(t, p.ID)
	assert.Equal(t, 3, got.Stock)
	assert.True(t, got.InStock)
	assert.EqualValues(t, 1, h.events(t, enums.EventOrderStatusChanged))
}

func TestUpdateStatus_ConfirmThenCancelRestoresStock(t *testing.T) {
	h := newHarness(t, nil)
	scalar := h.product(t, 1000, 4, "")
	varied := h.product(t, 2500, 0, `[{"name":"Taille","options":["S","M"],"quantities":[1,3]}]`)
	ctx := context.Background()

	order, err := h.svc.Create(ctx, h.input(
		LineInput{ProductID: scalar.ID, Quantity: 4},
		LineInput{ProductID: varied.ID, Quantity: 2, SelectedVariant: types.VariantSelection{"name": "Taille", "option": "M"}},
	))
	require.NoError(t, err)

	_, err = h.svc.UpdateStatus(ctx, order.ID, enums.OrderStatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, 0, h.stock(t, scalar.ID).Stock)
	assert.False(t, h.stock(t, scalar.ID).InStock)
	assert.Equal(t, 2, h.stock(t, varied.ID).Stock)

	_, err = h.svc.UpdateStatus(ctx, order.ID, enums.OrderStatusInPreparation)
	require.NoError(t, err)
	cancelled, err := h.svc.UpdateStatus(ctx, order.ID, enums.OrderStatusCancelled)
	require.NoError(t, err)
	require.NotNil(t, cancelled.CancelledAt)

	assert.Equal(t, 4, h.stock(t, scalar.ID).Stock)
	assert.True(t, h.stock(t, scalar.ID).InStock)
	restored := h.stock(t, varied.ID)
	assert.Equal(t, 4, restored.Stock)
	assert.Equal(t, types.VariantShapeLegacy, restored.Variants.Shape)
	assert.Equal(t, 3, restored.Variants.Entries[1].Quantity)
	assert.EqualValues(t, 1, h.events(t, enums.EventStockRestored))
}

func TestUpdateStatus_InsufficientStockRollsBack(t *testing.T) {
	h := newHarness(t, nil)
	plenty := h.product(t, 1000, 10, "")
	scarce := h.product(t, 1000, 3, "")
	ctx := context.Background()
	order, err := h.svc.Create(ctx, h.input(
		LineInput{ProductID: plenty.ID, Quantity: 2},
		LineInput{ProductID: scarce.ID, Quantity: 3},
	))
	require.NoError(t, err)
	require.NoError(t, h.db.Model(&models.Product{}).Where("id = ?", scarce.ID).Update("stock", 1).Error)

	_, err = h.svc.UpdateStatus(ctx, order.ID, enums.OrderStatusConfirmed)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock))

	reloaded, err := h.svc.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPending, reloaded.Status)
	assert.Nil(t, reloaded.ConfirmedAt)
	assert.Equal(t, 10, h.stock(t, plenty.ID).Stock)
	assert.Equal(t, 1, h.stock(t, scarce.ID).Stock)
	assert.Zero(t, h.events(t, enums.EventOrderStatusChanged))
}

func TestUpdateStatus_RejectsBackwardTransition(t *testing.T) {
	h := newHarness(t, nil)
	p := h.product(t, 1000, 5, "")
	ctx := context.Background()
	order, err := h.svc.Create(ctx, h.input(LineInput{ProductID: p.ID, Quantity: 1}))
	require.NoError(t, err)
	_, err = h.svc.UpdateStatus(ctx, order.ID, enums.OrderStatusCancelled)
	require.NoError(t, err)

	_, err = h.svc.UpdateStatus(ctx, order.ID, enums.OrderStatusPending)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition))

	_, err = h.svc.UpdateStatus(ctx, uuid.New(), enums.OrderStatusConfirmed)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestRecomputeTotals_Idempotent(t *testing.T) {
	h := newHarness(t, nil)
	p := h.product(t, 1500, 5, "")
	ctx := context.Background()
	in := h.input(LineInput{ProductID: p.ID, Quantity: 3})
	in.Adjustments = Adjustments{ShippingFeeCents: 1000}
	order, err := h.svc.Create(ctx, in)
	require.NoError(t, err)

	require.NoError(t, h.db.Model(&models.OrderLine{}).Where("order_id = ?", order.ID).Update("line_total_cents", 1).Error)
	require.NoError(t, h.db.Model(&models.Order{}).Where("id = ?", order.ID).Updates(map[string]any{
		"subtotal_cents": 1, "total_cents": 1, "discount_cents": 999999,
	}).Error)

	once, err := h.svc.RecomputeTotals(ctx, order.ID)
	require.NoError(t, err)
	twice, err := h.svc.RecomputeTotals(ctx, order.ID)
	require.NoError(t, err)

	assert.EqualValues(t, 4500, once.SubtotalCents)
	assert.EqualValues(t, 5500, once.DiscountCents)
	assert.Zero(t, once.TotalCents)
	assert.EqualValues(t, 4500, once.Lines[0].LineTotalCents)
	assert.Equal(t, once.SubtotalCents, twice.SubtotalCents)
	assert.Equal(t, once.TotalCents, twice.TotalCents)

	_, err = h.svc.RecomputeTotals(ctx, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestCreateFromCart_OrdersSurvivingEntries(t *testing.T) {
	h := newHarness(t, nil)
	p := h.product(t, 2000, 3, "")
	gone := h.product(t, 2000, 0, "")
	other := models.Product{ShopID: uuid.New(), Name: "autre", PriceCents: 500, Status: enums.ProductStatusActive, Stock: 9}
	require.NoError(t, h.db.Create(&other).Error)
	session := "sess-" + uuid.NewString()
	for _, e := range []models.CartEntry{
		{SessionID: session, ShopID: h.shopID, ProductID: p.ID, Quantity: 10},
		{SessionID: session, ShopID: h.shopID, ProductID: gone.ID, Quantity: 1},
		{SessionID: session, ShopID: other.ShopID, ProductID: other.ID, Quantity: 1},
	} {
		require.NoError(t, h.db.Create(&e).Error)
	}
	ctx := context.Background()

	_, err := h.svc.CreateFromCart(ctx, CheckoutInput{SessionID: session, Customer: Customer{Name: "A", Phone: "1"}})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	order, err := h.svc.CreateFromCart(ctx, CheckoutInput{
		SessionID: session,
		ShopID:    &h.shopID,
		Customer:  Customer{Name: "A", Phone: "1"},
	})
	require.NoError(t, err)
	require.Len(t, order.Lines, 1)
	assert.Equal(t, 3, order.Lines[0].Quantity)
	assert.EqualValues(t, 6000, order.SubtotalCents)
	require.NotNil(t, order.SessionID)
	assert.Equal(t, session, *order.SessionID)

	remaining, err := h.cart.GetValidatedCart(ctx, session)
	require.NoError(t, err)
	require.Len(t, remaining.Items, 1)
	assert.Equal(t, other.ID, remaining.Items[0].ProductID)
}

func TestListByShop_Paginates(t *testing.T) {
	h := newHarness(t, nil)
	p := h.product(t, 1000, 50, "")
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := h.svc.Create(ctx, h.input(LineInput{ProductID: p.ID, Quantity: 1}))
		require.NoError(t, err)
	}

	page, err := h.svc.ListByShop(ctx, h.shopID, ListParams{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Orders, 2)
	require.NotEmpty(t, page.NextCursor)

	rest, err := h.svc.ListByShop(ctx, h.shopID, ListParams{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, rest.Orders, 1)
	assert.Empty(t, rest.NextCursor)

	seen := map[uuid.UUID]bool{}
	for _, o := range append(page.Orders, rest.Orders...) {
		seen[o.ID] = true
	}
	assert.Len(t, seen, 3)

	pending := enums.OrderStatusDelivered
	none, err := h.svc.ListByShop(ctx, h.shopID, ListParams{Status: &pending})
	require.NoError(t, err)
	assert.Empty(t, none.Orders)

	_, err = h.svc.ListByShop(ctx, h.shopID, ListParams{Cursor: "%%%"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestSetPaymentTx(t *testing.T) {
	h := newHarness(t, nil)
	p := h.product(t, 1000, 5, "")
	ctx := context.Background()
	order, err := h.svc.Create(ctx, h.input(LineInput{ProductID: p.ID, Quantity: 1}))
	require.NoError(t, err)
	method := enums.PaymentMethodAirtelMoney

	require.NoError(t, h.db.Transaction(func(tx *gorm.DB) error {
		if _, err := h.svc.LockTx(ctx, tx, order.ID); err != nil {
			return err
		}
		return h.svc.SetPaymentTx(ctx, tx, order.ID, PaymentUpdate{
			AmountPaidCents: 1100,
			Status:          enums.OrderPaymentStatusPaid,
			Method:          &method,
		})
	}))

	got, err := h.svc.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1100, got.AmountPaidCents)
	assert.Equal(t, enums.OrderPaymentStatusPaid, got.PaymentStatus)
	require.NotNil(t, got.PaymentMethod)
	assert.Equal(t, method, *got.PaymentMethod)
}
