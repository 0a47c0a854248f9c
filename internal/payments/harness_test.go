package payments

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketpay-backend/internal/inventory"
	"github.com/angelmondragon/marketpay-backend/internal/orders"
	"github.com/angelmondragon/marketpay-backend/pkg/config"
	dbpkg "github.com/angelmondragon/marketpay-backend/pkg/db"
	"github.com/angelmondragon/marketpay-backend/pkg/db/models"
	"github.com/angelmondragon/marketpay-backend/pkg/ebilling"
	"github.com/angelmondragon/marketpay-backend/pkg/enums"
	"github.com/angelmondragon/marketpay-backend/pkg/outbox"
)

var fixedNow = time.Date(2026, time.October, 5, 14, 0, 0, 0, time.UTC)

type stubGateway struct {
	mu         sync.Mutex
	authErr    error
	invoiceErr error
	pushErr    error
	billErr    error
	nextBill   string
	bills      map[string]*ebilling.BillState
	invoices   []ebilling.InvoiceRequest
	pushes     []string
	lookups    int
	// hold, when set, parks GetBill until it is closed; entered is
	// signalled as each lookup starts waiting.
	hold    chan struct{}
	entered chan struct{}
}

func (g *stubGateway) Authenticate(context.Context) (string, error) {
	if g.authErr != nil {
		return "", g.authErr
	}
	return "token", nil
}

func (g *stubGateway) CreateInvoice(_ context.Context, _ string, req ebilling.InvoiceRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.invoiceErr != nil {
		return "", g.invoiceErr
	}
	g.invoices = append(g.invoices, req)
	id := g.nextBill
	if id == "" {
		id = "5550" + uuid.NewString()[:6]
	}
	return id, nil
}

func (g *stubGateway) PushUSSD(_ context.Context, _, billID, _, system string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pushErr != nil {
		return g.pushErr
	}
	g.pushes = append(g.pushes, billID+":"+system)
	return nil
}

func (g *stubGateway) GetBill(ctx context.Context, billID string) (*ebilling.BillState, error) {
	if g.hold != nil {
		select {
		case g.entered <- struct{}{}:
		default:
		}
		select {
		case <-g.hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lookups++
	if g.billErr != nil {
		return nil, g.billErr
	}
	if bill, ok := g.bills[billID]; ok {
		return bill, nil
	}
	return &ebilling.BillState{BillID: billID, State: "pending"}, nil
}

func (g *stubGateway) setBill(billID, state, system string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.bills == nil {
		g.bills = map[string]*ebilling.BillState{}
	}
	g.bills[billID] = &ebilling.BillState{BillID: billID, State: state, PaymentSystemName: system, PSTransactionID: "PS-" + billID}
}

// memLocks is an in-memory stand-in for the redis lock store.
type memLocks struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memLocks) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = map[string]string{}
	}
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = value.(string)
	return true, nil
}

func (m *memLocks) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (m *memLocks) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memLocks) LockKey(scope string) string { return "test:lock:" + scope }

type stubLimiter struct {
	mu    sync.Mutex
	allow bool
	calls int
}

func (l *stubLimiter) FixedWindowAllow(context.Context, string, int64, time.Duration) (bool, int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.allow, int64(l.calls), nil
}

type harness struct {
	db      *gorm.DB
	orders  orders.Service
	svc     Service
	gateway *stubGateway
	locks   *memLocks
	limiter *stubLimiter
	shopID  uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dsn := "file:payments_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))

	store, err := inventory.NewStore(db, nil)
	require.NoError(t, err)
	reconciler, err := inventory.NewReconciler(store, nil)
	require.NoError(t, err)
	publisher := outbox.NewService(outbox.NewRepository(db), nil)
	clock := func() time.Time { return fixedNow }

	orderSvc, err := orders.NewService(orders.ServiceParams{
		Repo:       orders.NewRepository(db),
		Tx:         dbpkg.FromConn(db),
		Outbox:     publisher,
		Stock:      store,
		Reconciler: reconciler,
		Strict:     true,
		Now:        clock,
	})
	require.NoError(t, err)

	h := &harness{
		db:      db,
		orders:  orderSvc,
		gateway: &stubGateway{},
		locks:   &memLocks{data: map[string]string{}},
		limiter: &stubLimiter{allow: true},
		shopID:  uuid.New(),
	}
	h.svc, err = NewService(ServiceParams{
		Repo:    NewRepository(db),
		Tx:      dbpkg.FromConn(db),
		Orders:  orderSvc,
		Outbox:  publisher,
		Gateway: h.gateway,
		Limiter: h.limiter,
		Locks:   h.locks,
		Billing: config.BillingConfig{
			DefaultSystem: "airtelmoney",
			VerifyLimit:   10,
			VerifyWindow:  time.Minute,
			VerifyLockTTL: 30 * time.Second,
		},
		Now: clock,
	})
	require.NoError(t, err)
	return h
}

// order creates a pending order worth 8000 in lines plus 2000 shipping; a
// full payment is therefore 11000 with the service fee.
func (h *harness) order(t *testing.T) (*models.Order, models.Product) {
	t.Helper()
	product := models.Product{
		ShopID:     h.shopID,
		Name:       "Sac en raphia",
		PriceCents: 4000,
		Status:     enums.ProductStatusActive,
		Stock:      10,
	}
	require.NoError(t, h.db.Create(&product).Error)
	order, err := h.orders.Create(context.Background(), orders.CreateInput{
		ShopID:      h.shopID,
		Customer:    orders.Customer{Name: "Ornella Mba", Phone: "+24174000000"},
		Lines:       []orders.LineInput{{ProductID: product.ID, Quantity: 2}},
		Adjustments: orders.Adjustments{ShippingFeeCents: 2000},
	})
	require.NoError(t, err)
	return order, product
}

func (h *harness) reloadOrder(t *testing.T, id uuid.UUID) models.Order {
	t.Helper()
	var order models.Order
	require.NoError(t, h.db.First(&order, "id = ?", id).Error)
	return order
}

func (h *harness) reloadTxn(t *testing.T, id uuid.UUID) models.Transaction {
	t.Helper()
	var txn models.Transaction
	require.NoError(t, h.db.First(&txn, "id = ?", id).Error)
	return txn
}

func (h *harness) stock(t *testing.T, id uuid.UUID) int {
	t.Helper()
	var p models.Product
	require.NoError(t, h.db.First(&p, "id = ?", id).Error)
	return p.Stock
}

func (h *harness) events(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.db.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&n).Error)
	return n
}

func strPtr(v string) *string { return &v }
