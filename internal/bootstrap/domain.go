// Package bootstrap wires the domain services shared by the API and the
// cron worker.
package bootstrap

import (
	"fmt"

	"github.com/angelmondragon/marketpay-backend/internal/cart"
	"github.com/angelmondragon/marketpay-backend/internal/fees"
	"github.com/angelmondragon/marketpay-backend/internal/inventory"
	"github.com/angelmondragon/marketpay-backend/internal/orders"
	"github.com/angelmondragon/marketpay-backend/internal/payments"
	"github.com/angelmondragon/marketpay-backend/pkg/config"
	"github.com/angelmondragon/marketpay-backend/pkg/db"
	"github.com/angelmondragon/marketpay-backend/pkg/ebilling"
	"github.com/angelmondragon/marketpay-backend/pkg/logger"
	"github.com/angelmondragon/marketpay-backend/pkg/metrics"
	"github.com/angelmondragon/marketpay-backend/pkg/outbox"
	"github.com/angelmondragon/marketpay-backend/pkg/redis"
)

// Domain holds the wired services.
type Domain struct {
	Stock    inventory.Store
	Cart     cart.Service
	Orders   orders.Service
	Payments payments.Service
	Fees     *fees.Verifier
	Outbox   *outbox.Repository
}

// Params are the shared infrastructure handles. Redis is optional; without
// it verification runs unthrottled and unlocked.
type Params struct {
	Config  *config.Config
	DB      *db.Client
	Redis   *redis.Client
	Metrics *metrics.Reconciliation
	Logger  *logger.Logger
}

// NewDomain builds the inventory, cart, orders and payments services over one
// database client.
func NewDomain(params Params) (*Domain, error) {
	if params.Config == nil || params.DB == nil {
		return nil, fmt.Errorf("config and database client required")
	}
	cfg := params.Config
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	conn := params.DB.DB()

	stock, err := inventory.NewStore(conn, params.Metrics)
	if err != nil {
		return nil, fmt.Errorf("inventory store: %w", err)
	}
	reconciler, err := inventory.NewReconciler(stock, logg)
	if err != nil {
		return nil, fmt.Errorf("stock reconciler: %w", err)
	}
	cartSvc, err := cart.NewService(cart.NewRepository(conn), stock, params.Metrics, logg)
	if err != nil {
		return nil, fmt.Errorf("cart service: %w", err)
	}

	outboxRepo := outbox.NewRepository(conn)
	publisher := outbox.NewService(outboxRepo, logg)

	orderSvc, err := orders.NewService(orders.ServiceParams{
		Repo:       orders.NewRepository(conn),
		Tx:         params.DB,
		Outbox:     publisher,
		Stock:      stock,
		Reconciler: reconciler,
		Cart:       cartSvc,
		Strict:     cfg.FeatureFlags.StrictOrderTransitions,
		Logger:     logg,
	})
	if err != nil {
		return nil, fmt.Errorf("orders service: %w", err)
	}

	verifier, err := fees.NewVerifierFromConfig(cfg.Fees)
	if err != nil {
		return nil, fmt.Errorf("fee verifier: %w", err)
	}

	paymentParams := payments.ServiceParams{
		Repo:    payments.NewRepository(conn),
		Tx:      params.DB,
		Orders:  orderSvc,
		Fees:    verifier,
		Outbox:  publisher,
		Metrics: params.Metrics,
		Billing: cfg.Billing,
		Logger:  logg,
	}
	if cfg.Billing.Configured() {
		opts := []ebilling.Option{}
		if params.Metrics != nil {
			opts = append(opts, ebilling.WithObserver(params.Metrics))
		}
		gateway, err := ebilling.NewClient(cfg.Billing, opts...)
		if err != nil {
			return nil, fmt.Errorf("billing client: %w", err)
		}
		paymentParams.Gateway = gateway
	}
	if params.Redis != nil {
		paymentParams.Limiter = params.Redis
		paymentParams.Locks = params.Redis
	}
	paymentSvc, err := payments.NewService(paymentParams)
	if err != nil {
		return nil, fmt.Errorf("payments service: %w", err)
	}

	return &Domain{
		Stock:    stock,
		Cart:     cartSvc,
		Orders:   orderSvc,
		Payments: paymentSvc,
		Fees:     verifier,
		Outbox:   outboxRepo,
	}, nil
}
