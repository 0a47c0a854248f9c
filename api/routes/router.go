package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/marketpay-backend/api/controllers"
	cartcontrollers "github.com/angelmondragon/marketpay-backend/api/controllers/cart"
	ordercontrollers "github.com/angelmondragon/marketpay-backend/api/controllers/orders"
	paymentcontrollers "github.com/angelmondragon/marketpay-backend/api/controllers/payments"
	"github.com/angelmondragon/marketpay-backend/api/middleware"
	"github.com/angelmondragon/marketpay-backend/pkg/config"
	"github.com/angelmondragon/marketpay-backend/pkg/logger"
	"github.com/angelmondragon/marketpay-backend/pkg/redis"
)

// OrderService is everything the order and checkout routes need.
type OrderService interface {
	ordercontrollers.Service
	ordercontrollers.CheckoutService
}

// Params wires the router. DB and Redis pingers may be nil; Idempotency
// nil disables request replay.
type Params struct {
	Config      *config.Config
	Logger      *logger.Logger
	DB          controllers.Pinger
	Redis       controllers.Pinger
	Idempotency redis.IdempotencyStore
	Orders      OrderService
	Quoter      ordercontrollers.Quoter
	Payments    paymentcontrollers.Service
	Cart        cartcontrollers.Service
	// Metrics defaults to the prometheus default gatherer.
	Metrics http.Handler
}

func NewRouter(p Params) http.Handler {
	cfg, logg := p.Config, p.Logger
	metricsHandler := p.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg.App.Env))
		r.Get("/ready", controllers.HealthReady(cfg.App.Env, logg, map[string]controllers.Pinger{
			"db":    p.DB,
			"redis": p.Redis,
		}))
	})
	r.Handle("/metrics", metricsHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Session(logg))
		r.Use(middleware.Idempotency(p.Idempotency, logg))

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", cartcontrollers.Get(p.Cart, logg))
			r.Delete("/", cartcontrollers.Clear(p.Cart, logg))
			r.Get("/count", cartcontrollers.Count(p.Cart, logg))
			r.Post("/items", cartcontrollers.AddItem(p.Cart, logg))
			r.Patch("/items/{entryId}", cartcontrollers.UpdateQuantity(p.Cart, logg))
			r.Delete("/items/{entryId}", cartcontrollers.RemoveItem(p.Cart, logg))
			r.Post("/checkout", ordercontrollers.Checkout(p.Orders, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", ordercontrollers.Create(p.Orders, logg))
			r.Get("/number/{orderNumber}", ordercontrollers.DetailByNumber(p.Orders, logg))
			r.Get("/{orderId}", ordercontrollers.Detail(p.Orders, logg))
			r.Patch("/{orderId}/status", ordercontrollers.UpdateStatus(p.Orders, logg))
			r.Patch("/{orderId}/payment-status", ordercontrollers.UpdatePaymentStatus(p.Orders, logg))
			r.Post("/{orderId}/totals/recompute", ordercontrollers.RecomputeTotals(p.Orders, logg))
			r.Get("/{orderId}/payment-quote", ordercontrollers.PaymentQuote(p.Orders, p.Quoter, logg))
		})
		r.Get("/shops/{shopId}/orders", ordercontrollers.ListByShop(p.Orders, logg))

		r.Route("/payments", func(r chi.Router) {
			r.Post("/initiate", paymentcontrollers.Initiate(p.Payments, logg))
			r.Post("/mobile", paymentcontrollers.InitiateMobile(p.Payments, logg))
			r.Post("/card", paymentcontrollers.InitiateCard(p.Payments, logg))
			r.Post("/verify/{billId}", paymentcontrollers.Verify(p.Payments, logg))
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", paymentcontrollers.List(p.Payments, logg))
			r.Post("/", paymentcontrollers.Create(p.Payments, logg))
			r.Get("/{transactionId}", paymentcontrollers.Detail(p.Payments, logg))
			r.Patch("/{transactionId}", paymentcontrollers.Update(p.Payments, logg))
			r.Post("/{transactionId}/refund", paymentcontrollers.Refund(p.Payments, logg))
			r.Post("/{transactionId}/fail", paymentcontrollers.MarkFailed(p.Payments, logg))
		})
	})

	return r
}
