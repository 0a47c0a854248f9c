package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Reconciliation collects counters for stock, payment and gateway activity.
// A nil *Reconciliation is valid and records nothing.
type Reconciliation struct {
	insufficientStock *prometheus.CounterVec
	verifications     *prometheus.CounterVec
	gatewayRequests   *prometheus.CounterVec
	gatewayLatency    *prometheus.HistogramVec
	cartAdjustments   *prometheus.CounterVec
}

// NewReconciliation registers the reconciliation collectors on reg.
func NewReconciliation(reg prometheus.Registerer) *Reconciliation {
	if reg == nil {
		return &Reconciliation{}
	}
	insufficient := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_insufficient_total",
		Help: "Stock adjustments rejected because stock would go negative.",
	}, []string{"scope"})
	verifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_verifications_total",
		Help: "Payment verification attempts by outcome.",
	}, []string{"outcome"})
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_gateway_requests_total",
		Help: "Billing gateway calls by operation and result.",
	}, []string{"operation", "result"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "billing_gateway_request_seconds",
		Help:    "Billing gateway call latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	cart := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_reconciliation_changes_total",
		Help: "Cart entries removed or clamped during validation.",
	}, []string{"kind"})
	reg.MustRegister(insufficient, verifications, requests, latency, cart)
	return &Reconciliation{
		insufficientStock: insufficient,
		verifications:     verifications,
		gatewayRequests:   requests,
		gatewayLatency:    latency,
		cartAdjustments:   cart,
	}
}

// IncInsufficientStock counts a rejected adjustment; scope is "product" or "variant".
func (r *Reconciliation) IncInsufficientStock(scope string) {
	if r == nil || r.insufficientStock == nil {
		return
	}
	r.insufficientStock.WithLabelValues(normalizeLabel(scope)).Inc()
}

// IncVerification counts a payment verification outcome.
func (r *Reconciliation) IncVerification(outcome string) {
	if r == nil || r.verifications == nil {
		return
	}
	r.verifications.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObserveGateway records one gateway call.
func (r *Reconciliation) ObserveGateway(operation string, duration time.Duration, err error) {
	if r == nil || r.gatewayRequests == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	op := normalizeLabel(operation)
	r.gatewayRequests.WithLabelValues(op, result).Inc()
	r.gatewayLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// AddCartChanges counts cart entries removed or adjusted by validation.
func (r *Reconciliation) AddCartChanges(kind string, n int) {
	if r == nil || r.cartAdjustments == nil || n <= 0 {
		return
	}
	r.cartAdjustments.WithLabelValues(normalizeLabel(kind)).Add(float64(n))
}
