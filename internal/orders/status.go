package orders

import (
	"time"

	"github.com/angelmondragon/marketpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketpay-backend/pkg/errors"
)

var forwardTransitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPending:       {enums.OrderStatusConfirmed, enums.OrderStatusCancelled, enums.OrderStatusRefunded},
	enums.OrderStatusConfirmed:     {enums.OrderStatusInPreparation, enums.OrderStatusCancelled, enums.OrderStatusRefunded},
	enums.OrderStatusInPreparation: {enums.OrderStatusShipped, enums.OrderStatusCancelled, enums.OrderStatusRefunded},
	enums.OrderStatusShipped:       {enums.OrderStatusDelivered, enums.OrderStatusCancelled, enums.OrderStatusRefunded},
}

var stampColumns = map[enums.OrderStatus]string{
	enums.OrderStatusConfirmed: "confirmed_at",
	enums.OrderStatusShipped:   "shipped_at",
	enums.OrderStatusDelivered: "delivered_at",
	enums.OrderStatusCancelled: "cancelled_at",
	enums.OrderStatusRefunded:  "refunded_at",
}

// Effects describes what an accepted transition does besides changing status.
type Effects struct {
	From    enums.OrderStatus
	To      enums.OrderStatus
	Changed bool
	// Stock is empty when the transition does not touch stock.
	Stock       enums.StockDirection
	StampColumn string
}

// Updates returns the column set for the order row.
func (e Effects) Updates(now time.Time) map[string]any {
	if !e.Changed {
		return nil
	}
	updates := map[string]any{"status": e.To}
	if e.StampColumn != "" {
		updates[e.StampColumn] = now
	}
	return updates
}

// Transition validates current -> target. Setting a status to itself is
// always accepted and has no effect. With strict=false any known status is
// accepted, but the stock rule still applies.
func Transition(current, target enums.OrderStatus, strict bool) (Effects, error) {
	if !target.IsValid() {
		return Effects{}, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid order status %q", target)
	}
	effects := Effects{From: current, To: target}
	if current == target {
		return effects, nil
	}
	if strict && !allowed(current, target) {
		return Effects{}, pkgerrors.Newf(pkgerrors.CodeInvalidTransition, "cannot move order from %s to %s", current, target).
			WithDetails(map[string]any{
				"from":    current,
				"to":      target,
				"allowed": forwardTransitions[current],
			})
	}

	effects.Changed = true
	effects.Stock = stockEffect(current, target)
	effects.StampColumn = stampColumns[target]
	return effects, nil
}

// AllowedTargets lists the statuses reachable from current in strict mode.
func AllowedTargets(current enums.OrderStatus) []enums.OrderStatus {
	targets := forwardTransitions[current]
	out := make([]enums.OrderStatus, len(targets))
	copy(out, targets)
	return out
}

func allowed(current, target enums.OrderStatus) bool {
	for _, candidate := range forwardTransitions[current] {
		if candidate == target {
			return true
		}
	}
	return false
}

func stockEffect(current, target enums.OrderStatus) enums.StockDirection {
	if target == enums.OrderStatusConfirmed && current != enums.OrderStatusConfirmed {
		return enums.StockDirectionDecrement
	}
	if current.HoldsStock() && (target == enums.OrderStatusCancelled || target == enums.OrderStatusRefunded) {
		return enums.StockDirectionIncrement
	}
	return ""
}
