package payments

import (
	"github.com/angelmondragon/marketpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketpay-backend/pkg/errors"
)

var transactionTransitions = map[enums.TransactionStatus][]enums.TransactionStatus{
	enums.TransactionStatusPending: {enums.TransactionStatusPaid, enums.TransactionStatusFailed},
	enums.TransactionStatusPaid:    {enums.TransactionStatusRefunded},
}

// CanTransition reports whether a transaction may move from -> to.
// Staying in the same status is always allowed.
func CanTransition(from, to enums.TransactionStatus) bool {
	if !from.IsValid() || !to.IsValid() {
		return false
	}
	if from == to {
		return true
	}
	for _, next := range transactionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to enums.TransactionStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	return pkgerrors.Newf(pkgerrors.CodeInvalidTransition, "transaction cannot move from %s to %s", from, to).
		WithDetails(map[string]any{"from": from, "to": to})
}
