// Package transaction holds the payment records owned by people. The engine
// never creates money movement itself; it re-points ownership during merges
// and attaches transactions to households during clustering.
package transaction

import (
	"time"

	id "hearth/pkg/domain"
)

// Transaction is a payment record owned by one person, optionally attached
// to a household.
type Transaction struct {
	ID          id.TransactionID
	PersonID    id.PersonID
	HouseholdID *id.HouseholdID
	OrderID     *id.OrderID
	AmountCents int64
	CreatedAt   time.Time
}
