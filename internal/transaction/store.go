package transaction

import (
	"context"

	id "hearth/pkg/domain"
)

// Store is pure I/O over transaction records.
type Store interface {
	Create(ctx context.Context, txn *Transaction) error
	FindByID(ctx context.Context, txnID id.TransactionID) (*Transaction, error)

	// ListIDsByPerson returns ids of all transactions owned by the person.
	// The merge ledger snapshots this set before a merge.
	ListIDsByPerson(ctx context.Context, personID id.PersonID) ([]id.TransactionID, error)

	// RepointPerson moves every transaction owned by from to to.
	RepointPerson(ctx context.Context, from, to id.PersonID) error

	// RepointByIDs moves a specific transaction set to a person. Undo uses
	// the snapshotted id set so transactions acquired by the target after
	// the merge stay put.
	RepointByIDs(ctx context.Context, txnIDs []id.TransactionID, to id.PersonID) error

	// AttachHousehold points all transactions owned by the given people at
	// a household.
	AttachHousehold(ctx context.Context, personIDs []id.PersonID, householdID id.HouseholdID) error

	// DetachHouseholds clears the household reference from all transactions
	// attached to any of the given households.
	DetachHouseholds(ctx context.Context, householdIDs []id.HouseholdID) error
}
