package ledger

import (
	"context"

	householdstore "hearth/internal/household/store"
	identitystore "hearth/internal/identity/store"
	"hearth/internal/transaction"
)

// TxStores exposes the stores a destructive ledger operation may touch inside
// one transactional boundary.
type TxStores struct {
	Entries    Store
	People     identitystore.PersonStore
	Households householdstore.Store
	Txns       transaction.Store
}

// StoreTx provides a transactional boundary for merge and undo mutations.
// Implementations may wrap a database transaction or, in-memory, rely on the
// service's own serialization.
type StoreTx interface {
	RunInTx(ctx context.Context, fn func(stores TxStores) error) error
}

// passthroughTx runs the mutation against the live stores with no rollback.
// The entry-before-mutation write order still guarantees a person is never
// deleted without a ledger entry on record.
type passthroughTx struct {
	stores TxStores
}

func (t passthroughTx) RunInTx(ctx context.Context, fn func(stores TxStores) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(t.stores)
}
