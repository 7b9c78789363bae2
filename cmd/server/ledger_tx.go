package main

import (
	"context"
	"database/sql"
	"time"

	householdstore "hearth/internal/household/store"
	identitystore "hearth/internal/identity/store"
	"hearth/internal/ledger"
	"hearth/internal/transaction"
	dErrors "hearth/pkg/domain-errors"
)

const defaultLedgerTxTimeout = 5 * time.Second

// ledgerPostgresTx runs a destructive ledger operation inside one database
// transaction, so the ledger entry and every person, membership, and
// transaction write commit together or not at all.
type ledgerPostgresTx struct {
	db      *sql.DB
	timeout time.Duration
}

func newLedgerPostgresTx(db *sql.DB) *ledgerPostgresTx {
	return &ledgerPostgresTx{db: db}
}

func (t *ledgerPostgresTx) RunInTx(ctx context.Context, fn func(stores ledger.TxStores) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultLedgerTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stores := ledger.TxStores{
		Entries:    ledger.NewPostgresTx(tx),
		People:     identitystore.NewPostgresTx(tx),
		Households: householdstore.NewPostgresTx(tx),
		Txns:       transaction.NewPostgresTx(tx),
	}
	if err := fn(stores); err != nil {
		return err
	}
	return tx.Commit()
}
