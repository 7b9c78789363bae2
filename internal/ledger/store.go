package ledger

import (
	"context"

	id "hearth/pkg/domain"
)

// Store is the append-biased repository of ledger entries. Entries are never
// deleted; updates only ever set undone_at or permanently_finalized_at.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	FindByID(ctx context.Context, entryID id.LedgerEntryID) (*Entry, error)
	Update(ctx context.Context, entry *Entry) error
	ListByPerson(ctx context.Context, personID id.PersonID) ([]*Entry, error)
}
