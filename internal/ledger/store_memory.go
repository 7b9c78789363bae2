package ledger

import (
	"context"
	"sort"
	"sync"

	id "hearth/pkg/domain"
	"hearth/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[id.LedgerEntryID]*Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[id.LedgerEntryID]*Entry)}
}

func (s *InMemoryStore) Append(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[entry.ID]; ok {
		return sentinel.ErrConflict
	}
	s.entries[entry.ID] = cloneEntry(entry)
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, entryID id.LedgerEntryID) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[entryID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneEntry(e), nil
}

func (s *InMemoryStore) Update(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[entry.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.entries[entry.ID] = cloneEntry(entry)
	return nil
}

func (s *InMemoryStore) ListByPerson(_ context.Context, personID id.PersonID) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Entry
	for _, e := range s.entries {
		if matchesPerson(e, personID) {
			out = append(out, cloneEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func matchesPerson(e *Entry, personID id.PersonID) bool {
	for _, ref := range []*id.PersonID{e.PersonID, e.DuplicatePersonID, e.TargetPersonID} {
		if ref != nil && *ref == personID {
			return true
		}
	}
	return false
}

func cloneEntry(e *Entry) *Entry {
	cp := *e
	cp.Snapshot.TransactionIDs = append([]id.TransactionID(nil), e.Snapshot.TransactionIDs...)
	cp.Snapshot.Memberships = append([]MembershipSnapshot(nil), e.Snapshot.Memberships...)
	if e.PersonID != nil {
		v := *e.PersonID
		cp.PersonID = &v
	}
	if e.DuplicatePersonID != nil {
		v := *e.DuplicatePersonID
		cp.DuplicatePersonID = &v
	}
	if e.TargetPersonID != nil {
		v := *e.TargetPersonID
		cp.TargetPersonID = &v
	}
	if e.UndoneAt != nil {
		v := *e.UndoneAt
		cp.UndoneAt = &v
	}
	if e.PermanentlyFinalizedAt != nil {
		v := *e.PermanentlyFinalizedAt
		cp.PermanentlyFinalizedAt = &v
	}
	return &cp
}
