package transaction

import (
	"context"
	"sort"
	"sync"

	id "hearth/pkg/domain"
	"hearth/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu   sync.RWMutex
	txns map[id.TransactionID]*Transaction
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{txns: make(map[id.TransactionID]*Transaction)}
}

func (s *InMemoryStore) Create(_ context.Context, txn *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txns[txn.ID]; ok {
		return sentinel.ErrConflict
	}
	cp := *txn
	s.txns[txn.ID] = &cp
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, txnID id.TransactionID) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	txn, ok := s.txns[txnID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *txn
	return &cp, nil
}

func (s *InMemoryStore) ListIDsByPerson(_ context.Context, personID id.PersonID) ([]id.TransactionID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []id.TransactionID
	for _, txn := range s.txns {
		if txn.PersonID == personID {
			out = append(out, txn.ID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (s *InMemoryStore) RepointPerson(_ context.Context, from, to id.PersonID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, txn := range s.txns {
		if txn.PersonID == from {
			txn.PersonID = to
		}
	}
	return nil
}

func (s *InMemoryStore) RepointByIDs(_ context.Context, txnIDs []id.TransactionID, to id.PersonID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, txnID := range txnIDs {
		if txn, ok := s.txns[txnID]; ok {
			txn.PersonID = to
		}
	}
	return nil
}

func (s *InMemoryStore) AttachHousehold(_ context.Context, personIDs []id.PersonID, householdID id.HouseholdID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := make(map[id.PersonID]bool, len(personIDs))
	for _, pid := range personIDs {
		members[pid] = true
	}
	for _, txn := range s.txns {
		if members[txn.PersonID] {
			hid := householdID
			txn.HouseholdID = &hid
		}
	}
	return nil
}

func (s *InMemoryStore) DetachHouseholds(_ context.Context, householdIDs []id.HouseholdID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	detach := make(map[id.HouseholdID]bool, len(householdIDs))
	for _, hid := range householdIDs {
		detach[hid] = true
	}
	for _, txn := range s.txns {
		if txn.HouseholdID != nil && detach[*txn.HouseholdID] {
			txn.HouseholdID = nil
		}
	}
	return nil
}
