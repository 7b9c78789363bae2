package store

import (
	"context"
	"sort"
	"sync"

	"hearth/internal/household/models"
	id "hearth/pkg/domain"
	"hearth/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu         sync.RWMutex
	households map[id.HouseholdID]*models.Household
	members    map[id.MembershipID]*models.Member
	byPerson   map[id.PersonID]id.MembershipID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		households: make(map[id.HouseholdID]*models.Household),
		members:    make(map[id.MembershipID]*models.Member),
		byPerson:   make(map[id.PersonID]id.MembershipID),
	}
}

func (s *InMemoryStore) CreateHousehold(_ context.Context, household *models.Household) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.households[household.ID]; ok {
		return sentinel.ErrConflict
	}
	cp := *household
	s.households[household.ID] = &cp
	return nil
}

func (s *InMemoryStore) FindHousehold(_ context.Context, householdID id.HouseholdID) (*models.Household, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.households[householdID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *h
	return &cp, nil
}

func (s *InMemoryStore) DeleteHousehold(_ context.Context, householdID id.HouseholdID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.households, householdID)
	for mid, m := range s.members {
		if m.HouseholdID == householdID {
			delete(s.byPerson, m.PersonID)
			delete(s.members, mid)
		}
	}
	return nil
}

func (s *InMemoryStore) DeleteGenerated(_ context.Context, institutionID id.InstitutionID) ([]id.HouseholdID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted []id.HouseholdID
	for hid, h := range s.households {
		if h.InstitutionID != institutionID || h.CreatedVia == models.ByManual {
			continue
		}
		deleted = append(deleted, hid)
		delete(s.households, hid)
	}
	wiped := make(map[id.HouseholdID]bool, len(deleted))
	for _, hid := range deleted {
		wiped[hid] = true
	}
	for mid, m := range s.members {
		if wiped[m.HouseholdID] {
			delete(s.byPerson, m.PersonID)
			delete(s.members, mid)
		}
	}
	sort.Slice(deleted, func(i, j int) bool { return deleted[i].String() < deleted[j].String() })
	return deleted, nil
}

func (s *InMemoryStore) AddMember(_ context.Context, member *models.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, housed := s.byPerson[member.PersonID]; housed {
		return sentinel.ErrConflict
	}
	if _, ok := s.members[member.ID]; ok {
		return sentinel.ErrConflict
	}
	if _, ok := s.households[member.HouseholdID]; !ok {
		return sentinel.ErrNotFound
	}
	cp := *member
	s.members[member.ID] = &cp
	s.byPerson[member.PersonID] = member.ID
	return nil
}

func (s *InMemoryStore) MemberByID(_ context.Context, membershipID id.MembershipID) (*models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[membershipID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *InMemoryStore) MemberByPerson(_ context.Context, personID id.PersonID) (*models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mid, ok := s.byPerson[personID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *s.members[mid]
	return &cp, nil
}

func (s *InMemoryStore) MembersByHousehold(_ context.Context, householdID id.HouseholdID) ([]*models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Member
	for _, m := range s.members {
		if m.HouseholdID == householdID {
			cp := *m
			out = append(out, &cp)
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

func (s *InMemoryStore) HousedPersonIDs(_ context.Context, institutionID id.InstitutionID) (map[id.PersonID]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[id.PersonID]bool)
	for _, m := range s.members {
		h, ok := s.households[m.HouseholdID]
		if ok && h.InstitutionID == institutionID {
			out[m.PersonID] = true
		}
	}
	return out, nil
}

func (s *InMemoryStore) DeleteMember(_ context.Context, membershipID id.MembershipID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[membershipID]
	if !ok {
		return sentinel.ErrNotFound
	}
	delete(s.byPerson, m.PersonID)
	delete(s.members, membershipID)
	return nil
}

func (s *InMemoryStore) RepointMember(_ context.Context, membershipID id.MembershipID, personID id.PersonID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[membershipID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if existing, housed := s.byPerson[personID]; housed && existing != membershipID {
		return sentinel.ErrConflict
	}
	delete(s.byPerson, m.PersonID)
	m.PersonID = personID
	s.byPerson[personID] = membershipID
	return nil
}
