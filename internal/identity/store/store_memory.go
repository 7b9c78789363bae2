package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"hearth/internal/identity/models"
	"hearth/internal/identity/normalize"
	id "hearth/pkg/domain"
	"hearth/pkg/platform/sentinel"
)

// InMemoryStore keeps people in process memory. It backs unit tests and
// single-node development; semantics mirror the postgres store, including
// identity-claim arbitration in CreateIfAbsent.
type InMemoryStore struct {
	mu     sync.RWMutex
	people map[id.PersonID]*models.Person
	claims map[string]id.PersonID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		people: make(map[id.PersonID]*models.Person),
		claims: make(map[string]id.PersonID),
	}
}

func (s *InMemoryStore) Create(_ context.Context, person *models.Person) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.people[person.ID]; ok {
		return sentinel.ErrConflict
	}
	s.people[person.ID] = clone(person)
	return nil
}

func (s *InMemoryStore) CreateIfAbsent(_ context.Context, person *models.Person) (*models.Person, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := person.IdentityKey()
	if claimed, ok := s.claims[key]; ok {
		if existing, ok := s.people[claimed]; ok {
			return clone(existing), false, nil
		}
		// Claim points at a merged-away person; fall through and re-claim.
	}
	if _, ok := s.people[person.ID]; ok {
		return nil, false, sentinel.ErrConflict
	}
	s.people[person.ID] = clone(person)
	s.claims[key] = person.ID
	return clone(person), true, nil
}

func (s *InMemoryStore) FindByID(_ context.Context, personID id.PersonID) (*models.Person, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.people[personID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(p), nil
}

func (s *InMemoryStore) Update(_ context.Context, person *models.Person) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.people[person.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.people[person.ID] = clone(person)
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, personID id.PersonID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.people[personID]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.people, personID)
	for key, claimed := range s.claims {
		if claimed == personID {
			delete(s.claims, key)
		}
	}
	return nil
}

func (s *InMemoryStore) FindByEmail(_ context.Context, institutionID id.InstitutionID, normalizedEmail string) ([]*models.Person, error) {
	if normalizedEmail == "" {
		return nil, nil
	}
	return s.filter(func(p *models.Person) bool {
		return p.InstitutionID == institutionID && p.NormalizedEmail == normalizedEmail
	}), nil
}

func (s *InMemoryStore) FindByPhone(_ context.Context, institutionID id.InstitutionID, normalizedPhone string) ([]*models.Person, error) {
	if normalizedPhone == "" {
		return nil, nil
	}
	return s.filter(func(p *models.Person) bool {
		return p.InstitutionID == institutionID && p.NormalizedPhone == normalizedPhone
	}), nil
}

func (s *InMemoryStore) FindByNameAndDOB(_ context.Context, institutionID id.InstitutionID, firstName, lastName string, dob time.Time) ([]*models.Person, error) {
	first := normalize.Name(firstName)
	last := normalize.Name(lastName)
	y, m, d := dob.Date()
	return s.filter(func(p *models.Person) bool {
		if p.InstitutionID != institutionID || p.DateOfBirth == nil {
			return false
		}
		py, pm, pd := p.DateOfBirth.Date()
		return normalize.Name(p.FirstName) == first &&
			normalize.Name(p.LastName) == last &&
			py == y && pm == m && pd == d
	}), nil
}

func (s *InMemoryStore) ListWithPhone(_ context.Context, institutionID id.InstitutionID) ([]*models.Person, error) {
	return s.filter(func(p *models.Person) bool {
		return p.InstitutionID == institutionID && p.NormalizedPhone != ""
	}), nil
}

func (s *InMemoryStore) ListWithEmail(_ context.Context, institutionID id.InstitutionID) ([]*models.Person, error) {
	return s.filter(func(p *models.Person) bool {
		return p.InstitutionID == institutionID && p.NormalizedEmail != ""
	}), nil
}

// filter snapshots matching people sorted by creation time so callers see a
// deterministic order (the clusterer's HEAD election depends on it).
func (s *InMemoryStore) filter(keep func(*models.Person) bool) []*models.Person {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Person
	for _, p := range s.people {
		if keep(p) {
			out = append(out, clone(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func clone(p *models.Person) *models.Person {
	cp := *p
	if p.DateOfBirth != nil {
		dob := *p.DateOfBirth
		cp.DateOfBirth = &dob
	}
	if p.MergedFromPersonID != nil {
		from := *p.MergedFromPersonID
		cp.MergedFromPersonID = &from
	}
	if p.AddressID != nil {
		addr := *p.AddressID
		cp.AddressID = &addr
	}
	if p.FlaggedAt != nil {
		at := *p.FlaggedAt
		cp.FlaggedAt = &at
	}
	return &cp
}
