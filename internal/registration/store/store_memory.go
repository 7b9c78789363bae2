package store

import (
	"context"
	"sort"
	"sync"

	"hearth/internal/registration/models"
	id "hearth/pkg/domain"
	"hearth/pkg/platform/sentinel"
)

type participationKey struct {
	event  id.EventID
	person id.PersonID
}

type InMemoryStore struct {
	mu             sync.RWMutex
	submissions    map[id.SubmissionID]*models.Submission
	participants   map[id.ParticipantID]*models.Participant
	participations map[participationKey]*models.Participation
	tiers          map[id.TicketTierID]*models.TicketTier
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		submissions:    make(map[id.SubmissionID]*models.Submission),
		participants:   make(map[id.ParticipantID]*models.Participant),
		participations: make(map[participationKey]*models.Participation),
		tiers:          make(map[id.TicketTierID]*models.TicketTier),
	}
}

func (s *InMemoryStore) CreateSubmission(_ context.Context, submission *models.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.submissions[submission.ID]; ok {
		return sentinel.ErrConflict
	}
	cp := *submission
	s.submissions[submission.ID] = &cp
	return nil
}

func (s *InMemoryStore) FindSubmission(_ context.Context, submissionID id.SubmissionID) (*models.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.submissions[submissionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *InMemoryStore) UpdateSubmission(_ context.Context, submission *models.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.submissions[submission.ID]; !ok {
		return sentinel.ErrNotFound
	}
	cp := *submission
	s.submissions[submission.ID] = &cp
	return nil
}

func (s *InMemoryStore) CreateParticipant(_ context.Context, participant *models.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.participants[participant.ID]; ok {
		return sentinel.ErrConflict
	}
	s.participants[participant.ID] = cloneParticipant(participant)
	return nil
}

func (s *InMemoryStore) FindParticipant(_ context.Context, participantID id.ParticipantID) (*models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[participantID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneParticipant(p), nil
}

func (s *InMemoryStore) UpdateParticipant(_ context.Context, participant *models.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.participants[participant.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.participants[participant.ID] = cloneParticipant(participant)
	return nil
}

func (s *InMemoryStore) ParticipantsBySubmission(_ context.Context, submissionID id.SubmissionID) ([]*models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Participant
	for _, p := range s.participants {
		if p.SubmissionID == submissionID {
			out = append(out, cloneParticipant(p))
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

func (s *InMemoryStore) FindParticipation(_ context.Context, eventID id.EventID, personID id.PersonID) (*models.Participation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participations[participationKey{eventID, personID}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *InMemoryStore) CreateParticipation(_ context.Context, participation *models.Participation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := participationKey{participation.EventID, participation.PersonID}
	if _, ok := s.participations[key]; ok {
		return sentinel.ErrConflict
	}
	cp := *participation
	s.participations[key] = &cp
	return nil
}

func (s *InMemoryStore) ParticipationsByOrder(_ context.Context, orderID id.OrderID) ([]*models.Participation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Participation
	for _, p := range s.participations {
		if p.OrderID != nil && *p.OrderID == orderID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (s *InMemoryStore) UpdateParticipation(_ context.Context, participation *models.Participation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := participationKey{participation.EventID, participation.PersonID}
	if _, ok := s.participations[key]; !ok {
		return sentinel.ErrNotFound
	}
	cp := *participation
	s.participations[key] = &cp
	return nil
}

func (s *InMemoryStore) CreateTier(_ context.Context, tier *models.TicketTier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tiers[tier.ID]; ok {
		return sentinel.ErrConflict
	}
	cp := *tier
	s.tiers[tier.ID] = &cp
	return nil
}

func (s *InMemoryStore) FindTier(_ context.Context, tierID id.TicketTierID) (*models.TicketTier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tiers[tierID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *InMemoryStore) IncrementSold(_ context.Context, tierID id.TicketTierID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tiers[tierID]
	if !ok {
		return sentinel.ErrNotFound
	}
	t.SoldCount++
	return nil
}

func cloneParticipant(p *models.Participant) *models.Participant {
	cp := *p
	if p.DateOfBirth != nil {
		dob := *p.DateOfBirth
		cp.DateOfBirth = &dob
	}
	if p.TicketTierID != nil {
		tier := *p.TicketTierID
		cp.TicketTierID = &tier
	}
	if p.PersonID != nil {
		pid := *p.PersonID
		cp.PersonID = &pid
	}
	if p.Explanation != nil {
		expl := *p.Explanation
		expl.CandidateIDs = append([]id.PersonID(nil), p.Explanation.CandidateIDs...)
		cp.Explanation = &expl
	}
	return &cp
}
