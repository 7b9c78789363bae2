package service

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"hearth/internal/audit"
	"hearth/internal/identity/match"
	"hearth/internal/identity/models"
	"hearth/internal/identity/normalize"
	"hearth/internal/identity/store"
	"hearth/internal/platform/metrics"
	id "hearth/pkg/domain"
	dErrors "hearth/pkg/domain-errors"
	"hearth/pkg/platform/sentinel"
	"hearth/pkg/requestcontext"
)

// AuditPublisher lets the service emit audit events without binding to a sink.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service owns person resolution and creation. It is the single path through
// which new people enter the system, so the resolve-then-create race for
// identical concurrent identities is serialized here.
type Service struct {
	people  store.PersonStore
	engine  *match.Engine
	logger  *slog.Logger
	metrics *metrics.Metrics
	audit   AuditPublisher

	// group collapses concurrent resolve-or-create calls for the same
	// identity key into one execution; the store's CreateIfAbsent claim
	// covers the cross-process case.
	group singleflight.Group
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) { s.audit = publisher }
}

func New(people store.PersonStore, engine *match.Engine, opts ...Option) *Service {
	s := &Service{people: people, engine: engine, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve classifies a candidate without side effects.
func (s *Service) Resolve(ctx context.Context, cand match.Candidate) (match.Result, error) {
	res, err := s.engine.Resolve(ctx, cand)
	if err != nil {
		return match.Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "match resolution failed")
	}
	s.metrics.ObserveMatch(string(res.Confidence))
	return res, nil
}

// GetPerson loads a person by id.
func (s *Service) GetPerson(ctx context.Context, personID id.PersonID) (*models.Person, error) {
	person, err := s.people.FindByID(ctx, personID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "person not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load person")
	}
	return person, nil
}

type resolveOrCreateResult struct {
	person  *models.Person
	match   match.Result
	created bool
}

// ResolveOrCreate resolves the candidate and, when no single HIGH match
// exists, creates a person. AMBIGUOUS results still create a person so the
// record is not lost; the caller routes the ambiguity to review.
//
// Calls carrying the same identity key are collapsed so two simultaneous
// registrations for one identity yield one person.
func (s *Service) ResolveOrCreate(ctx context.Context, cand match.Candidate, source models.Source) (*models.Person, match.Result, bool, error) {
	if err := validateCandidate(cand); err != nil {
		return nil, match.Result{}, false, err
	}

	key := models.IdentityKey(cand.InstitutionID, cand.FirstName, cand.LastName,
		normalize.Email(cand.Email), normalize.Phone(cand.Phone), cand.DateOfBirth)

	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.resolveOrCreate(ctx, cand, source)
	})
	if err != nil {
		return nil, match.Result{}, false, err
	}
	r := v.(*resolveOrCreateResult)
	return r.person, r.match, r.created, nil
}

func (s *Service) resolveOrCreate(ctx context.Context, cand match.Candidate, source models.Source) (*resolveOrCreateResult, error) {
	res, err := s.Resolve(ctx, cand)
	if err != nil {
		return nil, err
	}

	if res.Confidence == match.High {
		person, err := s.GetPerson(ctx, *res.PersonID)
		if err != nil {
			return nil, err
		}
		return &resolveOrCreateResult{person: person, match: res}, nil
	}

	person, err := s.createPerson(ctx, cand, source)
	if err != nil {
		return nil, err
	}
	return &resolveOrCreateResult{person: person, match: res, created: true}, nil
}

func (s *Service) createPerson(ctx context.Context, cand match.Candidate, source models.Source) (*models.Person, error) {
	now := requestcontext.Now(ctx)
	person, err := models.NewPerson(cand.InstitutionID, cand.FirstName, cand.LastName,
		cand.Email, cand.Phone, cand.DateOfBirth, "", source, now)
	if err != nil {
		return nil, err
	}

	stored, created, err := s.people.CreateIfAbsent(ctx, person)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create person")
	}
	if !created {
		// Another writer claimed the identity key first; use its person.
		return stored, nil
	}

	s.metrics.IncPeopleCreated()
	s.emit(ctx, audit.Event{
		PersonID: stored.ID,
		Action:   string(audit.EventPersonCreated),
		Reason:   string(source),
	})
	s.logger.InfoContext(ctx, "person created",
		"person_id", stored.ID.String(),
		"source", string(source),
		"request_id", requestcontext.RequestID(ctx),
	)
	return stored, nil
}

// ImportRow feeds one CSV-originated row through match-then-create. Import
// bypasses the registration pipeline: no participations, no household
// assignment (householding runs as its own batch pass).
func (s *Service) ImportRow(ctx context.Context, cand match.Candidate) (*models.Person, match.Result, bool, error) {
	return s.ResolveOrCreate(ctx, cand, models.SourceImport)
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.audit == nil {
		return
	}
	event.RequestID = requestcontext.RequestID(ctx)
	event.Actor = requestcontext.Actor(ctx)
	if err := s.audit.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "audit emit failed", "action", event.Action, "error", err.Error())
	}
}

func validateCandidate(cand match.Candidate) error {
	if cand.InstitutionID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "institution id is required")
	}
	if cand.FirstName == "" || cand.LastName == "" {
		return dErrors.New(dErrors.CodeValidation, "participant requires first and last name")
	}
	return nil
}
