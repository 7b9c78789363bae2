package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"hearth/internal/audit"
	"hearth/internal/identity/match"
	identity "hearth/internal/identity/models"
	identityservice "hearth/internal/identity/service"
	identitystore "hearth/internal/identity/store"
	household "hearth/internal/household/models"
	householdservice "hearth/internal/household/service"
	householdstore "hearth/internal/household/store"
	"hearth/internal/platform/metrics"
	"hearth/internal/registration/models"
	"hearth/internal/registration/store"
	"hearth/internal/transaction"
	id "hearth/pkg/domain"
	dErrors "hearth/pkg/domain-errors"
	"hearth/pkg/platform/sentinel"
	"hearth/pkg/requestcontext"
)

// AuditPublisher lets the pipeline emit audit events without binding to a sink.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Pipeline orchestrates registration ingestion: persist the raw submission,
// resolve every participant against the person store, assign households,
// record participations, and finalize the submission status.
type Pipeline struct {
	store      store.Store
	identities *identityservice.Service
	people     identitystore.PersonStore
	households householdstore.Store
	txns       transaction.Store
	guard      *householdservice.Guard
	logger     *slog.Logger
	metrics    *metrics.Metrics
	audit      AuditPublisher
	tracer     trace.Tracer
}

type Option func(p *Pipeline)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(p *Pipeline) { p.audit = publisher }
}

// WithHouseholdGuard shares the clusterer's rebuild guard so membership
// assignment never interleaves with a wipe-and-rebuild.
func WithHouseholdGuard(g *householdservice.Guard) Option {
	return func(p *Pipeline) { p.guard = g }
}

func NewPipeline(st store.Store, identities *identityservice.Service, people identitystore.PersonStore,
	households householdstore.Store, txns transaction.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:      st,
		identities: identities,
		people:     people,
		households: households,
		txns:       txns,
		logger:     slog.Default(),
		tracer:     otel.Tracer("hearth/registration"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IngestRequest is one submission handed to the pipeline. RawPayload, when
// set, is stored verbatim; otherwise the participants slice is re-encoded for
// the audit copy.
type IngestRequest struct {
	EventID       id.EventID
	InstitutionID id.InstitutionID
	OrderID       *id.OrderID
	Channel       models.Channel
	Participants  []models.ParticipantInput
	RawPayload    json.RawMessage
}

// ParticipantOutcome reports how one participant fared.
type ParticipantOutcome struct {
	ParticipantID id.ParticipantID         `json:"participant_id"`
	PersonID      *id.PersonID             `json:"person_id,omitempty"`
	Explanation   *models.MatchExplanation `json:"match_explanation,omitempty"`
	NeedsReview   bool                     `json:"needs_review"`
	QRCodeToken   string                   `json:"qr_code_token,omitempty"`
}

// IngestResult is the structured outcome of one ingestion call. The caller
// always gets a submission id once persistence succeeded, even on partial
// failure, so failed rows can be located and retried.
type IngestResult struct {
	SubmissionID id.SubmissionID         `json:"submission_id"`
	Status       models.SubmissionStatus `json:"status"`
	Participants []ParticipantOutcome    `json:"participants"`
	Errors       []string                `json:"errors,omitempty"`
}

// Ingest runs the full pipeline for one submission. Validation failures are
// rejected before anything is persisted. After that, each participant is
// processed independently: a hard error on one is recorded and does not
// abort its siblings.
func (p *Pipeline) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	ctx, span := p.tracer.Start(ctx, "registration.ingest",
		trace.WithAttributes(
			attribute.String("event_id", req.EventID.String()),
			attribute.Int("participants", len(req.Participants)),
		))
	defer span.End()

	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.IngestDuration.Observe(time.Since(start).Seconds())
		}
	}()

	now := requestcontext.Now(ctx)
	submission, err := p.createSubmission(ctx, req, now)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	result := &IngestResult{SubmissionID: submission.ID, Status: models.StatusMatched}

	// Primary participant's household, once resolved, receives the
	// submission's non-primary participants.
	var primaryHousehold *id.HouseholdID

	for _, input := range req.Participants {
		outcome, err := p.processParticipant(ctx, submission, input, &primaryHousehold, len(req.Participants), now)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			if p.metrics != nil {
				p.metrics.ParticipantErrors.Inc()
			}
			p.logger.ErrorContext(ctx, "participant processing failed",
				"submission_id", submission.ID.String(), "error", err.Error())
			continue
		}
		result.Participants = append(result.Participants, *outcome)
		if outcome.NeedsReview && result.Status != models.StatusError {
			result.Status = models.StatusNeedsReview
		}
	}

	if len(result.Errors) > 0 {
		result.Status = models.StatusError
		submission.ErrorMessage = strings.Join(result.Errors, "; ")
	}
	submission.Status = result.Status
	submission.UpdatedAt = now
	if err := p.store.UpdateSubmission(ctx, submission); err != nil {
		span.RecordError(err)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "finalize submission")
	}

	if p.metrics != nil {
		p.metrics.ObserveSubmission(string(result.Status))
	}
	p.emit(ctx, audit.Event{
		Action: string(audit.EventSubmissionIngested),
		Reason: string(req.Channel),
		Detail: map[string]string{
			"submission_id": submission.ID.String(),
			"status":        string(result.Status),
		},
	})
	p.logger.InfoContext(ctx, "submission ingested",
		"submission_id", submission.ID.String(),
		"status", string(result.Status),
		"participants", len(req.Participants),
		"errors", len(result.Errors),
	)
	return result, nil
}

func validateRequest(req IngestRequest) error {
	if req.EventID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "event id is required")
	}
	if req.InstitutionID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "institution id is required")
	}
	if len(req.Participants) == 0 {
		return dErrors.New(dErrors.CodeValidation, "submission requires at least one participant")
	}
	for i, input := range req.Participants {
		if err := input.Validate(); err != nil {
			return dErrors.Wrap(err, dErrors.CodeValidation, fmt.Sprintf("participant %d", i))
		}
	}
	return nil
}

func (p *Pipeline) createSubmission(ctx context.Context, req IngestRequest, now time.Time) (*models.Submission, error) {
	payload := req.RawPayload
	if len(payload) == 0 {
		encoded, err := json.Marshal(struct {
			Participants []models.ParticipantInput `json:"participants"`
		}{req.Participants})
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encode submission payload")
		}
		payload = encoded
	}

	submission := &models.Submission{
		ID:            id.NewSubmissionID(),
		EventID:       req.EventID,
		InstitutionID: req.InstitutionID,
		OrderID:       req.OrderID,
		Channel:       req.Channel,
		RawPayload:    payload,
		Status:        models.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := p.store.CreateSubmission(ctx, submission); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "persist submission")
	}
	return submission, nil
}

func (p *Pipeline) processParticipant(ctx context.Context, submission *models.Submission,
	input models.ParticipantInput, primaryHousehold **id.HouseholdID, participantCount int, now time.Time) (*ParticipantOutcome, error) {

	participant := &models.Participant{
		ID:           id.NewParticipantID(),
		SubmissionID: submission.ID,
		FirstName:    input.FirstName,
		LastName:     input.LastName,
		Email:        input.Email,
		Phone:        input.Phone,
		DateOfBirth:  input.DateOfBirth,
		Role:         input.Role,
		TicketTierID: input.TicketTierID,
		ReviewStatus: models.ReviewAuto,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := p.store.CreateParticipant(ctx, participant); err != nil {
		return nil, fmt.Errorf("persist participant %s %s: %w", input.FirstName, input.LastName, err)
	}

	person, res, _, err := p.identities.ResolveOrCreate(ctx, match.Candidate{
		InstitutionID: submission.InstitutionID,
		FirstName:     input.FirstName,
		LastName:      input.LastName,
		Email:         input.Email,
		Phone:         input.Phone,
		DateOfBirth:   input.DateOfBirth,
	}, identity.SourceRegistration)
	if err != nil {
		return nil, fmt.Errorf("resolve participant %s %s: %w", input.FirstName, input.LastName, err)
	}

	explanation := &models.MatchExplanation{
		Confidence:   string(res.Confidence),
		Method:       res.Method,
		CandidateIDs: res.CandidateIDs,
	}
	if res.Confidence == match.None {
		explanation.Method = match.MethodNewPersonCreated
	}

	participant.PersonID = &person.ID
	participant.Explanation = explanation
	participant.UpdatedAt = now

	outcome := &ParticipantOutcome{
		ParticipantID: participant.ID,
		PersonID:      &person.ID,
		Explanation:   explanation,
	}

	if res.Confidence == match.Ambiguous {
		// Ambiguous participants wait for operator resolution. The person
		// record exists so nothing is lost, but no participation, order
		// link, or household assignment happens yet.
		participant.ReviewStatus = models.ReviewPending
		outcome.NeedsReview = true
		if err := p.store.UpdateParticipant(ctx, participant); err != nil {
			return nil, fmt.Errorf("record ambiguous participant: %w", err)
		}
		return outcome, nil
	}

	if err := p.store.UpdateParticipant(ctx, participant); err != nil {
		return nil, fmt.Errorf("record participant resolution: %w", err)
	}

	isPrimary := strings.EqualFold(input.Role, models.RolePrimary)
	if isPrimary && submission.OrderID != nil {
		if err := p.linkOrder(ctx, person.ID, *submission.OrderID, now); err != nil {
			return nil, fmt.Errorf("link order to person: %w", err)
		}
	}

	if err := p.guard.Shared(func() error {
		return p.assignHousehold(ctx, submission, person, input.Role, isPrimary, primaryHousehold, participantCount, now)
	}); err != nil {
		return nil, fmt.Errorf("assign household: %w", err)
	}

	participation, err := p.upsertParticipation(ctx, submission, person.ID, input.TicketTierID, now)
	if err != nil {
		return nil, fmt.Errorf("record participation: %w", err)
	}
	outcome.QRCodeToken = participation.QRCodeToken
	return outcome, nil
}

func (p *Pipeline) linkOrder(ctx context.Context, personID id.PersonID, orderID id.OrderID, now time.Time) error {
	return p.txns.Create(ctx, &transaction.Transaction{
		ID:        id.NewTransactionID(),
		PersonID:  personID,
		OrderID:   &orderID,
		CreatedAt: now,
	})
}

// assignHousehold implements registration-time household placement. A person
// already in a household is never moved. Primaries try to join an existing
// household through a shared identifier; failing that, a multi-participant
// submission creates a fresh household around the primary. Non-primaries
// attach to the household the primary landed in.
func (p *Pipeline) assignHousehold(ctx context.Context, submission *models.Submission, person *identity.Person,
	role string, isPrimary bool, primaryHousehold **id.HouseholdID, participantCount int, now time.Time) error {

	if member, err := p.households.MemberByPerson(ctx, person.ID); err == nil {
		if isPrimary {
			*primaryHousehold = &member.HouseholdID
		}
		return nil
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return err
	}

	if !isPrimary {
		if *primaryHousehold == nil {
			return nil
		}
		err := p.households.AddMember(ctx, &household.Member{
			ID:          id.NewMembershipID(),
			HouseholdID: **primaryHousehold,
			PersonID:    person.ID,
			Role:        memberRole(role),
			GroupedBy:   household.ByRegistration,
			CreatedAt:   now,
		})
		if errors.Is(err, sentinel.ErrConflict) {
			return nil
		}
		return err
	}

	householdID, err := p.findHouseholdByIdentifiers(ctx, submission.InstitutionID, person)
	if err != nil {
		return err
	}
	if householdID != nil {
		err := p.households.AddMember(ctx, &household.Member{
			ID:          id.NewMembershipID(),
			HouseholdID: *householdID,
			PersonID:    person.ID,
			Role:        household.RolePrimary,
			GroupedBy:   household.ByAutoMatch,
			CreatedAt:   now,
		})
		if err != nil && !errors.Is(err, sentinel.ErrConflict) {
			return err
		}
		*primaryHousehold = householdID
		return nil
	}

	if participantCount < 2 {
		return nil
	}

	score, reason := household.ScoreGroup([]*identity.Person{person}, household.ByRegistration)
	newHousehold, err := household.NewHousehold(submission.InstitutionID, person, household.ByRegistration, score, reason, now)
	if err != nil {
		return err
	}
	if err := p.households.CreateHousehold(ctx, newHousehold); err != nil {
		return err
	}
	if err := p.households.AddMember(ctx, &household.Member{
		ID:          id.NewMembershipID(),
		HouseholdID: newHousehold.ID,
		PersonID:    person.ID,
		Role:        household.RoleHead,
		GroupedBy:   household.ByRegistration,
		CreatedAt:   now,
	}); err != nil {
		return err
	}
	if p.metrics != nil {
		p.metrics.HouseholdsCreated.Inc()
	}
	*primaryHousehold = &newHousehold.ID
	return nil
}

// findHouseholdByIdentifiers looks for an existing household reachable
// through a person sharing the candidate's normalized email or phone.
func (p *Pipeline) findHouseholdByIdentifiers(ctx context.Context, institutionID id.InstitutionID, person *identity.Person) (*id.HouseholdID, error) {
	var relatives []*identity.Person
	if person.NormalizedEmail != "" {
		byEmail, err := p.people.FindByEmail(ctx, institutionID, person.NormalizedEmail)
		if err != nil {
			return nil, err
		}
		relatives = append(relatives, byEmail...)
	}
	if person.NormalizedPhone != "" {
		byPhone, err := p.people.FindByPhone(ctx, institutionID, person.NormalizedPhone)
		if err != nil {
			return nil, err
		}
		relatives = append(relatives, byPhone...)
	}

	for _, relative := range relatives {
		if relative.ID == person.ID {
			continue
		}
		member, err := p.households.MemberByPerson(ctx, relative.ID)
		if errors.Is(err, sentinel.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &member.HouseholdID, nil
	}
	return nil, nil
}

// upsertParticipation registers the person for the event, or returns the
// participation that already exists. Re-registration reuses the stored QR
// token and never double-counts tier sales.
func (p *Pipeline) upsertParticipation(ctx context.Context, submission *models.Submission,
	personID id.PersonID, tierID *id.TicketTierID, now time.Time) (*models.Participation, error) {

	existing, err := p.store.FindParticipation(ctx, submission.EventID, personID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, err
	}

	token, err := newQRToken()
	if err != nil {
		return nil, err
	}
	participation := &models.Participation{
		ID:           id.NewParticipationID(),
		EventID:      submission.EventID,
		PersonID:     personID,
		TicketTierID: tierID,
		OrderID:      submission.OrderID,
		QRCodeToken:  token,
		Status:       models.ParticipationRegistered,
		CreatedAt:    now,
	}
	if err := p.store.CreateParticipation(ctx, participation); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// A concurrent registration won the insert; reuse its row.
			return p.store.FindParticipation(ctx, submission.EventID, personID)
		}
		return nil, err
	}
	if tierID != nil {
		if err := p.store.IncrementSold(ctx, *tierID); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return nil, err
		}
	}
	return participation, nil
}

func newQRToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "generate qr token")
	}
	return hex.EncodeToString(buf), nil
}

func memberRole(role string) household.Role {
	switch strings.ToLower(role) {
	case "primary":
		return household.RolePrimary
	case "spouse":
		return household.RoleSpouse
	case "child":
		return household.RoleChild
	case "guest":
		return household.RoleGuest
	default:
		return household.RoleUnknown
	}
}

func (p *Pipeline) emit(ctx context.Context, event audit.Event) {
	if p.audit == nil {
		return
	}
	event.RequestID = requestcontext.RequestID(ctx)
	event.Actor = requestcontext.Actor(ctx)
	if err := p.audit.Emit(ctx, event); err != nil {
		p.logger.WarnContext(ctx, "audit emit failed", "action", event.Action, "error", err.Error())
	}
}
