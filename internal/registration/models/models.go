package models

import (
	"encoding/json"
	"time"

	id "hearth/pkg/domain"
	dErrors "hearth/pkg/domain-errors"
)

// SubmissionStatus is the processing state of a submission. pending is the
// only non-terminal state; needs_review may still transition to matched
// through operator resolution.
type SubmissionStatus string

const (
	StatusPending     SubmissionStatus = "pending"
	StatusMatched     SubmissionStatus = "matched"
	StatusNeedsReview SubmissionStatus = "needs_review"
	StatusError       SubmissionStatus = "error"
)

// Channel identifies where a submission entered the system.
type Channel string

const (
	ChannelPublicForm     Channel = "public_form"
	ChannelPaymentWebhook Channel = "payment_webhook"
	ChannelCSVImport      Channel = "csv_import"
	ChannelAdmin          Channel = "admin"
)

// Submission is one ingestion event: a raw payload of N participants tied to
// one event, one institution, and optionally one order. The raw payload is
// stored byte for byte for audit.
type Submission struct {
	ID            id.SubmissionID
	EventID       id.EventID
	InstitutionID id.InstitutionID
	OrderID       *id.OrderID
	Channel       Channel
	RawPayload    json.RawMessage
	Status        SubmissionStatus
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ReviewStatus tracks whether a participant still needs operator attention.
type ReviewStatus string

const (
	ReviewAuto     ReviewStatus = "auto"
	ReviewPending  ReviewStatus = "pending"
	ReviewResolved ReviewStatus = "resolved"
	ReviewSkipped  ReviewStatus = "skipped"
)

// MatchExplanation records how a participant's person reference was decided.
// Stored alongside the participant so reviewers can see the engine's
// reasoning months later.
type MatchExplanation struct {
	Confidence   string        `json:"confidence"`
	Method       string        `json:"method"`
	CandidateIDs []id.PersonID `json:"candidate_ids,omitempty"`
}

// Participant is one row per person within a submission. PersonID is set by
// the pipeline (or by operator resolution for ambiguous cases).
type Participant struct {
	ID           id.ParticipantID
	SubmissionID id.SubmissionID
	FirstName    string
	LastName     string
	Email        string
	Phone        string
	DateOfBirth  *time.Time
	Role         string
	TicketTierID *id.TicketTierID
	PersonID     *id.PersonID
	Explanation  *MatchExplanation
	ReviewStatus ReviewStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RolePrimary is the participant role that drives order linking and
// household creation for a submission.
const RolePrimary = "primary"

// ParticipantInput is the payload shape accepted by the ingestion pipeline.
type ParticipantInput struct {
	FirstName    string           `json:"first_name"`
	LastName     string           `json:"last_name"`
	Email        string           `json:"email,omitempty"`
	Phone        string           `json:"phone,omitempty"`
	DateOfBirth  *time.Time       `json:"date_of_birth,omitempty"`
	Gender       string           `json:"gender,omitempty"`
	Role         string           `json:"role,omitempty"`
	TicketTierID *id.TicketTierID `json:"ticket_tier_id,omitempty"`
}

// Validate rejects inputs that must never reach persistence.
func (in ParticipantInput) Validate() error {
	if in.FirstName == "" || in.LastName == "" {
		return dErrors.New(dErrors.CodeValidation, "participant requires first and last name")
	}
	return nil
}

// ParticipationStatus is the lifecycle of an event participation. The
// transition to refunded is driven by an external payment caller.
type ParticipationStatus string

const (
	ParticipationRegistered ParticipationStatus = "registered"
	ParticipationCheckedIn  ParticipationStatus = "checked_in"
	ParticipationRefunded   ParticipationStatus = "refunded"
)

// Participation records that a person is registered for an event. At most
// one participation exists per (event, person); re-registration reuses the
// existing QR token.
type Participation struct {
	ID           id.ParticipationID
	EventID      id.EventID
	PersonID     id.PersonID
	TicketTierID *id.TicketTierID
	OrderID      *id.OrderID
	QRCodeToken  string
	Status       ParticipationStatus
	CheckedInAt  *time.Time
	CreatedAt    time.Time
}

// TicketTier tracks sales per tier for an event.
type TicketTier struct {
	ID        id.TicketTierID
	EventID   id.EventID
	Name      string
	SoldCount int
}
