package store

import (
	"context"

	"hearth/internal/registration/models"
	id "hearth/pkg/domain"
)

// Store is the durable repository for submissions, their participants, event
// participations, and ticket tiers. One interface because the pipeline
// mutates all four within a single ingestion call.
type Store interface {
	CreateSubmission(ctx context.Context, submission *models.Submission) error
	FindSubmission(ctx context.Context, submissionID id.SubmissionID) (*models.Submission, error)
	UpdateSubmission(ctx context.Context, submission *models.Submission) error

	CreateParticipant(ctx context.Context, participant *models.Participant) error
	FindParticipant(ctx context.Context, participantID id.ParticipantID) (*models.Participant, error)
	UpdateParticipant(ctx context.Context, participant *models.Participant) error
	ParticipantsBySubmission(ctx context.Context, submissionID id.SubmissionID) ([]*models.Participant, error)

	// FindParticipation looks up by the (event, person) natural key; the
	// pipeline's upsert goes find-then-create and re-registration reuses
	// the found row's token.
	FindParticipation(ctx context.Context, eventID id.EventID, personID id.PersonID) (*models.Participation, error)
	CreateParticipation(ctx context.Context, participation *models.Participation) error
	ParticipationsByOrder(ctx context.Context, orderID id.OrderID) ([]*models.Participation, error)
	UpdateParticipation(ctx context.Context, participation *models.Participation) error

	CreateTier(ctx context.Context, tier *models.TicketTier) error
	FindTier(ctx context.Context, tierID id.TicketTierID) (*models.TicketTier, error)
	IncrementSold(ctx context.Context, tierID id.TicketTierID) error
}
