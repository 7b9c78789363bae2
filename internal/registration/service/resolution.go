package service

import (
	"context"
	"errors"
	"time"

	"hearth/internal/audit"
	"hearth/internal/identity/match"
	"hearth/internal/registration/models"
	id "hearth/pkg/domain"
	dErrors "hearth/pkg/domain-errors"
	"hearth/pkg/platform/sentinel"
	"hearth/pkg/requestcontext"
)

// ResolveAction is an operator's decision on a participant held for review.
type ResolveAction string

const (
	// ActionConfirm accepts the pipeline's created person and registers it.
	ActionConfirm ResolveAction = "confirm"
	// ActionMerge re-points the participant at an existing person instead.
	ActionMerge ResolveAction = "merge"
	// ActionSkip defers the decision; the participant stays unregistered.
	ActionSkip ResolveAction = "skip"
)

// ResolveParticipant applies an operator decision to a participant that the
// pipeline routed to review. Once no participant in the submission is still
// pending, the submission transitions to matched.
func (p *Pipeline) ResolveParticipant(ctx context.Context, participantID id.ParticipantID,
	action ResolveAction, targetPersonID *id.PersonID) (*models.Participant, error) {

	participant, err := p.store.FindParticipant(ctx, participantID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "participant not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load participant")
	}
	if participant.ReviewStatus != models.ReviewPending {
		return nil, dErrors.New(dErrors.CodeInvalidState, "participant is not pending review")
	}

	submission, err := p.store.FindSubmission(ctx, participant.SubmissionID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load submission")
	}

	now := requestcontext.Now(ctx)

	switch action {
	case ActionConfirm:
		if participant.PersonID == nil {
			return nil, dErrors.New(dErrors.CodeInvalidState, "participant has no person to confirm")
		}
		participant.Explanation.Method = match.MethodOperatorConfirmed
		participant.ReviewStatus = models.ReviewResolved

	case ActionMerge:
		if targetPersonID == nil {
			return nil, dErrors.New(dErrors.CodeValidation, "merge requires a target person id")
		}
		if _, err := p.identities.GetPerson(ctx, *targetPersonID); err != nil {
			return nil, err
		}
		participant.PersonID = targetPersonID
		participant.Explanation.Method = match.MethodOperatorMerged
		participant.ReviewStatus = models.ReviewResolved

	case ActionSkip:
		participant.ReviewStatus = models.ReviewSkipped

	default:
		return nil, dErrors.New(dErrors.CodeValidation, "unknown resolve action")
	}

	participant.UpdatedAt = now
	if err := p.store.UpdateParticipant(ctx, participant); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "record resolution")
	}

	if participant.ReviewStatus == models.ReviewResolved {
		if _, err := p.upsertParticipation(ctx, submission, *participant.PersonID, participant.TicketTierID, now); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "record participation")
		}
	}

	if err := p.maybeFinishReview(ctx, submission, now); err != nil {
		return nil, err
	}

	p.emit(ctx, audit.Event{
		PersonID: derefPerson(participant.PersonID),
		Action:   string(audit.EventParticipantResolved),
		Reason:   string(action),
		Detail: map[string]string{
			"participant_id": participant.ID.String(),
			"submission_id":  submission.ID.String(),
		},
	})
	return participant, nil
}

// maybeFinishReview moves the submission to matched when no participant is
// still awaiting review.
func (p *Pipeline) maybeFinishReview(ctx context.Context, submission *models.Submission, now time.Time) error {
	if submission.Status != models.StatusNeedsReview {
		return nil
	}
	participants, err := p.store.ParticipantsBySubmission(ctx, submission.ID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "list participants")
	}
	for _, participant := range participants {
		if participant.ReviewStatus == models.ReviewPending {
			return nil
		}
	}
	submission.Status = models.StatusMatched
	submission.UpdatedAt = now
	if err := p.store.UpdateSubmission(ctx, submission); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "finalize reviewed submission")
	}
	return nil
}

// RefundOrder marks every participation tied to an order as refunded. Called
// by the external payment boundary on refund confirmation.
func (p *Pipeline) RefundOrder(ctx context.Context, orderID id.OrderID) (int, error) {
	participations, err := p.store.ParticipationsByOrder(ctx, orderID)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "list participations for order")
	}
	refunded := 0
	for _, participation := range participations {
		if participation.Status == models.ParticipationRefunded {
			continue
		}
		participation.Status = models.ParticipationRefunded
		if err := p.store.UpdateParticipation(ctx, participation); err != nil {
			return refunded, dErrors.Wrap(err, dErrors.CodeInternal, "refund participation")
		}
		refunded++
	}
	return refunded, nil
}

func derefPerson(personID *id.PersonID) id.PersonID {
	if personID == nil {
		return id.PersonID{}
	}
	return *personID
}
