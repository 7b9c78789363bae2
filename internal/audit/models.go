package audit

import (
	"time"

	id "hearth/pkg/domain"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp time.Time
	PersonID  id.PersonID
	Action    string
	Reason    string
	Actor     string
	RequestID string
	// Detail carries small action-specific context (target ids, counts).
	Detail map[string]string
}

type AuditEvent string

const (
	EventPersonCreated       AuditEvent = "person_created"
	EventSubmissionIngested  AuditEvent = "submission_ingested"
	EventParticipantResolved AuditEvent = "participant_resolved"
	EventHouseholdsRebuilt   AuditEvent = "households_rebuilt"
	EventPersonFlagged       AuditEvent = "person_flagged"
	EventFlagCleared         AuditEvent = "flag_cleared"
	EventPersonsMerged       AuditEvent = "persons_merged"
	EventMergeUndone         AuditEvent = "merge_undone"
	EventMergeFinalized      AuditEvent = "merge_finalized"
)
