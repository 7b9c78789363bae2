package ledger

import (
	"time"

	household "hearth/internal/household/models"
	id "hearth/pkg/domain"
)

// ActionType is the kind of destructive identity operation a ledger entry
// records.
type ActionType string

const (
	ActionFlag  ActionType = "flag"
	ActionMerge ActionType = "merge"
)

// PersonSnapshot captures the identity fields needed to reconstruct a
// person exactly, including its original id.
type PersonSnapshot struct {
	ID              id.PersonID      `json:"id"`
	InstitutionID   id.InstitutionID `json:"institution_id"`
	FirstName       string           `json:"first_name"`
	LastName        string           `json:"last_name"`
	NormalizedEmail string           `json:"normalized_email,omitempty"`
	NormalizedPhone string           `json:"normalized_phone,omitempty"`
	DateOfBirth     *time.Time       `json:"date_of_birth,omitempty"`
	Gender          string           `json:"gender,omitempty"`
	AddressID       *id.AddressID    `json:"address_id,omitempty"`
	CreatedSource   string           `json:"created_source"`
	IsFlagged       bool             `json:"is_flagged,omitempty"`
	FlagReason      string           `json:"flag_reason,omitempty"`
	FlaggedAt       *time.Time       `json:"flagged_at,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

// MembershipSnapshot preserves one household membership row so undo can
// either re-point it back or recreate it if the merge dropped it.
type MembershipSnapshot struct {
	ID          id.MembershipID     `json:"id"`
	HouseholdID id.HouseholdID      `json:"household_id"`
	Role        household.Role      `json:"role"`
	GroupedBy   household.GroupedBy `json:"grouped_by"`
	CreatedAt   time.Time           `json:"created_at"`
	// Dropped is true when the merge deleted this membership because the
	// target already belonged to the household.
	Dropped bool `json:"dropped,omitempty"`
}

// Snapshot is the full pre-operation state stored with a ledger entry.
// For flags only the Person portion is populated.
type Snapshot struct {
	Person         PersonSnapshot       `json:"person"`
	TransactionIDs []id.TransactionID   `json:"transaction_ids,omitempty"`
	Memberships    []MembershipSnapshot `json:"memberships,omitempty"`
}

// Entry is one append-only audit record for a flag or merge. Until a merge
// entry is finalized, its snapshot is sufficient to fully reverse the
// operation.
//
// Invariant: once PermanentlyFinalizedAt is set, UndoneAt stays null forever.
type Entry struct {
	ID                     id.LedgerEntryID
	PersonID               *id.PersonID
	ActionType             ActionType
	Reason                 string
	Notes                  string
	DuplicatePersonID      *id.PersonID
	TargetPersonID         *id.PersonID
	Snapshot               Snapshot
	Actor                  string
	UndoneAt               *time.Time
	PermanentlyFinalizedAt *time.Time
	CreatedAt              time.Time
}

// Undone reports whether the entry has already been reversed.
func (e *Entry) Undone() bool { return e.UndoneAt != nil }

// Finalized reports whether the entry is permanently locked.
func (e *Entry) Finalized() bool { return e.PermanentlyFinalizedAt != nil }
