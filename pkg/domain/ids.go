package domain

import (
	"github.com/google/uuid"

	dErrors "hearth/pkg/domain-errors"
)

// Typed UUID identifiers. Distinct types keep a PersonID from ever being
// handed to a function expecting a HouseholdID; the compiler enforces what
// the schema cannot.
type (
	PersonID        uuid.UUID
	HouseholdID     uuid.UUID
	MembershipID    uuid.UUID
	SubmissionID    uuid.UUID
	ParticipantID   uuid.UUID
	ParticipationID uuid.UUID
	EventID         uuid.UUID
	InstitutionID   uuid.UUID
	OrderID         uuid.UUID
	TicketTierID    uuid.UUID
	TransactionID   uuid.UUID
	LedgerEntryID   uuid.UUID
	AddressID       uuid.UUID
)

func (id PersonID) String() string      { return uuid.UUID(id).String() }
func (id HouseholdID) String() string   { return uuid.UUID(id).String() }
func (id MembershipID) String() string  { return uuid.UUID(id).String() }
func (id SubmissionID) String() string  { return uuid.UUID(id).String() }
func (id ParticipantID) String() string { return uuid.UUID(id).String() }
func (id ParticipationID) String() string { return uuid.UUID(id).String() }
func (id EventID) String() string       { return uuid.UUID(id).String() }
func (id InstitutionID) String() string { return uuid.UUID(id).String() }
func (id OrderID) String() string       { return uuid.UUID(id).String() }
func (id TicketTierID) String() string  { return uuid.UUID(id).String() }
func (id TransactionID) String() string { return uuid.UUID(id).String() }
func (id LedgerEntryID) String() string { return uuid.UUID(id).String() }
func (id AddressID) String() string     { return uuid.UUID(id).String() }

func (id PersonID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id HouseholdID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id SubmissionID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id ParticipantID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id ParticipationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id EventID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id InstitutionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id OrderID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id TicketTierID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id LedgerEntryID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func NewPersonID() PersonID           { return PersonID(uuid.New()) }
func NewHouseholdID() HouseholdID     { return HouseholdID(uuid.New()) }
func NewMembershipID() MembershipID   { return MembershipID(uuid.New()) }
func NewSubmissionID() SubmissionID   { return SubmissionID(uuid.New()) }
func NewParticipantID() ParticipantID { return ParticipantID(uuid.New()) }
func NewParticipationID() ParticipationID { return ParticipationID(uuid.New()) }
func NewEventID() EventID             { return EventID(uuid.New()) }
func NewInstitutionID() InstitutionID { return InstitutionID(uuid.New()) }
func NewOrderID() OrderID             { return OrderID(uuid.New()) }
func NewTicketTierID() TicketTierID   { return TicketTierID(uuid.New()) }
func NewAddressID() AddressID         { return AddressID(uuid.New()) }
func NewTransactionID() TransactionID { return TransactionID(uuid.New()) }
func NewLedgerEntryID() LedgerEntryID { return LedgerEntryID(uuid.New()) }

// parseUUID enforces the shared invariant: ids must be valid, non-empty,
// non-nil UUIDs. Trust boundaries (handlers, importers) parse through these
// helpers so invalid ids never reach a service.
func parseUUID(s, kind string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" id is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" id is not a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" id must not be the nil UUID")
	}
	return u, nil
}

func ParsePersonID(s string) (PersonID, error) {
	u, err := parseUUID(s, "person")
	return PersonID(u), err
}

func ParseHouseholdID(s string) (HouseholdID, error) {
	u, err := parseUUID(s, "household")
	return HouseholdID(u), err
}

func ParseMembershipID(s string) (MembershipID, error) {
	u, err := parseUUID(s, "membership")
	return MembershipID(u), err
}

func ParseSubmissionID(s string) (SubmissionID, error) {
	u, err := parseUUID(s, "submission")
	return SubmissionID(u), err
}

func ParseParticipantID(s string) (ParticipantID, error) {
	u, err := parseUUID(s, "participant")
	return ParticipantID(u), err
}

func ParseEventID(s string) (EventID, error) {
	u, err := parseUUID(s, "event")
	return EventID(u), err
}

func ParseInstitutionID(s string) (InstitutionID, error) {
	u, err := parseUUID(s, "institution")
	return InstitutionID(u), err
}

func ParseOrderID(s string) (OrderID, error) {
	u, err := parseUUID(s, "order")
	return OrderID(u), err
}

func ParseParticipationID(s string) (ParticipationID, error) {
	u, err := parseUUID(s, "participation")
	return ParticipationID(u), err
}

func ParseTicketTierID(s string) (TicketTierID, error) {
	u, err := parseUUID(s, "ticket tier")
	return TicketTierID(u), err
}

func ParseTransactionID(s string) (TransactionID, error) {
	u, err := parseUUID(s, "transaction")
	return TransactionID(u), err
}

func ParseLedgerEntryID(s string) (LedgerEntryID, error) {
	u, err := parseUUID(s, "ledger entry")
	return LedgerEntryID(u), err
}

func ParseAddressID(s string) (AddressID, error) {
	u, err := parseUUID(s, "address")
	return AddressID(u), err
}
