package domain

import (
	"github.com/google/uuid"
)

// Text marshalling so typed ids serialize as canonical UUID strings in JSON
// payloads and snapshots.

func (id PersonID) MarshalText() ([]byte, error) { return []byte(uuid.UUID(id).String()), nil }

func (id *PersonID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = PersonID(u)
	return nil
}

func (id HouseholdID) MarshalText() ([]byte, error) { return []byte(uuid.UUID(id).String()), nil }

func (id *HouseholdID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = HouseholdID(u)
	return nil
}

func (id MembershipID) MarshalText() ([]byte, error) { return []byte(uuid.UUID(id).String()), nil }

func (id *MembershipID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = MembershipID(u)
	return nil
}

func (id SubmissionID) MarshalText() ([]byte, error) { return []byte(uuid.UUID(id).String()), nil }

func (id *SubmissionID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = SubmissionID(u)
	return nil
}

func (id ParticipantID) MarshalText() ([]byte, error) { return []byte(uuid.UUID(id).String()), nil }

func (id *ParticipantID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = ParticipantID(u)
	return nil
}

func (id ParticipationID) MarshalText() ([]byte, error) { return []byte(uuid.UUID(id).String()), nil }

func (id *ParticipationID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = ParticipationID(u)
	return nil
}

func (id EventID) MarshalText() ([]byte, error) { return []byte(uuid.UUID(id).String()), nil }

func (id *EventID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = EventID(u)
	return nil
}

func (id InstitutionID) MarshalText() ([]byte, error) { return []byte(uuid.UUID(id).String()), nil }

func (id *InstitutionID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = InstitutionID(u)
	return nil
}

func (id OrderID) MarshalText() ([]byte, error) { return []byte(uuid.UUID(id).String()), nil }

func (id *OrderID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = OrderID(u)
	return nil
}

func (id TicketTierID) MarshalText() ([]byte, error) { return []byte(uuid.UUID(id).String()), nil }

func (id *TicketTierID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = TicketTierID(u)
	return nil
}

func (id TransactionID) MarshalText() ([]byte, error) { return []byte(uuid.UUID(id).String()), nil }

func (id *TransactionID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = TransactionID(u)
	return nil
}

func (id LedgerEntryID) MarshalText() ([]byte, error) { return []byte(uuid.UUID(id).String()), nil }

func (id *LedgerEntryID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = LedgerEntryID(u)
	return nil
}

func (id AddressID) MarshalText() ([]byte, error) { return []byte(uuid.UUID(id).String()), nil }

func (id *AddressID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = AddressID(u)
	return nil
}
