package models

import (
	"time"

	"hearth/internal/identity/normalize"
	id "hearth/pkg/domain"
	dErrors "hearth/pkg/domain-errors"
)

// Source records which subsystem created a person record.
type Source string

const (
	SourceImport       Source = "import"
	SourceRegistration Source = "registration"
	SourceManual       Source = "manual"
	SourceMergeRestore Source = "merge_restore"
)

// Person is a human identity record scoped to one institution.
//
// Invariants:
//   - FirstName and LastName are non-empty (name-only people are valid)
//   - NormalizedEmail and NormalizedPhone are canonical keys or empty,
//     never raw input
//   - A person with neither email nor phone is never automatically matched
//     or clustered except by exact name plus another attribute (dob)
//   - MergedFromPersonID is set only by the merge ledger
//
// Duplicates are allowed by design: the store never enforces identity
// uniqueness. Resolution happens in the match engine and the merge ledger.
type Person struct {
	ID                 id.PersonID
	InstitutionID      id.InstitutionID
	FirstName          string
	LastName           string
	NormalizedEmail    string
	NormalizedPhone    string
	DateOfBirth        *time.Time
	Gender             string
	AddressID          *id.AddressID
	CreatedSource      Source
	MergedFromPersonID *id.PersonID
	IsFlagged          bool
	FlagReason         string
	FlaggedAt          *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NewPerson constructs a person, canonicalizing identifiers at the boundary.
func NewPerson(institutionID id.InstitutionID, firstName, lastName, email, phone string, dob *time.Time, gender string, source Source, now time.Time) (*Person, error) {
	if firstName == "" || lastName == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "person requires first and last name")
	}
	if institutionID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "person requires an institution scope")
	}
	return &Person{
		ID:              id.NewPersonID(),
		InstitutionID:   institutionID,
		FirstName:       firstName,
		LastName:        lastName,
		NormalizedEmail: normalize.Email(email),
		NormalizedPhone: normalize.Phone(phone),
		DateOfBirth:     dob,
		Gender:          gender,
		CreatedSource:   source,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// HasStrongIdentifier reports whether the person carries at least one
// identifier usable for automatic matching.
func (p *Person) HasStrongIdentifier() bool {
	return p.NormalizedEmail != "" || p.NormalizedPhone != "" || p.DateOfBirth != nil
}

// AbsorbIdentifiers copies identifiers from other into p where p's are
// missing. Populated attributes are never silently overwritten.
func (p *Person) AbsorbIdentifiers(other *Person, now time.Time) {
	if p.NormalizedEmail == "" && other.NormalizedEmail != "" {
		p.NormalizedEmail = other.NormalizedEmail
	}
	if p.NormalizedPhone == "" && other.NormalizedPhone != "" {
		p.NormalizedPhone = other.NormalizedPhone
	}
	if p.DateOfBirth == nil && other.DateOfBirth != nil {
		dob := *other.DateOfBirth
		p.DateOfBirth = &dob
	}
	if p.Gender == "" && other.Gender != "" {
		p.Gender = other.Gender
	}
	p.UpdatedAt = now
}

// IdentityKey returns the serialization key used to arbitrate concurrent
// creation of the same identity. Two simultaneous registrations carrying the
// same key must resolve to a single person.
func (p *Person) IdentityKey() string {
	return IdentityKey(p.InstitutionID, p.FirstName, p.LastName, p.NormalizedEmail, p.NormalizedPhone, p.DateOfBirth)
}

// IdentityKey builds a creation-serialization key from an identity tuple.
// The strongest available identifier anchors the key so that email, phone,
// and dob variants of the same person contend on the same value when they
// share that identifier.
func IdentityKey(institutionID id.InstitutionID, firstName, lastName, normalizedEmail, normalizedPhone string, dob *time.Time) string {
	anchor := normalizedEmail
	if anchor == "" {
		anchor = normalizedPhone
	}
	if anchor == "" && dob != nil {
		anchor = dob.Format("2006-01-02")
	}
	return institutionID.String() + "|" + anchor + "|" + normalize.Name(firstName) + "|" + normalize.Name(lastName)
}
