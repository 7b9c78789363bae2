package models

import (
	"time"

	identity "hearth/internal/identity/models"
	id "hearth/pkg/domain"
	dErrors "hearth/pkg/domain-errors"
)

// GroupedBy records which mechanism produced a household or membership.
type GroupedBy string

const (
	ByPhone        GroupedBy = "phone"
	ByEmail        GroupedBy = "email"
	ByAddress      GroupedBy = "address"
	ByAutoMatch    GroupedBy = "auto_match"
	ByAutoCreate   GroupedBy = "auto_create"
	ByRegistration GroupedBy = "registration"
	ByManual       GroupedBy = "manual"
)

// Role of a person within a household.
type Role string

const (
	RoleHead    Role = "head"
	RolePrimary Role = "primary"
	RoleSpouse  Role = "spouse"
	RoleChild   Role = "child"
	RoleGuest   Role = "guest"
	RoleUnknown Role = "unknown"
)

// Household is a cluster of people believed to share a residence or family
// unit.
//
// Invariants:
//   - ConfidenceScore is always justified by ConfidenceReason
//   - A household has at least 2 members at creation time when produced by
//     the clusterer or the registration pipeline; only manual admin action
//     may produce single-member households
type Household struct {
	ID               id.HouseholdID
	InstitutionID    id.InstitutionID
	DisplayName      string
	ConfidenceScore  int
	ConfidenceReason string
	CreatedVia       GroupedBy
	CreatedAt        time.Time
}

// Member joins a person to a household.
//
// A person belongs to at most one household at a time. The stores enforce
// this structurally (unique person key), not by application discipline.
type Member struct {
	ID          id.MembershipID
	HouseholdID id.HouseholdID
	PersonID    id.PersonID
	Role        Role
	GroupedBy   GroupedBy
	CreatedAt   time.Time
}

// NewHousehold names and constructs a household for the given head person.
func NewHousehold(institutionID id.InstitutionID, head *identity.Person, via GroupedBy, score int, reason string, now time.Time) (*Household, error) {
	if institutionID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "household requires an institution scope")
	}
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "confidence score requires a reason")
	}
	return &Household{
		ID:               id.NewHouseholdID(),
		InstitutionID:    institutionID,
		DisplayName:      DisplayName(head),
		ConfidenceScore:  score,
		ConfidenceReason: reason,
		CreatedVia:       via,
		CreatedAt:        now,
	}, nil
}

// DisplayName derives the household name from the head of household.
func DisplayName(head *identity.Person) string {
	if head.LastName != "" {
		return head.LastName + " Household"
	}
	return head.FirstName + "'s Household"
}

// ScoreGroup computes the confidence score for a household from attribute
// overlap across all members, not pairwise. The highest-specificity row wins;
// when members share none of email, phone, or address, the score falls back
// to 60 with the grouping method name as the reason. A group below two
// members has no overlap to score and always takes the fallback.
func ScoreGroup(members []*identity.Person, groupedBy GroupedBy) (int, string) {
	if len(members) < 2 {
		return 60, string(groupedBy)
	}
	email := allShareEmail(members)
	phone := allSharePhone(members)
	address := allShareAddress(members)

	switch {
	case email && phone && address:
		return 95, "email+phone+address"
	case email && phone:
		return 92, "email+phone"
	case email && address:
		return 90, "email+address"
	case phone && address:
		return 88, "phone+address"
	case email:
		return 85, "email only"
	case phone:
		return 82, "phone only"
	case address:
		return 75, "address only"
	default:
		return 60, string(groupedBy)
	}
}

func allShareEmail(members []*identity.Person) bool {
	if len(members) == 0 {
		return false
	}
	first := members[0].NormalizedEmail
	if first == "" {
		return false
	}
	for _, m := range members[1:] {
		if m.NormalizedEmail != first {
			return false
		}
	}
	return true
}

func allSharePhone(members []*identity.Person) bool {
	if len(members) == 0 {
		return false
	}
	first := members[0].NormalizedPhone
	if first == "" {
		return false
	}
	for _, m := range members[1:] {
		if m.NormalizedPhone != first {
			return false
		}
	}
	return true
}

func allShareAddress(members []*identity.Person) bool {
	if len(members) == 0 || members[0].AddressID == nil {
		return false
	}
	first := *members[0].AddressID
	for _, m := range members[1:] {
		if m.AddressID == nil || *m.AddressID != first {
			return false
		}
	}
	return true
}
