package store

import (
	"context"

	"hearth/internal/household/models"
	id "hearth/pkg/domain"
)

// Store is pure I/O over households and memberships.
//
// AddMember returns sentinel.ErrConflict when the person already holds a
// membership; the one-household-per-person invariant is structural, not
// advisory.
type Store interface {
	CreateHousehold(ctx context.Context, household *models.Household) error
	FindHousehold(ctx context.Context, householdID id.HouseholdID) (*models.Household, error)

	// DeleteHousehold removes one household and all of its memberships.
	// Deleting an absent household is a no-op.
	DeleteHousehold(ctx context.Context, householdID id.HouseholdID) error

	// DeleteGenerated removes all non-manual households in the institution
	// along with their memberships, returning the deleted household ids so
	// the caller can detach transactions. Manual households survive the
	// wipe (their members remain housed and are skipped by the passes).
	DeleteGenerated(ctx context.Context, institutionID id.InstitutionID) ([]id.HouseholdID, error)

	AddMember(ctx context.Context, member *models.Member) error
	MemberByID(ctx context.Context, membershipID id.MembershipID) (*models.Member, error)
	MemberByPerson(ctx context.Context, personID id.PersonID) (*models.Member, error)
	MembersByHousehold(ctx context.Context, householdID id.HouseholdID) ([]*models.Member, error)

	// HousedPersonIDs reports every person currently holding a membership
	// in the institution.
	HousedPersonIDs(ctx context.Context, institutionID id.InstitutionID) (map[id.PersonID]bool, error)

	DeleteMember(ctx context.Context, membershipID id.MembershipID) error

	// RepointMember reassigns an existing membership row to a different
	// person, keeping its id. Merge and undo rely on membership ids being
	// stable across re-pointing.
	RepointMember(ctx context.Context, membershipID id.MembershipID, personID id.PersonID) error
}
