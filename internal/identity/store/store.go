package store

import (
	"context"
	"time"

	"hearth/internal/identity/models"
	id "hearth/pkg/domain"
)

// PersonStore is the durable repository of person records. It is
// uniqueness-agnostic: duplicate identities are allowed until resolved by the
// match engine or the merge ledger. The only arbitration it performs is
// CreateIfAbsent, which serializes concurrent creation on one identity key.
type PersonStore interface {
	// Create persists a person under the id already set on the record.
	// The merge ledger relies on this to restore a person with its
	// original id.
	Create(ctx context.Context, person *models.Person) error

	// CreateIfAbsent persists the person unless another record has already
	// claimed the same identity key, in which case the claiming person is
	// returned and created is false.
	CreateIfAbsent(ctx context.Context, person *models.Person) (existing *models.Person, created bool, err error)

	FindByID(ctx context.Context, personID id.PersonID) (*models.Person, error)
	Update(ctx context.Context, person *models.Person) error

	// Delete removes the person record. Callers must have written a ledger
	// snapshot first; the store does not enforce that.
	Delete(ctx context.Context, personID id.PersonID) error

	// Identity queries for the match engine. All are scoped by institution
	// and compare canonical keys only.
	FindByEmail(ctx context.Context, institutionID id.InstitutionID, normalizedEmail string) ([]*models.Person, error)
	FindByPhone(ctx context.Context, institutionID id.InstitutionID, normalizedPhone string) ([]*models.Person, error)
	FindByNameAndDOB(ctx context.Context, institutionID id.InstitutionID, firstName, lastName string, dob time.Time) ([]*models.Person, error)

	// Identifier listings for the household clusterer.
	ListWithPhone(ctx context.Context, institutionID id.InstitutionID) ([]*models.Person, error)
	ListWithEmail(ctx context.Context, institutionID id.InstitutionID) ([]*models.Person, error)
}
