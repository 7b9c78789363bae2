//go:build integration

package store_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"hearth/internal/identity/models"
	"hearth/internal/identity/store"
	id "hearth/pkg/domain"
	"hearth/pkg/platform/sentinel"
	"hearth/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.Truncate(ctx, "person_identity_claims", "household_members", "households", "people")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) newPerson(institutionID id.InstitutionID, first, last, email, phone string) *models.Person {
	person, err := models.NewPerson(institutionID, first, last, email, phone, nil, "", models.SourceRegistration, time.Now())
	s.Require().NoError(err)
	return person
}

// TestConcurrentCreateIfAbsent verifies that simultaneous registrations with
// the same identity tuple converge on exactly one person row.
func (s *PostgresStoreSuite) TestConcurrentCreateIfAbsent() {
	ctx := context.Background()
	institutionID := id.NewInstitutionID()
	email := "race-" + uuid.NewString() + "@example.com"
	const goroutines = 50

	var wg sync.WaitGroup
	var createdCount atomic.Int32
	var reusedCount atomic.Int32
	ids := make(chan id.PersonID, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			person := s.newPerson(institutionID, "Jordan", "Rivera", email, "")
			existing, created, err := s.store.CreateIfAbsent(ctx, person)
			if err != nil {
				return
			}
			if created {
				createdCount.Add(1)
			} else {
				reusedCount.Add(1)
			}
			ids <- existing.ID
		}()
	}

	wg.Wait()
	close(ids)

	s.Equal(int32(1), createdCount.Load(), "exactly one create should win")
	s.Equal(int32(goroutines-1), reusedCount.Load(), "all others should get the claimant back")

	var winner id.PersonID
	for personID := range ids {
		if winner.IsNil() {
			winner = personID
		}
		s.Equal(winner, personID, "every caller should see the same person")
	}

	matches, err := s.store.FindByEmail(ctx, institutionID, email)
	s.Require().NoError(err)
	s.Len(matches, 1)
}

// TestCreateIfAbsentDistinctKeys verifies that different identity tuples never
// block each other.
func (s *PostgresStoreSuite) TestCreateIfAbsentDistinctKeys() {
	ctx := context.Background()
	institutionID := id.NewInstitutionID()

	first, created, err := s.store.CreateIfAbsent(ctx, s.newPerson(institutionID, "Maya", "Okafor", "maya@example.com", ""))
	s.Require().NoError(err)
	s.True(created)

	second, created, err := s.store.CreateIfAbsent(ctx, s.newPerson(institutionID, "Maya", "Okafor", "maya.okafor@example.com", ""))
	s.Require().NoError(err)
	s.True(created, "a different email is a different identity tuple")
	s.NotEqual(first.ID, second.ID)
}

// TestCreateWithExplicitID verifies that Create honors the id on the record,
// and that reusing it reports a conflict.
func (s *PostgresStoreSuite) TestCreateWithExplicitID() {
	ctx := context.Background()
	institutionID := id.NewInstitutionID()

	person := s.newPerson(institutionID, "Sam", "Ellis", "sam@example.com", "")
	s.Require().NoError(s.store.Create(ctx, person))

	found, err := s.store.FindByID(ctx, person.ID)
	s.Require().NoError(err)
	s.Equal(person.ID, found.ID)
	s.Equal("sam@example.com", found.NormalizedEmail)

	dup := s.newPerson(institutionID, "Sam", "Ellis", "sam2@example.com", "")
	dup.ID = person.ID
	err = s.store.Create(ctx, dup)
	s.Require().Error(err)
	s.True(errors.Is(err, sentinel.ErrConflict))
}

// TestInstitutionScoping verifies that identity queries never cross the
// institution boundary.
func (s *PostgresStoreSuite) TestInstitutionScoping() {
	ctx := context.Background()
	instA := id.NewInstitutionID()
	instB := id.NewInstitutionID()

	s.Require().NoError(s.store.Create(ctx, s.newPerson(instA, "Ana", "Costa", "ana@example.com", "+15550000001")))
	s.Require().NoError(s.store.Create(ctx, s.newPerson(instB, "Ana", "Costa", "ana@example.com", "+15550000001")))

	byEmail, err := s.store.FindByEmail(ctx, instA, "ana@example.com")
	s.Require().NoError(err)
	s.Len(byEmail, 1)
	s.Equal(instA, byEmail[0].InstitutionID)

	byPhone, err := s.store.FindByPhone(ctx, instB, "+15550000001")
	s.Require().NoError(err)
	s.Len(byPhone, 1)
	s.Equal(instB, byPhone[0].InstitutionID)
}

// TestDeleteRemovesRow verifies Delete and the not-found sentinel afterwards.
func (s *PostgresStoreSuite) TestDeleteRemovesRow() {
	ctx := context.Background()
	person := s.newPerson(id.NewInstitutionID(), "Noor", "Haddad", "", "+15550000002")
	s.Require().NoError(s.store.Create(ctx, person))

	s.Require().NoError(s.store.Delete(ctx, person.ID))

	_, err := s.store.FindByID(ctx, person.ID)
	s.True(errors.Is(err, sentinel.ErrNotFound))
}
