package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hearth/internal/identity/match"
	identity "hearth/internal/identity/models"
	identityservice "hearth/internal/identity/service"
	identitystore "hearth/internal/identity/store"
	household "hearth/internal/household/models"
	householdservice "hearth/internal/household/service"
	householdstore "hearth/internal/household/store"
	"hearth/internal/registration/models"
	"hearth/internal/registration/store"
	"hearth/internal/transaction"
	id "hearth/pkg/domain"
	dErrors "hearth/pkg/domain-errors"
)

type fixture struct {
	pipeline   *Pipeline
	regs       *store.InMemoryStore
	people     *identitystore.InMemoryStore
	households *householdstore.InMemoryStore
	txns       *transaction.InMemoryStore
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	people := identitystore.NewInMemoryStore()
	regs := store.NewInMemoryStore()
	households := householdstore.NewInMemoryStore()
	txns := transaction.NewInMemoryStore()
	identities := identityservice.New(people, match.New(people))
	return &fixture{
		pipeline:   NewPipeline(regs, identities, people, households, txns, opts...),
		regs:       regs,
		people:     people,
		households: households,
		txns:       txns,
	}
}

func institution(t *testing.T) id.InstitutionID {
	t.Helper()
	inst, err := id.ParseInstitutionID("5b0c0f5e-9a1f-4f4a-a9f8-0f0d6a1c2b3d")
	require.NoError(t, err)
	return inst
}

func baseRequest(t *testing.T, participants ...models.ParticipantInput) IngestRequest {
	t.Helper()
	return IngestRequest{
		EventID:       id.NewEventID(),
		InstitutionID: institution(t),
		Channel:       models.ChannelPublicForm,
		Participants:  participants,
	}
}

func TestIngest(t *testing.T) {
	ctx := context.Background()

	t.Run("family submission creates people, household, and participations", func(t *testing.T) {
		f := newFixture(t)
		req := baseRequest(t,
			models.ParticipantInput{FirstName: "Ann", LastName: "Lee", Email: "ann@x.com", Role: "primary"},
			models.ParticipantInput{FirstName: "Tom", LastName: "Lee", Role: "child"},
		)

		result, err := f.pipeline.Ingest(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, models.StatusMatched, result.Status)
		assert.Empty(t, result.Errors)
		require.Len(t, result.Participants, 2)

		ann := result.Participants[0]
		tom := result.Participants[1]
		require.NotNil(t, ann.PersonID)
		require.NotNil(t, tom.PersonID)
		assert.NotEqual(t, *ann.PersonID, *tom.PersonID)
		assert.NotEmpty(t, ann.QRCodeToken)
		assert.NotEmpty(t, tom.QRCodeToken)

		annMember, err := f.households.MemberByPerson(ctx, *ann.PersonID)
		require.NoError(t, err)
		tomMember, err := f.households.MemberByPerson(ctx, *tom.PersonID)
		require.NoError(t, err)
		assert.Equal(t, annMember.HouseholdID, tomMember.HouseholdID)
		assert.Equal(t, household.RoleHead, annMember.Role)
		assert.Equal(t, household.RoleChild, tomMember.Role)

		h, err := f.households.FindHousehold(ctx, annMember.HouseholdID)
		require.NoError(t, err)
		assert.Equal(t, "Lee Household", h.DisplayName)
		assert.Equal(t, household.ByRegistration, h.CreatedVia)

		// Created around the primary alone, there is no identifier
		// overlap to score yet.
		assert.Equal(t, 60, h.ConfidenceScore)
		assert.Equal(t, "registration", h.ConfidenceReason)
	})

	t.Run("re-registration is idempotent and keeps the token", func(t *testing.T) {
		f := newFixture(t)
		tier := &models.TicketTier{ID: id.NewTicketTierID(), EventID: id.NewEventID(), Name: "adult"}
		require.NoError(t, f.regs.CreateTier(ctx, tier))

		req := baseRequest(t, models.ParticipantInput{
			FirstName: "Ann", LastName: "Lee", Email: "ann@x.com", Role: "primary", TicketTierID: &tier.ID,
		})

		first, err := f.pipeline.Ingest(ctx, req)
		require.NoError(t, err)
		second, err := f.pipeline.Ingest(ctx, req)
		require.NoError(t, err)

		require.Len(t, first.Participants, 1)
		require.Len(t, second.Participants, 1)
		assert.Equal(t, *first.Participants[0].PersonID, *second.Participants[0].PersonID)
		assert.Equal(t, first.Participants[0].QRCodeToken, second.Participants[0].QRCodeToken)

		got, err := f.regs.FindTier(ctx, tier.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.SoldCount)
	})

	t.Run("ambiguous participant goes to review without a participation", func(t *testing.T) {
		f := newFixture(t)
		inst := institution(t)
		now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		for _, last := range []string{"Smith", "Jones"} {
			p, err := identity.NewPerson(inst, "Sam", last, "shared@x.com", "", nil, "", identity.SourceImport, now)
			require.NoError(t, err)
			require.NoError(t, f.people.Create(ctx, p))
		}

		req := baseRequest(t, models.ParticipantInput{
			FirstName: "Sam", LastName: "Quinn", Email: "shared@x.com", Role: "primary",
		})

		result, err := f.pipeline.Ingest(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, models.StatusNeedsReview, result.Status)
		require.Len(t, result.Participants, 1)

		outcome := result.Participants[0]
		assert.True(t, outcome.NeedsReview)
		assert.Empty(t, outcome.QRCodeToken)
		require.NotNil(t, outcome.Explanation)
		assert.Equal(t, string(match.Ambiguous), outcome.Explanation.Confidence)
		assert.Len(t, outcome.Explanation.CandidateIDs, 2)

		// the person exists so the record is not lost
		require.NotNil(t, outcome.PersonID)
		_, err = f.people.FindByID(ctx, *outcome.PersonID)
		require.NoError(t, err)
	})

	t.Run("primary with an order creates a linked transaction", func(t *testing.T) {
		f := newFixture(t)
		orderID := id.NewOrderID()
		req := baseRequest(t, models.ParticipantInput{FirstName: "Ann", LastName: "Lee", Email: "ann@x.com", Role: "primary"})
		req.OrderID = &orderID

		result, err := f.pipeline.Ingest(ctx, req)
		require.NoError(t, err)

		txnIDs, err := f.txns.ListIDsByPerson(ctx, *result.Participants[0].PersonID)
		require.NoError(t, err)
		require.Len(t, txnIDs, 1)
		txn, err := f.txns.FindByID(ctx, txnIDs[0])
		require.NoError(t, err)
		require.NotNil(t, txn.OrderID)
		assert.Equal(t, orderID, *txn.OrderID)
	})

	t.Run("primary joins an existing household through a shared phone", func(t *testing.T) {
		f := newFixture(t)
		inst := institution(t)
		now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

		existing, err := identity.NewPerson(inst, "Tom", "Lee", "", "5551234567", nil, "", identity.SourceImport, now)
		require.NoError(t, err)
		require.NoError(t, f.people.Create(ctx, existing))
		h, err := household.NewHousehold(inst, existing, household.ByPhone, 82, "phone only", now)
		require.NoError(t, err)
		require.NoError(t, f.households.CreateHousehold(ctx, h))
		require.NoError(t, f.households.AddMember(ctx, &household.Member{
			ID: id.NewMembershipID(), HouseholdID: h.ID, PersonID: existing.ID,
			Role: household.RoleHead, GroupedBy: household.ByPhone, CreatedAt: now,
		}))

		req := baseRequest(t, models.ParticipantInput{
			FirstName: "Ann", LastName: "Ruiz", Phone: "(555) 123-4567", Role: "primary",
		})
		result, err := f.pipeline.Ingest(ctx, req)
		require.NoError(t, err)

		member, err := f.households.MemberByPerson(ctx, *result.Participants[0].PersonID)
		require.NoError(t, err)
		assert.Equal(t, h.ID, member.HouseholdID)
		assert.Equal(t, household.RolePrimary, member.Role)
		assert.Equal(t, household.ByAutoMatch, member.GroupedBy)
	})

	t.Run("single participant with no household match creates none", func(t *testing.T) {
		f := newFixture(t)
		req := baseRequest(t, models.ParticipantInput{FirstName: "Ann", LastName: "Lee", Email: "ann@x.com", Role: "primary"})

		result, err := f.pipeline.Ingest(ctx, req)
		require.NoError(t, err)

		_, err = f.households.MemberByPerson(ctx, *result.Participants[0].PersonID)
		require.Error(t, err)
	})

	t.Run("validation failures reject before persistence", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.pipeline.Ingest(ctx, IngestRequest{
			InstitutionID: institution(t),
			Channel:       models.ChannelPublicForm,
			Participants:  []models.ParticipantInput{{FirstName: "Ann", LastName: "Lee"}},
		})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

		req := baseRequest(t, models.ParticipantInput{FirstName: "Ann"})
		_, err = f.pipeline.Ingest(ctx, req)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("raw payload is stored verbatim when provided", func(t *testing.T) {
		f := newFixture(t)
		raw := []byte(`{"participants":[{"first_name":"Ann","last_name":"Lee"}],"vendor_field":42}`)
		req := baseRequest(t, models.ParticipantInput{FirstName: "Ann", LastName: "Lee"})
		req.RawPayload = raw

		result, err := f.pipeline.Ingest(ctx, req)
		require.NoError(t, err)

		submission, err := f.regs.FindSubmission(ctx, result.SubmissionID)
		require.NoError(t, err)
		assert.Equal(t, string(raw), string(submission.RawPayload))
	})
}

func TestResolveParticipant(t *testing.T) {
	ctx := context.Background()

	ambiguousSubmission := func(t *testing.T, f *fixture) (IngestRequest, *IngestResult) {
		t.Helper()
		inst := institution(t)
		now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		for _, last := range []string{"Smith", "Jones"} {
			p, err := identity.NewPerson(inst, "Sam", last, "shared@x.com", "", nil, "", identity.SourceImport, now)
			require.NoError(t, err)
			require.NoError(t, f.people.Create(ctx, p))
		}
		req := baseRequest(t, models.ParticipantInput{
			FirstName: "Sam", LastName: "Quinn", Email: "shared@x.com", Role: "primary",
		})
		result, err := f.pipeline.Ingest(ctx, req)
		require.NoError(t, err)
		require.Equal(t, models.StatusNeedsReview, result.Status)
		return req, result
	}

	t.Run("confirm registers the created person and finishes review", func(t *testing.T) {
		f := newFixture(t)
		req, result := ambiguousSubmission(t, f)
		participantID := result.Participants[0].ParticipantID

		resolved, err := f.pipeline.ResolveParticipant(ctx, participantID, ActionConfirm, nil)
		require.NoError(t, err)
		assert.Equal(t, models.ReviewResolved, resolved.ReviewStatus)
		assert.Equal(t, match.MethodOperatorConfirmed, resolved.Explanation.Method)

		_, err = f.regs.FindParticipation(ctx, req.EventID, *resolved.PersonID)
		require.NoError(t, err)

		submission, err := f.regs.FindSubmission(ctx, result.SubmissionID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusMatched, submission.Status)
	})

	t.Run("merge re-points the participant at an existing person", func(t *testing.T) {
		f := newFixture(t)
		req, result := ambiguousSubmission(t, f)
		participantID := result.Participants[0].ParticipantID
		target := result.Participants[0].Explanation.CandidateIDs[0]

		resolved, err := f.pipeline.ResolveParticipant(ctx, participantID, ActionMerge, &target)
		require.NoError(t, err)
		assert.Equal(t, target, *resolved.PersonID)
		assert.Equal(t, match.MethodOperatorMerged, resolved.Explanation.Method)

		_, err = f.regs.FindParticipation(ctx, req.EventID, target)
		require.NoError(t, err)
	})

	t.Run("merge without a target is rejected", func(t *testing.T) {
		f := newFixture(t)
		_, result := ambiguousSubmission(t, f)

		_, err := f.pipeline.ResolveParticipant(ctx, result.Participants[0].ParticipantID, ActionMerge, nil)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("skip defers and leaves no participation", func(t *testing.T) {
		f := newFixture(t)
		req, result := ambiguousSubmission(t, f)

		resolved, err := f.pipeline.ResolveParticipant(ctx, result.Participants[0].ParticipantID, ActionSkip, nil)
		require.NoError(t, err)
		assert.Equal(t, models.ReviewSkipped, resolved.ReviewStatus)

		_, err = f.regs.FindParticipation(ctx, req.EventID, *resolved.PersonID)
		require.Error(t, err)

		// skipped counts as no longer pending, so review finishes
		submission, err := f.regs.FindSubmission(ctx, result.SubmissionID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusMatched, submission.Status)
	})

	t.Run("resolving twice fails", func(t *testing.T) {
		f := newFixture(t)
		_, result := ambiguousSubmission(t, f)
		participantID := result.Participants[0].ParticipantID

		_, err := f.pipeline.ResolveParticipant(ctx, participantID, ActionConfirm, nil)
		require.NoError(t, err)
		_, err = f.pipeline.ResolveParticipant(ctx, participantID, ActionConfirm, nil)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
	})
}

func TestRefundOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	orderID := id.NewOrderID()

	req := baseRequest(t,
		models.ParticipantInput{FirstName: "Ann", LastName: "Lee", Email: "ann@x.com", Role: "primary"},
		models.ParticipantInput{FirstName: "Tom", LastName: "Lee", Role: "child"},
	)
	req.OrderID = &orderID

	result, err := f.pipeline.Ingest(ctx, req)
	require.NoError(t, err)
	require.Len(t, result.Participants, 2)

	refunded, err := f.pipeline.RefundOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, 2, refunded)

	// refunding again is a no-op
	refunded, err = f.pipeline.RefundOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, 0, refunded)

	participation, err := f.regs.FindParticipation(ctx, req.EventID, *result.Participants[0].PersonID)
	require.NoError(t, err)
	assert.Equal(t, models.ParticipationRefunded, participation.Status)
}

func TestIngest_RebuildGuard(t *testing.T) {
	ctx := context.Background()

	t.Run("household assignment waits out an exclusive rebuild", func(t *testing.T) {
		guard := householdservice.NewGuard()
		f := newFixture(t, WithHouseholdGuard(guard))

		rebuilding := make(chan struct{})
		release := make(chan struct{})
		go func() {
			_ = guard.Exclusive(func() error {
				close(rebuilding)
				<-release
				return nil
			})
		}()
		<-rebuilding

		req := baseRequest(t,
			models.ParticipantInput{FirstName: "Ann", LastName: "Lee", Email: "ann@x.com", Role: "primary"},
			models.ParticipantInput{FirstName: "Tom", LastName: "Lee", Role: "child"},
		)

		var result *IngestResult
		var err error
		done := make(chan struct{})
		go func() {
			result, err = f.pipeline.Ingest(ctx, req)
			close(done)
		}()

		select {
		case <-done:
			t.Fatal("memberships were written while the rebuild held the guard")
		case <-time.After(50 * time.Millisecond):
		}

		close(release)
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("ingestion never resumed after the rebuild finished")
		}
		require.NoError(t, err)
		require.Len(t, result.Participants, 2)
		require.NotNil(t, result.Participants[0].PersonID)

		member, err := f.households.MemberByPerson(ctx, *result.Participants[0].PersonID)
		require.NoError(t, err)
		assert.Equal(t, household.ByRegistration, member.GroupedBy)
	})
}
