package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	identity "hearth/internal/identity/models"
	identitystore "hearth/internal/identity/store"
	household "hearth/internal/household/models"
	householdstore "hearth/internal/household/store"
	"hearth/internal/transaction"
	id "hearth/pkg/domain"
	dErrors "hearth/pkg/domain-errors"
)

type fixture struct {
	svc        *Service
	entries    *InMemoryStore
	people     *identitystore.InMemoryStore
	households *householdstore.InMemoryStore
	txns       *transaction.InMemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	entries := NewInMemoryStore()
	people := identitystore.NewInMemoryStore()
	households := householdstore.NewInMemoryStore()
	txns := transaction.NewInMemoryStore()
	return &fixture{
		svc:        NewService(entries, people, households, txns),
		entries:    entries,
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

var base = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func addPerson(t *testing.T, f *fixture, first, last, email, phone string) *identity.Person {
	t.Helper()
	p, err := identity.NewPerson(institution(t), first, last, email, phone, nil, "", identity.SourceImport, base)
	require.NoError(t, err)
	require.NoError(t, f.people.Create(context.Background(), p))
	return p
}

func addTransaction(t *testing.T, f *fixture, personID id.PersonID, cents int64) id.TransactionID {
	t.Helper()
	txn := &transaction.Transaction{ID: id.NewTransactionID(), PersonID: personID, AmountCents: cents, CreatedAt: base}
	require.NoError(t, f.txns.Create(context.Background(), txn))
	return txn.ID
}

func addHousehold(t *testing.T, f *fixture, head *identity.Person) (*household.Household, *household.Member) {
	t.Helper()
	ctx := context.Background()
	h, err := household.NewHousehold(institution(t), head, household.ByPhone, 82, "phone only", base)
	require.NoError(t, err)
	require.NoError(t, f.households.CreateHousehold(ctx, h))
	m := &household.Member{
		ID: id.NewMembershipID(), HouseholdID: h.ID, PersonID: head.ID,
		Role: household.RoleHead, GroupedBy: household.ByPhone, CreatedAt: base,
	}
	require.NoError(t, f.households.AddMember(ctx, m))
	return h, m
}

func TestFlag(t *testing.T) {
	ctx := context.Background()

	t.Run("flags a person and undo clears it", func(t *testing.T) {
		f := newFixture(t)
		p := addPerson(t, f, "Ann", "Lee", "ann@x.com", "")

		entry, err := f.svc.Flag(ctx, p.ID, "duplicate_suspected", "looks like a re-import")
		require.NoError(t, err)
		assert.Equal(t, ActionFlag, entry.ActionType)

		flagged, err := f.people.FindByID(ctx, p.ID)
		require.NoError(t, err)
		assert.True(t, flagged.IsFlagged)
		assert.Equal(t, "duplicate_suspected", flagged.FlagReason)
		require.NotNil(t, flagged.FlaggedAt)

		undone, err := f.svc.Undo(ctx, entry.ID)
		require.NoError(t, err)
		require.NotNil(t, undone.UndoneAt)

		cleared, err := f.people.FindByID(ctx, p.ID)
		require.NoError(t, err)
		assert.False(t, cleared.IsFlagged)
		assert.Empty(t, cleared.FlagReason)
		assert.Nil(t, cleared.FlaggedAt)
	})

	t.Run("requires a reason", func(t *testing.T) {
		f := newFixture(t)
		p := addPerson(t, f, "Ann", "Lee", "", "")
		_, err := f.svc.Flag(ctx, p.ID, "", "")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("unknown person is rejected", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Flag(ctx, id.NewPersonID(), "duplicate_suspected", "")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func TestMerge(t *testing.T) {
	ctx := context.Background()

	t.Run("moves transactions, deletes the source, and marks the target", func(t *testing.T) {
		f := newFixture(t)
		src := addPerson(t, f, "Ann", "Lee", "ann@x.com", "")
		dst := addPerson(t, f, "Anne", "Lee", "", "5551234567")
		txnID := addTransaction(t, f, src.ID, 2500)

		entry, err := f.svc.Merge(ctx, src.ID, dst.ID, "confirmed_duplicate", "")
		require.NoError(t, err)
		assert.Equal(t, ActionMerge, entry.ActionType)
		require.NotNil(t, entry.DuplicatePersonID)
		assert.Equal(t, src.ID, *entry.DuplicatePersonID)
		assert.Equal(t, []id.TransactionID{txnID}, entry.Snapshot.TransactionIDs)

		_, err = f.people.FindByID(ctx, src.ID)
		require.Error(t, err)

		target, err := f.people.FindByID(ctx, dst.ID)
		require.NoError(t, err)
		require.NotNil(t, target.MergedFromPersonID)
		assert.Equal(t, src.ID, *target.MergedFromPersonID)
		// missing identifiers are absorbed, populated ones untouched
		assert.Equal(t, "ann@x.com", target.NormalizedEmail)
		assert.Equal(t, "5551234567", target.NormalizedPhone)

		ids, err := f.txns.ListIDsByPerson(ctx, dst.ID)
		require.NoError(t, err)
		assert.Equal(t, []id.TransactionID{txnID}, ids)
	})

	t.Run("self-merge is rejected before any write", func(t *testing.T) {
		f := newFixture(t)
		p := addPerson(t, f, "Ann", "Lee", "", "")
		_, err := f.svc.Merge(ctx, p.ID, p.ID, "confirmed_duplicate", "")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("both people must exist", func(t *testing.T) {
		f := newFixture(t)
		p := addPerson(t, f, "Ann", "Lee", "", "")
		_, err := f.svc.Merge(ctx, p.ID, id.NewPersonID(), "confirmed_duplicate", "")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))

		still, err := f.people.FindByID(ctx, p.ID)
		require.NoError(t, err)
		assert.Nil(t, still.MergedFromPersonID)
	})

	t.Run("unhoused target inherits the source membership", func(t *testing.T) {
		f := newFixture(t)
		src := addPerson(t, f, "Ann", "Lee", "", "5551234567")
		dst := addPerson(t, f, "Anne", "Lee", "", "")
		_, member := addHousehold(t, f, src)

		entry, err := f.svc.Merge(ctx, src.ID, dst.ID, "confirmed_duplicate", "")
		require.NoError(t, err)
		require.Len(t, entry.Snapshot.Memberships, 1)
		assert.False(t, entry.Snapshot.Memberships[0].Dropped)

		moved, err := f.households.MemberByID(ctx, member.ID)
		require.NoError(t, err)
		assert.Equal(t, dst.ID, moved.PersonID)
	})

	t.Run("housed target drops the source membership", func(t *testing.T) {
		f := newFixture(t)
		src := addPerson(t, f, "Ann", "Lee", "", "5551234567")
		dst := addPerson(t, f, "Anne", "Lee", "", "5559990000")
		_, srcMember := addHousehold(t, f, src)
		addHousehold(t, f, dst)

		entry, err := f.svc.Merge(ctx, src.ID, dst.ID, "confirmed_duplicate", "")
		require.NoError(t, err)
		require.Len(t, entry.Snapshot.Memberships, 1)
		assert.True(t, entry.Snapshot.Memberships[0].Dropped)

		_, err = f.households.MemberByID(ctx, srcMember.ID)
		require.Error(t, err)
	})

	t.Run("entry append failure leaves everything untouched", func(t *testing.T) {
		entries := &appendFailStore{InMemoryStore: NewInMemoryStore()}
		people := identitystore.NewInMemoryStore()
		households := householdstore.NewInMemoryStore()
		txns := transaction.NewInMemoryStore()
		f := &fixture{
			svc:        NewService(entries, people, households, txns),
			entries:    entries.InMemoryStore,
			people:     people,
			households: households,
			txns:       txns,
		}
		src := addPerson(t, f, "Ann", "Lee", "ann@x.com", "5551234567")
		dst := addPerson(t, f, "Anne", "Lee", "", "")
		txnID := addTransaction(t, f, src.ID, 2500)
		_, srcMember := addHousehold(t, f, src)

		_, err := f.svc.Merge(ctx, src.ID, dst.ID, "confirmed_duplicate", "")
		require.Error(t, err)

		// The source survives with its transactions and membership; no
		// deletion may ever precede the ledger entry.
		survivor, err := f.people.FindByID(ctx, src.ID)
		require.NoError(t, err)
		assert.Equal(t, "ann@x.com", survivor.NormalizedEmail)

		srcTxns, err := f.txns.ListIDsByPerson(ctx, src.ID)
		require.NoError(t, err)
		assert.Equal(t, []id.TransactionID{txnID}, srcTxns)

		member, err := f.households.MemberByPerson(ctx, src.ID)
		require.NoError(t, err)
		assert.Equal(t, srcMember.ID, member.ID)

		untouched, err := f.people.FindByID(ctx, dst.ID)
		require.NoError(t, err)
		assert.Nil(t, untouched.MergedFromPersonID)

		history, err := f.svc.History(ctx, src.ID)
		require.NoError(t, err)
		assert.Empty(t, history)
	})
}

// appendFailStore simulates an unavailable ledger backend.
type appendFailStore struct {
	*InMemoryStore
}

func (s *appendFailStore) Append(ctx context.Context, entry *Entry) error {
	return errors.New("ledger unavailable")
}

func TestUndoMerge(t *testing.T) {
	ctx := context.Background()

	t.Run("round-trips the merged person", func(t *testing.T) {
		f := newFixture(t)
		src := addPerson(t, f, "Ann", "Lee", "ann@x.com", "5551234567")
		dst := addPerson(t, f, "Anne", "Lee", "anne@x.com", "")
		txnID := addTransaction(t, f, src.ID, 2500)
		laterTxn := addTransaction(t, f, dst.ID, 9900)
		_, member := addHousehold(t, f, src)

		entry, err := f.svc.Merge(ctx, src.ID, dst.ID, "confirmed_duplicate", "")
		require.NoError(t, err)

		undone, err := f.svc.Undo(ctx, entry.ID)
		require.NoError(t, err)
		require.NotNil(t, undone.UndoneAt)

		restored, err := f.people.FindByID(ctx, src.ID)
		require.NoError(t, err)
		assert.Equal(t, src.ID, restored.ID)
		assert.Equal(t, "ann@x.com", restored.NormalizedEmail)
		assert.Equal(t, "5551234567", restored.NormalizedPhone)

		// snapshotted transactions come back; the target's own stay put
		srcTxns, err := f.txns.ListIDsByPerson(ctx, src.ID)
		require.NoError(t, err)
		assert.Equal(t, []id.TransactionID{txnID}, srcTxns)
		dstTxns, err := f.txns.ListIDsByPerson(ctx, dst.ID)
		require.NoError(t, err)
		assert.Equal(t, []id.TransactionID{laterTxn}, dstTxns)

		back, err := f.households.MemberByID(ctx, member.ID)
		require.NoError(t, err)
		assert.Equal(t, src.ID, back.PersonID)

		target, err := f.people.FindByID(ctx, dst.ID)
		require.NoError(t, err)
		assert.Nil(t, target.MergedFromPersonID)
	})

	t.Run("recreates a dropped membership with its original id", func(t *testing.T) {
		f := newFixture(t)
		src := addPerson(t, f, "Ann", "Lee", "", "5551234567")
		dst := addPerson(t, f, "Anne", "Lee", "", "5559990000")
		_, srcMember := addHousehold(t, f, src)
		addHousehold(t, f, dst)

		entry, err := f.svc.Merge(ctx, src.ID, dst.ID, "confirmed_duplicate", "")
		require.NoError(t, err)
		_, err = f.svc.Undo(ctx, entry.ID)
		require.NoError(t, err)

		recreated, err := f.households.MemberByID(ctx, srcMember.ID)
		require.NoError(t, err)
		assert.Equal(t, src.ID, recreated.PersonID)
		assert.Equal(t, srcMember.HouseholdID, recreated.HouseholdID)
	})

	t.Run("a second undo fails", func(t *testing.T) {
		f := newFixture(t)
		src := addPerson(t, f, "Ann", "Lee", "ann@x.com", "")
		dst := addPerson(t, f, "Anne", "Lee", "", "")

		entry, err := f.svc.Merge(ctx, src.ID, dst.ID, "confirmed_duplicate", "")
		require.NoError(t, err)
		_, err = f.svc.Undo(ctx, entry.ID)
		require.NoError(t, err)

		_, err = f.svc.Undo(ctx, entry.ID)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
	})
}

func TestFinalize(t *testing.T) {
	ctx := context.Background()

	t.Run("blocks undo forever", func(t *testing.T) {
		f := newFixture(t)
		src := addPerson(t, f, "Ann", "Lee", "ann@x.com", "")
		dst := addPerson(t, f, "Anne", "Lee", "", "")

		entry, err := f.svc.Merge(ctx, src.ID, dst.ID, "confirmed_duplicate", "")
		require.NoError(t, err)

		finalized, err := f.svc.Finalize(ctx, entry.ID)
		require.NoError(t, err)
		require.NotNil(t, finalized.PermanentlyFinalizedAt)

		_, err = f.svc.Undo(ctx, entry.ID)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	t.Run("cannot finalize twice", func(t *testing.T) {
		f := newFixture(t)
		src := addPerson(t, f, "Ann", "Lee", "ann@x.com", "")
		dst := addPerson(t, f, "Anne", "Lee", "", "")

		entry, err := f.svc.Merge(ctx, src.ID, dst.ID, "confirmed_duplicate", "")
		require.NoError(t, err)
		_, err = f.svc.Finalize(ctx, entry.ID)
		require.NoError(t, err)

		_, err = f.svc.Finalize(ctx, entry.ID)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	t.Run("flag entries cannot be finalized", func(t *testing.T) {
		f := newFixture(t)
		p := addPerson(t, f, "Ann", "Lee", "", "")

		entry, err := f.svc.Flag(ctx, p.ID, "duplicate_suspected", "")
		require.NoError(t, err)
		_, err = f.svc.Finalize(ctx, entry.ID)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	t.Run("an undone merge cannot be finalized", func(t *testing.T) {
		f := newFixture(t)
		src := addPerson(t, f, "Ann", "Lee", "ann@x.com", "")
		dst := addPerson(t, f, "Anne", "Lee", "", "")

		entry, err := f.svc.Merge(ctx, src.ID, dst.ID, "confirmed_duplicate", "")
		require.NoError(t, err)
		_, err = f.svc.Undo(ctx, entry.ID)
		require.NoError(t, err)

		_, err = f.svc.Finalize(ctx, entry.ID)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
	})
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	src := addPerson(t, f, "Ann", "Lee", "ann@x.com", "")
	dst := addPerson(t, f, "Anne", "Lee", "", "")

	_, err := f.svc.Flag(ctx, src.ID, "duplicate_suspected", "")
	require.NoError(t, err)
	_, err = f.svc.Merge(ctx, src.ID, dst.ID, "confirmed_duplicate", "")
	require.NoError(t, err)

	entries, err := f.svc.History(ctx, src.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ActionFlag, entries[0].ActionType)
	assert.Equal(t, ActionMerge, entries[1].ActionType)
}
