package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"hearth/internal/audit"
	identity "hearth/internal/identity/models"
	identitystore "hearth/internal/identity/store"
	household "hearth/internal/household/models"
	householdstore "hearth/internal/household/store"
	"hearth/internal/platform/metrics"
	"hearth/internal/transaction"
	id "hearth/pkg/domain"
	dErrors "hearth/pkg/domain-errors"
	"hearth/pkg/platform/sentinel"
	"hearth/pkg/requestcontext"
)

// AuditPublisher lets the service emit audit events without binding to a sink.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service owns the destructive identity operations: flagging and merging
// people, and reversing either until a merge is permanently finalized. Every
// mutation appends a ledger entry first, so nothing destructive happens
// without a recorded way back.
type Service struct {
	entries    Store
	people     identitystore.PersonStore
	households householdstore.Store
	txns       transaction.Store
	tx         StoreTx
	logger     *slog.Logger
	metrics    *metrics.Metrics
	audit      AuditPublisher

	// mu serializes merge, undo, and finalize. A merge and an undo racing
	// on the same person must never interleave.
	mu sync.Mutex
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) { s.audit = publisher }
}

// WithStoreTx installs a transactional boundary so a merge or undo commits
// all of its writes, ledger entry included, or none of them.
func WithStoreTx(tx StoreTx) Option {
	return func(s *Service) { s.tx = tx }
}

func NewService(entries Store, people identitystore.PersonStore, households householdstore.Store,
	txns transaction.Store, opts ...Option) *Service {
	s := &Service{
		entries:    entries,
		people:     people,
		households: households,
		txns:       txns,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tx == nil {
		s.tx = passthroughTx{stores: TxStores{
			Entries:    entries,
			People:     people,
			Households: households,
			Txns:       txns,
		}}
	}
	return s
}

// Flag marks a person as flagged and records the pre-flag state so the flag
// can be cleared later.
func (s *Service) Flag(ctx context.Context, personID id.PersonID, reason, notes string) (*Entry, error) {
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "flag requires a reason")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	person, err := findPerson(ctx, s.people, personID)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	entry := &Entry{
		ID:         id.NewLedgerEntryID(),
		PersonID:   &person.ID,
		ActionType: ActionFlag,
		Reason:     reason,
		Notes:      notes,
		Snapshot:   Snapshot{Person: snapshotPerson(person)},
		Actor:      requestcontext.Actor(ctx),
		CreatedAt:  now,
	}
	if err := s.entries.Append(ctx, entry); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "append flag entry")
	}

	person.IsFlagged = true
	person.FlagReason = reason
	person.FlaggedAt = &now
	person.UpdatedAt = now
	if err := s.people.Update(ctx, person); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "flag person")
	}

	s.emit(ctx, audit.Event{
		PersonID: person.ID,
		Action:   string(audit.EventPersonFlagged),
		Reason:   reason,
	})
	return entry, nil
}

// Merge absorbs the source person into the target: transactions move over,
// household memberships re-point or drop, the source row is deleted, and the
// target records where it came from. The ledger entry's snapshot holds
// everything needed to reverse the operation. The entry is written before any
// destructive write, and all writes share one transactional boundary.
func (s *Service) Merge(ctx context.Context, sourceID, targetID id.PersonID, reason, notes string) (*Entry, error) {
	if sourceID == targetID {
		return nil, dErrors.New(dErrors.CodeValidation, "a person cannot be merged into itself")
	}
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "merge requires a reason")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var entry *Entry
	err := s.tx.RunInTx(ctx, func(st TxStores) error {
		source, err := findPerson(ctx, st.People, sourceID)
		if err != nil {
			return err
		}
		target, err := findPerson(ctx, st.People, targetID)
		if err != nil {
			return err
		}

		txnIDs, err := st.Txns.ListIDsByPerson(ctx, source.ID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "snapshot transactions")
		}

		memberships, err := snapshotMemberships(ctx, st.Households, source.ID)
		if err != nil {
			return err
		}

		// The drop-or-repoint decision is taken up front so the snapshot
		// is complete before a single write happens. A target holding any
		// membership means the source's membership drops.
		targetHoused := false
		if _, err := st.Households.MemberByPerson(ctx, target.ID); err == nil {
			targetHoused = true
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeInternal, "inspect target membership")
		}
		for i := range memberships {
			memberships[i].Dropped = targetHoused
		}

		now := requestcontext.Now(ctx)
		entry = &Entry{
			ID:                id.NewLedgerEntryID(),
			PersonID:          &target.ID,
			ActionType:        ActionMerge,
			Reason:            reason,
			Notes:             notes,
			DuplicatePersonID: &source.ID,
			TargetPersonID:    &target.ID,
			Snapshot: Snapshot{
				Person:         snapshotPerson(source),
				TransactionIDs: txnIDs,
				Memberships:    memberships,
			},
			Actor:     requestcontext.Actor(ctx),
			CreatedAt: now,
		}

		// Entry first. The source person must never be gone without its
		// way back already on record.
		if err := st.Entries.Append(ctx, entry); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "append merge entry")
		}

		if err := st.Txns.RepointPerson(ctx, source.ID, target.ID); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "re-point transactions")
		}

		for _, ms := range entry.Snapshot.Memberships {
			if ms.Dropped {
				if err := st.Households.DeleteMember(ctx, ms.ID); err != nil {
					return dErrors.Wrap(err, dErrors.CodeInternal, "drop source membership")
				}
				continue
			}
			if err := st.Households.RepointMember(ctx, ms.ID, target.ID); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "re-point membership")
			}
		}

		target.AbsorbIdentifiers(source, now)
		target.MergedFromPersonID = &source.ID
		target.UpdatedAt = now
		if err := st.People.Update(ctx, target); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "update merge target")
		}

		if err := st.People.Delete(ctx, source.ID); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "delete merged person")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.MergesPerformed.Inc()
	}
	s.emit(ctx, audit.Event{
		PersonID: targetID,
		Action:   string(audit.EventPersonsMerged),
		Reason:   reason,
		Detail:   map[string]string{"duplicate_person_id": sourceID.String()},
	})
	s.logger.InfoContext(ctx, "persons merged",
		"source_person_id", sourceID.String(),
		"target_person_id", targetID.String(),
		"entry_id", entry.ID.String(),
	)
	return entry, nil
}

// Undo reverses a flag or a non-finalized merge. Each entry can be undone at
// most once.
func (s *Service) Undo(ctx context.Context, entryID id.LedgerEntryID) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entry *Entry
	err := s.tx.RunInTx(ctx, func(st TxStores) error {
		var err error
		entry, err = findEntry(ctx, st.Entries, entryID)
		if err != nil {
			return err
		}
		if entry.Finalized() {
			return dErrors.New(dErrors.CodeInvalidState, "entry is permanently finalized and cannot be undone")
		}
		if entry.Undone() {
			return dErrors.New(dErrors.CodeInvalidState, "entry has already been undone")
		}

		now := requestcontext.Now(ctx)
		switch entry.ActionType {
		case ActionFlag:
			if err := s.undoFlag(ctx, st, entry, now); err != nil {
				return err
			}
		case ActionMerge:
			if err := s.undoMerge(ctx, st, entry, now); err != nil {
				return err
			}
		default:
			return dErrors.New(dErrors.CodeInvalidState, "unknown ledger action type")
		}

		entry.UndoneAt = &now
		if err := st.Entries.Update(ctx, entry); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "record undo")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch entry.ActionType {
	case ActionFlag:
		s.emit(ctx, audit.Event{
			PersonID: *entry.PersonID,
			Action:   string(audit.EventFlagCleared),
			Reason:   entry.Reason,
		})
	case ActionMerge:
		if s.metrics != nil {
			s.metrics.MergesUndone.Inc()
		}
		s.emit(ctx, audit.Event{
			PersonID: entry.Snapshot.Person.ID,
			Action:   string(audit.EventMergeUndone),
			Reason:   entry.Reason,
			Detail:   map[string]string{"target_person_id": entry.TargetPersonID.String()},
		})
	}
	return entry, nil
}

func (s *Service) undoFlag(ctx context.Context, st TxStores, entry *Entry, now time.Time) error {
	person, err := findPerson(ctx, st.People, *entry.PersonID)
	if err != nil {
		return err
	}
	person.IsFlagged = false
	person.FlagReason = ""
	person.FlaggedAt = nil
	person.UpdatedAt = now
	if err := st.People.Update(ctx, person); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "clear flag")
	}
	return nil
}

func (s *Service) undoMerge(ctx context.Context, st TxStores, entry *Entry, now time.Time) error {
	restored := restorePerson(entry.Snapshot.Person, now)
	if err := st.People.Create(ctx, restored); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "restore merged person")
	}

	if len(entry.Snapshot.TransactionIDs) > 0 {
		if err := st.Txns.RepointByIDs(ctx, entry.Snapshot.TransactionIDs, restored.ID); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "re-point transactions back")
		}
	}

	for _, ms := range entry.Snapshot.Memberships {
		if err := s.restoreMembership(ctx, st.Households, ms, restored.ID); err != nil {
			// The household may have been rebuilt since the merge; the
			// person is restored either way.
			s.logger.WarnContext(ctx, "membership restore skipped",
				"membership_id", ms.ID.String(), "error", err.Error())
		}
	}

	target, err := findPerson(ctx, st.People, *entry.TargetPersonID)
	if err != nil {
		return err
	}
	target.MergedFromPersonID = nil
	target.UpdatedAt = now
	if err := st.People.Update(ctx, target); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "clear merge back-reference")
	}
	return nil
}

// restoreMembership puts one snapshotted membership back on the restored
// person. A still-existing row was re-pointed by the merge and is re-pointed
// back; a missing row was dropped and is recreated with its original id.
func (s *Service) restoreMembership(ctx context.Context, households householdstore.Store, ms MembershipSnapshot, restoredID id.PersonID) error {
	_, err := households.MemberByID(ctx, ms.ID)
	switch {
	case err == nil:
		return households.RepointMember(ctx, ms.ID, restoredID)
	case errors.Is(err, sentinel.ErrNotFound):
		return households.AddMember(ctx, &household.Member{
			ID:          ms.ID,
			HouseholdID: ms.HouseholdID,
			PersonID:    restoredID,
			Role:        ms.Role,
			GroupedBy:   ms.GroupedBy,
			CreatedAt:   ms.CreatedAt,
		})
	default:
		return err
	}
}

// Finalize permanently locks a merge entry. After this, undo always refuses
// and the snapshot may be purged by retention tooling.
func (s *Service) Finalize(ctx context.Context, entryID id.LedgerEntryID) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := findEntry(ctx, s.entries, entryID)
	if err != nil {
		return nil, err
	}
	if entry.ActionType != ActionMerge {
		return nil, dErrors.New(dErrors.CodeInvalidState, "only merge entries can be finalized")
	}
	if entry.Finalized() {
		return nil, dErrors.New(dErrors.CodeInvalidState, "entry is already finalized")
	}
	if entry.Undone() {
		return nil, dErrors.New(dErrors.CodeInvalidState, "an undone merge cannot be finalized")
	}

	now := requestcontext.Now(ctx)
	entry.PermanentlyFinalizedAt = &now
	if err := s.entries.Update(ctx, entry); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "record finalization")
	}

	s.emit(ctx, audit.Event{
		PersonID: *entry.TargetPersonID,
		Action:   string(audit.EventMergeFinalized),
		Reason:   entry.Reason,
	})
	return entry, nil
}

// History returns every ledger entry touching a person, oldest first.
func (s *Service) History(ctx context.Context, personID id.PersonID) ([]*Entry, error) {
	entries, err := s.entries.ListByPerson(ctx, personID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list ledger entries")
	}
	return entries, nil
}

func findPerson(ctx context.Context, people identitystore.PersonStore, personID id.PersonID) (*identity.Person, error) {
	person, err := people.FindByID(ctx, personID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "person not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load person")
	}
	return person, nil
}

func findEntry(ctx context.Context, entries Store, entryID id.LedgerEntryID) (*Entry, error) {
	entry, err := entries.FindByID(ctx, entryID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "ledger entry not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load ledger entry")
	}
	return entry, nil
}

func snapshotMemberships(ctx context.Context, households householdstore.Store, personID id.PersonID) ([]MembershipSnapshot, error) {
	member, err := households.MemberByPerson(ctx, personID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "snapshot memberships")
	}
	return []MembershipSnapshot{{
		ID:          member.ID,
		HouseholdID: member.HouseholdID,
		Role:        member.Role,
		GroupedBy:   member.GroupedBy,
		CreatedAt:   member.CreatedAt,
	}}, nil
}

func snapshotPerson(p *identity.Person) PersonSnapshot {
	return PersonSnapshot{
		ID:              p.ID,
		InstitutionID:   p.InstitutionID,
		FirstName:       p.FirstName,
		LastName:        p.LastName,
		NormalizedEmail: p.NormalizedEmail,
		NormalizedPhone: p.NormalizedPhone,
		DateOfBirth:     p.DateOfBirth,
		Gender:          p.Gender,
		AddressID:       p.AddressID,
		CreatedSource:   string(p.CreatedSource),
		IsFlagged:       p.IsFlagged,
		FlagReason:      p.FlagReason,
		FlaggedAt:       p.FlaggedAt,
		CreatedAt:       p.CreatedAt,
	}
}

func restorePerson(snap PersonSnapshot, now time.Time) *identity.Person {
	source := identity.Source(snap.CreatedSource)
	if source == "" {
		source = identity.SourceMergeRestore
	}
	return &identity.Person{
		ID:              snap.ID,
		InstitutionID:   snap.InstitutionID,
		FirstName:       snap.FirstName,
		LastName:        snap.LastName,
		NormalizedEmail: snap.NormalizedEmail,
		NormalizedPhone: snap.NormalizedPhone,
		DateOfBirth:     snap.DateOfBirth,
		Gender:          snap.Gender,
		AddressID:       snap.AddressID,
		CreatedSource:   source,
		IsFlagged:       snap.IsFlagged,
		FlagReason:      snap.FlagReason,
		FlaggedAt:       snap.FlaggedAt,
		CreatedAt:       snap.CreatedAt,
		UpdatedAt:       now,
	}
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.audit == nil {
		return
	}
	event.RequestID = requestcontext.RequestID(ctx)
	event.Actor = requestcontext.Actor(ctx)
	if err := s.audit.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "audit emit failed", "action", event.Action, "error", err.Error())
	}
}
