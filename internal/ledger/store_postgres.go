package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"hearth/internal/platform/database"
	id "hearth/pkg/domain"
	"hearth/pkg/platform/sentinel"
)

const uniqueViolation = "23505"

// PostgresStore persists ledger entries in PostgreSQL. Snapshots travel as
// JSONB so the reconstruction data survives schema drift in the live tables.
type PostgresStore struct {
	db database.DBTX
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// NewPostgresTx scopes the store to a caller-owned transaction.
func NewPostgresTx(tx *sql.Tx) *PostgresStore {
	return &PostgresStore{db: tx}
}

const entryColumns = `id, person_id, action_type, reason, notes, duplicate_person_id,
	target_person_id, snapshot, actor, undone_at, permanently_finalized_at, created_at`

func (s *PostgresStore) Append(ctx context.Context, entry *Entry) error {
	snapshot, err := json.Marshal(entry.Snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	query := `
		INSERT INTO ledger_entries (` + entryColumns + `)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, NULLIF($9, ''), $10, $11, $12)
	`
	_, err = s.db.ExecContext(ctx, query,
		entry.ID.String(), personIDPtr(entry.PersonID), string(entry.ActionType),
		entry.Reason, entry.Notes, personIDPtr(entry.DuplicatePersonID),
		personIDPtr(entry.TargetPersonID), snapshot, entry.Actor,
		entry.UndoneAt, entry.PermanentlyFinalizedAt, entry.CreatedAt,
	)
	if isUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, entryID id.LedgerEntryID) (*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE id = $1`
	e, err := scanEntry(s.db.QueryRowContext(ctx, query, entryID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find ledger entry: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) Update(ctx context.Context, entry *Entry) error {
	query := `
		UPDATE ledger_entries
		SET undone_at = $1, permanently_finalized_at = $2
		WHERE id = $3
	`
	res, err := s.db.ExecContext(ctx, query, entry.UndoneAt, entry.PermanentlyFinalizedAt, entry.ID.String())
	if err != nil {
		return fmt.Errorf("update ledger entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListByPerson(ctx context.Context, personID id.PersonID) ([]*Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE person_id = $1 OR duplicate_person_id = $1 OR target_person_id = $1
		ORDER BY created_at, id
	`
	rows, err := s.db.QueryContext(ctx, query, personID.String())
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		e                             Entry
		rawID, action                 string
		rawPerson, rawDup, rawTarget  sql.NullString
		notes, actor                  sql.NullString
		snapshot                      []byte
		undoneAt, finalizedAt         sql.NullTime
	)
	if err := row.Scan(&rawID, &rawPerson, &action, &e.Reason, &notes, &rawDup,
		&rawTarget, &snapshot, &actor, &undoneAt, &finalizedAt, &e.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if e.ID, err = id.ParseLedgerEntryID(rawID); err != nil {
		return nil, err
	}
	if e.PersonID, err = nullPersonID(rawPerson); err != nil {
		return nil, err
	}
	if e.DuplicatePersonID, err = nullPersonID(rawDup); err != nil {
		return nil, err
	}
	if e.TargetPersonID, err = nullPersonID(rawTarget); err != nil {
		return nil, err
	}
	e.ActionType = ActionType(action)
	e.Notes = notes.String
	e.Actor = actor.String
	if err := json.Unmarshal(snapshot, &e.Snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if undoneAt.Valid {
		t := undoneAt.Time
		e.UndoneAt = &t
	}
	if finalizedAt.Valid {
		t := finalizedAt.Time
		e.PermanentlyFinalizedAt = &t
	}
	return &e, nil
}

func nullPersonID(raw sql.NullString) (*id.PersonID, error) {
	if !raw.Valid {
		return nil, nil
	}
	pid, err := id.ParsePersonID(raw.String)
	if err != nil {
		return nil, err
	}
	return &pid, nil
}

func personIDPtr(personID *id.PersonID) *string {
	if personID == nil {
		return nil
	}
	s := personID.String()
	return &s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
