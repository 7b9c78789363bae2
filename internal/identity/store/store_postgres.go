package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"hearth/internal/identity/models"
	"hearth/internal/identity/normalize"
	"hearth/internal/platform/database"
	id "hearth/pkg/domain"
	"hearth/pkg/platform/sentinel"
)

const uniqueViolation = "23505"

// PostgresStore persists people in PostgreSQL. Pure I/O; matching rules and
// merge semantics live in the services.
type PostgresStore struct {
	db database.DBTX

	// conn is the root connection, nil in transaction scope. CreateIfAbsent
	// opens its own transaction and needs it.
	conn *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, conn: db}
}

// NewPostgresTx scopes the store to a caller-owned transaction. The merge
// ledger uses this so person mutations commit or roll back with the ledger
// entry.
func NewPostgresTx(tx *sql.Tx) *PostgresStore {
	return &PostgresStore{db: tx}
}

const personColumns = `id, institution_id, first_name, last_name, normalized_email, normalized_phone,
	date_of_birth, gender, address_id, created_source, merged_from_person_id,
	is_flagged, flag_reason, flagged_at, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, person *models.Person) error {
	if err := s.insert(ctx, s.db, person); err != nil {
		return fmt.Errorf("create person: %w", err)
	}
	return nil
}

func (s *PostgresStore) insert(ctx context.Context, db database.DBTX, person *models.Person) error {
	query := `
		INSERT INTO people (` + personColumns + `)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, NULLIF($8, ''), $9, $10, $11, $12, NULLIF($13, ''), $14, $15, $16)
	`
	_, err := db.ExecContext(ctx, query,
		person.ID.String(), person.InstitutionID.String(),
		person.FirstName, person.LastName,
		person.NormalizedEmail, person.NormalizedPhone,
		person.DateOfBirth, person.Gender, addressIDPtr(person.AddressID),
		string(person.CreatedSource), personIDPtr(person.MergedFromPersonID),
		person.IsFlagged, person.FlagReason, person.FlaggedAt,
		person.CreatedAt, person.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	return err
}

// CreateIfAbsent claims the person's identity key and inserts the record in
// one transaction. If the key is already claimed, the claiming person is
// returned instead and nothing is written, so two simultaneous registrations
// with the same identity resolve to one row.
func (s *PostgresStore) CreateIfAbsent(ctx context.Context, person *models.Person) (*models.Person, bool, error) {
	if s.conn == nil {
		return nil, false, fmt.Errorf("create-if-absent requires a root connection, not a transaction scope")
	}
	key := person.IdentityKey()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin create-if-absent: %w", err)
	}
	defer tx.Rollback()

	if err := s.insert(ctx, tx, person); err != nil {
		return nil, false, fmt.Errorf("create person: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO person_identity_claims (identity_key, person_id)
		VALUES ($1, $2)
		ON CONFLICT (identity_key) DO NOTHING
	`, key, person.ID.String())
	if err != nil {
		return nil, false, fmt.Errorf("claim identity key: %w", err)
	}
	claimed, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("claim identity key: %w", err)
	}

	if claimed == 0 {
		// Lost the race: roll back our insert and return the claimant.
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			return nil, false, fmt.Errorf("rollback create-if-absent: %w", err)
		}
		existing, err := s.findByClaim(ctx, key)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit create-if-absent: %w", err)
	}
	return person, true, nil
}

func (s *PostgresStore) findByClaim(ctx context.Context, key string) (*models.Person, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+prefixed("p")+`
		FROM people p
		JOIN person_identity_claims c ON c.person_id = p.id
		WHERE c.identity_key = $1
	`, key)
	person, err := scanPerson(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find person by identity claim: %w", err)
	}
	return person, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, personID id.PersonID) (*models.Person, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+personColumns+` FROM people WHERE id = $1`, personID.String())
	person, err := scanPerson(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find person: %w", err)
	}
	return person, nil
}

func (s *PostgresStore) Update(ctx context.Context, person *models.Person) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE people SET
			first_name = $2, last_name = $3,
			normalized_email = NULLIF($4, ''), normalized_phone = NULLIF($5, ''),
			date_of_birth = $6, gender = NULLIF($7, ''), address_id = $8,
			merged_from_person_id = $9,
			is_flagged = $10, flag_reason = NULLIF($11, ''), flagged_at = $12,
			updated_at = $13
		WHERE id = $1
	`,
		person.ID.String(), person.FirstName, person.LastName,
		person.NormalizedEmail, person.NormalizedPhone,
		person.DateOfBirth, person.Gender, addressIDPtr(person.AddressID),
		personIDPtr(person.MergedFromPersonID),
		person.IsFlagged, person.FlagReason, person.FlaggedAt,
		person.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update person: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update person rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, personID id.PersonID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM people WHERE id = $1`, personID.String())
	if err != nil {
		return fmt.Errorf("delete person: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete person rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FindByEmail(ctx context.Context, institutionID id.InstitutionID, normalizedEmail string) ([]*models.Person, error) {
	if normalizedEmail == "" {
		return nil, nil
	}
	return s.list(ctx, `
		SELECT `+personColumns+` FROM people
		WHERE institution_id = $1 AND normalized_email = $2
		ORDER BY created_at, id
	`, institutionID.String(), normalizedEmail)
}

func (s *PostgresStore) FindByPhone(ctx context.Context, institutionID id.InstitutionID, normalizedPhone string) ([]*models.Person, error) {
	if normalizedPhone == "" {
		return nil, nil
	}
	return s.list(ctx, `
		SELECT `+personColumns+` FROM people
		WHERE institution_id = $1 AND normalized_phone = $2
		ORDER BY created_at, id
	`, institutionID.String(), normalizedPhone)
}

func (s *PostgresStore) FindByNameAndDOB(ctx context.Context, institutionID id.InstitutionID, firstName, lastName string, dob time.Time) ([]*models.Person, error) {
	return s.list(ctx, `
		SELECT `+personColumns+` FROM people
		WHERE institution_id = $1
		  AND lower(first_name) = $2 AND lower(last_name) = $3
		  AND date_of_birth = $4
		ORDER BY created_at, id
	`, institutionID.String(), normalize.Name(firstName), normalize.Name(lastName), dob)
}

func (s *PostgresStore) ListWithPhone(ctx context.Context, institutionID id.InstitutionID) ([]*models.Person, error) {
	return s.list(ctx, `
		SELECT `+personColumns+` FROM people
		WHERE institution_id = $1 AND normalized_phone IS NOT NULL
		ORDER BY created_at, id
	`, institutionID.String())
}

func (s *PostgresStore) ListWithEmail(ctx context.Context, institutionID id.InstitutionID) ([]*models.Person, error) {
	return s.list(ctx, `
		SELECT `+personColumns+` FROM people
		WHERE institution_id = $1 AND normalized_email IS NOT NULL
		ORDER BY created_at, id
	`, institutionID.String())
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*models.Person, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list people: %w", err)
	}
	defer rows.Close()

	var out []*models.Person
	for rows.Next() {
		person, err := scanPerson(rows)
		if err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		out = append(out, person)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPerson(row rowScanner) (*models.Person, error) {
	var (
		p                       models.Person
		personID, institutionID string
		email, phone, gender    sql.NullString
		flagReason              sql.NullString
		mergedFrom, addressID   sql.NullString
		dob, flaggedAt          sql.NullTime
		source                  string
	)
	err := row.Scan(
		&personID, &institutionID, &p.FirstName, &p.LastName,
		&email, &phone, &dob, &gender, &addressID, &source, &mergedFrom,
		&p.IsFlagged, &flagReason, &flaggedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	pid, err := id.ParsePersonID(personID)
	if err != nil {
		return nil, err
	}
	iid, err := id.ParseInstitutionID(institutionID)
	if err != nil {
		return nil, err
	}
	p.ID = pid
	p.InstitutionID = iid
	p.NormalizedEmail = email.String
	p.NormalizedPhone = phone.String
	p.Gender = gender.String
	p.FlagReason = flagReason.String
	p.CreatedSource = models.Source(source)
	if dob.Valid {
		d := dob.Time
		p.DateOfBirth = &d
	}
	if flaggedAt.Valid {
		at := flaggedAt.Time
		p.FlaggedAt = &at
	}
	if addressID.Valid {
		addr, err := id.ParseAddressID(addressID.String)
		if err != nil {
			return nil, err
		}
		p.AddressID = &addr
	}
	if mergedFrom.Valid {
		from, err := id.ParsePersonID(mergedFrom.String)
		if err != nil {
			return nil, err
		}
		p.MergedFromPersonID = &from
	}
	return &p, nil
}

func personIDPtr(p *id.PersonID) any {
	if p == nil {
		return nil
	}
	return p.String()
}

func addressIDPtr(a *id.AddressID) any {
	if a == nil {
		return nil
	}
	return a.String()
}

func prefixed(alias string) string {
	return alias + `.id, ` + alias + `.institution_id, ` + alias + `.first_name, ` + alias + `.last_name, ` +
		alias + `.normalized_email, ` + alias + `.normalized_phone, ` + alias + `.date_of_birth, ` +
		alias + `.gender, ` + alias + `.address_id, ` + alias + `.created_source, ` + alias + `.merged_from_person_id, ` +
		alias + `.is_flagged, ` + alias + `.flag_reason, ` + alias + `.flagged_at, ` +
		alias + `.created_at, ` + alias + `.updated_at`
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
