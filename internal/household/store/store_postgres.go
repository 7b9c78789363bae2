package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"hearth/internal/household/models"
	"hearth/internal/platform/database"
	id "hearth/pkg/domain"
	"hearth/pkg/platform/sentinel"
)

const uniqueViolation = "23505"

// PostgresStore persists households and memberships in PostgreSQL. The
// one-household-per-person invariant is carried by a unique constraint on
// household_members.person_id, so AddMember and RepointMember surface
// sentinel.ErrConflict straight from the database.
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

const householdColumns = `id, institution_id, display_name, confidence_score, confidence_reason, created_via, created_at`

const memberColumns = `id, household_id, person_id, role, grouped_by, created_at`

func (s *PostgresStore) CreateHousehold(ctx context.Context, household *models.Household) error {
	query := `
		INSERT INTO households (` + householdColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		household.ID.String(), household.InstitutionID.String(),
		household.DisplayName, household.ConfidenceScore, household.ConfidenceReason,
		string(household.CreatedVia), household.CreatedAt,
	)
	if isUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("create household: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindHousehold(ctx context.Context, householdID id.HouseholdID) (*models.Household, error) {
	query := `SELECT ` + householdColumns + ` FROM households WHERE id = $1`
	h, err := scanHousehold(s.db.QueryRowContext(ctx, query, householdID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find household: %w", err)
	}
	return h, nil
}

func (s *PostgresStore) DeleteHousehold(ctx context.Context, householdID id.HouseholdID) error {
	// Memberships cascade with the household row.
	if _, err := s.db.ExecContext(ctx, `DELETE FROM households WHERE id = $1`, householdID.String()); err != nil {
		return fmt.Errorf("delete household: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteGenerated(ctx context.Context, institutionID id.InstitutionID) ([]id.HouseholdID, error) {
	// Memberships go with their households via ON DELETE CASCADE. Manual
	// households (and so their memberships) survive the wipe.
	query := `
		DELETE FROM households
		WHERE institution_id = $1 AND created_via <> $2
		RETURNING id
	`
	rows, err := s.db.QueryContext(ctx, query, institutionID.String(), string(models.ByManual))
	if err != nil {
		return nil, fmt.Errorf("delete generated households: %w", err)
	}
	defer rows.Close()

	var deleted []id.HouseholdID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan deleted household: %w", err)
		}
		hid, err := id.ParseHouseholdID(raw)
		if err != nil {
			return nil, err
		}
		deleted = append(deleted, hid)
	}
	return deleted, rows.Err()
}

func (s *PostgresStore) AddMember(ctx context.Context, member *models.Member) error {
	query := `
		INSERT INTO household_members (` + memberColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		member.ID.String(), member.HouseholdID.String(), member.PersonID.String(),
		string(member.Role), string(member.GroupedBy), member.CreatedAt,
	)
	if isUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("add household member: %w", err)
	}
	return nil
}

func (s *PostgresStore) MemberByID(ctx context.Context, membershipID id.MembershipID) (*models.Member, error) {
	query := `SELECT ` + memberColumns + ` FROM household_members WHERE id = $1`
	m, err := scanMember(s.db.QueryRowContext(ctx, query, membershipID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find membership: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) MemberByPerson(ctx context.Context, personID id.PersonID) (*models.Member, error) {
	query := `SELECT ` + memberColumns + ` FROM household_members WHERE person_id = $1`
	m, err := scanMember(s.db.QueryRowContext(ctx, query, personID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find membership by person: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) MembersByHousehold(ctx context.Context, householdID id.HouseholdID) ([]*models.Member, error) {
	query := `
		SELECT ` + memberColumns + `
		FROM household_members
		WHERE household_id = $1
		ORDER BY created_at, id
	`
	rows, err := s.db.QueryContext(ctx, query, householdID.String())
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var out []*models.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) HousedPersonIDs(ctx context.Context, institutionID id.InstitutionID) (map[id.PersonID]bool, error) {
	query := `
		SELECT m.person_id
		FROM household_members m
		JOIN households h ON h.id = m.household_id
		WHERE h.institution_id = $1
	`
	rows, err := s.db.QueryContext(ctx, query, institutionID.String())
	if err != nil {
		return nil, fmt.Errorf("list housed people: %w", err)
	}
	defer rows.Close()

	out := make(map[id.PersonID]bool)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan housed person: %w", err)
		}
		pid, err := id.ParsePersonID(raw)
		if err != nil {
			return nil, err
		}
		out[pid] = true
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteMember(ctx context.Context, membershipID id.MembershipID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM household_members WHERE id = $1`, membershipID.String())
	if err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) RepointMember(ctx context.Context, membershipID id.MembershipID, personID id.PersonID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE household_members SET person_id = $1 WHERE id = $2`,
		personID.String(), membershipID.String(),
	)
	if isUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("repoint membership: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHousehold(row rowScanner) (*models.Household, error) {
	var (
		h             models.Household
		rawID, rawInst string
		via           string
	)
	if err := row.Scan(&rawID, &rawInst, &h.DisplayName, &h.ConfidenceScore, &h.ConfidenceReason, &via, &h.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if h.ID, err = id.ParseHouseholdID(rawID); err != nil {
		return nil, err
	}
	if h.InstitutionID, err = id.ParseInstitutionID(rawInst); err != nil {
		return nil, err
	}
	h.CreatedVia = models.GroupedBy(via)
	return &h, nil
}

func scanMember(row rowScanner) (*models.Member, error) {
	var (
		m                          models.Member
		rawID, rawHousehold, rawPerson string
		role, groupedBy            string
	)
	if err := row.Scan(&rawID, &rawHousehold, &rawPerson, &role, &groupedBy, &m.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if m.ID, err = id.ParseMembershipID(rawID); err != nil {
		return nil, err
	}
	if m.HouseholdID, err = id.ParseHouseholdID(rawHousehold); err != nil {
		return nil, err
	}
	if m.PersonID, err = id.ParsePersonID(rawPerson); err != nil {
		return nil, err
	}
	m.Role = models.Role(role)
	m.GroupedBy = models.GroupedBy(groupedBy)
	return &m, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
