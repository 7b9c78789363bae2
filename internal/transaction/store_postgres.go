package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"hearth/internal/platform/database"
	id "hearth/pkg/domain"
	"hearth/pkg/platform/sentinel"
)

// PostgresStore persists transactions in PostgreSQL.
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

func (s *PostgresStore) Create(ctx context.Context, txn *Transaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (id, person_id, household_id, order_id, amount_cents, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, txn.ID.String(), txn.PersonID.String(), householdIDPtr(txn.HouseholdID), orderIDPtr(txn.OrderID), txn.AmountCents, txn.CreatedAt)
	if err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, txnID id.TransactionID) (*Transaction, error) {
	var (
		txn                   Transaction
		tid, pid              string
		householdID, orderIDs sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, person_id, household_id, order_id, amount_cents, created_at
		FROM transactions WHERE id = $1
	`, txnID.String()).Scan(&tid, &pid, &householdID, &orderIDs, &txn.AmountCents, &txn.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find transaction: %w", err)
	}

	parsed, err := id.ParseTransactionID(tid)
	if err != nil {
		return nil, err
	}
	txn.ID = parsed
	person, err := id.ParsePersonID(pid)
	if err != nil {
		return nil, err
	}
	txn.PersonID = person
	if householdID.Valid {
		hid, err := id.ParseHouseholdID(householdID.String)
		if err != nil {
			return nil, err
		}
		txn.HouseholdID = &hid
	}
	if orderIDs.Valid {
		oid, err := id.ParseOrderID(orderIDs.String)
		if err != nil {
			return nil, err
		}
		txn.OrderID = &oid
	}
	return &txn, nil
}

func (s *PostgresStore) ListIDsByPerson(ctx context.Context, personID id.PersonID) ([]id.TransactionID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM transactions WHERE person_id = $1 ORDER BY created_at, id
	`, personID.String())
	if err != nil {
		return nil, fmt.Errorf("list transaction ids: %w", err)
	}
	defer rows.Close()

	var out []id.TransactionID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan transaction id: %w", err)
		}
		tid, err := id.ParseTransactionID(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, tid)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RepointPerson(ctx context.Context, from, to id.PersonID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET person_id = $2 WHERE person_id = $1
	`, from.String(), to.String())
	if err != nil {
		return fmt.Errorf("repoint transactions: %w", err)
	}
	return nil
}

func (s *PostgresStore) RepointByIDs(ctx context.Context, txnIDs []id.TransactionID, to id.PersonID) error {
	if len(txnIDs) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET person_id = $2 WHERE id = ANY($1)
	`, idStrings(txnIDs), to.String())
	if err != nil {
		return fmt.Errorf("repoint transactions by id: %w", err)
	}
	return nil
}

func (s *PostgresStore) AttachHousehold(ctx context.Context, personIDs []id.PersonID, householdID id.HouseholdID) error {
	if len(personIDs) == 0 {
		return nil
	}
	people := make([]string, len(personIDs))
	for i, pid := range personIDs {
		people[i] = pid.String()
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET household_id = $2 WHERE person_id = ANY($1)
	`, people, householdID.String())
	if err != nil {
		return fmt.Errorf("attach transactions to household: %w", err)
	}
	return nil
}

func (s *PostgresStore) DetachHouseholds(ctx context.Context, householdIDs []id.HouseholdID) error {
	if len(householdIDs) == 0 {
		return nil
	}
	households := make([]string, len(householdIDs))
	for i, hid := range householdIDs {
		households[i] = hid.String()
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET household_id = NULL WHERE household_id = ANY($1)
	`, households)
	if err != nil {
		return fmt.Errorf("detach transactions from households: %w", err)
	}
	return nil
}

func householdIDPtr(h *id.HouseholdID) any {
	if h == nil {
		return nil
	}
	return h.String()
}

func orderIDPtr(o *id.OrderID) any {
	if o == nil {
		return nil
	}
	return o.String()
}

func idStrings(ids []id.TransactionID) []string {
	out := make([]string, len(ids))
	for i, tid := range ids {
		out[i] = tid.String()
	}
	return out
}
