package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	id "hearth/pkg/domain"
)

// PostgresStore appends audit events to an insert-only table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	var detail []byte
	if len(event.Detail) > 0 {
		encoded, err := json.Marshal(event.Detail)
		if err != nil {
			return fmt.Errorf("encode audit detail: %w", err)
		}
		detail = encoded
	}

	var personID *string
	if !event.PersonID.IsNil() {
		v := event.PersonID.String()
		personID = &v
	}

	query := `
		INSERT INTO audit_events (occurred_at, person_id, action, reason, actor, request_id, detail)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7)
	`
	if _, err := s.db.ExecContext(ctx, query,
		event.Timestamp, personID, event.Action, event.Reason,
		event.Actor, event.RequestID, detail,
	); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByPerson(ctx context.Context, personID id.PersonID) ([]Event, error) {
	query := `
		SELECT occurred_at, person_id, action, reason, actor, request_id, detail
		FROM audit_events
		WHERE person_id = $1
		ORDER BY occurred_at, id
	`
	rows, err := s.db.QueryContext(ctx, query, personID.String())
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e                       Event
			rawPerson               sql.NullString
			reason, actor, reqID    sql.NullString
			detail                  []byte
		)
		if err := rows.Scan(&e.Timestamp, &rawPerson, &e.Action, &reason, &actor, &reqID, &detail); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if rawPerson.Valid {
			pid, err := id.ParsePersonID(rawPerson.String)
			if err != nil {
				return nil, err
			}
			e.PersonID = pid
		}
		e.Reason = reason.String
		e.Actor = actor.String
		e.RequestID = reqID.String
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("decode audit detail: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
