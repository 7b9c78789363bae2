package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"hearth/internal/registration/models"
	id "hearth/pkg/domain"
	"hearth/pkg/platform/sentinel"
)

const uniqueViolation = "23505"

// PostgresStore persists the registration aggregate in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const submissionColumns = `id, event_id, institution_id, order_id, submission_channel, raw_payload,
	processing_status, error_message, created_at, updated_at`

func (s *PostgresStore) CreateSubmission(ctx context.Context, submission *models.Submission) error {
	query := `
		INSERT INTO registration_submissions (` + submissionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query,
		submission.ID.String(), submission.EventID.String(), submission.InstitutionID.String(),
		orderIDPtr(submission.OrderID), string(submission.Channel), string(submission.RawPayload),
		string(submission.Status), submission.ErrorMessage,
		submission.CreatedAt, submission.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("create submission: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindSubmission(ctx context.Context, submissionID id.SubmissionID) (*models.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM registration_submissions WHERE id = $1`
	sub, err := scanSubmission(s.db.QueryRowContext(ctx, query, submissionID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find submission: %w", err)
	}
	return sub, nil
}

func (s *PostgresStore) UpdateSubmission(ctx context.Context, submission *models.Submission) error {
	query := `
		UPDATE registration_submissions
		SET processing_status = $1, error_message = NULLIF($2, ''), updated_at = $3
		WHERE id = $4
	`
	res, err := s.db.ExecContext(ctx, query,
		string(submission.Status), submission.ErrorMessage, submission.UpdatedAt,
		submission.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("update submission: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

const participantColumns = `id, submission_id, first_name, last_name, email, phone, date_of_birth,
	role, ticket_tier_id, person_id, match_explanation, review_status, created_at, updated_at`

func (s *PostgresStore) CreateParticipant(ctx context.Context, participant *models.Participant) error {
	explanation, err := marshalExplanation(participant.Explanation)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO registration_participants (` + participantColumns + `)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = s.db.ExecContext(ctx, query,
		participant.ID.String(), participant.SubmissionID.String(),
		participant.FirstName, participant.LastName,
		participant.Email, participant.Phone, participant.DateOfBirth,
		participant.Role, tierIDPtr(participant.TicketTierID), personIDPtr(participant.PersonID),
		explanation, string(participant.ReviewStatus),
		participant.CreatedAt, participant.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("create participant: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindParticipant(ctx context.Context, participantID id.ParticipantID) (*models.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM registration_participants WHERE id = $1`
	p, err := scanParticipant(s.db.QueryRowContext(ctx, query, participantID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find participant: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) UpdateParticipant(ctx context.Context, participant *models.Participant) error {
	explanation, err := marshalExplanation(participant.Explanation)
	if err != nil {
		return err
	}
	query := `
		UPDATE registration_participants
		SET person_id = $1, match_explanation = $2, review_status = $3, updated_at = $4
		WHERE id = $5
	`
	res, err := s.db.ExecContext(ctx, query,
		personIDPtr(participant.PersonID), explanation, string(participant.ReviewStatus),
		participant.UpdatedAt, participant.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("update participant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ParticipantsBySubmission(ctx context.Context, submissionID id.SubmissionID) ([]*models.Participant, error) {
	query := `
		SELECT ` + participantColumns + `
		FROM registration_participants
		WHERE submission_id = $1
		ORDER BY created_at, id
	`
	rows, err := s.db.QueryContext(ctx, query, submissionID.String())
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var out []*models.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const participationColumns = `id, event_id, person_id, ticket_tier_id, order_id, qr_code_token,
	status, checked_in_at, created_at`

func (s *PostgresStore) FindParticipation(ctx context.Context, eventID id.EventID, personID id.PersonID) (*models.Participation, error) {
	query := `SELECT ` + participationColumns + ` FROM event_participations WHERE event_id = $1 AND person_id = $2`
	p, err := scanParticipation(s.db.QueryRowContext(ctx, query, eventID.String(), personID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find participation: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) CreateParticipation(ctx context.Context, participation *models.Participation) error {
	query := `
		INSERT INTO event_participations (` + participationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(ctx, query,
		participation.ID.String(), participation.EventID.String(), participation.PersonID.String(),
		tierIDPtr(participation.TicketTierID), orderIDPtr(participation.OrderID),
		participation.QRCodeToken, string(participation.Status),
		participation.CheckedInAt, participation.CreatedAt,
	)
	if isUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("create participation: %w", err)
	}
	return nil
}

func (s *PostgresStore) ParticipationsByOrder(ctx context.Context, orderID id.OrderID) ([]*models.Participation, error) {
	query := `SELECT ` + participationColumns + ` FROM event_participations WHERE order_id = $1 ORDER BY created_at, id`
	rows, err := s.db.QueryContext(ctx, query, orderID.String())
	if err != nil {
		return nil, fmt.Errorf("list participations by order: %w", err)
	}
	defer rows.Close()

	var out []*models.Participation
	for rows.Next() {
		p, err := scanParticipation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participation: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateParticipation(ctx context.Context, participation *models.Participation) error {
	query := `
		UPDATE event_participations
		SET status = $1, checked_in_at = $2
		WHERE event_id = $3 AND person_id = $4
	`
	res, err := s.db.ExecContext(ctx, query,
		string(participation.Status), participation.CheckedInAt,
		participation.EventID.String(), participation.PersonID.String(),
	)
	if err != nil {
		return fmt.Errorf("update participation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateTier(ctx context.Context, tier *models.TicketTier) error {
	query := `INSERT INTO ticket_tiers (id, event_id, name, sold_count) VALUES ($1, $2, $3, $4)`
	_, err := s.db.ExecContext(ctx, query, tier.ID.String(), tier.EventID.String(), tier.Name, tier.SoldCount)
	if isUniqueViolation(err) {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("create ticket tier: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindTier(ctx context.Context, tierID id.TicketTierID) (*models.TicketTier, error) {
	query := `SELECT id, event_id, name, sold_count FROM ticket_tiers WHERE id = $1`
	var (
		t              models.TicketTier
		rawID, rawEvent string
	)
	err := s.db.QueryRowContext(ctx, query, tierID.String()).Scan(&rawID, &rawEvent, &t.Name, &t.SoldCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find ticket tier: %w", err)
	}
	if t.ID, err = id.ParseTicketTierID(rawID); err != nil {
		return nil, err
	}
	if t.EventID, err = id.ParseEventID(rawEvent); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PostgresStore) IncrementSold(ctx context.Context, tierID id.TicketTierID) error {
	res, err := s.db.ExecContext(ctx, `UPDATE ticket_tiers SET sold_count = sold_count + 1 WHERE id = $1`, tierID.String())
	if err != nil {
		return fmt.Errorf("increment sold count: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (*models.Submission, error) {
	var (
		sub                      models.Submission
		rawID, rawEvent, rawInst string
		rawOrder, errMsg         sql.NullString
		channel, status          string
		payload                  []byte
	)
	if err := row.Scan(&rawID, &rawEvent, &rawInst, &rawOrder, &channel, &payload,
		&status, &errMsg, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if sub.ID, err = id.ParseSubmissionID(rawID); err != nil {
		return nil, err
	}
	if sub.EventID, err = id.ParseEventID(rawEvent); err != nil {
		return nil, err
	}
	if sub.InstitutionID, err = id.ParseInstitutionID(rawInst); err != nil {
		return nil, err
	}
	if rawOrder.Valid {
		orderID, err := id.ParseOrderID(rawOrder.String)
		if err != nil {
			return nil, err
		}
		sub.OrderID = &orderID
	}
	sub.Channel = models.Channel(channel)
	sub.RawPayload = json.RawMessage(payload)
	sub.Status = models.SubmissionStatus(status)
	sub.ErrorMessage = errMsg.String
	return &sub, nil
}

func scanParticipant(row rowScanner) (*models.Participant, error) {
	var (
		p                     models.Participant
		rawID, rawSubmission  string
		email, phone          sql.NullString
		dob                   sql.NullTime
		rawTier, rawPerson    sql.NullString
		explanation           []byte
		review                string
	)
	if err := row.Scan(&rawID, &rawSubmission, &p.FirstName, &p.LastName, &email, &phone, &dob,
		&p.Role, &rawTier, &rawPerson, &explanation, &review, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if p.ID, err = id.ParseParticipantID(rawID); err != nil {
		return nil, err
	}
	if p.SubmissionID, err = id.ParseSubmissionID(rawSubmission); err != nil {
		return nil, err
	}
	p.Email = email.String
	p.Phone = phone.String
	if dob.Valid {
		d := dob.Time
		p.DateOfBirth = &d
	}
	if rawTier.Valid {
		tierID, err := id.ParseTicketTierID(rawTier.String)
		if err != nil {
			return nil, err
		}
		p.TicketTierID = &tierID
	}
	if rawPerson.Valid {
		personID, err := id.ParsePersonID(rawPerson.String)
		if err != nil {
			return nil, err
		}
		p.PersonID = &personID
	}
	if len(explanation) > 0 {
		var expl models.MatchExplanation
		if err := json.Unmarshal(explanation, &expl); err != nil {
			return nil, fmt.Errorf("decode match explanation: %w", err)
		}
		p.Explanation = &expl
	}
	p.ReviewStatus = models.ReviewStatus(review)
	return &p, nil
}

func scanParticipation(row rowScanner) (*models.Participation, error) {
	var (
		p                           models.Participation
		rawID, rawEvent, rawPerson  string
		rawTier, rawOrder           sql.NullString
		status                      string
		checkedIn                   sql.NullTime
	)
	if err := row.Scan(&rawID, &rawEvent, &rawPerson, &rawTier, &rawOrder,
		&p.QRCodeToken, &status, &checkedIn, &p.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if p.ID, err = id.ParseParticipationID(rawID); err != nil {
		return nil, err
	}
	if p.EventID, err = id.ParseEventID(rawEvent); err != nil {
		return nil, err
	}
	if p.PersonID, err = id.ParsePersonID(rawPerson); err != nil {
		return nil, err
	}
	if rawTier.Valid {
		tierID, err := id.ParseTicketTierID(rawTier.String)
		if err != nil {
			return nil, err
		}
		p.TicketTierID = &tierID
	}
	if rawOrder.Valid {
		orderID, err := id.ParseOrderID(rawOrder.String)
		if err != nil {
			return nil, err
		}
		p.OrderID = &orderID
	}
	p.Status = models.ParticipationStatus(status)
	if checkedIn.Valid {
		t := checkedIn.Time
		p.CheckedInAt = &t
	}
	return &p, nil
}

func marshalExplanation(expl *models.MatchExplanation) ([]byte, error) {
	if expl == nil {
		return nil, nil
	}
	b, err := json.Marshal(expl)
	if err != nil {
		return nil, fmt.Errorf("encode match explanation: %w", err)
	}
	return b, nil
}

func orderIDPtr(orderID *id.OrderID) *string {
	if orderID == nil {
		return nil
	}
	s := orderID.String()
	return &s
}

func tierIDPtr(tierID *id.TicketTierID) *string {
	if tierID == nil {
		return nil
	}
	s := tierID.String()
	return &s
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
