package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/LeventeLantos/leadline/internal/model"
)

const attemptColumns = `id, lead_id, worker_id, number_id, from_number, to_number, channel, direction,
	status, outcome, failure_class, carrier_ref, created_at, updated_at`

type PostgresAttemptRepo struct {
	db *sql.DB
}

func NewPostgresAttemptRepo(db *sql.DB) *PostgresAttemptRepo {
	return &PostgresAttemptRepo{db: db}
}

func (r *PostgresAttemptRepo) Insert(ctx context.Context, a *model.Attempt) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attempts (id, lead_id, worker_id, number_id, from_number, to_number, channel,
		                      direction, status, carrier_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
	`,
		a.ID, a.LeadID, a.WorkerID, a.NumberID, a.FromNumber, a.ToNumber, string(a.Channel),
		string(a.Direction), string(a.Status), a.CarrierRef, createdAt(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert attempt %s: %w", a.ID, err)
	}
	return nil
}

func (r *PostgresAttemptRepo) Get(ctx context.Context, attemptID string) (*model.Attempt, error) {
	a, err := scanPostgresAttempt(r.db.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE id = $1`, attemptID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func (r *PostgresAttemptRepo) Finish(ctx context.Context, attemptID string, status model.AttemptStatus, failure *model.FailureClass, carrierRef string, now time.Time) (*model.Attempt, error) {
	var fc *string
	if failure != nil {
		s := string(*failure)
		fc = &s
	}

	a, err := scanPostgresAttempt(r.db.QueryRowContext(ctx, `
		UPDATE attempts
		SET status = $2,
		    failure_class = $3,
		    carrier_ref = COALESCE(NULLIF($4, ''), carrier_ref),
		    updated_at = $5
		WHERE id = $1 AND status = 'initiated'
		RETURNING `+attemptColumns, attemptID, string(status), fc, carrierRef, now.UTC()))
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := r.Get(ctx, attemptID); getErr != nil {
			return nil, getErr
		}
		return nil, ErrTerminal
	}
	return a, err
}

func (r *PostgresAttemptRepo) RecordOutcome(ctx context.Context, leadID string, outcome model.Outcome, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attempts
		SET outcome = $2, updated_at = $3
		WHERE id = (
			SELECT id FROM attempts
			WHERE lead_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT 1
			FOR UPDATE
		) AND outcome IS NULL
	`, leadID, string(outcome), now.UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PostgresAttemptRepo) ListByLead(ctx context.Context, leadID string) ([]model.Attempt, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+attemptColumns+`
		FROM attempts
		WHERE lead_id = $1
		ORDER BY created_at ASC
	`, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Attempt
	for rows.Next() {
		a, err := scanPostgresAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (r *PostgresAttemptRepo) SetCarrierRef(ctx context.Context, attemptID, carrierRef string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE attempts SET carrier_ref = $2, updated_at = $3 WHERE id = $1`,
		attemptID, carrierRef, now.UTC())
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *PostgresAttemptRepo) FindByCarrierRef(ctx context.Context, carrierRef string) (*model.Attempt, error) {
	if carrierRef == "" {
		return nil, ErrNotFound
	}
	a, err := scanPostgresAttempt(r.db.QueryRowContext(ctx, `
		SELECT `+attemptColumns+`
		FROM attempts
		WHERE carrier_ref = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, carrierRef))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func scanPostgresAttempt(row scanner) (*model.Attempt, error) {
	var (
		a            model.Attempt
		channel      string
		direction    string
		status       string
		outcome      sql.NullString
		failureClass sql.NullString
	)
	if err := row.Scan(
		&a.ID,
		&a.LeadID,
		&a.WorkerID,
		&a.NumberID,
		&a.FromNumber,
		&a.ToNumber,
		&channel,
		&direction,
		&status,
		&outcome,
		&failureClass,
		&a.CarrierRef,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	fillAttempt(&a, channel, direction, status, outcome, failureClass)
	return &a, nil
}

func fillAttempt(a *model.Attempt, channel, direction, status string, outcome, failureClass sql.NullString) {
	a.Channel = model.Channel(channel)
	a.Direction = model.Direction(direction)
	a.Status = model.AttemptStatus(status)
	if outcome.Valid {
		o := model.Outcome(outcome.String)
		a.Outcome = &o
	}
	if failureClass.Valid {
		fc := model.FailureClass(failureClass.String)
		a.FailureClass = &fc
	}
}
