package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/LeventeLantos/leadline/internal/model"
)

type SQLiteAttemptRepo struct {
	db *sql.DB
}

func NewSQLiteAttemptRepo(db *sql.DB) *SQLiteAttemptRepo {
	return &SQLiteAttemptRepo{db: db}
}

func (r *SQLiteAttemptRepo) Insert(ctx context.Context, a *model.Attempt) error {
	created := millis(createdAt(a.CreatedAt))
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attempts (id, lead_id, worker_id, number_id, from_number, to_number, channel,
		                      direction, status, carrier_ref, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID, a.LeadID, a.WorkerID, a.NumberID, a.FromNumber, a.ToNumber, string(a.Channel),
		string(a.Direction), string(a.Status), a.CarrierRef, created, created,
	)
	if err != nil {
		return fmt.Errorf("insert attempt %s: %w", a.ID, err)
	}
	return nil
}

func (r *SQLiteAttemptRepo) Get(ctx context.Context, attemptID string) (*model.Attempt, error) {
	a, err := scanSQLiteAttempt(r.db.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE id = ?`, attemptID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func (r *SQLiteAttemptRepo) Finish(ctx context.Context, attemptID string, status model.AttemptStatus, failure *model.FailureClass, carrierRef string, now time.Time) (*model.Attempt, error) {
	var fc *string
	if failure != nil {
		s := string(*failure)
		fc = &s
	}

	a, err := scanSQLiteAttempt(r.db.QueryRowContext(ctx, `
		UPDATE attempts
		SET status = ?,
		    failure_class = ?,
		    carrier_ref = COALESCE(NULLIF(?, ''), carrier_ref),
		    updated_at = ?
		WHERE id = ? AND status = 'initiated'
		RETURNING `+attemptColumns, string(status), fc, carrierRef, millis(now), attemptID))
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := r.Get(ctx, attemptID); getErr != nil {
			return nil, getErr
		}
		return nil, ErrTerminal
	}
	return a, err
}

func (r *SQLiteAttemptRepo) RecordOutcome(ctx context.Context, leadID string, outcome model.Outcome, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attempts
		SET outcome = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM attempts
			WHERE lead_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		) AND outcome IS NULL
	`, string(outcome), millis(now), leadID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *SQLiteAttemptRepo) ListByLead(ctx context.Context, leadID string) ([]model.Attempt, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+attemptColumns+`
		FROM attempts
		WHERE lead_id = ?
		ORDER BY created_at ASC
	`, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Attempt
	for rows.Next() {
		a, err := scanSQLiteAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (r *SQLiteAttemptRepo) SetCarrierRef(ctx context.Context, attemptID, carrierRef string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE attempts SET carrier_ref = ?, updated_at = ? WHERE id = ?`,
		carrierRef, millis(now), attemptID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *SQLiteAttemptRepo) FindByCarrierRef(ctx context.Context, carrierRef string) (*model.Attempt, error) {
	if carrierRef == "" {
		return nil, ErrNotFound
	}
	a, err := scanSQLiteAttempt(r.db.QueryRowContext(ctx, `
		SELECT `+attemptColumns+`
		FROM attempts
		WHERE carrier_ref = ?
		ORDER BY created_at DESC
		LIMIT 1
	`, carrierRef))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func scanSQLiteAttempt(row scanner) (*model.Attempt, error) {
	var (
		a            model.Attempt
		channel      string
		direction    string
		status       string
		outcome      sql.NullString
		failureClass sql.NullString
		created      int64
		updated      int64
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
		&created,
		&updated,
	); err != nil {
		return nil, err
	}
	fillAttempt(&a, channel, direction, status, outcome, failureClass)
	a.CreatedAt = time.UnixMilli(created).UTC()
	a.UpdatedAt = time.UnixMilli(updated).UTC()
	return &a, nil
}
