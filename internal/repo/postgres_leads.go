package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/LeventeLantos/leadline/internal/model"
)

const leadColumns = `id, phone, name, organization, campaign_id, status, attempts, priority,
	locked_by, locked_at, next_call_at, last_outcome, notes, created_at, updated_at`

// READY outranks CALLBACK, then earliest due, then least retried.
const leadDispatchOrder = `
	ORDER BY CASE status WHEN 'READY' THEN 1 ELSE 0 END DESC,
	         next_call_at ASC NULLS FIRST,
	         attempts ASC,
	         priority DESC,
	         created_at ASC`

// lock_not_available, raised by FOR UPDATE NOWAIT.
const pgLockNotAvailable = "55P03"

type scanner interface {
	Scan(dest ...any) error
}

type PostgresLeadRepo struct {
	db *sql.DB
}

func NewPostgresLeadRepo(db *sql.DB) *PostgresLeadRepo {
	return &PostgresLeadRepo{db: db}
}

func (r *PostgresLeadRepo) ClaimNext(ctx context.Context, workerID, campaignID string, now time.Time) (*model.Lead, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		SELECT id
		FROM leads
		WHERE locked_by IS NULL
		  AND status IN ('READY', 'CALLBACK')
		  AND (next_call_at IS NULL OR next_call_at <= $1)`
	args := []any{now}
	if campaignID != "" {
		query += ` AND campaign_id = $2`
		args = append(args, campaignID)
	}
	query += leadDispatchOrder + `
		LIMIT 1
		FOR UPDATE SKIP LOCKED`

	var id string
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	lead, err := scanPostgresLead(tx.QueryRowContext(ctx, `
		UPDATE leads
		SET status = 'LOCKED',
		    locked_by = $2,
		    locked_at = $3,
		    next_call_at = NULL,
		    updated_at = $3
		WHERE id = $1
		RETURNING `+leadColumns, id, workerID, now.UTC()))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return lead, nil
}

func (r *PostgresLeadRepo) ClaimByID(ctx context.Context, leadID, workerID string, now time.Time) (*model.Lead, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var lockedBy sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT locked_by FROM leads WHERE id = $1 FOR UPDATE NOWAIT
	`, leadID).Scan(&lockedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
			return nil, ErrLockHeld
		}
		return nil, err
	}

	if lockedBy.Valid && lockedBy.String != workerID {
		return nil, ErrLockHeld
	}

	var lead *model.Lead
	if lockedBy.Valid {
		lead, err = scanPostgresLead(tx.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, leadID))
	} else {
		lead, err = scanPostgresLead(tx.QueryRowContext(ctx, `
			UPDATE leads
			SET status = 'LOCKED',
			    locked_by = $2,
			    locked_at = $3,
			    next_call_at = NULL,
			    updated_at = $3
			WHERE id = $1
			RETURNING `+leadColumns, leadID, workerID, now.UTC()))
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return lead, nil
}

func (r *PostgresLeadRepo) Release(ctx context.Context, leadID, workerID string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE leads
		SET status = 'READY',
		    locked_by = NULL,
		    locked_at = NULL,
		    updated_at = $3
		WHERE id = $1 AND status = 'LOCKED' AND locked_by = $2
	`, leadID, workerID, now.UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PostgresLeadRepo) Complete(ctx context.Context, leadID string, c model.Completion, now time.Time) (*model.Lead, *string, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		status   string
		lockedBy sql.NullString
		token    sql.NullString
	)
	err = tx.QueryRowContext(ctx, `
		SELECT status, locked_by, completion_token FROM leads WHERE id = $1 FOR UPDATE
	`, leadID).Scan(&status, &lockedBy, &token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	if c.Token != "" && token.String == c.Token {
		return nil, nil, ErrDuplicate
	}
	if model.LeadStatus(status).Terminal() {
		return nil, nil, ErrTerminal
	}

	lead, err := scanPostgresLead(tx.QueryRowContext(ctx, `
		UPDATE leads
		SET status = $2,
		    attempts = attempts + 1,
		    locked_by = NULL,
		    locked_at = NULL,
		    next_call_at = $3,
		    last_outcome = $4,
		    notes = COALESCE(NULLIF($5, ''), notes),
		    completion_token = $7,
		    updated_at = $6
		WHERE id = $1
		RETURNING `+leadColumns,
		leadID, string(c.Status), nullTime(c.NextCallAt), string(c.Outcome), c.Notes, now.UTC(), nullString(c.Token)))
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return lead, stringPtr(lockedBy), nil
}

func (r *PostgresLeadRepo) FindClaim(ctx context.Context, workerID string, lockedAt time.Time) (*model.Lead, error) {
	lead, err := scanPostgresLead(r.db.QueryRowContext(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE status = 'LOCKED' AND locked_by = $1 AND locked_at = $2
		LIMIT 1
	`, workerID, lockedAt.UTC()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return lead, err
}

func (r *PostgresLeadRepo) ReleaseStale(ctx context.Context, cutoff, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE leads
		SET status = 'READY',
		    locked_by = NULL,
		    locked_at = NULL,
		    updated_at = $2
		WHERE status = 'LOCKED' AND locked_at < $1
	`, cutoff.UTC(), now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresLeadRepo) Get(ctx context.Context, leadID string) (*model.Lead, error) {
	lead, err := scanPostgresLead(r.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, leadID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return lead, err
}

func (r *PostgresLeadRepo) Insert(ctx context.Context, lead *model.Lead) error {
	if lead.Status == "" {
		lead.Status = model.Ready
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO leads (id, phone, name, organization, campaign_id, status, attempts, priority,
		                   locked_by, locked_at, next_call_at, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
	`,
		lead.ID, lead.Phone, lead.Name, lead.Organization, nullString(lead.CampaignID),
		string(lead.Status), lead.Attempts, lead.Priority,
		lead.LockedBy, nullTime(lead.LockedAt), nullTime(lead.NextCallAt),
		lead.Notes, createdAt(lead.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert lead %s: %w", lead.ID, err)
	}
	return nil
}

func scanPostgresLead(row scanner) (*model.Lead, error) {
	var (
		l           model.Lead
		campaignID  sql.NullString
		status      string
		lockedBy    sql.NullString
		lockedAt    sql.NullTime
		nextCallAt  sql.NullTime
		lastOutcome sql.NullString
	)
	if err := row.Scan(
		&l.ID,
		&l.Phone,
		&l.Name,
		&l.Organization,
		&campaignID,
		&status,
		&l.Attempts,
		&l.Priority,
		&lockedBy,
		&lockedAt,
		&nextCallAt,
		&lastOutcome,
		&l.Notes,
		&l.CreatedAt,
		&l.UpdatedAt,
	); err != nil {
		return nil, err
	}

	l.CampaignID = campaignID.String
	l.Status = model.LeadStatus(status)
	l.LockedBy = stringPtr(lockedBy)
	l.LockedAt = timePtr(lockedAt)
	l.NextCallAt = timePtr(nextCallAt)
	if lastOutcome.Valid {
		o := model.Outcome(lastOutcome.String)
		l.LastOutcome = &o
	}
	return &l, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func createdAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
