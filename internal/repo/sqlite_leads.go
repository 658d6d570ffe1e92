package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/LeventeLantos/leadline/internal/model"
)

// SQLiteLeadRepo runs each transition as a single write statement or an
// immediate transaction, which SQLite serialises against every other writer.
type SQLiteLeadRepo struct {
	db *sql.DB
}

func NewSQLiteLeadRepo(db *sql.DB) *SQLiteLeadRepo {
	return &SQLiteLeadRepo{db: db}
}

const sqliteLeadDispatchOrder = `
	ORDER BY CASE status WHEN 'READY' THEN 1 ELSE 0 END DESC,
	         next_call_at ASC,
	         attempts ASC,
	         priority DESC,
	         created_at ASC`

func (r *SQLiteLeadRepo) ClaimNext(ctx context.Context, workerID, campaignID string, now time.Time) (*model.Lead, error) {
	ts := millis(now)

	inner := `
		SELECT id FROM leads
		WHERE locked_by IS NULL
		  AND status IN ('READY', 'CALLBACK')
		  AND (next_call_at IS NULL OR next_call_at <= ?)`
	args := []any{workerID, ts, ts, ts}
	if campaignID != "" {
		inner += ` AND campaign_id = ?`
		args = append(args, campaignID)
	}
	inner += sqliteLeadDispatchOrder + ` LIMIT 1`

	lead, err := scanSQLiteLead(r.db.QueryRowContext(ctx, `
		UPDATE leads
		SET status = 'LOCKED',
		    locked_by = ?,
		    locked_at = ?,
		    next_call_at = NULL,
		    updated_at = ?
		WHERE id = (`+inner+`) AND locked_by IS NULL
		RETURNING `+leadColumns, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return lead, err
}

func (r *SQLiteLeadRepo) ClaimByID(ctx context.Context, leadID, workerID string, now time.Time) (*model.Lead, error) {
	ts := millis(now)
	lead, err := scanSQLiteLead(r.db.QueryRowContext(ctx, `
		UPDATE leads
		SET status = 'LOCKED',
		    locked_by = ?,
		    locked_at = ?,
		    next_call_at = NULL,
		    updated_at = ?
		WHERE id = ? AND locked_by IS NULL
		RETURNING `+leadColumns, workerID, ts, ts, leadID))
	if err == nil {
		return lead, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	current, err := r.Get(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if current.LockedByWorker(workerID) {
		return current, nil
	}
	return nil, ErrLockHeld
}

func (r *SQLiteLeadRepo) Release(ctx context.Context, leadID, workerID string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE leads
		SET status = 'READY',
		    locked_by = NULL,
		    locked_at = NULL,
		    updated_at = ?
		WHERE id = ? AND status = 'LOCKED' AND locked_by = ?
	`, millis(now), leadID, workerID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *SQLiteLeadRepo) Complete(ctx context.Context, leadID string, c model.Completion, now time.Time) (*model.Lead, *string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		status   string
		lockedBy sql.NullString
		token    sql.NullString
	)
	err = tx.QueryRowContext(ctx, `SELECT status, locked_by, completion_token FROM leads WHERE id = ?`, leadID).Scan(&status, &lockedBy, &token)
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

	lead, err := scanSQLiteLead(tx.QueryRowContext(ctx, `
		UPDATE leads
		SET status = ?,
		    attempts = attempts + 1,
		    locked_by = NULL,
		    locked_at = NULL,
		    next_call_at = ?,
		    last_outcome = ?,
		    notes = COALESCE(NULLIF(?, ''), notes),
		    completion_token = ?,
		    updated_at = ?
		WHERE id = ?
		RETURNING `+leadColumns,
		string(c.Status), nullMillis(c.NextCallAt), string(c.Outcome), c.Notes, nullString(c.Token), millis(now), leadID))
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return lead, stringPtr(lockedBy), nil
}

func (r *SQLiteLeadRepo) FindClaim(ctx context.Context, workerID string, lockedAt time.Time) (*model.Lead, error) {
	lead, err := scanSQLiteLead(r.db.QueryRowContext(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE status = 'LOCKED' AND locked_by = ? AND locked_at = ?
		LIMIT 1
	`, workerID, millis(lockedAt)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return lead, err
}

func (r *SQLiteLeadRepo) ReleaseStale(ctx context.Context, cutoff, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE leads
		SET status = 'READY',
		    locked_by = NULL,
		    locked_at = NULL,
		    updated_at = ?
		WHERE status = 'LOCKED' AND locked_at < ?
	`, millis(now), millis(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *SQLiteLeadRepo) Get(ctx context.Context, leadID string) (*model.Lead, error) {
	lead, err := scanSQLiteLead(r.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = ?`, leadID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return lead, err
}

func (r *SQLiteLeadRepo) Insert(ctx context.Context, lead *model.Lead) error {
	if lead.Status == "" {
		lead.Status = model.Ready
	}
	created := millis(createdAt(lead.CreatedAt))
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO leads (id, phone, name, organization, campaign_id, status, attempts, priority,
		                   locked_by, locked_at, next_call_at, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		lead.ID, lead.Phone, lead.Name, lead.Organization, nullString(lead.CampaignID),
		string(lead.Status), lead.Attempts, lead.Priority,
		lead.LockedBy, nullMillis(lead.LockedAt), nullMillis(lead.NextCallAt),
		lead.Notes, created, created,
	)
	if err != nil {
		return fmt.Errorf("insert lead %s: %w", lead.ID, err)
	}
	return nil
}

func scanSQLiteLead(row scanner) (*model.Lead, error) {
	var (
		l           model.Lead
		campaignID  sql.NullString
		status      string
		lockedBy    sql.NullString
		lockedAt    sql.NullInt64
		nextCallAt  sql.NullInt64
		lastOutcome sql.NullString
		created     int64
		updated     int64
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
		&created,
		&updated,
	); err != nil {
		return nil, err
	}

	l.CampaignID = campaignID.String
	l.Status = model.LeadStatus(status)
	l.LockedBy = stringPtr(lockedBy)
	l.LockedAt = millisPtr(lockedAt)
	l.NextCallAt = millisPtr(nextCallAt)
	if lastOutcome.Valid {
		o := model.Outcome(lastOutcome.String)
		l.LastOutcome = &o
	}
	l.CreatedAt = time.UnixMilli(created).UTC()
	l.UpdatedAt = time.UnixMilli(updated).UTC()
	return &l, nil
}

func millis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func nullMillis(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := millis(*t)
	return &ms
}

func millisPtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.UnixMilli(n.Int64).UTC()
	return &t
}
