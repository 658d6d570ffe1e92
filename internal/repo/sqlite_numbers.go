package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/LeventeLantos/leadline/internal/model"
)

type SQLiteNumberRepo struct {
	db *sql.DB
}

func NewSQLiteNumberRepo(db *sql.DB) *SQLiteNumberRepo {
	return &SQLiteNumberRepo{db: db}
}

func (r *SQLiteNumberRepo) Reserve(ctx context.Context, q ReserveQuery) (*model.NumberPoolEntry, error) {
	if q.DailyCap <= 0 {
		return nil, errors.New("daily cap must be > 0")
	}
	ts := millis(q.Now)

	inner := `
		SELECT id FROM number_pool
		WHERE is_active = 1
		  AND (cooldown_until IS NULL OR cooldown_until <= ?)
		  AND daily_count < ?`
	args := []any{ts, ts, q.DailyCap}

	switch q.Scope {
	case ScopeOwner:
		inner += ` AND owner_id = ?`
		args = append(args, q.OwnerID)
	case ScopeShared:
		inner += ` AND owner_id IS NULL`
	}
	if q.RegionTag != "" {
		inner += ` AND region_tag = ?`
		args = append(args, q.RegionTag)
	}
	inner += ` ORDER BY daily_count ASC, last_used_at ASC, id ASC LIMIT 1`
	args = append(args, q.DailyCap)

	n, err := scanSQLiteNumber(r.db.QueryRowContext(ctx, `
		UPDATE number_pool
		SET daily_count = daily_count + 1,
		    last_used_at = ?
		WHERE id = (`+inner+`) AND daily_count < ?
		RETURNING `+numberColumns, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoneAvailable
	}
	return n, err
}

func (r *SQLiteNumberRepo) SetCooldown(ctx context.Context, numberID string, until time.Time) error {
	ts := millis(until)
	res, err := r.db.ExecContext(ctx, `
		UPDATE number_pool
		SET cooldown_until = CASE
			WHEN cooldown_until IS NOT NULL AND cooldown_until > ? THEN cooldown_until
			ELSE ?
		END
		WHERE id = ?
	`, ts, ts, numberID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *SQLiteNumberRepo) SetActive(ctx context.Context, numberID string, active bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE number_pool SET is_active = ? WHERE id = ?`, active, numberID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *SQLiteNumberRepo) ResetDaily(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE number_pool SET daily_count = 0 WHERE daily_count <> 0`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *SQLiteNumberRepo) ClearExpiredCooldowns(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE number_pool
		SET cooldown_until = NULL
		WHERE cooldown_until IS NOT NULL AND cooldown_until <= ?
	`, millis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *SQLiteNumberRepo) Get(ctx context.Context, numberID string) (*model.NumberPoolEntry, error) {
	n, err := scanSQLiteNumber(r.db.QueryRowContext(ctx, `SELECT `+numberColumns+` FROM number_pool WHERE id = ?`, numberID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return n, err
}

func (r *SQLiteNumberRepo) Insert(ctx context.Context, n *model.NumberPoolEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO number_pool (id, phone_number, owner_id, is_active, daily_count, cooldown_until,
		                         region_tag, type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		n.ID, n.PhoneNumber, n.OwnerID, n.IsActive, n.DailyCount, nullMillis(n.CooldownUntil),
		n.RegionTag, n.Type, millis(createdAt(n.CreatedAt)),
	)
	if err != nil {
		return fmt.Errorf("insert number %s: %w", n.PhoneNumber, err)
	}
	return nil
}

func scanSQLiteNumber(row scanner) (*model.NumberPoolEntry, error) {
	var (
		n             model.NumberPoolEntry
		ownerID       sql.NullString
		cooldownUntil sql.NullInt64
		lastUsedAt    sql.NullInt64
		created       int64
	)
	if err := row.Scan(
		&n.ID,
		&n.PhoneNumber,
		&ownerID,
		&n.IsActive,
		&n.DailyCount,
		&cooldownUntil,
		&lastUsedAt,
		&n.RegionTag,
		&n.Type,
		&created,
	); err != nil {
		return nil, err
	}
	n.OwnerID = stringPtr(ownerID)
	n.CooldownUntil = millisPtr(cooldownUntil)
	n.LastUsedAt = millisPtr(lastUsedAt)
	n.CreatedAt = time.UnixMilli(created).UTC()
	return &n, nil
}
