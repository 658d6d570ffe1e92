package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/LeventeLantos/leadline/internal/model"
)

const numberColumns = `id, phone_number, owner_id, is_active, daily_count, cooldown_until,
	last_used_at, region_tag, type, created_at`

type PostgresNumberRepo struct {
	db *sql.DB
}

func NewPostgresNumberRepo(db *sql.DB) *PostgresNumberRepo {
	return &PostgresNumberRepo{db: db}
}

func (r *PostgresNumberRepo) Reserve(ctx context.Context, q ReserveQuery) (*model.NumberPoolEntry, error) {
	if q.DailyCap <= 0 {
		return nil, errors.New("daily cap must be > 0")
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		SELECT id
		FROM number_pool
		WHERE is_active
		  AND (cooldown_until IS NULL OR cooldown_until <= $1)
		  AND daily_count < $2`
	args := []any{q.Now.UTC(), q.DailyCap}

	switch q.Scope {
	case ScopeOwner:
		args = append(args, q.OwnerID)
		query += ` AND owner_id = $` + strconv.Itoa(len(args))
	case ScopeShared:
		query += ` AND owner_id IS NULL`
	}
	if q.RegionTag != "" {
		args = append(args, q.RegionTag)
		query += ` AND region_tag = $` + strconv.Itoa(len(args))
	}
	query += `
		ORDER BY daily_count ASC, last_used_at ASC NULLS FIRST, id ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`

	var id string
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoneAvailable
		}
		return nil, err
	}

	n, err := scanPostgresNumber(tx.QueryRowContext(ctx, `
		UPDATE number_pool
		SET daily_count = daily_count + 1,
		    last_used_at = $2
		WHERE id = $1
		RETURNING `+numberColumns, id, q.Now.UTC()))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return n, nil
}

func (r *PostgresNumberRepo) SetCooldown(ctx context.Context, numberID string, until time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE number_pool
		SET cooldown_until = GREATEST(cooldown_until, $2)
		WHERE id = $1
	`, numberID, until.UTC())
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *PostgresNumberRepo) SetActive(ctx context.Context, numberID string, active bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE number_pool SET is_active = $2 WHERE id = $1`, numberID, active)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *PostgresNumberRepo) ResetDaily(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE number_pool SET daily_count = 0 WHERE daily_count <> 0`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresNumberRepo) ClearExpiredCooldowns(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE number_pool
		SET cooldown_until = NULL
		WHERE cooldown_until IS NOT NULL AND cooldown_until <= $1
	`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresNumberRepo) Get(ctx context.Context, numberID string) (*model.NumberPoolEntry, error) {
	n, err := scanPostgresNumber(r.db.QueryRowContext(ctx, `SELECT `+numberColumns+` FROM number_pool WHERE id = $1`, numberID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return n, err
}

func (r *PostgresNumberRepo) Insert(ctx context.Context, n *model.NumberPoolEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO number_pool (id, phone_number, owner_id, is_active, daily_count, cooldown_until,
		                         region_tag, type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		n.ID, n.PhoneNumber, n.OwnerID, n.IsActive, n.DailyCount, nullTime(n.CooldownUntil),
		n.RegionTag, n.Type, createdAt(n.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert number %s: %w", n.PhoneNumber, err)
	}
	return nil
}

func scanPostgresNumber(row scanner) (*model.NumberPoolEntry, error) {
	var (
		n             model.NumberPoolEntry
		ownerID       sql.NullString
		cooldownUntil sql.NullTime
		lastUsedAt    sql.NullTime
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
		&n.CreatedAt,
	); err != nil {
		return nil, err
	}
	n.OwnerID = stringPtr(ownerID)
	n.CooldownUntil = timePtr(cooldownUntil)
	n.LastUsedAt = timePtr(lastUsedAt)
	return &n, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
