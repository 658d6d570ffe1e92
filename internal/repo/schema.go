package repo

import (
	"context"
	"database/sql"
	"fmt"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS leads (
	id           TEXT PRIMARY KEY,
	phone        TEXT NOT NULL,
	name         TEXT NOT NULL DEFAULT '',
	organization TEXT NOT NULL DEFAULT '',
	campaign_id  TEXT,
	status       TEXT NOT NULL DEFAULT 'READY',
	attempts     INTEGER NOT NULL DEFAULT 0 CHECK (attempts >= 0),
	priority     INTEGER NOT NULL DEFAULT 0,
	locked_by    TEXT,
	locked_at    TIMESTAMPTZ,
	next_call_at TIMESTAMPTZ,
	last_outcome TEXT,
	completion_token TEXT,
	notes        TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT leads_lock_consistent CHECK (
		(status = 'LOCKED' AND locked_by IS NOT NULL AND locked_at IS NOT NULL) OR
		(status <> 'LOCKED' AND locked_by IS NULL AND locked_at IS NULL)
	)
);
CREATE INDEX IF NOT EXISTS leads_dispatch_idx ON leads (status, next_call_at, attempts) WHERE locked_by IS NULL;
CREATE INDEX IF NOT EXISTS leads_campaign_idx ON leads (campaign_id);
CREATE INDEX IF NOT EXISTS leads_locked_at_idx ON leads (locked_at) WHERE status = 'LOCKED';
ALTER TABLE leads ADD COLUMN IF NOT EXISTS completion_token TEXT;

CREATE TABLE IF NOT EXISTS number_pool (
	id             TEXT PRIMARY KEY,
	phone_number   TEXT NOT NULL UNIQUE,
	owner_id       TEXT,
	is_active      BOOLEAN NOT NULL DEFAULT TRUE,
	daily_count    INTEGER NOT NULL DEFAULT 0 CHECK (daily_count >= 0),
	cooldown_until TIMESTAMPTZ,
	last_used_at   TIMESTAMPTZ,
	region_tag     TEXT NOT NULL DEFAULT '',
	type           TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS number_pool_owner_idx ON number_pool (owner_id);

CREATE TABLE IF NOT EXISTS attempts (
	id            TEXT PRIMARY KEY,
	lead_id       TEXT NOT NULL REFERENCES leads (id),
	worker_id     TEXT NOT NULL,
	number_id     TEXT NOT NULL REFERENCES number_pool (id),
	from_number   TEXT NOT NULL,
	to_number     TEXT NOT NULL,
	channel       TEXT NOT NULL,
	direction     TEXT NOT NULL,
	status        TEXT NOT NULL,
	outcome       TEXT,
	failure_class TEXT,
	carrier_ref   TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS attempts_lead_idx ON attempts (lead_id, created_at);
CREATE INDEX IF NOT EXISTS attempts_carrier_ref_idx ON attempts (carrier_ref) WHERE carrier_ref <> '';
`

// Timestamps are unix milliseconds so comparisons stay numeric.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS leads (
	id           TEXT PRIMARY KEY,
	phone        TEXT NOT NULL,
	name         TEXT NOT NULL DEFAULT '',
	organization TEXT NOT NULL DEFAULT '',
	campaign_id  TEXT,
	status       TEXT NOT NULL DEFAULT 'READY',
	attempts     INTEGER NOT NULL DEFAULT 0 CHECK (attempts >= 0),
	priority     INTEGER NOT NULL DEFAULT 0,
	locked_by    TEXT,
	locked_at    INTEGER,
	next_call_at INTEGER,
	last_outcome TEXT,
	completion_token TEXT,
	notes        TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL,
	CHECK (
		(status = 'LOCKED' AND locked_by IS NOT NULL AND locked_at IS NOT NULL) OR
		(status <> 'LOCKED' AND locked_by IS NULL AND locked_at IS NULL)
	)
);
CREATE INDEX IF NOT EXISTS leads_dispatch_idx ON leads (status, next_call_at, attempts);
CREATE INDEX IF NOT EXISTS leads_locked_at_idx ON leads (locked_at);

CREATE TABLE IF NOT EXISTS number_pool (
	id             TEXT PRIMARY KEY,
	phone_number   TEXT NOT NULL UNIQUE,
	owner_id       TEXT,
	is_active      INTEGER NOT NULL DEFAULT 1,
	daily_count    INTEGER NOT NULL DEFAULT 0 CHECK (daily_count >= 0),
	cooldown_until INTEGER,
	last_used_at   INTEGER,
	region_tag     TEXT NOT NULL DEFAULT '',
	type           TEXT NOT NULL DEFAULT '',
	created_at     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS attempts (
	id            TEXT PRIMARY KEY,
	lead_id       TEXT NOT NULL REFERENCES leads (id),
	worker_id     TEXT NOT NULL,
	number_id     TEXT NOT NULL REFERENCES number_pool (id),
	from_number   TEXT NOT NULL,
	to_number     TEXT NOT NULL,
	channel       TEXT NOT NULL,
	direction     TEXT NOT NULL,
	status        TEXT NOT NULL,
	outcome       TEXT,
	failure_class TEXT,
	carrier_ref   TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS attempts_lead_idx ON attempts (lead_id, created_at);
CREATE INDEX IF NOT EXISTS attempts_carrier_ref_idx ON attempts (carrier_ref);
`

// Migrate creates the tables for dialect if they do not exist yet.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	var schema string
	switch dialect {
	case Postgres:
		schema = postgresSchema
	case SQLite:
		schema = sqliteSchema
	default:
		return fmt.Errorf("unknown dialect %q", dialect)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate %s: %w", dialect, err)
	}
	return nil
}
