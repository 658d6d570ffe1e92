package repo

import (
	"context"
	"database/sql"
	"fmt"
)

// Store is the process-wide handle on the shared tables. It is opened once
// at start-up and closed at shutdown.
type Store struct {
	DB       *sql.DB
	Dialect  Dialect
	Leads    LeadRepository
	Numbers  NumberRepository
	Attempts AttemptRepository
}

func NewStore(db *sql.DB, dialect Dialect) (*Store, error) {
	s := &Store{DB: db, Dialect: dialect}
	switch dialect {
	case Postgres:
		s.Leads = NewPostgresLeadRepo(db)
		s.Numbers = NewPostgresNumberRepo(db)
		s.Attempts = NewPostgresAttemptRepo(db)
	case SQLite:
		s.Leads = NewSQLiteLeadRepo(db)
		s.Numbers = NewSQLiteNumberRepo(db)
		s.Attempts = NewSQLiteAttemptRepo(db)
	default:
		return nil, fmt.Errorf("unknown dialect %q", dialect)
	}
	return s, nil
}

// Open connects to the configured database and applies the schema.
func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)
	switch dialect {
	case Postgres:
		db, err = OpenPostgres(ctx, dsn)
	case SQLite:
		db, err = OpenSQLite(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown dialect %q", dialect)
	}
	if err != nil {
		return nil, err
	}

	if err := Migrate(ctx, db, dialect); err != nil {
		_ = db.Close()
		return nil, err
	}

	s, err := NewStore(db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}
