// Package repotest opens throwaway stores for tests. SQLite stores live in a
// temp dir; the Postgres store needs POSTGRES_TEST_URL and is skipped
// without it.
package repotest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/LeventeLantos/leadline/internal/model"
	"github.com/LeventeLantos/leadline/internal/repo"
)

// NewStore returns a migrated SQLite store that is closed when t ends.
func NewStore(t *testing.T) *repo.Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "leadline.db")
	s, err := repo.Open(context.Background(), repo.SQLite, path)
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// PostgresURLEnv names the database the Postgres tests run against. Its
// tables are truncated before every test.
const PostgresURLEnv = "POSTGRES_TEST_URL"

// NewPostgresStore returns a migrated, emptied Postgres store, or skips t
// when PostgresURLEnv is unset.
func NewPostgresStore(t *testing.T) *repo.Store {
	t.Helper()

	dsn := os.Getenv(PostgresURLEnv)
	if dsn == "" {
		t.Skipf("%s not set", PostgresURLEnv)
	}

	ctx := context.Background()
	s, err := repo.Open(ctx, repo.Postgres, dsn)
	if err != nil {
		t.Fatalf("open postgres store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if _, err := s.DB.ExecContext(ctx, `TRUNCATE attempts, leads, number_pool`); err != nil {
		t.Fatalf("truncate postgres store: %v", err)
	}
	return s
}

// EachStore runs fn once per dialect, each against a fresh store.
func EachStore(t *testing.T, fn func(t *testing.T, s *repo.Store)) {
	t.Helper()

	t.Run("sqlite", func(t *testing.T) { fn(t, NewStore(t)) })
	t.Run("postgres", func(t *testing.T) { fn(t, NewPostgresStore(t)) })
}

// SeedLead inserts l, filling id, phone and created_at when unset.
func SeedLead(t *testing.T, s *repo.Store, l model.Lead) *model.Lead {
	t.Helper()

	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.Phone == "" {
		l.Phone = "+15550100"
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	if err := s.Leads.Insert(context.Background(), &l); err != nil {
		t.Fatalf("seed lead: %v", err)
	}
	return &l
}

// SeedNumber inserts n, filling id and phone number when unset.
func SeedNumber(t *testing.T, s *repo.Store, n model.NumberPoolEntry) *model.NumberPoolEntry {
	t.Helper()

	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.PhoneNumber == "" {
		n.PhoneNumber = "+1555" + n.ID[:7]
	}
	if err := s.Numbers.Insert(context.Background(), &n); err != nil {
		t.Fatalf("seed number: %v", err)
	}
	return &n
}

func Ptr[T any](v T) *T {
	return &v
}
