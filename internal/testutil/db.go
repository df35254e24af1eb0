// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/bryanwahyu/brainvol/internal/infra/db/migrations"
	"github.com/bryanwahyu/brainvol/internal/infra/db/sqlite"
)

// OpenDB returns a migrated sqlite database living in t.TempDir().
func OpenDB(t testing.TB) *sql.DB {
	t.Helper()
	db, err := sqlite.Connect(context.Background(), filepath.Join(t.TempDir(), "brainvol.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := migrations.Up(db, "sqlite"); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}
