package sqlstore

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/brainvol/internal/infra/db/migrations"
	"github.com/bryanwahyu/brainvol/internal/infra/db/sqlite"
)

// newTestDB opens a migrated sqlite database under t.TempDir().
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sqlite.Connect(context.Background(), filepath.Join(t.TempDir(), "brainvol.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, migrations.Up(db, "sqlite"))
	return db
}
