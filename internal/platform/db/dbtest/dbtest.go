// Package dbtest opens a migrated throwaway SQLite database for store tests.
package dbtest

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"libportal/internal/platform/db"
)

func Open(t testing.TB) *sql.DB {
	t.Helper()
	conn, err := db.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(conn, db.DriverSQLite))
	t.Cleanup(func() { conn.Close() })
	return conn
}
