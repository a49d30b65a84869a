package db_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libportal/internal/platform/db"
	"libportal/internal/platform/db/dbtest"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn := dbtest.Open(t)
	require.NoError(t, db.Migrate(conn, db.DriverSQLite))

	var n int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM settings`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestErrorClassification(t *testing.T) {
	conn := dbtest.Open(t)
	ctx := context.Background()

	_, err := conn.ExecContext(ctx, `INSERT INTO books (title, author, stock) VALUES ('a', 'b', -1)`)
	require.Error(t, err)
	assert.True(t, db.IsCheckViolation(err))
	assert.False(t, db.IsDuplicateKey(err))

	_, err = conn.ExecContext(ctx, `INSERT INTO auth_accounts (id, email, password_hash, created_at) VALUES ('A', 'x@y.id', 'h', '2024-01-01 00:00:00')`)
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, `INSERT INTO auth_accounts (id, email, password_hash, created_at) VALUES ('B', 'x@y.id', 'h', '2024-01-01 00:00:00')`)
	require.Error(t, err)
	assert.True(t, db.IsDuplicateKey(err))

	assert.False(t, db.IsDuplicateKey(errors.New("boom")))
}

func TestRunInTxRollsBack(t *testing.T) {
	conn := dbtest.Open(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := db.RunInTx(ctx, conn, nil, func(ctx context.Context, tx db.DBTX) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO books (title, author, stock) VALUES ('t', 'a', 1)`); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM books`).Scan(&n))
	assert.Zero(t, n)
}

func TestSplitStatementsSkipsComments(t *testing.T) {
	got := db.SplitStatements("-- c1\nCREATE TABLE a (x INT);\n\n-- c2\nINSERT INTO a VALUES (1);\n")
	assert.Equal(t, []string{"CREATE TABLE a (x INT)", "INSERT INTO a VALUES (1)"}, got)
}

func TestMySQLDSNCountsMatchedRows(t *testing.T) {
	dsn, err := db.MySQLDSN("libportal:pw@tcp(localhost:3306)/libportal?parseTime=true")
	require.NoError(t, err)
	assert.Contains(t, dsn, "clientFoundRows=true")
	assert.Contains(t, dsn, "parseTime=true")

	_, err = db.MySQLDSN("not a dsn")
	assert.Error(t, err)
}
