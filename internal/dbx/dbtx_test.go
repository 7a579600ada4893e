package dbx

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS upload_jobs (id TEXT PRIMARY KEY, status TEXT NOT NULL);`)
	require.NoError(t, err)
	return db
}

func countJobs(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM upload_jobs`).Scan(&n))
	return n
}

func insertJob(ctx context.Context, tx DBTX, id string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO upload_jobs(id, status) VALUES (?, 'pending')`, id)
	return err
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	db := setupDB(t)

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		if err := insertJob(ctx, tx, "job-1"); err != nil {
			return err
		}
		return insertJob(ctx, tx, "job-2")
	})
	require.NoError(t, err)
	require.Equal(t, 2, countJobs(t, db))
}

func TestWithTx_RollbackOnFnError(t *testing.T) {
	db := setupDB(t)
	boom := errors.New("boom")

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		require.NoError(t, insertJob(ctx, tx, "job-1"))
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 0, countJobs(t, db), "must roll back when fn fails")
}

func TestWithTx_RollbackOnPanic(t *testing.T) {
	db := setupDB(t)

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic to propagate")
		}
		require.Equal(t, 0, countJobs(t, db), "must roll back on panic")
	}()

	_ = WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		require.NoError(t, insertJob(ctx, tx, "job-1"))
		panic("kaput")
	})
}

func TestWithTx_BeginError(t *testing.T) {
	db := setupDB(t)
	require.NoError(t, db.Close())

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		t.Fatal("fn must not run without a transaction")
		return nil
	})
	require.ErrorContains(t, err, "begin tx")
}
