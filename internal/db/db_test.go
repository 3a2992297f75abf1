package db_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Portunus/gateway/internal/db"
)

func openMemDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:dbtest_%s?mode=memory&cache=shared", t.Name())
	conn, err := db.OpenDSN(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestOpen_FileDatabasePragmas(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(ctx, db.Config{Path: filepath.Join(t.TempDir(), "nested", "audit.db")})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var mode string
	require.NoError(t, conn.QueryRowContext(ctx, `PRAGMA journal_mode`).Scan(&mode))
	assert.Equal(t, "wal", mode)

	// 2 = FULL: every commit is synced before it returns.
	var level int
	require.NoError(t, conn.QueryRowContext(ctx, `PRAGMA synchronous`).Scan(&level))
	assert.Equal(t, 2, level)
}

func TestMigrate_Idempotent(t *testing.T) {
	conn := openMemDB(t)
	ctx := context.Background()

	require.NoError(t, db.Migrate(ctx, conn))

	versions, err := db.AppliedVersions(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, versions)

	var n int
	require.NoError(t, conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'access_logs'`,
	).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestWorker_CommitsOnSuccess(t *testing.T) {
	conn := openMemDB(t)
	w := db.NewWorker(conn)
	t.Cleanup(w.Close)
	ctx := context.Background()

	err := w.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO access_logs(credential_id, door_id, device_id, authorized, decided_at_ms)
VALUES ('c', 'd', 'dev', 1, 1);`)
		return err
	})
	require.NoError(t, err)

	var n int
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM access_logs`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestWorker_RollsBackOnError(t *testing.T) {
	conn := openMemDB(t)
	w := db.NewWorker(conn)
	t.Cleanup(w.Close)
	ctx := context.Background()
	boom := errors.New("boom")

	err := w.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO access_logs(credential_id, door_id, device_id, authorized, decided_at_ms)
VALUES ('c', 'd', 'dev', 1, 1);`); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM access_logs`).Scan(&n))
	assert.Zero(t, n)
}

func TestWorker_ConcurrentCallersSerialized(t *testing.T) {
	conn := openMemDB(t)
	w := db.NewWorkerSize(conn, 4)
	t.Cleanup(w.Close)
	ctx := context.Background()

	const callers = 32
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- w.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, `
INSERT INTO access_logs(credential_id, door_id, device_id, authorized, decided_at_ms)
VALUES (?, 'd', 'dev', 0, ?);`, fmt.Sprintf("c-%d", i), i)
				return err
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var n int
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM access_logs`).Scan(&n))
	assert.Equal(t, callers, n)
}

func TestWorker_DoAfterClose(t *testing.T) {
	conn := openMemDB(t)
	w := db.NewWorker(conn)
	w.Close()
	w.Close()

	err := w.Do(context.Background(), func(context.Context, *sql.Tx) error { return nil })
	assert.ErrorIs(t, err, db.ErrWorkerClosed)
}
