package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const DefaultPath = "./data/portunus-gateway.db"

// ErrNoDatabase is returned by OpenExisting when the file is missing.
var ErrNoDatabase = errors.New("audit database does not exist")

type Config struct {
	Path string // e.g. "./data/portunus-gateway.db"

	// BusyTimeout bounds how long SQLite waits on a locked database.
	// Zero means 5s.
	BusyTimeout time.Duration
}

// DSN builds a modernc.org/sqlite DSN for a file path with the per-connection
// PRAGMAs the gateway relies on:
// - WAL so other processes (the history command) can read while the gateway writes
// - synchronous FULL, so a commit is on disk before Append returns
// - busy_timeout to absorb short lock contention
func DSN(path string, busy time.Duration) string {
	if busy <= 0 {
		busy = 5 * time.Second
	}
	return fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(%d)",
		path, busy.Milliseconds(),
	)
}

func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	return OpenDSN(ctx, DSN(cfg.Path, cfg.BusyTimeout))
}

// OpenExisting opens a database created earlier by Open without creating
// directories or files and without migrating it.
func OpenExisting(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if _, err := os.Stat(cfg.Path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoDatabase, cfg.Path)
		}
		return nil, fmt.Errorf("stat db: %w", err)
	}
	return open(ctx, DSN(cfg.Path, cfg.BusyTimeout), false)
}

// OpenDSN opens, pings and migrates the database behind dsn.
func OpenDSN(ctx context.Context, dsn string) (*sql.DB, error) {
	return open(ctx, dsn, true)
}

func open(ctx context.Context, dsn string, migrate bool) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}

	// Single connection: in-process reads and Worker transactions take turns
	// on it, and an in-memory database only lives as long as its one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	if !migrate {
		return db, nil
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}
