package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/Portunus/gateway/internal/db"
	"github.com/BrandonDHaskell/Portunus/gateway/internal/portunus/store"
	"github.com/BrandonDHaskell/Portunus/gateway/internal/portunus/types"
)

var _ store.AuditLog = (*AuditLog)(nil)

// AuditLog stores decisions in the access_logs table.  Reads go straight to
// the pool; writes are serialized through the db worker.
type AuditLog struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewAuditLog(db *sql.DB, writer *dbpkg.Worker) *AuditLog {
	return &AuditLog{db: db, writer: writer}
}

func (s *AuditLog) Append(ctx context.Context, d types.AccessDecision) (store.AuditRecord, error) {
	if d.DecidedAt.IsZero() {
		d.DecidedAt = time.Now().UTC()
	}
	// Millisecond precision is what the column holds; the returned record
	// must match what Recent will later read back.
	d.DecidedAt = time.UnixMilli(d.DecidedAt.UnixMilli()).UTC()

	var authorized int
	if d.Authorized {
		authorized = 1
	}

	var id int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
INSERT INTO access_logs(credential_id, door_id, device_id, authorized, decided_at_ms)
VALUES (?, ?, ?, ?, ?);
`, d.CredentialID, d.DoorID, d.DeviceID, authorized, d.DecidedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		return nil
	})
	if err != nil {
		return store.AuditRecord{}, &store.StorageError{Op: "append", Err: err}
	}

	return store.RecordFromDecision(id, d), nil
}

func (s *AuditLog) Recent(ctx context.Context, limit int) ([]store.AuditRecord, error) {
	if limit <= 0 {
		return []store.AuditRecord{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, credential_id, door_id, device_id, authorized, decided_at_ms
FROM access_logs
ORDER BY decided_at_ms DESC, id DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, &store.StorageError{Op: "recent", Err: err}
	}
	defer rows.Close()

	out := make([]store.AuditRecord, 0, limit)
	for rows.Next() {
		var (
			rec        store.AuditRecord
			authorized int
			decidedMs  int64
		)
		if err := rows.Scan(
			&rec.ID, &rec.CredentialID, &rec.DoorID, &rec.DeviceID, &authorized, &decidedMs,
		); err != nil {
			return nil, &store.StorageError{Op: "recent", Err: fmt.Errorf("scan: %w", err)}
		}
		rec.Authorized = authorized == 1
		rec.DecidedAt = time.UnixMilli(decidedMs).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &store.StorageError{Op: "recent", Err: err}
	}

	return out, nil
}

// Ping reports whether the database is reachable.
func (s *AuditLog) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &store.StorageError{Op: "ping", Err: err}
	}
	return nil
}
