package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/Portunus/gateway/internal/portunus/types"
)

// ErrStorage matches every *StorageError.
var ErrStorage = errors.New("storage error")

// StorageError reports that the audit store rejected or could not confirm an
// operation.
type StorageError struct {
	Op  string // "append" | "recent"
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("audit store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// AuditRecord is a persisted AccessDecision.  ID is assigned by the store and
// strictly increases across appends.
type AuditRecord struct {
	ID           int64     `json:"id"`
	CredentialID string    `json:"credentialId"`
	DoorID       string    `json:"doorId"`
	DeviceID     string    `json:"deviceId"`
	Authorized   bool      `json:"authorized"`
	DecidedAt    time.Time `json:"decidedAt"`
}

// AuditLog persists access decisions as an append-only audit log.  There is
// no update or delete path.
type AuditLog interface {
	// Append durably stores d and returns the stored record.  It returns
	// only once the write is confirmed or has failed.
	Append(ctx context.Context, d types.AccessDecision) (AuditRecord, error)

	// Recent returns up to limit records, newest DecidedAt first.
	Recent(ctx context.Context, limit int) ([]AuditRecord, error)
}

// RecordFromDecision builds the record for d under id.
func RecordFromDecision(id int64, d types.AccessDecision) AuditRecord {
	return AuditRecord{
		ID:           id,
		CredentialID: d.CredentialID,
		DoorID:       d.DoorID,
		DeviceID:     d.DeviceID,
		Authorized:   d.Authorized,
		DecidedAt:    d.DecidedAt.UTC(),
	}
}
