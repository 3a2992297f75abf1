package httpapi

import (
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/Portunus/gateway/internal/portunus/store"
)

// historyEntry is the wire shape of one audit record.
type historyEntry struct {
	ID           int64  `json:"id"`
	CredentialID string `json:"credentialId"`
	DoorID       string `json:"doorId"`
	DeviceID     string `json:"deviceId"`
	Authorized   bool   `json:"authorized"`
	DecidedAt    string `json:"decidedAt"`
}

func historyEntryFromRecord(r store.AuditRecord) historyEntry {
	return historyEntry{
		ID:           r.ID,
		CredentialID: r.CredentialID,
		DoorID:       r.DoorID,
		DeviceID:     r.DeviceID,
		Authorized:   r.Authorized,
		DecidedAt:    r.DecidedAt.UTC().Format(time.RFC3339Nano),
	}
}

func historyToJSON(recs []store.AuditRecord) []historyEntry {
	out := make([]historyEntry, 0, len(recs))
	for _, r := range recs {
		out = append(out, historyEntryFromRecord(r))
	}
	return out
}

// historyToProto renders records as a google.protobuf.ListValue of Structs
// with the same keys as the JSON form.
func historyToProto(recs []store.AuditRecord) (*structpb.ListValue, error) {
	items := make([]any, 0, len(recs))
	for _, r := range recs {
		e := historyEntryFromRecord(r)
		items = append(items, map[string]any{
			"id":           e.ID,
			"credentialId": e.CredentialID,
			"doorId":       e.DoorID,
			"deviceId":     e.DeviceID,
			"authorized":   e.Authorized,
			"decidedAt":    e.DecidedAt,
		})
	}
	return structpb.NewList(items)
}
