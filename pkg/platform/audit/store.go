package audit

//go:generate mockgen -source=store.go -destination=mocks/store_mock.go -package=mocks Store

import (
	"context"

	id "auditlog/pkg/domain"
)

// Store is the append-only home of log entries. Implementations must make
// Append atomic: concurrent appends never lose an entry or interleave partial
// writes. Entries are never updated or deleted.
type Store interface {
	// Append assigns ID and Timestamp (UTC) and persists the entry, returning
	// the stored copy.
	Append(ctx context.Context, entry LogEntry) (LogEntry, error)
	// List returns matching entries, newest first.
	List(ctx context.Context, filter Filter) ([]LogEntry, error)
	// Get returns a single entry or an error wrapping sentinel.ErrNotFound.
	Get(ctx context.Context, entryID id.EntryID) (LogEntry, error)
}
