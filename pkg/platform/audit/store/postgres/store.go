package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	id "auditlog/pkg/domain"
	"auditlog/pkg/platform/audit"
	"auditlog/pkg/platform/sentinel"
	txcontext "auditlog/pkg/platform/tx"
)

// Store implements audit.Store on PostgreSQL. Each append is a single INSERT,
// so it is atomic; the timestamp comes from the database clock. Changes are
// kept in a JSON (not JSONB) column so the document reads back byte for byte.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_log_entries (
	seq            BIGSERIAL PRIMARY KEY,
	id             UUID NOT NULL UNIQUE,
	timestamp      TIMESTAMPTZ NOT NULL DEFAULT now(),
	resource_type  TEXT NOT NULL,
	resource_id    TEXT,
	resource_repr  TEXT NOT NULL DEFAULT '',
	action         TEXT NOT NULL,
	actor_id       TEXT,
	actor_name     TEXT,
	remote_address TEXT,
	changes        JSON
);
CREATE INDEX IF NOT EXISTS idx_audit_log_entries_resource
	ON audit_log_entries (resource_type, resource_id, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audit_log_entries_actor
	ON audit_log_entries (actor_id, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audit_log_entries_timestamp
	ON audit_log_entries (timestamp DESC);
`

// EnsureSchema creates the entries table and its indexes if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create audit schema: %w", err)
	}
	return nil
}

type dbExecutor interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// execer returns the transaction carried by ctx, if any, so an entry can be
// committed together with the change it describes.
func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Append inserts the entry and returns it with its ID and database timestamp.
func (s *Store) Append(ctx context.Context, entry audit.LogEntry) (audit.LogEntry, error) {
	if err := entry.Validate(); err != nil {
		return audit.LogEntry{}, err
	}
	changes, err := audit.EncodeChanges(entry.Changes)
	if err != nil {
		return audit.LogEntry{}, err
	}

	entry.ID = id.NewEntryID()
	var actorID, actorName *string
	if entry.Actor != nil {
		actorID, actorName = &entry.Actor.ID, &entry.Actor.Name
	}

	query := `
		INSERT INTO audit_log_entries (
			id, resource_type, resource_id, resource_repr, action,
			actor_id, actor_name, remote_address, changes
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING timestamp
	`
	var ts time.Time
	err = s.execer(ctx).QueryRowContext(ctx, query,
		uuid.UUID(entry.ID),
		entry.ResourceType,
		entry.ResourceID,
		entry.ResourceRepr,
		string(entry.Action),
		actorID,
		actorName,
		nullIfEmpty(entry.RemoteAddress),
		nullJSON(changes),
	).Scan(&ts)
	if err != nil {
		return audit.LogEntry{}, fmt.Errorf("insert audit entry: %w", err)
	}
	entry.Timestamp = ts.UTC()
	return entry, nil
}

const selectColumns = `
	SELECT id, timestamp, resource_type, resource_id, resource_repr, action,
		   actor_id, actor_name, remote_address, changes
	FROM audit_log_entries
`

// List returns matching entries newest first.
func (s *Store) List(ctx context.Context, filter audit.Filter) ([]audit.LogEntry, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.ResourceType != "" {
		where = append(where, "resource_type = "+arg(filter.ResourceType))
	}
	if filter.ResourceID != "" {
		where = append(where, "resource_id = "+arg(filter.ResourceID))
	}
	if filter.ActorID != "" {
		where = append(where, "actor_id = "+arg(filter.ActorID))
	}
	if len(filter.Actions) > 0 {
		actions := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			actions[i] = string(a)
		}
		where = append(where, "action = ANY("+arg(pq.Array(actions))+"::text[])")
	}
	if !filter.Since.IsZero() {
		where = append(where, "timestamp >= "+arg(filter.Since.UTC()))
	}
	if !filter.Until.IsZero() {
		where = append(where, "timestamp < "+arg(filter.Until.UTC()))
	}

	query := selectColumns
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, seq DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []audit.LogEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

// Get returns one entry by ID.
func (s *Store) Get(ctx context.Context, entryID id.EntryID) (audit.LogEntry, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+" WHERE id = $1", uuid.UUID(entryID))
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return audit.LogEntry{}, fmt.Errorf("audit entry %s: %w", entryID, sentinel.ErrNotFound)
	}
	return e, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (audit.LogEntry, error) {
	var (
		e                  audit.LogEntry
		entryID            uuid.UUID
		action             string
		actorID, actorName sql.NullString
		remoteAddr         sql.NullString
		resourceID         sql.NullString
		changes            []byte
	)
	err := row.Scan(
		&entryID,
		&e.Timestamp,
		&e.ResourceType,
		&resourceID,
		&e.ResourceRepr,
		&action,
		&actorID,
		&actorName,
		&remoteAddr,
		&changes,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return e, err
	}
	if err != nil {
		return e, fmt.Errorf("scan audit entry: %w", err)
	}

	e.ID = id.EntryID(entryID)
	e.Timestamp = e.Timestamp.UTC()
	e.Action = audit.Action(action)
	e.RemoteAddress = remoteAddr.String
	if resourceID.Valid {
		e.ResourceID = &resourceID.String
	}
	if actorID.Valid {
		e.Actor = &audit.Actor{ID: actorID.String, Name: actorName.String}
	}
	if e.Changes, err = audit.DecodeChanges(changes); err != nil {
		e.Changes = nil
		e.ChangesUnavailable = true
	}
	return e, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullJSON maps an absent document to SQL NULL; a string keeps the driver
// from sending it as bytea.
func nullJSON(b []byte) *string {
	if b == nil {
		return nil
	}
	s := string(b)
	return &s
}
