// Package sqlite provides an embedded, single-node audit.Store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	id "auditlog/pkg/domain"
	"auditlog/pkg/platform/audit"
	"auditlog/pkg/platform/sentinel"
	txcontext "auditlog/pkg/platform/tx"
)

// Store implements audit.Store on SQLite. Timestamps are stored as UTC unix
// nanoseconds so ordering and range filters are integer comparisons.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open opens (or creates) the database at path and ensures the schema.
// ":memory:" gives a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// One connection: SQLite has a single writer, and ":memory:" databases
	// are per connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db, path: path, now: time.Now}
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle, e.g. for a tx.Runner.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// execer returns the transaction carried by ctx, if any. Reads always use
// the pool, so do not List or Get inside a transaction on this store.
func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// EnsureSchema creates the database schema if it doesn't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_log_entries (
		seq            INTEGER PRIMARY KEY AUTOINCREMENT,
		id             TEXT NOT NULL UNIQUE,
		ts             INTEGER NOT NULL,
		resource_type  TEXT NOT NULL,
		resource_id    TEXT,
		resource_repr  TEXT NOT NULL DEFAULT '',
		action         TEXT NOT NULL,
		actor_id       TEXT,
		actor_name     TEXT,
		remote_address TEXT,
		changes        TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_audit_resource ON audit_log_entries(resource_type, resource_id, ts);
	CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_log_entries(actor_id, ts);
	CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_log_entries(ts);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// Append inserts the entry in a single statement.
func (s *Store) Append(ctx context.Context, entry audit.LogEntry) (audit.LogEntry, error) {
	if err := entry.Validate(); err != nil {
		return audit.LogEntry{}, err
	}
	changes, err := audit.EncodeChanges(entry.Changes)
	if err != nil {
		return audit.LogEntry{}, err
	}

	entry.ID = id.NewEntryID()
	entry.Timestamp = s.now().UTC()

	var actorID, actorName *string
	if entry.Actor != nil {
		actorID, actorName = &entry.Actor.ID, &entry.Actor.Name
	}
	var changesText *string
	if changes != nil {
		c := string(changes)
		changesText = &c
	}
	var remote *string
	if entry.RemoteAddress != "" {
		remote = &entry.RemoteAddress
	}

	query := `
		INSERT INTO audit_log_entries (
			id, ts, resource_type, resource_id, resource_repr, action,
			actor_id, actor_name, remote_address, changes
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		entry.ID.String(),
		entry.Timestamp.UnixNano(),
		entry.ResourceType,
		entry.ResourceID,
		entry.ResourceRepr,
		string(entry.Action),
		actorID,
		actorName,
		remote,
		changesText,
	)
	if err != nil {
		return audit.LogEntry{}, fmt.Errorf("saving audit entry: %w", err)
	}
	return entry, nil
}

const selectColumns = `
	SELECT id, ts, resource_type, resource_id, resource_repr, action,
		   actor_id, actor_name, remote_address, changes
	FROM audit_log_entries
`

// List returns matching entries newest first.
func (s *Store) List(ctx context.Context, filter audit.Filter) ([]audit.LogEntry, error) {
	var (
		where []string
		args  []any
	)
	if filter.ResourceType != "" {
		where = append(where, "resource_type = ?")
		args = append(args, filter.ResourceType)
	}
	if filter.ResourceID != "" {
		where = append(where, "resource_id = ?")
		args = append(args, filter.ResourceID)
	}
	if filter.ActorID != "" {
		where = append(where, "actor_id = ?")
		args = append(args, filter.ActorID)
	}
	if len(filter.Actions) > 0 {
		marks := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			marks[i] = "?"
			args = append(args, string(a))
		}
		where = append(where, "action IN ("+strings.Join(marks, ", ")+")")
	}
	if !filter.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, filter.Since.UnixNano())
	}
	if !filter.Until.IsZero() {
		where = append(where, "ts < ?")
		args = append(args, filter.Until.UnixNano())
	}

	query := selectColumns
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts DESC, seq DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
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
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}
	return entries, nil
}

// Get returns one entry by ID.
func (s *Store) Get(ctx context.Context, entryID id.EntryID) (audit.LogEntry, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", entryID.String())
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
		rawID              string
		ts                 int64
		action             string
		resourceID         sql.NullString
		actorID, actorName sql.NullString
		remoteAddr         sql.NullString
		changes            sql.NullString
	)
	err := row.Scan(&rawID, &ts, &e.ResourceType, &resourceID, &e.ResourceRepr, &action,
		&actorID, &actorName, &remoteAddr, &changes)
	if errors.Is(err, sql.ErrNoRows) {
		return e, err
	}
	if err != nil {
		return e, fmt.Errorf("scanning audit entry: %w", err)
	}

	entryID, err := id.ParseEntryID(rawID)
	if err != nil {
		return e, fmt.Errorf("scanning audit entry: %w", err)
	}
	e.ID = entryID
	e.Timestamp = time.Unix(0, ts).UTC()
	e.Action = audit.Action(action)
	e.RemoteAddress = remoteAddr.String
	if resourceID.Valid {
		e.ResourceID = &resourceID.String
	}
	if actorID.Valid {
		e.Actor = &audit.Actor{ID: actorID.String, Name: actorName.String}
	}
	if e.Changes, err = audit.DecodeChanges([]byte(changes.String)); err != nil {
		e.Changes = nil
		e.ChangesUnavailable = true
	}
	return e, nil
}
