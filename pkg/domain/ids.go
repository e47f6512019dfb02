package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"auditlog/pkg/platform/sentinel"
)

// EntryID identifies a single audit log entry. It is a distinct type so an entry
// ID can never be confused with the identifier of the tracked resource.
type EntryID uuid.UUID

// NewEntryID returns a time-ordered (v7) entry ID. Stores call this at append
// time so IDs sort in the same order entries were written.
func NewEntryID() EntryID {
	u, err := uuid.NewV7()
	if err != nil {
		return EntryID(uuid.New())
	}
	return EntryID(u)
}

// ParseEntryID validates and converts a string into an EntryID.
// Empty strings, malformed values and the nil UUID are rejected.
func ParseEntryID(s string) (EntryID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return EntryID{}, fmt.Errorf("entry id is required: %w", sentinel.ErrInvalidInput)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return EntryID{}, fmt.Errorf("invalid entry id %q: %w", s, sentinel.ErrInvalidInput)
	}
	if u == uuid.Nil {
		return EntryID{}, fmt.Errorf("entry id must not be nil: %w", sentinel.ErrInvalidInput)
	}
	return EntryID(u), nil
}

// String returns the canonical UUID form.
func (id EntryID) String() string {
	return uuid.UUID(id).String()
}

// IsNil reports whether the ID is the zero value.
func (id EntryID) IsNil() bool {
	return uuid.UUID(id) == uuid.Nil
}

// MarshalText implements encoding.TextMarshaler so IDs serialize as strings.
func (id EntryID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *EntryID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return fmt.Errorf("invalid entry id: %w", sentinel.ErrInvalidInput)
	}
	*id = EntryID(u)
	return nil
}
