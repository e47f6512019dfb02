package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	id "auditlog/pkg/domain"
	"auditlog/pkg/platform/audit"
	"auditlog/pkg/platform/sentinel"
)

// InMemoryStore keeps entries in process. Appends take a write lock, so they
// are atomic and totally ordered by seq.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []record
	byID    map[id.EntryID]int
	now     func() time.Time
}

type record struct {
	seq   int
	entry audit.LogEntry
}

// Option configures the store.
type Option func(*InMemoryStore)

// WithClock overrides the timestamp source. Tests use it to pin time.
func WithClock(now func() time.Time) Option {
	return func(s *InMemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewInMemoryStore(opts ...Option) *InMemoryStore {
	s := &InMemoryStore{
		byID: make(map[id.EntryID]int),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Clear drops every entry. Test helper.
func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.byID = make(map[id.EntryID]int)
}

func (s *InMemoryStore) Append(_ context.Context, entry audit.LogEntry) (audit.LogEntry, error) {
	if err := entry.Validate(); err != nil {
		return audit.LogEntry{}, err
	}
	entry = clone(entry)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry.ID = id.NewEntryID()
	entry.Timestamp = s.now().UTC()
	s.byID[entry.ID] = len(s.entries)
	s.entries = append(s.entries, record{seq: len(s.entries), entry: entry})
	return clone(entry), nil
}

// List returns matching entries newest first; entries with equal timestamps
// are ordered by append order, latest first.
func (s *InMemoryStore) List(_ context.Context, filter audit.Filter) ([]audit.LogEntry, error) {
	s.mu.RLock()
	matched := make([]record, 0)
	for _, r := range s.entries {
		if filter.Matches(r.entry) {
			matched = append(matched, r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.entry.Timestamp.Equal(b.entry.Timestamp) {
			return a.entry.Timestamp.After(b.entry.Timestamp)
		}
		return a.seq > b.seq
	})

	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	out := make([]audit.LogEntry, len(matched))
	for i, r := range matched {
		out[i] = clone(r.entry)
	}
	return out, nil
}

func (s *InMemoryStore) Get(_ context.Context, entryID id.EntryID) (audit.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.byID[entryID]
	if !ok {
		return audit.LogEntry{}, fmt.Errorf("audit entry %s: %w", entryID, sentinel.ErrNotFound)
	}
	return clone(s.entries[i].entry), nil
}

// clone returns a copy sharing no pointers or maps with e, so callers can
// never mutate a stored entry.
func clone(e audit.LogEntry) audit.LogEntry {
	if e.ResourceID != nil {
		v := *e.ResourceID
		e.ResourceID = &v
	}
	if e.Actor != nil {
		a := *e.Actor
		e.Actor = &a
	}
	e.Changes = e.Changes.Clone()
	return e
}
