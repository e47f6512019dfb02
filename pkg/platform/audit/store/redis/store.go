// Package redis stores audit entries in Redis.
//
// Each entry is a JSON document under <prefix>entry:<id>. Sorted sets scored
// by the entry timestamp in microseconds index the global timeline, each
// resource and each actor. An append writes the document and every index in
// one MULTI/EXEC transaction.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	id "auditlog/pkg/domain"
	"auditlog/pkg/platform/audit"
	"auditlog/pkg/platform/sentinel"
)

const (
	defaultPrefix = "auditlog:"
	pageSize      = 256
)

// Store implements audit.Store on Redis.
type Store struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// Option configures the store.
type Option func(*Store)

// WithKeyPrefix namespaces every key. Defaults to "auditlog:".
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a Redis audit store.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, prefix: defaultPrefix, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// document is the persisted form. Changes stays raw so a corrupt diff only
// affects that field.
type document struct {
	ID            string          `json:"id"`
	Timestamp     time.Time       `json:"timestamp"`
	ResourceType  string          `json:"resource_type"`
	ResourceID    *string         `json:"resource_id"`
	ResourceRepr  string          `json:"resource_repr"`
	Action        audit.Action    `json:"action"`
	Actor         *audit.Actor    `json:"actor"`
	RemoteAddress string          `json:"remote_address,omitempty"`
	Changes       json.RawMessage `json:"changes,omitempty"`
}

func (s *Store) entryKey(entryID string) string { return s.prefix + "entry:" + entryID }
func (s *Store) timelineKey() string            { return s.prefix + "timeline" }
func (s *Store) actorKey(actorID string) string { return s.prefix + "actor:" + actorID }
func (s *Store) resourceKey(resourceType, resourceID string) string {
	return s.prefix + "resource:" + resourceType + ":" + resourceID
}

// Append writes the entry and its index memberships atomically.
func (s *Store) Append(ctx context.Context, entry audit.LogEntry) (audit.LogEntry, error) {
	if err := entry.Validate(); err != nil {
		return audit.LogEntry{}, err
	}
	changes, err := audit.EncodeChanges(entry.Changes)
	if err != nil {
		return audit.LogEntry{}, err
	}

	entry.ID = id.NewEntryID()
	// Scores are microseconds; truncating keeps the score exact.
	entry.Timestamp = s.now().UTC().Truncate(time.Microsecond)

	doc, err := json.Marshal(document{
		ID:            entry.ID.String(),
		Timestamp:     entry.Timestamp,
		ResourceType:  entry.ResourceType,
		ResourceID:    entry.ResourceID,
		ResourceRepr:  entry.ResourceRepr,
		Action:        entry.Action,
		Actor:         entry.Actor,
		RemoteAddress: entry.RemoteAddress,
		Changes:       changes,
	})
	if err != nil {
		return audit.LogEntry{}, fmt.Errorf("marshal audit entry: %w", err)
	}

	member := redis.Z{Score: score(entry.Timestamp), Member: entry.ID.String()}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.entryKey(entry.ID.String()), doc, 0)
		pipe.ZAdd(ctx, s.timelineKey(), member)
		if entry.ResourceID != nil {
			pipe.ZAdd(ctx, s.resourceKey(entry.ResourceType, *entry.ResourceID), member)
		}
		if entry.Actor != nil {
			pipe.ZAdd(ctx, s.actorKey(entry.Actor.ID), member)
		}
		return nil
	})
	if err != nil {
		return audit.LogEntry{}, fmt.Errorf("append audit entry: %w", err)
	}
	return entry, nil
}

// List walks the narrowest index newest first, applying the remaining filter
// fields in process. Members with equal scores come back in reverse ID order,
// which for time-ordered IDs is newest first.
func (s *Store) List(ctx context.Context, filter audit.Filter) ([]audit.LogEntry, error) {
	key := s.timelineKey()
	switch {
	case filter.ResourceType != "" && filter.ResourceID != "":
		key = s.resourceKey(filter.ResourceType, filter.ResourceID)
	case filter.ActorID != "":
		key = s.actorKey(filter.ActorID)
	}

	minScore := "-inf"
	if !filter.Since.IsZero() {
		minScore = formatScore(score(filter.Since))
	}
	cur := &cursor{max: "+inf"}
	if !filter.Until.IsZero() {
		cur.max = "(" + formatScore(score(filter.Until))
	}

	var out []audit.LogEntry
	for {
		rng := cur.rangeBy(minScore)
		page, err := s.client.ZRevRangeByScoreWithScores(ctx, key, rng).Result()
		if err != nil {
			return nil, fmt.Errorf("query audit index: %w", err)
		}
		if len(page) == 0 {
			return out, nil
		}
		entries, err := s.fetch(ctx, cur.advance(page))
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !filter.Matches(e) {
				continue
			}
			out = append(out, e)
			if filter.Limit > 0 && len(out) == filter.Limit {
				return out, nil
			}
		}
		if int64(len(page)) < rng.Count {
			return out, nil
		}
	}
}

// cursor pages an index by score. After each page the upper bound is pinned
// to the last score returned, so members added later never shift a page, and
// members already returned at that score are skipped.
type cursor struct {
	max   string
	score float64
	seen  map[string]struct{}
}

func (c *cursor) rangeBy(minScore string) *redis.ZRangeBy {
	return &redis.ZRangeBy{Min: minScore, Max: c.max, Count: int64(pageSize + len(c.seen))}
}

// advance consumes a page and returns the members not returned before.
func (c *cursor) advance(page []redis.Z) []string {
	fresh := make([]string, 0, len(page))
	for _, z := range page {
		if _, ok := c.seen[member(z)]; !ok {
			fresh = append(fresh, member(z))
		}
	}

	last := page[len(page)-1].Score
	if c.seen == nil || last != c.score {
		c.seen = make(map[string]struct{})
		c.score = last
	}
	for _, z := range page {
		if z.Score == last {
			c.seen[member(z)] = struct{}{}
		}
	}
	c.max = formatScore(last)
	return fresh
}

func member(z redis.Z) string {
	if m, ok := z.Member.(string); ok {
		return m
	}
	return fmt.Sprint(z.Member)
}

// Get returns one entry by ID.
func (s *Store) Get(ctx context.Context, entryID id.EntryID) (audit.LogEntry, error) {
	raw, err := s.client.Get(ctx, s.entryKey(entryID.String())).Bytes()
	if errors.Is(err, redis.Nil) {
		return audit.LogEntry{}, fmt.Errorf("audit entry %s: %w", entryID, sentinel.ErrNotFound)
	}
	if err != nil {
		return audit.LogEntry{}, fmt.Errorf("get audit entry: %w", err)
	}
	return decode(raw)
}

func (s *Store) fetch(ctx context.Context, ids []string) ([]audit.LogEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, entryID := range ids {
		keys[i] = s.entryKey(entryID)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch audit entries: %w", err)
	}

	entries := make([]audit.LogEntry, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		e, err := decode([]byte(raw))
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func decode(raw []byte) (audit.LogEntry, error) {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return audit.LogEntry{}, fmt.Errorf("decode audit entry: %w", err)
	}
	entryID, err := id.ParseEntryID(doc.ID)
	if err != nil {
		return audit.LogEntry{}, fmt.Errorf("decode audit entry: %w", err)
	}

	e := audit.LogEntry{
		ID:            entryID,
		Timestamp:     doc.Timestamp.UTC(),
		ResourceType:  doc.ResourceType,
		ResourceID:    doc.ResourceID,
		ResourceRepr:  doc.ResourceRepr,
		Action:        doc.Action,
		Actor:         doc.Actor,
		RemoteAddress: doc.RemoteAddress,
	}
	if e.Changes, err = audit.DecodeChanges(doc.Changes); err != nil {
		e.Changes = nil
		e.ChangesUnavailable = true
	}
	return e, nil
}

func score(t time.Time) float64 {
	return float64(t.UnixMicro())
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
