// Package storetest is a conformance suite every audit.Store backend runs.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "auditlog/pkg/domain"
	"auditlog/pkg/platform/audit"
	"auditlog/pkg/platform/sentinel"
)

// Factory returns an empty store. It is called once per sub-test.
type Factory func(t *testing.T) audit.Store

// Run exercises the append, list and get contract against stores from newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("append assigns id and utc timestamp", func(t *testing.T) {
		testAppend(t, newStore(t))
	})
	t.Run("changes round trip byte for byte", func(t *testing.T) {
		testRoundTrip(t, newStore(t))
	})
	t.Run("entries without id or actor", func(t *testing.T) {
		testOptionalFields(t, newStore(t))
	})
	t.Run("get unknown id", func(t *testing.T) {
		_, err := newStore(t).Get(context.Background(), id.NewEntryID())
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})
	t.Run("list is newest first", func(t *testing.T) {
		testOrder(t, newStore(t))
	})
	t.Run("list filters", func(t *testing.T) {
		testFilters(t, newStore(t))
	})
	t.Run("concurrent appends", func(t *testing.T) {
		testConcurrentAppends(t, newStore(t))
	})
}

func userEntry(resourceID string, action audit.Action, actorID string) audit.LogEntry {
	e := audit.LogEntry{
		ResourceType:  "accounts.User",
		ResourceID:    audit.StringPtr(resourceID),
		ResourceRepr:  "user " + resourceID,
		Action:        action,
		RemoteAddress: "203.0.113.7",
	}
	if actorID != "" {
		e.Actor = &audit.Actor{ID: actorID, Name: actorID + " name"}
	}
	if action.CarriesChanges() {
		e.Changes = audit.Changes{"name": {Old: audit.StringPtr("A"), New: audit.StringPtr("B")}}
	}
	return e
}

func testAppend(t *testing.T, store audit.Store) {
	ctx := context.Background()
	before := time.Now().Add(-time.Second)

	stored, err := store.Append(ctx, userEntry("1", audit.ActionUpdate, "alice"))

	require.NoError(t, err)
	assert.False(t, stored.ID.IsNil())
	assert.Equal(t, time.UTC, stored.Timestamp.Location())
	assert.True(t, stored.Timestamp.After(before), "timestamp %s", stored.Timestamp)

	got, err := store.Get(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.ID, got.ID)
	assert.True(t, stored.Timestamp.Equal(got.Timestamp))
	assert.Equal(t, "accounts.User", got.ResourceType)
	assert.Equal(t, "1", *got.ResourceID)
	assert.Equal(t, "user 1", got.ResourceRepr)
	assert.Equal(t, audit.ActionUpdate, got.Action)
	assert.Equal(t, &audit.Actor{ID: "alice", Name: "alice name"}, got.Actor)
	assert.Equal(t, "203.0.113.7", got.RemoteAddress)
	assert.Equal(t, stored.Changes, got.Changes)
	assert.False(t, got.ChangesUnavailable)
}

func testRoundTrip(t *testing.T, store audit.Store) {
	ctx := context.Background()
	e := userEntry("1", audit.ActionCreate, "alice")
	e.Changes = audit.Changes{
		"name":    {Old: nil, New: audit.StringPtr("B")},
		"email":   {Old: nil, New: audit.StringPtr("b@x.com")},
		"bio":     {Old: audit.StringPtr(`he said "hi" \ ✓`), New: audit.StringPtr("")},
		"balance": {Old: audit.StringPtr("0.1"), New: audit.StringPtr("1e+21")},
	}
	want, err := audit.EncodeChanges(e.Changes)
	require.NoError(t, err)

	stored, err := store.Append(ctx, e)
	require.NoError(t, err)
	got, err := store.Get(ctx, stored.ID)
	require.NoError(t, err)

	assert.Equal(t, e.Changes, got.Changes)
	encoded, err := audit.EncodeChanges(got.Changes)
	require.NoError(t, err)
	assert.Equal(t, string(want), string(encoded))
}

func testOptionalFields(t *testing.T, store audit.Store) {
	ctx := context.Background()
	e := audit.LogEntry{ResourceType: "inventory.Bin", ResourceRepr: "bin (A, 3)", Action: audit.ActionDelete}

	stored, err := store.Append(ctx, e)
	require.NoError(t, err)
	got, err := store.Get(ctx, stored.ID)
	require.NoError(t, err)

	assert.Nil(t, got.ResourceID)
	assert.Equal(t, "bin (A, 3)", got.ResourceRepr)
	assert.Nil(t, got.Actor)
	assert.Empty(t, got.Changes)
	assert.Equal(t, "", got.RemoteAddress)
}

func testOrder(t *testing.T, store audit.Store) {
	ctx := context.Background()
	var want []id.EntryID
	for i := 0; i < 5; i++ {
		stored, err := store.Append(ctx, userEntry("1", audit.ActionView, "alice"))
		require.NoError(t, err)
		want = append([]id.EntryID{stored.ID}, want...)
	}

	got, err := store.List(ctx, audit.Filter{})
	require.NoError(t, err)
	assert.Equal(t, want, entryIDs(got))
}

func testFilters(t *testing.T, store audit.Store) {
	ctx := context.Background()
	created, err := store.Append(ctx, userEntry("1", audit.ActionCreate, "alice"))
	require.NoError(t, err)
	viewed, err := store.Append(ctx, userEntry("1", audit.ActionView, "bob"))
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	updated, err := store.Append(ctx, userEntry("2", audit.ActionUpdate, "alice"))
	require.NoError(t, err)
	system, err := store.Append(ctx, userEntry("2", audit.ActionDelete, ""))
	require.NoError(t, err)

	tests := []struct {
		name   string
		filter audit.Filter
		want   []id.EntryID
	}{
		{"resource", audit.Filter{ResourceType: "accounts.User", ResourceID: "1"}, []id.EntryID{viewed.ID, created.ID}},
		{"other type", audit.Filter{ResourceType: "billing.Invoice"}, nil},
		{"actor", audit.Filter{ActorID: "alice"}, []id.EntryID{updated.ID, created.ID}},
		{"single action", audit.Filter{Actions: []audit.Action{audit.ActionView}}, []id.EntryID{viewed.ID}},
		{"several actions", audit.Filter{Actions: []audit.Action{audit.ActionCreate, audit.ActionDelete}}, []id.EntryID{system.ID, created.ID}},
		{"since inclusive", audit.Filter{Since: updated.Timestamp}, []id.EntryID{system.ID, updated.ID}},
		{"until exclusive", audit.Filter{Until: updated.Timestamp}, []id.EntryID{viewed.ID, created.ID}},
		{"limit", audit.Filter{Limit: 2}, []id.EntryID{system.ID, updated.ID}},
		{"combined", audit.Filter{ResourceID: "2", ActorID: "alice", Actions: []audit.Action{audit.ActionUpdate}}, []id.EntryID{updated.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.List(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, entryIDs(got))
		})
	}
}

func testConcurrentAppends(t *testing.T, store audit.Store) {
	ctx := context.Background()
	const workers, perWorker = 8, 10

	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if _, err := store.Append(ctx, userEntry("1", audit.ActionView, "alice")); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := store.List(ctx, audit.Filter{})
	require.NoError(t, err)
	assert.Len(t, got, workers*perWorker)
	seen := make(map[id.EntryID]struct{})
	for _, e := range got {
		seen[e.ID] = struct{}{}
	}
	assert.Len(t, seen, workers*perWorker)
}

func entryIDs(entries []audit.LogEntry) []id.EntryID {
	if len(entries) == 0 {
		return nil
	}
	out := make([]id.EntryID, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}
