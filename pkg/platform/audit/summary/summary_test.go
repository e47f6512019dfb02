package summary

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auditlog/pkg/platform/audit"
	"auditlog/pkg/platform/audit/redact"
)

func ptr(s string) *string { return &s }

func entryWith(action audit.Action, fields ...string) audit.LogEntry {
	changes := audit.Changes{}
	for _, f := range fields {
		changes[f] = audit.Change{Old: ptr("old-" + f), New: ptr("new-" + f)}
	}
	return audit.LogEntry{Action: action, ResourceType: "accounts.User", Changes: changes}
}

func TestShort(t *testing.T) {
	t.Run("single change is singular", func(t *testing.T) {
		assert.Equal(t, "1 change: name", Short(entryWith(audit.ActionUpdate, "name")))
	})

	t.Run("several changes are plural and sorted", func(t *testing.T) {
		assert.Equal(t, "2 changes: email, name", Short(entryWith(audit.ActionUpdate, "name", "email")))
	})

	t.Run("create with empty diff", func(t *testing.T) {
		assert.Equal(t, "0 changes: ", Short(entryWith(audit.ActionCreate)))
	})

	t.Run("entries without a diff render empty", func(t *testing.T) {
		for _, a := range []audit.Action{audit.ActionDelete, audit.ActionView, audit.ActionAccessDenied} {
			assert.Equal(t, "", Short(audit.LogEntry{Action: a}), a)
		}
	})

	t.Run("corrupt diff degrades", func(t *testing.T) {
		e := audit.LogEntry{Action: audit.ActionUpdate, ChangesUnavailable: true}
		assert.Equal(t, Unavailable, Short(e))
	})
}

func TestShort_Truncation(t *testing.T) {
	fields := []string{"alpha", "beta", "gamma", "delta", "epsilon", "zeta", "eta", "theta",
		"iota", "kappa", "lambda", "mu", "nu", "xi", "omicron", "zzzz"}
	e := entryWith(audit.ActionUpdate, fields...)

	got := Short(e)

	prefix := fmt.Sprintf("%d changes: ", len(fields))
	require.True(t, strings.HasPrefix(got, prefix))
	list := strings.TrimPrefix(got, prefix)

	assert.True(t, strings.HasSuffix(list, Ellipsis))
	assert.LessOrEqual(t, len(list), MaxFieldsLength+len(Ellipsis))

	joined := strings.Join(e.Changes.Fields(), ", ")
	cut := strings.TrimSuffix(list, Ellipsis)
	assert.True(t, strings.HasPrefix(joined, cut))
	assert.Equal(t, byte(' '), joined[len(cut)], "cut must land on a space boundary")
	assert.Equal(t, strings.LastIndex(joined[:MaxFieldsLength], " "), len(cut))
}

func TestShort_TruncationNeverSplitsFieldNames(t *testing.T) {
	for n := 1; n <= 40; n++ {
		fields := make([]string, n)
		for i := range fields {
			fields[i] = fmt.Sprintf("field_%02d_%s", i, strings.Repeat("x", i%7))
		}
		e := entryWith(audit.ActionUpdate, fields...)
		list := strings.SplitN(Short(e), ": ", 2)[1]
		require.LessOrEqual(t, len(list), MaxFieldsLength+len(Ellipsis))

		names := strings.Split(strings.TrimSuffix(list, Ellipsis), ", ")
		for _, name := range names {
			name = strings.TrimSuffix(name, ",")
			if name == "" {
				continue
			}
			_, ok := e.Changes[name]
			assert.True(t, ok, "fragment %q is not a whole field name", name)
		}
	}
}

func TestShort_SingleOverlongField(t *testing.T) {
	e := entryWith(audit.ActionUpdate, strings.Repeat("a", MaxFieldsLength+10))
	assert.Equal(t, "1 change: ..", Short(e))
}

func TestFull(t *testing.T) {
	e := audit.LogEntry{
		Action: audit.ActionUpdate,
		Changes: audit.Changes{
			"name":     {Old: ptr("A"), New: ptr("B")},
			"email":    {Old: nil, New: ptr("b@x.com")},
			"password": {Old: ptr("secret1"), New: ptr("secret2")},
		},
	}

	table := Full(e)

	require.Equal(t, 3, table.Len())
	assert.Equal(t, Row{Number: 1, Field: "email", Old: nil, New: ptr("b@x.com")}, table.Rows[0])
	assert.Equal(t, Row{Number: 2, Field: "name", Old: ptr("A"), New: ptr("B")}, table.Rows[1])
	assert.Equal(t, Row{Number: 3, Field: "password", Old: ptr(redact.Mask), New: ptr(redact.Mask)}, table.Rows[2])
	assert.False(t, table.Unavailable)
}

func TestFull_RowNumbersDenseInSortedOrder(t *testing.T) {
	e := entryWith(audit.ActionCreate, "zeta", "alpha", "mid", "beta")

	table := Full(e)

	require.Equal(t, len(e.Changes), table.Len())
	for i, row := range table.Rows {
		assert.Equal(t, i+1, row.Number)
		if i > 0 {
			assert.Less(t, table.Rows[i-1].Field, row.Field)
		}
	}
}

func TestFull_ExtraRedactedFields(t *testing.T) {
	e := entryWith(audit.ActionUpdate, "ssn", "name")

	table := Full(e, "SSN")

	require.Equal(t, 2, table.Len())
	assert.Equal(t, ptr(redact.Mask), table.Rows[1].Old)
	assert.Equal(t, ptr("old-name"), table.Rows[0].Old)
}

func TestFull_NoDiffActionsAndCorruption(t *testing.T) {
	for _, a := range []audit.Action{audit.ActionDelete, audit.ActionView} {
		assert.Equal(t, 0, Full(audit.LogEntry{Action: a}).Len())
	}
	table := Full(audit.LogEntry{Action: audit.ActionUpdate, ChangesUnavailable: true})
	assert.True(t, table.Unavailable)
	assert.Equal(t, 0, table.Len())
}

func TestLabels(t *testing.T) {
	e := audit.LogEntry{
		Timestamp:    time.Date(2024, 3, 4, 5, 6, 7, 800, time.UTC),
		ResourceRepr: "Bob",
		ResourceID:   ptr("17"),
	}
	assert.Equal(t, "2024-03-04 05:06:07", Created(e))
	assert.Equal(t, SystemActor, ActorLabel(e))
	assert.Equal(t, "17", ResourceLabel(e))

	e.Actor = &audit.Actor{ID: "u-1"}
	assert.Equal(t, "u-1", ActorLabel(e))
	e.Actor.Name = "alice"
	assert.Equal(t, "alice", ActorLabel(e))

	e.ResourceID = nil
	assert.Equal(t, "Bob", ResourceLabel(e))
}
