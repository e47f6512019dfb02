package audit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAction(t *testing.T) {
	tests := []struct {
		in      string
		want    Action
		wantErr bool
	}{
		{"create", ActionCreate, false},
		{"UPDATE", ActionUpdate, false},
		{" delete ", ActionDelete, false},
		{"View", ActionView, false},
		{"access_denied", ActionAccessDenied, false},
		{"", "", true},
		{"purge", "", true},
		{"access-denied", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAction(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidAction))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestActionCarriesChanges(t *testing.T) {
	assert.True(t, ActionCreate.CarriesChanges())
	assert.True(t, ActionUpdate.CarriesChanges())
	assert.False(t, ActionDelete.CarriesChanges())
	assert.False(t, ActionView.CarriesChanges())
	assert.False(t, ActionAccessDenied.CarriesChanges())
	assert.False(t, Action("purge").CarriesChanges())
}

func TestLogEntryValidate(t *testing.T) {
	valid := func() LogEntry {
		return LogEntry{ResourceType: "accounts.User", ResourceID: StringPtr("1"), Action: ActionUpdate}
	}

	t.Run("valid entry", func(t *testing.T) {
		require.NoError(t, valid().Validate())
	})

	t.Run("unknown action", func(t *testing.T) {
		e := valid()
		e.Action = "purge"
		assert.ErrorIs(t, e.Validate(), ErrInvalidAction)
	})

	t.Run("missing resource type", func(t *testing.T) {
		e := valid()
		e.ResourceType = ""
		assert.ErrorIs(t, e.Validate(), ErrInvalidEntry)
	})

	t.Run("repr required without id", func(t *testing.T) {
		e := valid()
		e.ResourceID = nil
		assert.ErrorIs(t, e.Validate(), ErrInvalidEntry)

		e.ResourceRepr = "composite #1"
		assert.NoError(t, e.Validate())
	})

	t.Run("changes on a view", func(t *testing.T) {
		e := valid()
		e.Action = ActionView
		e.Changes = Changes{"name": {New: StringPtr("x")}}
		assert.ErrorIs(t, e.Validate(), ErrInvalidAction)
	})
}

func TestFilterMatches(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	e := LogEntry{
		Timestamp:    base,
		ResourceType: "accounts.User",
		ResourceID:   StringPtr("42"),
		Action:       ActionUpdate,
		Actor:        &Actor{ID: "alice"},
	}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty filter", Filter{}, true},
		{"resource type", Filter{ResourceType: "accounts.User"}, true},
		{"other resource type", Filter{ResourceType: "billing.Invoice"}, false},
		{"resource id", Filter{ResourceID: "42"}, true},
		{"other resource id", Filter{ResourceID: "7"}, false},
		{"actor", Filter{ActorID: "alice"}, true},
		{"other actor", Filter{ActorID: "bob"}, false},
		{"action in set", Filter{Actions: []Action{ActionCreate, ActionUpdate}}, true},
		{"action not in set", Filter{Actions: []Action{ActionView}}, false},
		{"since is inclusive", Filter{Since: base}, true},
		{"since after", Filter{Since: base.Add(time.Second)}, false},
		{"until is exclusive", Filter{Until: base}, false},
		{"until after", Filter{Until: base.Add(time.Second)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(e))
		})
	}

	t.Run("system entry never matches an actor filter", func(t *testing.T) {
		sys := e
		sys.Actor = nil
		assert.False(t, Filter{ActorID: "alice"}.Matches(sys))
		assert.Equal(t, "", sys.ActorID())
	})
}
