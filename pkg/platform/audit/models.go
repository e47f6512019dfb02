package audit

import (
	"fmt"
	"strings"
	"time"

	id "auditlog/pkg/domain"
)

// Action classifies what happened to a tracked resource. The set is closed;
// construct values with ParseAction at trust boundaries.
type Action string

const (
	ActionCreate       Action = "create"
	ActionUpdate       Action = "update"
	ActionDelete       Action = "delete"
	ActionView         Action = "view"
	ActionAccessDenied Action = "access_denied"
)

// actionCarriesChanges maps each known action to whether its entries may hold a
// field-level diff. Unknown actions are absent.
var actionCarriesChanges = map[Action]bool{
	ActionCreate:       true,
	ActionUpdate:       true,
	ActionDelete:       false,
	ActionView:         false,
	ActionAccessDenied: false,
}

// ParseAction validates s against the closed action set. Matching is
// case-insensitive; the returned value is canonical lower case.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := actionCarriesChanges[a]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
	}
	return a, nil
}

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	_, ok := actionCarriesChanges[a]
	return ok
}

// CarriesChanges reports whether entries with this action hold a diff.
// Delete, view and access-denied entries never do.
func (a Action) CarriesChanges() bool {
	return actionCarriesChanges[a]
}

func (a Action) String() string { return string(a) }

// Actor identifies who triggered an entry. A nil *Actor on an entry means the
// change originated from the system rather than a person.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// LogEntry is one immutable audit record. Stores assign ID and Timestamp at
// append time; nothing in this module updates or deletes an entry afterwards.
type LogEntry struct {
	ID        id.EntryID `json:"id"`
	Timestamp time.Time  `json:"timestamp"`

	// ResourceID is nil when the tracked entity has no simple scalar key; in that
	// case ResourceRepr is required.
	ResourceType  string  `json:"resource_type"`
	ResourceID    *string `json:"resource_id"`
	ResourceRepr  string  `json:"resource_repr"`
	Action        Action  `json:"action"`
	Actor         *Actor  `json:"actor"`
	RemoteAddress string  `json:"remote_address,omitempty"`
	Changes       Changes `json:"changes,omitempty"`

	// ChangesUnavailable is set by stores when the persisted changes document
	// could not be decoded. Renderers degrade instead of failing.
	ChangesUnavailable bool `json:"changes_unavailable,omitempty"`
}

// Validate checks the invariants an entry must satisfy before it is appended.
func (e LogEntry) Validate() error {
	if !e.Action.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidAction, e.Action)
	}
	if e.ResourceType == "" {
		return fmt.Errorf("%w: resource type is required", ErrInvalidEntry)
	}
	if e.ResourceID == nil && e.ResourceRepr == "" {
		return fmt.Errorf("%w: resource repr is required when resource id is absent", ErrInvalidEntry)
	}
	if !e.Action.CarriesChanges() && len(e.Changes) > 0 {
		return fmt.Errorf("%w: %s entries carry no changes", ErrInvalidAction, e.Action)
	}
	return nil
}

// ActorID returns the actor's ID or "" for system entries.
func (e LogEntry) ActorID() string {
	if e.Actor == nil {
		return ""
	}
	return e.Actor.ID
}

// Filter narrows a List query. Zero-valued fields do not constrain results.
// Since is inclusive, Until exclusive.
type Filter struct {
	ResourceType string
	ResourceID   string
	ActorID      string
	Actions      []Action
	Since        time.Time
	Until        time.Time
	Limit        int
}

// Matches reports whether e satisfies every constraint in f. Stores that
// cannot push a filter down to the backend use it to filter in process.
func (f Filter) Matches(e LogEntry) bool {
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	if f.ResourceID != "" && (e.ResourceID == nil || *e.ResourceID != f.ResourceID) {
		return false
	}
	if f.ActorID != "" && e.ActorID() != f.ActorID {
		return false
	}
	if len(f.Actions) > 0 {
		found := false
		for _, a := range f.Actions {
			if a == e.Action {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !e.Timestamp.Before(f.Until) {
		return false
	}
	return true
}

// StringPtr returns a pointer to s. Handy for ResourceID and change values.
func StringPtr(s string) *string {
	return &s
}
