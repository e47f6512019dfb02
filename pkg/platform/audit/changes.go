package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Change is the [old, new] pair recorded for one field. A nil side means the
// field was absent or null in that snapshot.
type Change struct {
	Old *string
	New *string
}

// MarshalJSON encodes the pair as a two-element array, e.g. [null,"B"].
func (c Change) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]*string{c.Old, c.New})
}

// UnmarshalJSON decodes a two-element array. Any other shape is rejected so
// corrupted documents are detected rather than silently half-read.
func (c *Change) UnmarshalJSON(b []byte) error {
	var pair []*string
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("decode change: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("decode change: want 2 elements, got %d", len(pair))
	}
	c.Old, c.New = pair[0], pair[1]
	return nil
}

// Changes maps field name to its recorded change.
type Changes map[string]Change

// Fields returns the changed field names in lexicographic order.
func (c Changes) Fields() []string {
	fields := make([]string, 0, len(c))
	for f := range c {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// Clone returns a copy that shares no maps or pointers with c.
func (c Changes) Clone() Changes {
	if c == nil {
		return nil
	}
	out := make(Changes, len(c))
	for f, ch := range c {
		out[f] = Change{Old: clonePtr(ch.Old), New: clonePtr(ch.New)}
	}
	return out
}

func clonePtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// EncodeChanges produces the persisted document. Keys are sorted by
// encoding/json, so equal mappings always encode to identical bytes. Empty
// or nil changes encode to nil (no document).
func EncodeChanges(c Changes) ([]byte, error) {
	if len(c) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode changes: %w", err)
	}
	return b, nil
}

// DecodeChanges parses a persisted document. Empty input and JSON null decode
// to nil changes.
func DecodeChanges(b []byte) (Changes, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil, nil
	}
	var c Changes
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("decode changes: %w", err)
	}
	return c, nil
}
