package differ

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auditlog/pkg/platform/audit"
)

func ptr(s string) *string { return &s }

func TestDiff_UpdateEmitsOnlyChangedFields(t *testing.T) {
	old := Snapshot{"name": "A", "email": "a@x.com"}
	new := Snapshot{"name": "B", "email": "a@x.com"}

	res := Diff(old, new, []string{"email", "name"})

	assert.Equal(t, audit.Changes{"name": {Old: ptr("A"), New: ptr("B")}}, res.Changes)
	assert.Empty(t, res.Failures)
}

func TestDiff_CreateEmitsNonNilNewValues(t *testing.T) {
	new := Snapshot{"name": "B", "email": "b@x.com", "nickname": nil}

	res := Diff(Snapshot{}, new, []string{"email", "name", "nickname"})

	assert.Equal(t, audit.Changes{
		"name":  {Old: nil, New: ptr("B")},
		"email": {Old: nil, New: ptr("b@x.com")},
	}, res.Changes)
}

func TestDiff_AbsentFieldIsNull(t *testing.T) {
	res := Diff(Snapshot{"phone": "1"}, Snapshot{}, []string{"phone"})
	assert.Equal(t, audit.Changes{"phone": {Old: ptr("1"), New: nil}}, res.Changes)

	res = Diff(Snapshot{"phone": nil}, Snapshot{}, []string{"phone"})
	assert.Empty(t, res.Changes)
}

func TestDiff_IgnoresUntrackedFields(t *testing.T) {
	old := Snapshot{"name": "A", "updated_at": time.Unix(1, 0)}
	new := Snapshot{"name": "A", "updated_at": time.Unix(2, 0), "bad": make(chan int)}

	res := Diff(old, new, []string{"name"})

	assert.Empty(t, res.Changes)
	assert.Empty(t, res.Failures, "untracked fields are never serialized")
}

func TestDiff_StableForUnorderedCollections(t *testing.T) {
	old := Snapshot{"tags": map[string]bool{"a": true, "b": true, "c": true}}
	new := Snapshot{"tags": map[string]bool{"c": true, "b": true, "a": true}}

	for range 20 {
		res := Diff(old, new, []string{"tags"})
		require.Empty(t, res.Changes)
	}

	raw := Diff(
		Snapshot{"doc": json.RawMessage(`{"b":1,"a":2}`)},
		Snapshot{"doc": json.RawMessage(`{"a":2, "b":1}`)},
		[]string{"doc"},
	)
	assert.Empty(t, raw.Changes)
}

func TestDiff_NumericAndTypedValuesCompareByDisplayForm(t *testing.T) {
	res := Diff(
		Snapshot{"count": 3, "active": true, "ratio": 0.5},
		Snapshot{"count": int64(3), "active": false, "ratio": float32(0.5)},
		[]string{"active", "count", "ratio"},
	)
	assert.Equal(t, audit.Changes{"active": {Old: ptr("true"), New: ptr("false")}}, res.Changes)
}

func TestDiff_DecodedJSONNumbersCompareByValue(t *testing.T) {
	res := Diff(
		Snapshot{"count": json.Number("1"), "ratio": json.Number("0.50"), "tags": map[string]any{"n": json.Number("2")}},
		Snapshot{"count": json.Number("1.0"), "ratio": 0.5, "tags": map[string]any{"n": json.Number("2.0")}},
		[]string{"count", "ratio", "tags"},
	)
	assert.Empty(t, res.Changes)
	assert.Empty(t, res.Failures)
}

func TestDiff_SerializationFailureUsesPlaceholderAndContinues(t *testing.T) {
	res := Diff(
		Snapshot{"callback": nil, "name": "A"},
		Snapshot{"callback": func() {}, "name": "B"},
		[]string{"callback", "name"},
	)

	assert.Equal(t, []string{"callback"}, res.Failures)
	assert.Equal(t, ptr(Placeholder), res.Changes["callback"].New)
	assert.Equal(t, audit.Change{Old: ptr("A"), New: ptr("B")}, res.Changes["name"])
}

type status int

func (s status) String() string {
	if s == 1 {
		return "active"
	}
	return "inactive"
}

type address struct {
	City string `json:"city"`
}

func TestDisplay(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	var nilTime *time.Time
	var nilSlice []string
	var nilMap map[string]int
	name := "bob"

	tests := []struct {
		name  string
		input any
		want  *string
	}{
		{"nil", nil, nil},
		{"string", "x", ptr("x")},
		{"bool", true, ptr("true")},
		{"int", -42, ptr("-42")},
		{"uint", uint8(7), ptr("7")},
		{"float", 1.25, ptr("1.25")},
		{"nan", math.NaN(), ptr("NaN")},
		{"time in utc", ts, ptr("2024-05-01T09:00:00Z")},
		{"nil time pointer", nilTime, nil},
		{"duration", 90 * time.Second, ptr("1m30s")},
		{"bytes", []byte("hi"), ptr("aGk=")},
		{"stringer", status(1), ptr("active")},
		{"error", errors.New("boom"), ptr("boom")},
		{"pointer", &name, ptr("bob")},
		{"nil slice", nilSlice, nil},
		{"nil map", nilMap, nil},
		{"slice keeps order", []int{3, 1, 2}, ptr("[3,1,2]")},
		{"map sorted", map[string]int{"b": 2, "a": 1}, ptr(`{"a":1,"b":2}`)},
		{"struct", address{City: "Oslo"}, ptr(`{"city":"Oslo"}`)},
		{"json null", json.RawMessage("null"), nil},
		{"json integer", json.Number("7"), ptr("7")},
		{"json integral float", json.Number("7.0"), ptr("7")},
		{"json exponent", json.Number("1.5e1"), ptr("15")},
		{"json fraction", json.Number("0.25"), ptr("0.25")},
		{"json integer beyond int64", json.Number("18446744073709551616"), ptr("18446744073709551616")},
		{"json numbers nested", map[string]any{"n": []any{json.Number("1.0")}}, ptr(`{"n":[1]}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Display(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("unserializable", func(t *testing.T) {
		got, err := Display(map[string]float64{"x": math.Inf(1)})
		require.Error(t, err)
		assert.Equal(t, ptr(Placeholder), got)
	})
}
