package differ

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Placeholder replaces a value that cannot be serialized.
const Placeholder = "<unserializable>"

// Display renders v in the form stored in a change pair. The output is
// deterministic: maps are emitted with sorted keys and times are normalized
// to UTC, so equal values never compare unequal because of ordering.
// A nil result means null. When v cannot be serialized the result is
// Placeholder together with a non-nil error.
func Display(v any) (*string, error) {
	s, ok, err := display(v)
	if err != nil {
		p := Placeholder
		return &p, err
	}
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func display(v any) (string, bool, error) {
	switch t := v.(type) {
	case nil:
		return "", false, nil
	case string:
		return t, true, nil
	case bool:
		return strconv.FormatBool(t), true, nil
	case int:
		return strconv.FormatInt(int64(t), 10), true, nil
	case int8:
		return strconv.FormatInt(int64(t), 10), true, nil
	case int16:
		return strconv.FormatInt(int64(t), 10), true, nil
	case int32:
		return strconv.FormatInt(int64(t), 10), true, nil
	case int64:
		return strconv.FormatInt(t, 10), true, nil
	case uint:
		return strconv.FormatUint(uint64(t), 10), true, nil
	case uint8:
		return strconv.FormatUint(uint64(t), 10), true, nil
	case uint16:
		return strconv.FormatUint(uint64(t), 10), true, nil
	case uint32:
		return strconv.FormatUint(uint64(t), 10), true, nil
	case uint64:
		return strconv.FormatUint(t, 10), true, nil
	case float32:
		return formatFloat(float64(t), 32)
	case float64:
		return formatFloat(t, 64)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano), true, nil
	case *time.Time:
		if t == nil {
			return "", false, nil
		}
		return t.UTC().Format(time.RFC3339Nano), true, nil
	case time.Duration:
		return t.String(), true, nil
	case []byte:
		if t == nil {
			return "", false, nil
		}
		return base64.StdEncoding.EncodeToString(t), true, nil
	case json.RawMessage:
		return canonicalJSON(t)
	case json.Number:
		return formatNumber(t)
	case fmt.Stringer:
		if isNilPointer(v) {
			return "", false, nil
		}
		return t.String(), true, nil
	case error:
		if isNilPointer(v) {
			return "", false, nil
		}
		return t.Error(), true, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return "", false, nil
		}
		return display(rv.Elem().Interface())
	case reflect.String:
		return rv.String(), true, nil
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), true, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), true, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10), true, nil
	case reflect.Float32, reflect.Float64:
		return formatFloat(rv.Float(), rv.Type().Bits())
	case reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return "", false, nil
		}
		return marshal(v)
	case reflect.Array, reflect.Struct:
		return marshal(v)
	default:
		return "", false, fmt.Errorf("unsupported value of kind %s", rv.Kind())
	}
}

func formatFloat(f float64, bits int) (string, bool, error) {
	return strconv.FormatFloat(f, 'g', -1, bits), true, nil
}

// formatNumber renders a decoded JSON number by value, so 1, 1.0 and 1e0 are
// equal. Integers outside the int64 range keep their literal text.
func formatNumber(n json.Number) (string, bool, error) {
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10), true, nil
	}
	if !strings.ContainsAny(string(n), ".eE") {
		return string(n), true, nil
	}
	f, err := n.Float64()
	if err != nil {
		return "", false, fmt.Errorf("invalid number %q: %w", n, err)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<63 {
		return strconv.FormatInt(int64(f), 10), true, nil
	}
	return formatFloat(f, 64)
}

// normalizeNumbers rewrites json.Number values nested in decoded JSON so
// they marshal by value.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if s, ok, err := formatNumber(t); err == nil && ok {
			return json.Number(s)
		}
		return t
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalizeNumbers(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeNumbers(e)
		}
		return out
	}
	return v
}

// marshal emits compact JSON. encoding/json sorts map keys, which makes the
// output independent of map iteration order.
func marshal(v any) (string, bool, error) {
	b, err := json.Marshal(normalizeNumbers(v))
	if err != nil {
		return "", false, fmt.Errorf("marshal value: %w", err)
	}
	return string(b), true, nil
}

// canonicalJSON re-encodes raw JSON so object key order in the input does not
// matter.
func canonicalJSON(raw json.RawMessage) (string, bool, error) {
	if len(raw) == 0 {
		return "", false, nil
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", false, fmt.Errorf("decode raw json: %w", err)
	}
	if decoded == nil {
		return "", false, nil
	}
	return marshal(decoded)
}

func isNilPointer(v any) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return rv.IsNil()
	}
	return false
}
