// Package registry decides which resource types are audited and how.
//
// A Registry is populated at process start and read on every write. Reads never
// take a lock: Register publishes a fresh copy of the registration map through
// an atomic pointer, so concurrent lookups see either the old or the new
// configuration in full.
package registry

import (
	"path"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
)

// Descriptor names a tracked resource type, e.g. "accounts.User".
type Descriptor string

// Typed is implemented by values that know their own descriptor. Call sites
// holding an instance can pass it directly to Contains.
type Typed interface {
	AuditType() Descriptor
}

// Attribution routes changes of a child resource to its parent's history.
type Attribution struct {
	// ParentType is the descriptor entries are written against.
	ParentType Descriptor `yaml:"parent_type"`
	// ParentIDField is the snapshot field holding the parent's identifier.
	ParentIDField string `yaml:"parent_id_field"`
	// FieldPrefix is prepended to every changed field name, e.g. "address.".
	FieldPrefix string `yaml:"field_prefix"`
}

// Options configures how one resource type is tracked.
type Options struct {
	// Fields lists tracked fields. Empty means every field in the snapshots.
	Fields []string `yaml:"fields"`
	// Exclude is removed from the tracked set in both modes.
	Exclude []string `yaml:"exclude"`
	// Redact lists fields whose values are masked before persistence.
	Redact []string `yaml:"redact"`
	// AttributeTo, when set, records this type's changes on a parent resource.
	AttributeTo *Attribution `yaml:"attribute_to"`
}

// Registration is the resolved configuration for one descriptor.
type Registration struct {
	Type    Descriptor `yaml:"type"`
	Options `yaml:",inline"`

	exclude map[string]struct{}
}

// TrackedFields returns the sorted field names the differ should compare for
// this registration given the two snapshots.
func (r Registration) TrackedFields(old, new map[string]any) []string {
	seen := make(map[string]struct{})
	var fields []string
	add := func(f string) {
		if _, skip := r.exclude[f]; skip {
			return
		}
		if _, dup := seen[f]; dup {
			return
		}
		seen[f] = struct{}{}
		fields = append(fields, f)
	}

	if len(r.Fields) > 0 {
		for _, f := range r.Fields {
			add(f)
		}
	} else {
		for f := range old {
			add(f)
		}
		for f := range new {
			add(f)
		}
	}
	sort.Strings(fields)
	return fields
}

// Tracks reports whether field is tracked under this registration.
func (r Registration) Tracks(field string) bool {
	if _, skip := r.exclude[field]; skip {
		return false
	}
	if len(r.Fields) == 0 {
		return true
	}
	for _, f := range r.Fields {
		if f == field {
			return true
		}
	}
	return false
}

// Registry maps descriptors to registrations.
type Registry struct {
	mu      sync.Mutex // serializes writers only
	entries atomic.Pointer[map[Descriptor]Registration]
}

// New returns an empty registry, optionally seeded with registrations.
func New(regs ...Registration) *Registry {
	r := &Registry{}
	empty := make(map[Descriptor]Registration)
	r.entries.Store(&empty)
	r.RegisterAll(regs...)
	return r
}

// Register tracks d with opts. Registering the same descriptor again replaces
// the previous options.
func (r *Registry) Register(d Descriptor, opts Options) {
	r.RegisterAll(Registration{Type: d, Options: opts})
}

// RegisterAll registers several types with a single publish.
func (r *Registry) RegisterAll(regs ...Registration) {
	if len(regs) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	current := *r.entries.Load()
	next := make(map[Descriptor]Registration, len(current)+len(regs))
	for k, v := range current {
		next[k] = v
	}
	for _, reg := range regs {
		if reg.Type == "" {
			continue
		}
		next[reg.Type] = compile(reg)
	}
	r.entries.Store(&next)
}

func compile(reg Registration) Registration {
	reg.Fields = append([]string(nil), reg.Fields...)
	reg.Exclude = append([]string(nil), reg.Exclude...)
	reg.Redact = append([]string(nil), reg.Redact...)
	if reg.AttributeTo != nil {
		a := *reg.AttributeTo
		reg.AttributeTo = &a
	}
	reg.exclude = make(map[string]struct{}, len(reg.Exclude))
	for _, f := range reg.Exclude {
		reg.exclude[f] = struct{}{}
	}
	return reg
}

// Lookup returns the registration for d.
func (r *Registry) Lookup(d Descriptor) (Registration, bool) {
	reg, ok := (*r.entries.Load())[d]
	return reg, ok
}

// IsTracked reports whether d is registered.
func (r *Registry) IsTracked(d Descriptor) bool {
	_, ok := r.Lookup(d)
	return ok
}

// Contains reports whether v's type is registered. v may be a Descriptor, a
// Typed value, a reflect.Type or any instance; unknown inputs are simply not
// tracked.
func (r *Registry) Contains(v any) bool {
	d := TypeOf(v)
	if d == "" {
		return false
	}
	return r.IsTracked(d)
}

// Types returns the registered descriptors in sorted order.
func (r *Registry) Types() []Descriptor {
	m := *r.entries.Load()
	out := make([]Descriptor, 0, len(m))
	for d := range m {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// TypeOf resolves the descriptor for a type or an instance. Values that
// implement Typed report their own descriptor; other Go values resolve to
// "<package name>.<TypeName>" after dereferencing pointers, so User{},
// (*User)(nil) and reflect.TypeOf(User{}) agree. Strings are taken as
// descriptors verbatim.
func TypeOf(v any) Descriptor {
	switch t := v.(type) {
	case nil:
		return ""
	case Descriptor:
		return t
	case string:
		return Descriptor(t)
	case reflect.Type:
		return resolveType(t)
	default:
		if typed, ok := v.(Typed); ok && !isNilPointer(v) {
			return typed.AuditType()
		}
		return resolveType(reflect.TypeOf(v))
	}
}

var typedInterface = reflect.TypeOf((*Typed)(nil)).Elem()

func resolveType(t reflect.Type) Descriptor {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Name() == "" {
		return ""
	}
	if reflect.PointerTo(t).Implements(typedInterface) {
		return reflect.New(t).Interface().(Typed).AuditType()
	}
	pkg := path.Base(t.PkgPath())
	if pkg == "." || pkg == "" {
		return Descriptor(t.Name())
	}
	return Descriptor(pkg + "." + t.Name())
}

func isNilPointer(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}
