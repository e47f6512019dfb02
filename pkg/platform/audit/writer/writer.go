// Package writer turns change and view events into audit log entries.
//
// A Writer consults the registry, diffs the snapshots of tracked fields,
// redacts sensitive values and appends exactly one entry per call that is not
// short-circuited. Untracked types and updates that change nothing are normal
// control flow and return a nil entry with a nil error.
package writer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"auditlog/pkg/platform/audit"
	"auditlog/pkg/platform/audit/differ"
	"auditlog/pkg/platform/audit/redact"
	"auditlog/pkg/platform/audit/registry"
	"auditlog/pkg/requestcontext"
)

const tracerName = "auditlog/pkg/platform/audit/writer"

// Event describes one change to, or read of, a resource.
type Event struct {
	Type registry.Descriptor
	// ID is nil for resources without a scalar key; Repr is then required.
	ID   *string
	Repr string

	// Old and New are flat snapshots. Old is empty on create; New is ignored on
	// delete.
	Old differ.Snapshot
	New differ.Snapshot
	// Changes, when set, is used instead of diffing Old and New. Only create
	// and update events may carry it.
	Changes audit.Changes

	Action        audit.Action
	Actor         *audit.Actor
	RemoteAddress string
}

// Writer records events. It is safe for concurrent use.
type Writer struct {
	registry *registry.Registry
	store    audit.Store
	logger   *slog.Logger
	metrics  *Metrics
	tracer   trace.Tracer
}

// Option configures the Writer.
type Option func(*Writer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(w *Writer) {
		w.metrics = m
	}
}

// WithTracer overrides the tracer taken from the global otel provider.
func WithTracer(t trace.Tracer) Option {
	return func(w *Writer) {
		if t != nil {
			w.tracer = t
		}
	}
}

// New creates a writer over reg and store.
func New(reg *registry.Registry, store audit.Store, opts ...Option) *Writer {
	w := &Writer{
		registry: reg,
		store:    store,
		logger:   slog.New(slog.DiscardHandler),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Record appends an entry for ev. It returns (nil, nil) when the type is not
// registered, whatever the action, or when an update changes no tracked
// field. Creates are always recorded, even with an empty diff.
func (w *Writer) Record(ctx context.Context, ev Event) (*audit.LogEntry, error) {
	return w.record(ctx, ev, false)
}

// ForceRecord is Record without the no-op short-circuit: every call for a
// tracked type appends exactly one entry. Use it for views.
func (w *Writer) ForceRecord(ctx context.Context, ev Event) (*audit.LogEntry, error) {
	return w.record(ctx, ev, true)
}

func (w *Writer) record(ctx context.Context, ev Event, force bool) (_ *audit.LogEntry, err error) {
	ctx, span := w.tracer.Start(ctx, "audit.Record", trace.WithAttributes(
		attribute.String("audit.resource_type", string(ev.Type)),
		attribute.String("audit.action", string(ev.Action)),
		attribute.Bool("audit.force", force),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	reg, ok := w.registry.Lookup(ev.Type)
	if !ok {
		w.logger.DebugContext(ctx, "audit event skipped, type not tracked",
			"resource_type", ev.Type,
			"action", ev.Action,
			"request_id", requestcontext.RequestID(ctx),
		)
		if w.metrics != nil {
			w.metrics.IncUntracked()
		}
		span.SetAttributes(attribute.Bool("audit.tracked", false))
		return nil, nil
	}

	if !ev.Action.Valid() {
		return nil, fmt.Errorf("%w: %q", audit.ErrInvalidAction, ev.Action)
	}
	if !ev.Action.CarriesChanges() && len(ev.Changes) > 0 {
		return nil, fmt.Errorf("%w: %s events carry no changes", audit.ErrInvalidAction, ev.Action)
	}

	// Only updates may be dropped for an empty diff. An attributed child
	// create or delete becomes a parent update and is still persisted.
	persist := force || ev.Action != audit.ActionUpdate

	entry, err := w.build(ctx, reg, ev)
	if err != nil {
		return nil, err
	}

	if !persist && len(entry.Changes) == 0 {
		w.logger.DebugContext(ctx, "audit event skipped, no tracked field changed",
			"resource_type", entry.ResourceType,
			"request_id", requestcontext.RequestID(ctx),
		)
		if w.metrics != nil {
			w.metrics.IncNoops()
		}
		return nil, nil
	}

	if err := entry.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	stored, err := w.store.Append(ctx, entry)
	if err != nil {
		if w.metrics != nil {
			w.metrics.IncStoreFailures()
		}
		w.logger.ErrorContext(ctx, "audit entry append failed",
			"resource_type", entry.ResourceType,
			"action", entry.Action,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, fmt.Errorf("%w: %w", audit.ErrStoreUnavailable, err)
	}

	if w.metrics != nil {
		w.metrics.ObserveAppendDuration(time.Since(start).Seconds())
		w.metrics.IncEntries(string(stored.Action))
	}
	span.SetAttributes(attribute.String("audit.entry_id", stored.ID.String()))
	w.logger.InfoContext(ctx, "audit entry recorded",
		"entry_id", stored.ID,
		"resource_type", stored.ResourceType,
		"action", stored.Action,
		"changes", len(stored.Changes),
		"actor_id", stored.ActorID(),
		"client", requestcontext.ClientLabel(ctx),
		"request_id", requestcontext.RequestID(ctx),
	)
	return &stored, nil
}

func (w *Writer) build(ctx context.Context, reg registry.Registration, ev Event) (audit.LogEntry, error) {
	entry := audit.LogEntry{
		ResourceType:  string(ev.Type),
		ResourceID:    cloneString(ev.ID),
		ResourceRepr:  ev.Repr,
		Action:        ev.Action,
		Actor:         cloneActor(ev.Actor),
		RemoteAddress: ev.RemoteAddress,
	}

	if reg.AttributeTo != nil && attributable(ev.Action) {
		return w.attribute(ctx, reg, ev, entry)
	}
	if ev.Action.CarriesChanges() {
		entry.Changes = redact.Apply(w.diff(ctx, reg, ev, ev.Old, ev.New), reg.Redact)
	}
	return entry, nil
}

// attribute rewrites a child event as an update of its parent. The child's
// field names are prefixed and a deleted child diffs against an empty
// snapshot.
func (w *Writer) attribute(ctx context.Context, reg registry.Registration, ev Event, entry audit.LogEntry) (audit.LogEntry, error) {
	attr := reg.AttributeTo
	parentID, ok := parentIdentifier(ev, attr.ParentIDField)
	if !ok {
		return entry, fmt.Errorf("%w: %s snapshot has no %q to attribute to %s",
			audit.ErrInvalidEntry, ev.Type, attr.ParentIDField, attr.ParentType)
	}

	newSnap := ev.New
	if ev.Action == audit.ActionDelete {
		newSnap = nil
	}
	changes := redact.Apply(w.diff(ctx, reg, ev, ev.Old, newSnap), reg.Redact)
	prefixed := make(audit.Changes, len(changes))
	for field, ch := range changes {
		prefixed[attr.FieldPrefix+field] = ch
	}

	entry.ResourceType = string(attr.ParentType)
	entry.ResourceID = &parentID
	entry.ResourceRepr = ""
	entry.Action = audit.ActionUpdate
	entry.Changes = prefixed
	return entry, nil
}

func (w *Writer) diff(ctx context.Context, reg registry.Registration, ev Event, old, new differ.Snapshot) audit.Changes {
	if ev.Changes != nil {
		out := make(audit.Changes, len(ev.Changes))
		for field, ch := range ev.Changes.Clone() {
			if reg.Tracks(field) {
				out[field] = ch
			}
		}
		return out
	}

	res := differ.Diff(old, new, reg.TrackedFields(old, new))
	for _, field := range res.Failures {
		w.logger.WarnContext(ctx, "audit field value not serializable, placeholder recorded",
			"resource_type", ev.Type,
			"field", field,
			"request_id", requestcontext.RequestID(ctx),
		)
		if w.metrics != nil {
			w.metrics.IncSerializationFailures()
		}
	}
	return res.Changes
}

func attributable(a audit.Action) bool {
	return a == audit.ActionCreate || a == audit.ActionUpdate || a == audit.ActionDelete
}

func parentIdentifier(ev Event, field string) (string, bool) {
	for _, snap := range []differ.Snapshot{ev.New, ev.Old} {
		v, ok := snap[field]
		if !ok {
			continue
		}
		text, err := differ.Display(v)
		if err == nil && text != nil && *text != "" {
			return *text, true
		}
	}
	return "", false
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneActor(a *audit.Actor) *audit.Actor {
	if a == nil {
		return nil
	}
	cp := *a
	return &cp
}
