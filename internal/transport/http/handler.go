// Package httptransport exposes the audit engine over HTTP: entry queries,
// event ingestion and view recording.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"auditlog/pkg/platform/audit"
	"auditlog/pkg/platform/audit/registry"
	"auditlog/pkg/platform/audit/writer"
	"auditlog/pkg/platform/httputil"
	"auditlog/pkg/requestcontext"
)

// EntryResourceType is the descriptor under which reads of audit entries are
// themselves logged when read tracking is on.
const EntryResourceType registry.Descriptor = "auditlog.LogEntry"

// EventRecorder is the part of *writer.Writer the handlers use.
type EventRecorder interface {
	Record(ctx context.Context, ev writer.Event) (*audit.LogEntry, error)
	ForceRecord(ctx context.Context, ev writer.Event) (*audit.LogEntry, error)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Handler is the thin HTTP layer over the store and writer.
type Handler struct {
	store    audit.Store
	writer   EventRecorder
	registry *registry.Registry
	logger   *slog.Logger
	checks   map[string]HealthCheck
}

// Option configures the Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithHealthCheck adds a named dependency check to /healthz.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(h *Handler) {
		h.checks[name] = check
	}
}

// NewHandler builds a Handler.
func NewHandler(store audit.Store, w EventRecorder, reg *registry.Registry, opts ...Option) *Handler {
	h := &Handler{
		store:    store,
		writer:   w,
		registry: reg,
		checks:   make(map[string]HealthCheck),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.New(slog.DiscardHandler)
	}
	return h
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := map[string]string{}
	healthy := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.WarnContext(ctx, "health check failed",
				"check", name,
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
			status[name] = "unavailable"
			healthy = false
			continue
		}
		status[name] = "ok"
	}

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, code, map[string]any{"healthy": healthy, "checks": status})
}

// logFailure logs server-side failures before they are written to the client.
func (h *Handler) logFailure(ctx context.Context, msg string, err error) {
	if status, _ := httputil.Classify(err); status < http.StatusInternalServerError {
		return
	}
	h.logger.ErrorContext(ctx, msg,
		"error", err,
		"request_id", requestcontext.RequestID(ctx),
	)
}
