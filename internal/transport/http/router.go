package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"auditlog/internal/platform/metrics"
	"auditlog/pkg/platform/audit/viewlog"
	"auditlog/pkg/platform/middleware/auth"
	"auditlog/pkg/platform/middleware/metadata"
)

// RouterOptions carries the optional pieces of the HTTP surface.
type RouterOptions struct {
	// Validator enables bearer-token actor resolution when set.
	Validator auth.TokenValidator
	// Metrics records per-route request counts and latency when set.
	Metrics *metrics.Metrics
	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler
	// TrackReads logs every read of the audit entries as a view.
	TrackReads bool
	Logger     *slog.Logger
}

// NewRouter wires the public endpoints.
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(metadata.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(middleware.Recoverer)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
	}

	r.Get("/healthz", h.handleHealth)
	if opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", opts.MetricsHandler)
	}

	r.Route("/audit", func(r chi.Router) {
		if opts.Validator != nil {
			r.Use(auth.Actor(opts.Validator, logger))
		}

		r.Group(func(r chi.Router) {
			if opts.TrackReads {
				r.Use(viewlog.Middleware(h.writer, resolveEntryRead, logger))
			}
			r.Get("/entries", h.handleListEntries)
			r.Get("/entries/{id}", h.handleGetEntry)
		})

		r.Post("/events", h.handleRecordEvent)
		r.Post("/views", h.handleRecordView)
	})
	return r
}
