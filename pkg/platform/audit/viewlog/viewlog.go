// Package viewlog records reads of tracked resources.
//
// Middleware wraps a detail handler. After the handler answers, a 2xx
// response is logged as a view and a 403 as an access denial, both through
// Writer.ForceRecord so repeated reads each produce an entry.
package viewlog

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"auditlog/pkg/platform/audit"
	"auditlog/pkg/platform/audit/registry"
	"auditlog/pkg/platform/audit/writer"
	"auditlog/pkg/platform/middleware/metadata"
	"auditlog/pkg/requestcontext"
)

// Target identifies the resource a request read.
type Target struct {
	Type registry.Descriptor
	ID   *string
	Repr string
}

// Resolver maps a request to the resource it reads.
type Resolver func(r *http.Request) (Target, error)

// Recorder is the part of *writer.Writer the middleware needs.
type Recorder interface {
	ForceRecord(ctx context.Context, ev writer.Event) (*audit.LogEntry, error)
}

// Middleware logs reads answered by next. A resolver error or a failed
// append is logged and the response is left untouched.
func Middleware(rec Recorder, resolve Resolver, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			action, ok := actionFor(ww.Status())
			if !ok {
				return
			}

			ctx := r.Context()
			target, err := resolve(r)
			if err != nil {
				logger.WarnContext(ctx, "read not audited, resource could not be resolved",
					"path", r.URL.Path,
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				return
			}

			remote := requestcontext.ClientIP(ctx)
			if remote == "" {
				remote = metadata.ClientIPFromRequest(r)
			}
			_, err = rec.ForceRecord(ctx, writer.Event{
				Type:          target.Type,
				ID:            target.ID,
				Repr:          target.Repr,
				Action:        action,
				Actor:         requestcontext.Actor(ctx),
				RemoteAddress: remote,
			})
			if err != nil {
				logger.ErrorContext(ctx, "read not audited",
					"resource_type", target.Type,
					"action", action,
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
			}
		})
	}
}

func actionFor(status int) (audit.Action, bool) {
	switch {
	case status == 0 || (status >= 200 && status < 300):
		return audit.ActionView, true
	case status == http.StatusForbidden:
		return audit.ActionAccessDenied, true
	default:
		return "", false
	}
}
