package testutil

import (
	"net/http"

	"auditlog/pkg/platform/audit"
	"auditlog/pkg/requestcontext"
)

// WithActor adds an authenticated actor to the request context.
// This simulates what the auth middleware would do for authenticated requests.
// An empty actorID leaves the request anonymous.
func WithActor(req *http.Request, actorID, name string) *http.Request {
	if actorID == "" {
		return req
	}
	ctx := requestcontext.WithActor(req.Context(), &audit.Actor{ID: actorID, Name: name})
	return req.WithContext(ctx)
}
