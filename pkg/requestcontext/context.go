// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// Middleware sets the values; the audit writer and handlers read them without
// importing net/http.
//
//	actor := requestcontext.Actor(ctx)
//	ip := requestcontext.ClientIP(ctx)
//	ctx = requestcontext.WithActor(ctx, &audit.Actor{ID: "u-1"})
package requestcontext

import (
	"context"
	"time"

	"auditlog/pkg/platform/audit"
)

// Context key types (unexported for encapsulation).
type (
	actorKey       struct{}
	clientIPKey    struct{}
	userAgentKey   struct{}
	clientLabelKey struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Exported context keys for direct use in tests that need context.WithValue.
var (
	ContextKeyActor       = actorKey{}
	ContextKeyClientIP    = clientIPKey{}
	ContextKeyUserAgent   = userAgentKey{}
	ContextKeyClientLabel = clientLabelKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// -----------------------------------------------------------------------------
// Actor
// -----------------------------------------------------------------------------

// Actor returns the authenticated actor, or nil for anonymous and system calls.
// The returned value is a copy.
func Actor(ctx context.Context) *audit.Actor {
	if a, ok := ctx.Value(ContextKeyActor).(*audit.Actor); ok && a != nil {
		cp := *a
		return &cp
	}
	return nil
}

// WithActor injects the authenticated actor. A nil actor leaves ctx unchanged.
func WithActor(ctx context.Context, actor *audit.Actor) context.Context {
	if actor == nil {
		return ctx
	}
	return context.WithValue(ctx, ContextKeyActor, actor)
}

// -----------------------------------------------------------------------------
// Client metadata (IP, User-Agent)
// -----------------------------------------------------------------------------

// ClientIP retrieves the client IP address from the context.
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(ContextKeyClientIP).(string); ok {
		return ip
	}
	return ""
}

// UserAgent retrieves the User-Agent from the context.
func UserAgent(ctx context.Context) string {
	if ua, ok := ctx.Value(ContextKeyUserAgent).(string); ok {
		return ua
	}
	return ""
}

// WithClientMetadata injects client IP and User-Agent into a context.
// Useful for unit tests that don't run the full HTTP middleware chain.
func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, ContextKeyClientIP, clientIP)
	ctx = context.WithValue(ctx, ContextKeyUserAgent, userAgent)
	return ctx
}

// ClientLabel returns a short description of the client software, such as
// "Firefox 121.0 on Linux x86_64".
func ClientLabel(ctx context.Context) string {
	if label, ok := ctx.Value(ContextKeyClientLabel).(string); ok {
		return label
	}
	return ""
}

// WithClientLabel injects the client description.
func WithClientLabel(ctx context.Context, label string) context.Context {
	return context.WithValue(ctx, ContextKeyClientLabel, label)
}

// -----------------------------------------------------------------------------
// Request metadata
// -----------------------------------------------------------------------------

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (CLI, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
