package httptransport

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	id "auditlog/pkg/domain"
	"auditlog/pkg/platform/audit"
	"auditlog/pkg/platform/audit/registry"
	"auditlog/pkg/platform/audit/summary"
	"auditlog/pkg/platform/audit/viewlog"
	"auditlog/pkg/platform/httputil"
	"auditlog/pkg/platform/sentinel"
	pkgstrings "auditlog/pkg/platform/strings"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// EntryResponse is the list representation of an entry.
type EntryResponse struct {
	ID            string       `json:"id"`
	Timestamp     time.Time    `json:"timestamp"`
	Created       string       `json:"created"`
	ResourceType  string       `json:"resource_type"`
	ResourceID    *string      `json:"resource_id"`
	ResourceRepr  string       `json:"resource_repr"`
	Resource      string       `json:"resource"`
	Action        audit.Action `json:"action"`
	Actor         *audit.Actor `json:"actor"`
	ActorLabel    string       `json:"actor_label"`
	RemoteAddress string       `json:"remote_address,omitempty"`
	Summary       string       `json:"summary"`
}

// EntryDetailResponse adds the full change table.
type EntryDetailResponse struct {
	EntryResponse
	Header  [4]string     `json:"header"`
	Changes summary.Table `json:"changes"`
}

// ListResponse wraps a page of entries.
type ListResponse struct {
	Entries []EntryResponse `json:"entries"`
	Count   int             `json:"count"`
}

func toEntryResponse(e audit.LogEntry) EntryResponse {
	return EntryResponse{
		ID:            e.ID.String(),
		Timestamp:     e.Timestamp,
		Created:       summary.Created(e),
		ResourceType:  e.ResourceType,
		ResourceID:    e.ResourceID,
		ResourceRepr:  e.ResourceRepr,
		Resource:      summary.ResourceLabel(e),
		Action:        e.Action,
		Actor:         e.Actor,
		ActorLabel:    summary.ActorLabel(e),
		RemoteAddress: e.RemoteAddress,
		Summary:       summary.Short(e),
	}
}

func (h *Handler) handleListEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	entries, err := h.store.List(ctx, filter)
	if err != nil {
		h.logFailure(ctx, "failed to list audit entries", err)
		httputil.WriteError(w, err)
		return
	}

	resp := ListResponse{Entries: make([]EntryResponse, 0, len(entries)), Count: len(entries)}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, toEntryResponse(e))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entryID, err := id.ParseEntryID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	entry, err := h.store.Get(ctx, entryID)
	if err != nil {
		h.logFailure(ctx, "failed to load audit entry", err)
		httputil.WriteError(w, err)
		return
	}

	var extra []string
	if reg, ok := h.registry.Lookup(registry.Descriptor(entry.ResourceType)); ok {
		extra = reg.Redact
	}
	httputil.WriteJSON(w, http.StatusOK, EntryDetailResponse{
		EntryResponse: toEntryResponse(entry),
		Header:        summary.Header,
		Changes:       summary.Full(entry, extra...),
	})
}

func parseFilter(q url.Values) (audit.Filter, error) {
	f := audit.Filter{
		ResourceType: strings.TrimSpace(q.Get("resource_type")),
		ResourceID:   strings.TrimSpace(q.Get("resource_id")),
		ActorID:      strings.TrimSpace(q.Get("actor_id")),
		Limit:        defaultListLimit,
	}

	var raw []string
	for _, v := range q["action"] {
		raw = append(raw, strings.Split(v, ",")...)
	}
	for _, s := range pkgstrings.DedupeAndTrimLower(raw) {
		a, err := audit.ParseAction(s)
		if err != nil {
			return audit.Filter{}, err
		}
		f.Actions = append(f.Actions, a)
	}

	var err error
	if f.Since, err = parseTime(q.Get("since")); err != nil {
		return audit.Filter{}, fmt.Errorf("since: %w", err)
	}
	if f.Until, err = parseTime(q.Get("until")); err != nil {
		return audit.Filter{}, fmt.Errorf("until: %w", err)
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return audit.Filter{}, fmt.Errorf("limit must be a positive integer: %w", sentinel.ErrInvalidInput)
		}
		f.Limit = min(n, maxListLimit)
	}
	return f, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC 3339 time %q: %w", s, sentinel.ErrInvalidInput)
	}
	return t, nil
}

// resolveEntryRead identifies what an audit read looked at: a single entry
// for detail requests and the query for list requests.
func resolveEntryRead(r *http.Request) (viewlog.Target, error) {
	if raw := chi.URLParam(r, "id"); raw != "" {
		entryID, err := id.ParseEntryID(raw)
		if err != nil {
			return viewlog.Target{}, err
		}
		s := entryID.String()
		return viewlog.Target{Type: EntryResourceType, ID: &s}, nil
	}
	repr := "entries"
	if r.URL.RawQuery != "" {
		repr += "?" + r.URL.RawQuery
	}
	return viewlog.Target{Type: EntryResourceType, Repr: repr}, nil
}
