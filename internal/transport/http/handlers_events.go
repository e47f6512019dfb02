package httptransport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"auditlog/pkg/platform/audit"
	"auditlog/pkg/platform/audit/differ"
	"auditlog/pkg/platform/audit/registry"
	"auditlog/pkg/platform/audit/writer"
	"auditlog/pkg/platform/httputil"
	"auditlog/pkg/platform/middleware/metadata"
	"auditlog/pkg/platform/sentinel"
	"auditlog/pkg/requestcontext"
)

const maxEventBody = 1 << 20

// EventRequest is the ingestion payload for a change event.
type EventRequest struct {
	ResourceType string          `json:"resource_type"`
	ResourceID   *string         `json:"resource_id"`
	ResourceRepr string          `json:"resource_repr"`
	Action       string          `json:"action"`
	Old          differ.Snapshot `json:"old"`
	New          differ.Snapshot `json:"new"`
	Changes      audit.Changes   `json:"changes"`
	// Actor is used only when the request carries no authenticated actor.
	Actor *audit.Actor `json:"actor"`
	// Force records an entry even when an update changed nothing.
	Force bool `json:"force"`
}

// ViewRequest records a read of a tracked resource.
type ViewRequest struct {
	ResourceType string  `json:"resource_type"`
	ResourceID   *string `json:"resource_id"`
	ResourceRepr string  `json:"resource_repr"`
	// Denied records an access_denied entry instead of a view.
	Denied bool `json:"denied"`
}

func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil {
		return fmt.Errorf("reading body: %w", sentinel.ErrInvalidInput)
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("malformed JSON body: %w", sentinel.ErrInvalidInput)
	}
	return nil
}

func remoteAddress(r *http.Request) string {
	if ip := requestcontext.ClientIP(r.Context()); ip != "" {
		return ip
	}
	return metadata.ClientIPFromRequest(r)
}

func (h *Handler) handleRecordEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req EventRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	action, err := audit.ParseAction(req.Action)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	actor := requestcontext.Actor(ctx)
	if actor == nil {
		actor = req.Actor
	}
	ev := writer.Event{
		Type:          registry.Descriptor(req.ResourceType),
		ID:            req.ResourceID,
		Repr:          req.ResourceRepr,
		Old:           req.Old,
		New:           req.New,
		Changes:       req.Changes,
		Action:        action,
		Actor:         actor,
		RemoteAddress: remoteAddress(r),
	}

	record := h.writer.Record
	if req.Force {
		record = h.writer.ForceRecord
	}
	entry, err := record(ctx, ev)
	h.respondRecorded(w, r, entry, err)
}

func (h *Handler) handleRecordView(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req ViewRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	action := audit.ActionView
	if req.Denied {
		action = audit.ActionAccessDenied
	}
	entry, err := h.writer.ForceRecord(ctx, writer.Event{
		Type:          registry.Descriptor(req.ResourceType),
		ID:            req.ResourceID,
		Repr:          req.ResourceRepr,
		Action:        action,
		Actor:         requestcontext.Actor(ctx),
		RemoteAddress: remoteAddress(r),
	})
	h.respondRecorded(w, r, entry, err)
}

// respondRecorded writes 201 with the stored entry, or 204 when the writer
// short-circuited.
func (h *Handler) respondRecorded(w http.ResponseWriter, r *http.Request, entry *audit.LogEntry, err error) {
	if err != nil {
		h.logFailure(r.Context(), "failed to record audit event", err)
		httputil.WriteError(w, err)
		return
	}
	if entry == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toEntryResponse(*entry))
}
