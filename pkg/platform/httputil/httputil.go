// Package httputil holds the JSON response helpers shared by HTTP handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"auditlog/pkg/platform/audit"
	"auditlog/pkg/platform/sentinel"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates err into a status and error code. Internal and
// unavailable errors omit the description so backend details do not leak.
func WriteError(w http.ResponseWriter, err error) {
	status, code := Classify(err)
	resp := ErrorResponse{Error: code}
	if status < http.StatusInternalServerError {
		resp.ErrorDescription = err.Error()
	}
	WriteJSON(w, status, resp)
}

// Classify maps an error onto an HTTP status and error code.
func Classify(err error) (int, string) {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, audit.ErrInvalidAction),
		errors.Is(err, audit.ErrInvalidEntry),
		errors.Is(err, sentinel.ErrInvalidInput):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, sentinel.ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
