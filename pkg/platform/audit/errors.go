package audit

import (
	"errors"
	"fmt"

	"auditlog/pkg/platform/sentinel"
)

var (
	// ErrInvalidAction is returned for actions outside the closed set and for
	// diffs supplied with actions that carry none.
	ErrInvalidAction = errors.New("invalid audit action")

	// ErrInvalidEntry is returned when an entry misses a required identifier.
	ErrInvalidEntry = errors.New("invalid audit entry")

	// ErrStoreUnavailable wraps any append or query failure of the backing store.
	// It also matches sentinel.ErrUnavailable.
	ErrStoreUnavailable = fmt.Errorf("audit store %w", sentinel.ErrUnavailable)
)
