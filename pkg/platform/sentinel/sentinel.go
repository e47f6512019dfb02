package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers return
// these (optionally wrapped) so callers can branch with errors.Is without knowing
// which backend produced them.
//
// - ErrNotFound: entry does not exist in the store
// - ErrInvalidInput: value failed parsing at a trust boundary
// - ErrInvalidState: entity in wrong state for requested operation
// - ErrUnavailable: backend temporarily unavailable
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
