package wgfleet

import "errors"

// Error taxonomy shared by the registry, driver, allocator, and HTTP layers.
// Handlers map these to HTTP status codes; see internal/api/errors.go.
var (
	ErrDriver     = errors.New("driver operation failed")
	ErrConflict   = errors.New("registry uniqueness conflict")
	ErrNotFound   = errors.New("not found")
	ErrBadRequest = errors.New("bad request")
	ErrForbidden  = errors.New("forbidden")
	ErrExhausted  = errors.New("allocator exhausted")
	ErrPublisher  = errors.New("publisher failed")
	ErrConfig     = errors.New("invalid configuration")
)
