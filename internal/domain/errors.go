package domain

import "errors"

// Error kinds per spec.md §7. Each sentinel is wrapped by concrete errors
// returned from stores/services so callers can branch with errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrValidation       = errors.New("validation failed")
	ErrPermissionDenied = errors.New("permission denied")
	ErrConflict         = errors.New("conflict")
	ErrLockHeld         = errors.New("lock already held")
	ErrRateLimited      = errors.New("rate limited")
	ErrUpstream         = errors.New("upstream failure")
	ErrSigner           = errors.New("signer failure")
	ErrInternal         = errors.New("internal error")
)
