package domain

import "errors"

// Failure classes of the rendering pipeline. Callers branch with errors.Is;
// the concrete cause is wrapped alongside for operator logs.
var (
	ErrValidation         = errors.New("validation failed")
	ErrMissingSource      = errors.New("source asset unreadable")
	ErrRenderFailure      = errors.New("render failed")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrInvalidToken       = errors.New("invalid token")
	ErrNotReady           = errors.New("job not ready")
	ErrNotFound           = errors.New("not found")
)
