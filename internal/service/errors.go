package service

import "errors"

// Caller-facing error taxonomy. Handlers map these to HTTP statuses with
// errors.Is; anything wrapping one of them aborts before any write.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
	ErrInvalidState     = errors.New("invalid state transition")
	ErrValidation       = errors.New("validation failed")
)
