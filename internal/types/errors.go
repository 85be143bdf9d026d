package types

import "errors"

// Account service error taxonomy. Handlers map these to HTTP statuses with errors.Is;
// anything that is not one of them is treated as an internal failure.
var (
	ErrValidation         = errors.New("missing or invalid fields")
	ErrDuplicateEmail     = errors.New("email already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotFound           = errors.New("requested item not found")
	ErrStoreUnavailable   = errors.New("credential store unavailable")
	ErrInvalidToken       = errors.New("invalid or expired token")
)
