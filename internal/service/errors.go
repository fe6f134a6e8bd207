package service

import "errors"

var (
	// ErrValidation wraps every missing or malformed input.  The wrapping
	// message is safe to show to the client.
	ErrValidation = errors.New("invalid input")
	// ErrInvalidCredentials is the single answer for unknown email and wrong
	// password alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrInvalidCode        = errors.New("invalid 2FA code")
	// ErrPendingRequired means verify-2FA was called without a pending token.
	ErrPendingRequired = errors.New("pending token required")
)
