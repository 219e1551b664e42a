package csrf

import "errors"

var (
	// ErrInvalid is returned when a submitted token does not match a live
	// record for the session key.
	ErrInvalid = errors.New("csrf token invalid")
	// ErrStoreUnavailable wraps backend failures.
	ErrStoreUnavailable = errors.New("csrf store unavailable")
	// ErrNoSessionKey is returned when issuing a token without a session key.
	ErrNoSessionKey = errors.New("csrf session key required")
)
