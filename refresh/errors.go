package refresh

import "errors"

var (
	// ErrNoRefreshToken is returned when a refresh is needed but none is stored.
	ErrNoRefreshToken = errors.New("no refresh token")
	// ErrRefreshInvalid means the server rejected the refresh token.
	ErrRefreshInvalid = errors.New("refresh token rejected")
	// ErrRefreshUnavailable covers network errors, timeouts and unexpected
	// responses from the refresh endpoint.
	ErrRefreshUnavailable = errors.New("refresh endpoint unavailable")
)
