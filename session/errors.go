package session

import (
	"errors"
	"fmt"

	"github.com/hemoline/authgate/refresh"
)

var (
	// ErrUnauthorized is returned when the API answers 401 after the
	// transport has already refreshed and replayed the request.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrTransient wraps network failures, timeouts and 5xx responses.
	ErrTransient = errors.New("transient API failure")
	// ErrNotAuthenticated is returned by operations that need a session.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// APIError is a non-auth 4xx rejection carrying the server's machine code.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api error: status %d", e.Status)
	}
	return fmt.Sprintf("api error: status %d: %s", e.Status, e.Code)
}

// endsSession reports whether err means the stored credentials are no longer
// usable.
func endsSession(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, refresh.ErrRefreshInvalid) ||
		errors.Is(err, refresh.ErrRefreshUnavailable) ||
		errors.Is(err, refresh.ErrNoRefreshToken)
}
