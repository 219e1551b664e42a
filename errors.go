package authgate

import (
	"errors"
	"net/http"
	"time"
)

var (
	// ErrOriginNotAllowed is wrapped by CORS rejections.
	ErrOriginNotAllowed = errors.New("origin not allowed")
	// ErrCSRFMissing is wrapped when no CSRF token was submitted.
	ErrCSRFMissing = errors.New("csrf token missing")
	// ErrCSRFInvalid is wrapped when the submitted CSRF token is not live.
	ErrCSRFInvalid = errors.New("csrf token invalid")
	// ErrUnsupportedMediaType is wrapped by content-type rejections.
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	// ErrPayloadTooLarge is wrapped by body size rejections.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrRateLimited is wrapped by rate-limit rejections.
	ErrRateLimited = errors.New("rate limited")
	// ErrCSRFDisabled is returned by IssueCSRF when the CSRF stage is off.
	ErrCSRFDisabled = errors.New("csrf protection disabled")
	// ErrInvalidByteSize is returned by ParseByteSize.
	ErrInvalidByteSize = errors.New("invalid byte size")
)

// Machine-readable rejection codes.
const (
	CodeOriginNotAllowed     = "CORS_ORIGIN_NOT_ALLOWED"
	CodeCSRFMissing          = "CSRF_TOKEN_MISSING"
	CodeCSRFInvalid          = "CSRF_TOKEN_INVALID"
	CodeUnsupportedMediaType = "UNSUPPORTED_MEDIA_TYPE"
	CodePayloadTooLarge      = "PAYLOAD_TOO_LARGE"
	CodeRateLimited          = "RATE_LIMITED"
)

// Rejection is a short-circuit decision of a gate stage. Its Message is safe
// to return to clients.
type Rejection struct {
	Status     int
	Code       string
	Message    string
	RetryAfter time.Duration

	err error
}

func (r *Rejection) Error() string { return r.Code + ": " + r.Message }

func (r *Rejection) Unwrap() error { return r.err }

func newRejection(status int, code, message string, err error) *Rejection {
	return &Rejection{Status: status, Code: code, Message: message, err: err}
}

func rejectOrigin() *Rejection {
	return newRejection(http.StatusForbidden, CodeOriginNotAllowed, "Origin not allowed", ErrOriginNotAllowed)
}

func rejectCSRFMissing() *Rejection {
	return newRejection(http.StatusForbidden, CodeCSRFMissing, "CSRF token missing", ErrCSRFMissing)
}

func rejectCSRFInvalid() *Rejection {
	return newRejection(http.StatusForbidden, CodeCSRFInvalid, "Invalid CSRF token", ErrCSRFInvalid)
}

func rejectMediaType() *Rejection {
	return newRejection(http.StatusUnsupportedMediaType, CodeUnsupportedMediaType, "Unsupported media type", ErrUnsupportedMediaType)
}

func rejectTooLarge() *Rejection {
	return newRejection(http.StatusRequestEntityTooLarge, CodePayloadTooLarge, "Payload too large", ErrPayloadTooLarge)
}

func rejectRateLimited(retryAfter time.Duration) *Rejection {
	r := newRejection(http.StatusTooManyRequests, CodeRateLimited, "Too many requests", ErrRateLimited)
	r.RetryAfter = retryAfter
	return r
}
