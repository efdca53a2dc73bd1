package httpclient

import goerrors "errors"

// Error is an HTTP client error carrying the upstream status code and
// raw response body alongside a classified cause from internal/errors.
type Error struct {
	Cause      error
	StatusCode int
	Response   []byte
}

func (e *Error) Error() string {
	return "http client error"
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError builds an Error classified under cause (one of the
// internal/errors sentinels).
func NewError(statusCode int, response []byte, cause error) *Error {
	return &Error{Cause: cause, StatusCode: statusCode, Response: response}
}

// IsHTTPError unwraps err to an *Error, if any.
func IsHTTPError(err error) (*Error, bool) {
	var httpErr *Error
	if goerrors.As(err, &httpErr) {
		return httpErr, true
	}
	return nil, false
}
