package portal

import (
	"errors"
	"fmt"
)

var (
	// ErrNetwork covers transport failures and unexpected status codes while
	// talking to the portal or the identity provider.
	ErrNetwork = errors.New("portal: network error")
	// ErrMalformed means an expected login form marker was absent. Either the
	// credentials were rejected or the page shape changed.
	ErrMalformed = errors.New("portal: malformed login page")
	// ErrLoginFailed is returned once every handshake attempt of a call failed.
	ErrLoginFailed = errors.New("portal: login failed")
	// ErrNotFound means the course page is missing or not what we expected
	// (for example a login redirect instead of the course).
	ErrNotFound = errors.New("portal: course not found")
)

// StatusError reports a non-success HTTP status for one protocol step.
type StatusError struct {
	Step string
	Code int
	kind error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: %s returned status %d", e.kind, e.Step, e.Code)
}

func (e *StatusError) Unwrap() error {
	return e.kind
}

func statusError(kind error, step string, code int) error {
	return &StatusError{Step: step, Code: code, kind: kind}
}

func networkError(step string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrNetwork, step, err)
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}
