package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/huddlehq/huddle/pkg/session"
)

// HTTPError represents a non-2xx HTTP response from the API.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsStatus returns true if err (or any wrapped error) is an HTTPError with the given status code.
func IsStatus(err error, code int) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == code
	}
	return false
}

// Outcome is what a caller should do about the result of an API call.
type Outcome int

const (
	// OutcomeOK means the call succeeded.
	OutcomeOK Outcome = iota
	// OutcomeRecoverable means the call failed but the session is intact:
	// show the error and let the user retry.
	OutcomeRecoverable
	// OutcomeSessionEnded means the user must log in again.
	OutcomeSessionEnded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeSessionEnded:
		return "session ended"
	default:
		return "recoverable"
	}
}

// Classify reduces err to an Outcome. Only a session the renewal path has
// already cleared counts as ended; a 401 that survived the transport's one
// retry leaves the session in place and is recoverable.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, session.ErrSessionEnded):
		return OutcomeSessionEnded
	default:
		return OutcomeRecoverable
	}
}

// Message is a short, user-facing description of err.
func Message(err error) string {
	var httpErr *HTTPError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, session.ErrSessionEnded):
		return "Your session has ended. Please log in again."
	case errors.Is(err, session.ErrInvalidCredentials):
		return "Invalid credentials."
	case errors.Is(err, context.DeadlineExceeded):
		return "The server took too long to respond."
	case errors.As(err, &httpErr):
		switch httpErr.StatusCode {
		case http.StatusForbidden:
			return "Access denied."
		case http.StatusNotFound:
			return "Not found."
		case http.StatusInternalServerError:
			return "Server error"
		}
		if httpErr.Message != "" {
			return httpErr.Message
		}
		return http.StatusText(httpErr.StatusCode)
	default:
		return "Could not reach the server."
	}
}
