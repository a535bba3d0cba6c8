// SPDX-License-Identifier: MIT

package assistant

import (
	"errors"
	"fmt"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrUnauthorized       = errors.New("assistant: credential rejected")
	ErrBackendUnavailable = errors.New("assistant: backend unreachable or transport failure")
	ErrBackendError       = errors.New("assistant: backend internal error (5xx)")
	ErrBadResponse        = errors.New("assistant: invalid response format")
	ErrMissingBody        = errors.New("assistant: response carried no body")
)

// StatusError wraps the sentinel errors with request context.
type StatusError struct {
	Sentinel  error
	Operation string
	Status    int
	Body      string
	Err       error
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("assistant: %s: %v", e.Operation, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *StatusError) Unwrap() error {
	return e.Sentinel
}

// sentinelForStatus maps an HTTP status code to the matching sentinel.
func sentinelForStatus(status int) error {
	switch {
	case status == 401 || status == 403:
		return ErrUnauthorized
	case status >= 500:
		return ErrBackendError
	default:
		return ErrBadResponse
	}
}
