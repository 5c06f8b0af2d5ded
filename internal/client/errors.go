package client

import (
	"fmt"
	"strings"
)

// ConnectionError is a transport-level failure (connection refused,
// timeout, TLS error). It is never caused by the request contents.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("panel connection failed: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ErrorDetail is one entry of the panel's structured error payload.
type ErrorDetail struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// RemoteError is an HTTP >= 400 response from the panel, carrying the
// panel-supplied details when the body was parseable.
type RemoteError struct {
	Status  int
	Details []ErrorDetail
}

func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("panel request failed with HTTP code %d", e.Status)
	if len(e.Details) == 0 {
		return msg
	}
	parts := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		switch {
		case d.Detail != "":
			parts = append(parts, d.Detail)
		case d.Code != "":
			parts = append(parts, d.Code)
		default:
			parts = append(parts, "unknown error")
		}
	}
	return msg + " - details: " + strings.Join(parts, ", ")
}

// IsNotFound reports whether the panel answered 404.
func (e *RemoteError) IsNotFound() bool { return e.Status == 404 }
