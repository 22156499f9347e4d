package recognizer

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// FailureClass distinguishes transient service failures for logging and
// fallback decisions.
type FailureClass string

const (
	FailureRateLimit FailureClass = "rate_limit"
	FailureGeneric   FailureClass = "generic"
	FailureTimeout   FailureClass = "timeout"
	FailureNetwork   FailureClass = "network"
)

// ErrUnintelligible means the service produced no usable speech for the
// segment. It is an expected outcome, not a service failure: on the primary
// backend it triggers fallback, on the secondary it drops the segment.
var ErrUnintelligible = errors.New("no intelligible speech recognized")

// AuthError is fatal for the backend that raised it. It is never retried and
// must be surfaced to the operator.
type AuthError struct {
	Backend string
	Err     error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed: %v", e.Backend, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ServiceError is a transient failure (rate limit, timeout, network, or a
// generic service error). The primary backend falls through to the
// secondary; the secondary records a failed attempt.
type ServiceError struct {
	Backend string
	Class   FailureClass
	Err     error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Backend, e.Class, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// FormatError means the segment could not be encoded for upload. The segment
// is rejected without a service call.
type FormatError struct {
	Err error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("audio format error: %v", e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// classifyTransport maps transport-level failures onto the closed taxonomy.
func classifyTransport(backend string, err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &ServiceError{Backend: backend, Class: FailureNetwork, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ServiceError{Backend: backend, Class: FailureTimeout, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ServiceError{Backend: backend, Class: FailureTimeout, Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &ServiceError{Backend: backend, Class: FailureNetwork, Err: err}
	}
	return &ServiceError{Backend: backend, Class: FailureGeneric, Err: err}
}
