package operation

import (
	"errors"
	"fmt"
)

// Sentinel errors for operation outcomes.
var (
	// ErrProtocolViolation is returned when a status is marked done but carries
	// neither a result nor an error.
	ErrProtocolViolation = errors.New("operation: marked done but produced neither a result nor an error")
	// ErrTimeout is returned when polling exceeds its maximum wait.
	ErrTimeout = errors.New("operation: polling timed out")
	// ErrCancelled is returned when the caller withdraws before a terminal status.
	ErrCancelled = errors.New("operation: polling cancelled")
	// ErrNotFound is returned when the result artifact no longer exists.
	ErrNotFound = errors.New("operation: artifact not found")
	// ErrFailed matches any *FailedError via errors.Is.
	ErrFailed = errors.New("operation: failed")
)

// FailedError reports a domain-level failure returned by the service.
type FailedError struct {
	Handle Handle
	Detail ErrorDetail
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("operation %s failed: code %d: %s", e.Handle, e.Detail.Code, e.Detail.Message)
}

// Is lets errors.Is(err, ErrFailed) match.
func (e *FailedError) Is(target error) bool {
	return target == ErrFailed
}

// TransportError reports a network failure or a non-2xx HTTP response.
type TransportError struct {
	Op         string // submit, status or download
	StatusCode int    // zero for network failures
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: http status %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DecodeError reports a response body that does not match the expected shape.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: decode response: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Kind classifies the outcome of a poll or fetch.
type Kind string

// Outcome kinds.
const (
	KindSuccess           Kind = "success"
	KindFailed            Kind = "failed"
	KindTimeout           Kind = "timeout"
	KindCancelled         Kind = "cancelled"
	KindProtocolViolation Kind = "protocol_violation"
	KindNotFound          Kind = "not_found"
	KindTransport         Kind = "transport"
	KindDecode            Kind = "decode"
	KindUnknown           Kind = "unknown"
)

// KindOf classifies err. A nil error is KindSuccess.
func KindOf(err error) Kind {
	if err == nil {
		return KindSuccess
	}

	var (
		transportErr *TransportError
		decodeErr    *DecodeError
	)
	switch {
	case errors.Is(err, ErrFailed):
		return KindFailed
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	case errors.Is(err, ErrProtocolViolation):
		return KindProtocolViolation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.As(err, &decodeErr):
		return KindDecode
	case errors.As(err, &transportErr):
		return KindTransport
	default:
		return KindUnknown
	}
}
