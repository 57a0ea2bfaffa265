package finagle

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for common failure scenarios
var (
	// ErrAcquisitionTimeout is returned when the connect timeout elapses
	// while queueing for or physically establishing a connection.
	ErrAcquisitionTimeout = errors.New("finagle: connection acquisition timed out")

	// ErrTooManyWaiters is returned when a pool's waiter queue is already full.
	ErrTooManyWaiters = errors.New("finagle: pool waiter queue is full")

	// ErrGlobalTimeout is returned when the total request timeout elapses,
	// regardless of retry state.
	ErrGlobalTimeout = errors.New("finagle: global request timeout exceeded")

	// ErrHostUnavailable is returned when every candidate host is currently
	// marked dead by failure accrual or fail-fast.
	ErrHostUnavailable = errors.New("finagle: host is marked dead")

	// ErrPoolClosed is returned for acquisitions against a closed pool.
	ErrPoolClosed = errors.New("finagle: connection pool is closed")
)

// Error type labels carried by ClientError, distinguishing the pipeline
// stage a failure originated from.
const (
	ErrorTypeValidation      = "Validation"
	ErrorTypeAcquisition     = "AcquisitionTimeout"
	ErrorTypeWaiterCapacity  = "WaiterCapacityExceeded"
	ErrorTypeGlobalTimeout   = "GlobalRequestTimeout"
	ErrorTypeHostUnavailable = "HostUnavailable"
	ErrorTypeDispatch        = "DispatchFailure"
)

// IncompleteSpecification reports required configuration fields that were
// absent at build time. It is returned before any network action happens.
type IncompleteSpecification struct {
	Missing []string
}

// Error implements the error interface.
func (e *IncompleteSpecification) Error() string {
	return fmt.Sprintf("finagle: incomplete client specification, missing: %s",
		strings.Join(e.Missing, ", "))
}

// ClientError is a structured error carrying enough context to distinguish
// connection-layer from application-layer failure.
type ClientError struct {
	Type      string
	Message   string
	Cause     error
	Client    string
	Host      string
	Attempt   int
	Timestamp time.Time
	Duration  time.Duration
}

// Error implements the error interface.
func (e *ClientError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Client != "" {
		msg = fmt.Sprintf("[%s] %s", e.Client, msg)
	}
	if e.Host != "" {
		msg = fmt.Sprintf("%s (host %s)", msg, e.Host)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d)", msg, e.Attempt)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ClientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is.
func (e *ClientError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*ClientError); ok {
		return e.Type == targetErr.Type
	}
	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *ClientError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Type: %s\n", e.Type)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.Client != "" {
		info += fmt.Sprintf("Client: %s\n", e.Client)
	}
	if e.Host != "" {
		info += fmt.Sprintf("Host: %s\n", e.Host)
	}
	if e.Attempt > 0 {
		info += fmt.Sprintf("Attempt: %d\n", e.Attempt)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Duration > 0 {
		info += fmt.Sprintf("Duration: %v\n", e.Duration)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}

// IsRetryable reports whether an error represents a failure that might
// succeed on another attempt, possibly against a different host. It is the
// classifier used by DefaultRetryPolicy; callers may supply their own.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrAcquisitionTimeout) || errors.Is(err, ErrTooManyWaiters) ||
		errors.Is(err, ErrHostUnavailable) {
		return true
	}
	if errors.Is(err, ErrGlobalTimeout) || errors.Is(err, ErrPoolClosed) {
		return false
	}

	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		switch clientErr.Type {
		case ErrorTypeDispatch, ErrorTypeAcquisition, ErrorTypeWaiterCapacity, ErrorTypeHostUnavailable:
			return true
		default:
			return false
		}
	}

	return false
}
