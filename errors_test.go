package finagle

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestClientErrorFormatting(t *testing.T) {
	cause := errors.New("connection reset")
	err := &ClientError{
		Type:    ErrorTypeDispatch,
		Message: "dispatch failed",
		Cause:   cause,
		Client:  "web",
		Host:    "h1:1",
		Attempt: 2,
	}

	msg := err.Error()
	for _, want := range []string{"[web]", "DispatchFailure", "dispatch failed", "h1:1", "attempt 2", "connection reset"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestClientErrorUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := &ClientError{Type: ErrorTypeDispatch, Message: "outer", Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("errors.Is() did not reach the cause")
	}

	var nilErr *ClientError
	if nilErr.Unwrap() != nil {
		t.Error("nil receiver Unwrap() != nil")
	}
	if nilErr.Error() != "<nil>" {
		t.Errorf("nil receiver Error() = %q", nilErr.Error())
	}
}

func TestClientErrorIsMatchesOnType(t *testing.T) {
	a := &ClientError{Type: ErrorTypeGlobalTimeout, Message: "one"}
	b := &ClientError{Type: ErrorTypeGlobalTimeout, Message: "another"}
	c := &ClientError{Type: ErrorTypeDispatch, Message: "different"}

	if !errors.Is(a, b) {
		t.Error("errors of the same type should match")
	}
	if errors.Is(a, c) {
		t.Error("errors of different types should not match")
	}
}

func TestClientErrorDebugInfo(t *testing.T) {
	err := &ClientError{
		Type:      ErrorTypeAcquisition,
		Message:   "timed out",
		Client:    "web",
		Host:      "h1:1",
		Attempt:   1,
		Timestamp: time.Now(),
		Duration:  50 * time.Millisecond,
		Cause:     ErrAcquisitionTimeout,
	}

	info := err.DebugInfo()
	for _, want := range []string{"Error Type:", "Message:", "Client:", "Host:", "Attempt:", "Timestamp:", "Duration:", "Cause:"} {
		if !strings.Contains(info, want) {
			t.Errorf("DebugInfo() missing %q", want)
		}
	}
}

func TestIncompleteSpecificationError(t *testing.T) {
	err := &IncompleteSpecification{Missing: []string{"cluster", "codec"}}
	msg := err.Error()
	if !strings.Contains(msg, "cluster") || !strings.Contains(msg, "codec") {
		t.Errorf("Error() = %q, want every missing field named", msg)
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"acquisition sentinel", ErrAcquisitionTimeout, true},
		{"waiter sentinel", ErrTooManyWaiters, true},
		{"host unavailable sentinel", ErrHostUnavailable, true},
		{"global timeout sentinel", ErrGlobalTimeout, false},
		{"pool closed sentinel", ErrPoolClosed, false},
		{"wrapped acquisition", &ClientError{Type: ErrorTypeAcquisition, Cause: ErrAcquisitionTimeout}, true},
		{"dispatch", &ClientError{Type: ErrorTypeDispatch}, true},
		{"validation", &ClientError{Type: ErrorTypeValidation}, false},
		{"plain error", errors.New("something"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryable(tc.err); got != tc.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
