package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/qiangli/mychat/api"
)

func TestStatusError(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{400, false},
		{401, false},
		{403, false},
		{404, false},
		{408, true},
		{409, true},
		{422, false},
		{429, true},
		{500, true},
		{502, true},
		{503, true},
		{529, true},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprint(tc.status), func(t *testing.T) {
			err := StatusError("p", tc.status, "", nil)
			if !api.IsProviderError(err) {
				t.Fatalf("expected provider error, got %T", err)
			}
			if got := api.IsRetryable(err); got != tc.retryable {
				t.Errorf("retryable = %v, want %v", got, tc.retryable)
			}
			if api.StatusCode(err) != tc.status {
				t.Errorf("status not carried: %d", api.StatusCode(err))
			}
		})
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestTransportError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", fmt.Errorf("post: %w", context.Canceled), true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"reset", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, true},
		{"net timeout", timeoutErr{}, true},
		{"truncated", ErrTruncated, true},
		{"unknown host", &net.OpError{Op: "dial", Err: &net.DNSError{Err: "no such host", Name: "x", IsNotFound: true}}, false},
		{"other", errors.New("weird"), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := TransportError("p", tc.err)
			if !api.IsProviderError(err) {
				t.Fatalf("expected provider error, got %T", err)
			}
			if got := api.IsRetryable(err); got != tc.retryable {
				t.Errorf("retryable = %v, want %v", got, tc.retryable)
			}
			if !errors.Is(err, tc.err) {
				t.Errorf("cause lost")
			}
		})
	}
}

func TestTransportErrorPassThrough(t *testing.T) {
	cfg := api.NewConfigurationError("p", "bad")
	if got := TransportError("p", cfg); got != cfg {
		t.Errorf("taxonomy errors must pass through unchanged")
	}
	if TransportError("p", nil) != nil {
		t.Errorf("nil in, nil out")
	}
}

func TestStreamError(t *testing.T) {
	var v map[string]any
	jsonErr := json.Unmarshal([]byte("{oops"), &v)
	if err := StreamError("p", jsonErr); !api.IsRetryable(err) {
		t.Errorf("malformed frame should be retryable, got %v", err)
	}
	if err := StreamError("p", fmt.Errorf("scan: %w", bufio.ErrTooLong)); !api.IsRetryable(err) || !errors.Is(err, bufio.ErrTooLong) {
		t.Errorf("oversized frame should be malformed and retryable, got %v", err)
	}
	if err := StreamError("p", io.ErrUnexpectedEOF); !api.IsRetryable(err) {
		t.Errorf("dropped connection should be retryable, got %v", err)
	}
	if StreamError("p", nil) != nil {
		t.Errorf("nil in, nil out")
	}
}
