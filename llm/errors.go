package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/qiangli/mychat/api"
)

// ErrTruncated marks a stream that ended before its terminal marker.
var ErrTruncated = errors.New("stream ended before completion")

// StatusError maps an upstream HTTP status to the error taxonomy.
// Timeouts, conflicts, rate limits and server errors are retryable;
// every other 4xx is a permanent rejection.
func StatusError(provider string, status int, msg string, cause error) error {
	if msg == "" {
		msg = http.StatusText(status)
	}
	if IsRetryableStatus(status) {
		return api.NewRetryableProviderError(provider, status, msg, cause)
	}
	return api.NewProviderError(provider, status, msg, cause)
}

func IsRetryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout,
		http.StatusConflict,
		http.StatusTooEarly,
		http.StatusTooManyRequests:
		return true
	}
	return status >= 500
}

// TransportError classifies a failure that carries no HTTP status.
// Errors already in the taxonomy pass through unchanged.
func TransportError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if api.IsConfigurationError(err) || api.IsProviderError(err) {
		return err
	}
	if IsTransient(err) {
		return api.NewRetryableProviderError(provider, 0, "", err)
	}
	return api.NewProviderError(provider, 0, "", err)
}

// IsTransient reports whether err is a network-level failure worth retrying:
// deadlines, cancellation, dropped or refused connections, truncated bodies.
func IsTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, ErrTruncated) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, net.ErrClosed) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	// unknown hosts surface as *net.OpError too; check them first
	var de *net.DNSError
	if errors.As(err, &de) {
		return de.IsTemporary || de.IsTimeout
	}
	var oe *net.OpError
	return errors.As(err, &oe)
}

// MalformedFrame reports a stream frame that could not be decoded. The
// connection is considered corrupted, so the failure is retryable.
func MalformedFrame(provider string, err error) error {
	return api.NewRetryableProviderError(provider, 0, "malformed stream frame", err)
}

// StreamError classifies a failure raised while iterating a stream. Frames
// that fail to decode or exceed the line limit are malformed; everything else
// is a transport failure.
func StreamError(provider string, err error) error {
	if err == nil {
		return nil
	}
	var se *json.SyntaxError
	var te *json.UnmarshalTypeError
	if errors.As(err, &se) || errors.As(err, &te) || errors.Is(err, bufio.ErrTooLong) {
		return MalformedFrame(provider, err)
	}
	return TransportError(provider, err)
}
