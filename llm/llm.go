package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/qiangli/mychat/api"
)

// Client is the contract every provider adapter implements.
//
// Implementations are safe for concurrent use once constructed. Each Chat call
// issues exactly one outbound request and never retries.
type Client interface {
	// Chat returns a complete response when req.Stream is false, and a
	// Stream of text fragments otherwise.
	Chat(ctx context.Context, req *Request) (*Response, error)

	// Close releases pooled connections held by the adapter.
	Close() error
}

type Request struct {
	Messages []*api.Message

	Stream bool

	Options api.Options
}

func (r *Request) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Messages count: %d\n", len(r.Messages)))
	sb.WriteString(fmt.Sprintf("Stream: %v\n", r.Stream))
	sb.WriteString(fmt.Sprintf("Options: %v\n", r.Options.Keys()))
	return sb.String()
}

// Validate checks the call preconditions before any network I/O.
func (r *Request) Validate(provider string) error {
	if r == nil {
		return api.NewConfigurationError(provider, "no request provided")
	}
	return api.ValidateMessages(provider, r.Messages)
}

// Response holds exactly one of Content (complete) or Stream (streaming).
type Response struct {
	Content string

	Stream Stream
}

func (r *Response) IsStream() bool {
	return r.Stream != nil
}

// Text returns the complete text, draining and closing the stream if the
// response is streaming.
func (r *Response) Text() (string, error) {
	if r.Stream == nil {
		return r.Content, nil
	}
	return Collect(r.Stream)
}

// Close abandons a streaming response. It is a no-op for complete responses.
func (r *Response) Close() error {
	if r.Stream == nil {
		return nil
	}
	return r.Stream.Close()
}
