package middleware

import (
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/qiangli/mychat/log"
)

const RequestIDHeader = "X-Request-Id"

const maxIdleConnsPerHost = 16

// credential headers used by the supported backends
var redactHeaders = []string{
	"Authorization",
	"X-Api-Key",
	"X-Goog-Api-Key",
	"Api-Key",
}

// Transport logs every round trip and tags it with a request id.
type Transport struct {
	Provider string
	Base     http.RoundTripper
}

func (r *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	logger := log.GetLogger(req.Context())
	start := time.Now()

	// RoundTrippers must not modify the caller's request
	req = req.Clone(req.Context())
	id := req.Header.Get(RequestIDHeader)
	if id == "" {
		id = uuid.NewString()
		req.Header.Set(RequestIDHeader, id)
	}

	if logger.IsTrace() {
		reqData, _ := httputil.DumpRequestOut(redact(req), true)
		logger.Debugf(">>>REQUEST %s:\n%s\n", id, string(reqData))
	}

	resp, err := r.base().RoundTrip(req)

	took := time.Since(start).Milliseconds()
	if err != nil {
		logger.Debugf("[%s] %s request %s for %s failed after %dms: %v\n", r.Provider, req.Method, id, req.URL, took, err)
		return nil, err
	}

	if logger.IsTrace() {
		// streaming bodies must be left for the caller
		resData, _ := httputil.DumpResponse(resp, !isStreaming(resp))
		logger.Debugf("<<<RESPONSE %s:\n%s\n", id, string(resData))
	}
	logger.Debugf("[%s] Status: %d, %s request %s for %s took %dms\n", r.Provider, resp.StatusCode, req.Method, id, req.URL, took)

	return resp, nil
}

// CloseIdleConnections forwards to the base transport so that
// http.Client.CloseIdleConnections reaches the pool.
func (r *Transport) CloseIdleConnections() {
	type closeIdler interface {
		CloseIdleConnections()
	}
	if c, ok := r.base().(closeIdler); ok {
		c.CloseIdleConnections()
	}
}

func (r *Transport) base() http.RoundTripper {
	if r.Base != nil {
		return r.Base
	}
	return http.DefaultTransport
}

// NewHTTPClient returns the pooled client an adapter owns for its lifetime.
// timeout bounds the whole exchange including reading a streamed body.
func NewHTTPClient(provider string, timeout time.Duration) *http.Client {
	pool := http.DefaultTransport.(*http.Transport).Clone()
	pool.MaxIdleConnsPerHost = maxIdleConnsPerHost

	return &http.Client{
		Timeout: timeout,
		Transport: &Transport{
			Provider: provider,
			Base:     pool,
		},
	}
}

// CloseIdleConnections releases pooled connections held by c.
func CloseIdleConnections(c *http.Client) {
	if c != nil {
		c.CloseIdleConnections()
	}
}

func redact(req *http.Request) *http.Request {
	c := req.Clone(req.Context())
	for _, h := range redactHeaders {
		if c.Header.Get(h) != "" {
			c.Header.Set(h, "***")
		}
	}
	// never drain the body that is about to be sent
	c.Body = nil
	if req.GetBody != nil {
		if body, err := req.GetBody(); err == nil {
			c.Body = body
		}
	}
	return c
}

func isStreaming(resp *http.Response) bool {
	ct := resp.Header.Get("Content-Type")
	return strings.Contains(ct, "event-stream") || strings.Contains(ct, "ndjson")
}
