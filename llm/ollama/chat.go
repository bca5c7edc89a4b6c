package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"dario.cat/mergo"

	"github.com/qiangli/mychat/api"
	"github.com/qiangli/mychat/llm"
	"github.com/qiangli/mychat/log"
	"github.com/qiangli/mychat/middleware"
)

const Provider = "ollama"

const (
	DefaultBaseUrl = "http://localhost:11434/api/chat"
	DefaultModel   = "llama3.2"
	DefaultTimeout = 60 * time.Second

	// optional bearer token
	ApiKeyEnv = "OLLAMA_TOKEN"
)

// a single NDJSON record may carry a long message
const maxLineSize = 1024 * 1024

// Client speaks the daemon's native /api/chat endpoint.
type Client struct {
	cfg  *api.ProviderConfig
	http *http.Client
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []*api.Message `json:"messages"`
	Stream   bool           `json:"stream"`
}

type chatResponse struct {
	Model   string      `json:"model"`
	Message api.Message `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error,omitempty"`
}

// New validates cfg and returns a client. The daemon needs no credential.
func New(cfg *api.ProviderConfig) (*Client, error) {
	c := cfg.Clone()
	if err := mergo.Merge(c, api.ProviderConfig{
		BaseUrl: DefaultBaseUrl,
		Model:   DefaultModel,
		Timeout: DefaultTimeout,
	}); err != nil {
		return nil, api.NewConfigurationError(Provider, err.Error())
	}

	u, err := url.Parse(c.BaseUrl)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &api.ConfigurationError{Provider: Provider, Message: fmt.Sprintf("invalid endpoint %q", c.BaseUrl), Cause: err}
	}

	return &Client{
		cfg:  c,
		http: middleware.NewHTTPClient(Provider, c.Timeout),
	}, nil
}

func (r *Client) Close() error {
	middleware.CloseIdleConnections(r.http)
	return nil
}

func (r *Client) Chat(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if err := req.Validate(Provider); err != nil {
		return nil, err
	}
	logger := log.GetLogger(ctx)
	logger.Infof("Ⓛ %s/%s stream: %v\n", Provider, r.cfg.Model, req.Stream)
	logger.Debugf(">OLLAMA:\n req: %+v\n", req)

	body, err := r.payload(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseUrl, bytes.NewReader(body))
	if err != nil {
		return nil, &api.ConfigurationError{Provider: Provider, Message: "create request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if r.cfg.ApiKey.IsSet() {
		httpReq.Header.Set("Authorization", "Bearer "+r.cfg.ApiKey.Reveal())
	}

	resp, err := r.http.Do(httpReq)
	if err != nil {
		logger.Errorf("❌ %s\n", err)
		return nil, llm.TransportError(Provider, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}

	if req.Stream {
		return r.stream(resp)
	}

	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, llm.TransportError(Provider, err)
	}
	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, api.NewProviderError(Provider, resp.StatusCode, "decode response", err)
	}
	if out.Error != "" {
		return nil, api.NewProviderError(Provider, resp.StatusCode, out.Error, nil)
	}

	logger.Debugf("<OLLAMA:\n content: %v\n", len(out.Message.Content))
	return &llm.Response{Content: out.Message.Content}, nil
}

// payload merges options into the top level of the request body.
func (r *Client) payload(req *llm.Request) ([]byte, error) {
	base, err := json.Marshal(&chatRequest{
		Model:    r.cfg.Model,
		Messages: req.Messages,
		Stream:   req.Stream,
	})
	if err != nil {
		return nil, api.NewConfigurationError(Provider, err.Error())
	}
	if len(req.Options) == 0 {
		return base, nil
	}

	var m map[string]any
	if err := json.Unmarshal(base, &m); err != nil {
		return nil, api.NewConfigurationError(Provider, err.Error())
	}
	for k, v := range req.Options {
		switch k {
		case "model", "messages", "stream":
			return nil, api.NewConfigurationError(Provider, fmt.Sprintf("option %q is reserved", k))
		}
		m[k] = v
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, &api.ConfigurationError{Provider: Provider, Message: "encode options", Cause: err}
	}
	return b, nil
}

// stream reads newline-delimited JSON records until one reports done.
func (r *Client) stream(resp *http.Response) (*llm.Response, error) {
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	next := func() (string, bool, error) {
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var rec chatResponse
			if err := json.Unmarshal(line, &rec); err != nil {
				return "", false, llm.MalformedFrame(Provider, err)
			}
			if rec.Error != "" {
				return "", false, api.NewProviderError(Provider, 0, rec.Error, nil)
			}
			if rec.Done {
				return "", false, nil
			}
			if rec.Message.Content == "" {
				continue
			}
			return rec.Message.Content, true, nil
		}
		if err := scanner.Err(); err != nil {
			return "", false, llm.StreamError(Provider, err)
		}
		return "", false, api.NewRetryableProviderError(Provider, 0, "", llm.ErrTruncated)
	}

	s, err := llm.Prime(llm.NewStream(next, resp.Body.Close))
	if err != nil {
		return nil, err
	}
	return &llm.Response{Stream: s}, nil
}

func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	msg := string(bytes.TrimSpace(data))
	var rec chatResponse
	if json.Unmarshal(data, &rec) == nil && rec.Error != "" {
		msg = rec.Error
	}
	return llm.StatusError(Provider, resp.StatusCode, msg, nil)
}
