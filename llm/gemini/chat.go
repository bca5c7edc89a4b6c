package gemini

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dario.cat/mergo"
	"google.golang.org/genai"

	"github.com/qiangli/mychat/api"
	"github.com/qiangli/mychat/llm"
	"github.com/qiangli/mychat/log"
	"github.com/qiangli/mychat/middleware"
)

// https://ai.google.dev/gemini-api/docs/models

const (
	Provider       = "gemini"
	DefaultModel   = "gemini-2.5-flash"
	DefaultBaseUrl = "https://generativelanguage.googleapis.com/"
	DefaultTimeout = 60 * time.Second
	ApiKeyEnv      = "GOOGLE_API_KEY"

	DefaultMaxTokens   = 900
	DefaultTemperature = 0.7
)

type Client struct {
	cfg *api.ProviderConfig

	http   *http.Client
	client *genai.Client
}

// New returns an adapter that sends the whole conversation as one prompt.
func New(cfg *api.ProviderConfig) (*Client, error) {
	c := cfg.Clone()
	if err := mergo.Merge(c, api.ProviderConfig{
		ApiKeyEnv: ApiKeyEnv,
		BaseUrl:   DefaultBaseUrl,
		Model:     DefaultModel,
		Timeout:   DefaultTimeout,
	}); err != nil {
		return nil, api.NewConfigurationError(Provider, err.Error())
	}
	if !c.ApiKey.IsSet() {
		return nil, &api.ConfigurationError{
			Provider: Provider,
			Message:  fmt.Sprintf("Gemini API key not found. Set %s (or GEMINI_API_KEY) or configure %s.api_key", c.ApiKeyEnv, Provider),
		}
	}
	if u, err := url.Parse(c.BaseUrl); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &api.ConfigurationError{Provider: Provider, Message: fmt.Sprintf("invalid endpoint %q", c.BaseUrl), Cause: err}
	}

	hc := middleware.NewHTTPClient(Provider, c.Timeout)
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:     c.ApiKey.Reveal(),
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: hc,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: c.BaseUrl,
		},
	})
	if err != nil {
		return nil, &api.ConfigurationError{Provider: Provider, Message: "failed to create client", Cause: err}
	}

	return &Client{
		cfg:    c,
		http:   hc,
		client: client,
	}, nil
}

func (r *Client) Close() error {
	middleware.CloseIdleConnections(r.http)
	return nil
}

// Flatten renders messages one per line as "ROLE: content" in order.
func Flatten(messages []*api.Message) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, m.String())
	}
	return strings.Join(lines, "\n")
}

func (r *Client) Chat(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if err := req.Validate(Provider); err != nil {
		return nil, err
	}
	logger := log.GetLogger(ctx)
	logger.Infof("Ⓖ %s/%s stream: %v\n", Provider, r.cfg.Model, req.Stream)
	logger.Debugf(">GEMINI:\n req: %+v\n", req)

	config, err := generationConfig(req.Options)
	if err != nil {
		return nil, err
	}
	contents := genai.Text(Flatten(req.Messages))

	if req.Stream {
		seq := r.client.Models.GenerateContentStream(ctx, r.cfg.Model, contents, config)
		s, err := llm.Prime(newStream(seq))
		if err != nil {
			logger.Errorf("❌ %s\n", err)
			return nil, err
		}
		return &llm.Response{Stream: s}, nil
	}

	resp, err := r.client.Models.GenerateContent(ctx, r.cfg.Model, contents, config)
	if err != nil {
		logger.Errorf("❌ %s\n", err)
		return nil, classify(err)
	}
	content := resp.Text()
	logger.Debugf("<GEMINI:\n candidates: %v content: %v\n", len(resp.Candidates), len(content))

	return &llm.Response{Content: content}, nil
}

func generationConfig(opts api.Options) (*genai.GenerateContentConfig, error) {
	invalid := func(err error) error {
		return &api.ConfigurationError{Provider: Provider, Message: "invalid option", Cause: err}
	}

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](DefaultTemperature),
		MaxOutputTokens: DefaultMaxTokens,
	}
	for _, k := range opts.Keys() {
		switch k {
		case api.OptTemperature:
			v, _, err := opts.Float(k)
			if err != nil {
				return nil, invalid(err)
			}
			config.Temperature = genai.Ptr(float32(v))
		case api.OptMaxTokens:
			v, _, err := opts.Int(k)
			if err != nil {
				return nil, invalid(err)
			}
			config.MaxOutputTokens = int32(v)
		case api.OptTopP:
			v, _, err := opts.Float(k)
			if err != nil {
				return nil, invalid(err)
			}
			config.TopP = genai.Ptr(float32(v))
		case api.OptTopK:
			v, _, err := opts.Float(k)
			if err != nil {
				return nil, invalid(err)
			}
			config.TopK = genai.Ptr(float32(v))
		case api.OptStop:
			v, _, err := opts.Strings(k)
			if err != nil {
				return nil, invalid(err)
			}
			config.StopSequences = v
		default:
			return nil, api.NewConfigurationError(Provider, fmt.Sprintf("unsupported option %q", k))
		}
	}
	return config, nil
}

// newStream pulls chunks from the SDK iterator. Stopping the iterator closes
// the response body.
func newStream(seq iter.Seq2[*genai.GenerateContentResponse, error]) llm.Stream {
	pull, stop := iter.Pull2(seq)
	var finished bool
	next := func() (string, bool, error) {
		for {
			chunk, err, ok := pull()
			if !ok {
				if !finished {
					return "", false, api.NewRetryableProviderError(Provider, 0, "", llm.ErrTruncated)
				}
				return "", false, nil
			}
			if err != nil {
				return "", false, classify(err)
			}
			if chunk == nil {
				continue
			}
			for _, c := range chunk.Candidates {
				if c != nil && c.FinishReason != "" {
					finished = true
				}
			}
			if text := chunk.Text(); text != "" {
				return text, true, nil
			}
		}
	}
	return llm.NewStream(next, func() error {
		stop()
		return nil
	})
}

func classify(err error) error {
	var apierr genai.APIError
	if errors.As(err, &apierr) {
		return statusError(apierr, err)
	}
	var papierr *genai.APIError
	if errors.As(err, &papierr) && papierr != nil {
		return statusError(*papierr, err)
	}
	return llm.StreamError(Provider, err)
}

func statusError(apierr genai.APIError, cause error) error {
	msg := apierr.Message
	if msg == "" {
		msg = http.StatusText(apierr.Code)
	}
	return llm.StatusError(Provider, apierr.Code, msg, cause)
}
