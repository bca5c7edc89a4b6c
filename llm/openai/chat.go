package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"dario.cat/mergo"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/qiangli/mychat/api"
	"github.com/qiangli/mychat/llm"
	"github.com/qiangli/mychat/log"
	"github.com/qiangli/mychat/middleware"
)

// https://platform.openai.com/docs/api-reference/chat

const (
	Provider       = "openai"
	DefaultModel   = "gpt-4o-mini"
	DefaultBaseUrl = "https://api.openai.com/v1/"
	ApiKeyEnv      = "OPENAI_API_KEY"
)

// DeepSeek serves the same request shape behind its own endpoint.
const (
	DeepSeekProvider       = "deepseek"
	DeepSeekDefaultModel   = "deepseek-chat"
	DeepSeekDefaultBaseUrl = "https://api.deepseek.com/v1"
	DeepSeekApiKeyEnv      = "DEEPSEEK_API_KEY"
)

const DefaultTimeout = 60 * time.Second

// body fields owned by the adapter
var reserved = map[string]bool{
	"model":    true,
	"messages": true,
	"stream":   true,
}

type Client struct {
	provider string
	cfg      *api.ProviderConfig

	http   *http.Client
	client openai.Client
}

// New returns an adapter for the OpenAI chat completions API.
func New(cfg *api.ProviderConfig) (*Client, error) {
	return newClient(Provider, "OpenAI", cfg, api.ProviderConfig{
		ApiKeyEnv: ApiKeyEnv,
		BaseUrl:   DefaultBaseUrl,
		Model:     DefaultModel,
		Timeout:   DefaultTimeout,
	})
}

// NewDeepSeek returns an adapter for the DeepSeek chat completions API.
func NewDeepSeek(cfg *api.ProviderConfig) (*Client, error) {
	return newClient(DeepSeekProvider, "DeepSeek", cfg, api.ProviderConfig{
		ApiKeyEnv: DeepSeekApiKeyEnv,
		BaseUrl:   DeepSeekDefaultBaseUrl,
		Model:     DeepSeekDefaultModel,
		Timeout:   DefaultTimeout,
	})
}

func newClient(provider, display string, cfg *api.ProviderConfig, defaults api.ProviderConfig) (*Client, error) {
	c := cfg.Clone()
	if err := mergo.Merge(c, defaults); err != nil {
		return nil, api.NewConfigurationError(provider, err.Error())
	}
	if !c.ApiKey.IsSet() {
		return nil, api.MissingCredential(provider, display, c.ApiKeyEnv)
	}
	if u, err := url.Parse(c.BaseUrl); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &api.ConfigurationError{Provider: provider, Message: fmt.Sprintf("invalid endpoint %q", c.BaseUrl), Cause: err}
	}

	hc := middleware.NewHTTPClient(provider, c.Timeout)
	client := openai.NewClient(
		option.WithAPIKey(c.ApiKey.Reveal()),
		option.WithBaseURL(c.BaseUrl),
		option.WithHTTPClient(hc),
		// retry policy belongs to the caller
		option.WithMaxRetries(0),
	)

	return &Client{
		provider: provider,
		cfg:      c,
		http:     hc,
		client:   client,
	}, nil
}

func (r *Client) Close() error {
	middleware.CloseIdleConnections(r.http)
	return nil
}

func (r *Client) Chat(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if err := req.Validate(r.provider); err != nil {
		return nil, err
	}
	logger := log.GetLogger(ctx)
	logger.Infof("Ⓞ %s/%s stream: %v\n", r.provider, r.cfg.Model, req.Stream)
	logger.Debugf(">OPENAI:\n req: %+v\n", req)

	params := openai.ChatCompletionNewParams{
		Model:    r.cfg.Model,
		Messages: toMessages(req.Messages),
	}
	opts, err := r.requestOptions(req.Options)
	if err != nil {
		return nil, err
	}

	if req.Stream {
		stream := r.client.Chat.Completions.NewStreaming(ctx, params, opts...)
		s, err := llm.Prime(r.newStream(stream))
		if err != nil {
			logger.Errorf("❌ %s\n", err)
			return nil, err
		}
		return &llm.Response{Stream: s}, nil
	}

	completion, err := r.client.Chat.Completions.New(ctx, params, opts...)
	if err != nil {
		logger.Errorf("❌ %s\n", err)
		return nil, r.classify(err)
	}
	if len(completion.Choices) == 0 {
		return nil, api.NewProviderError(r.provider, 0, "no choices in response", nil)
	}
	logger.Debugf("<OPENAI:\n finish: %s content: %v\n", completion.Choices[0].FinishReason, len(completion.Choices[0].Message.Content))

	return &llm.Response{Content: completion.Choices[0].Message.Content}, nil
}

// requestOptions merges caller options into the top level of the request body.
func (r *Client) requestOptions(opts api.Options) ([]option.RequestOption, error) {
	var out []option.RequestOption
	for _, k := range opts.Keys() {
		if reserved[k] {
			return nil, api.NewConfigurationError(r.provider, fmt.Sprintf("option %q is reserved", k))
		}
		out = append(out, option.WithJSONSet(k, opts[k]))
	}
	return out, nil
}

// newStream yields choices[0].delta.content, skipping frames without content
// such as the leading role-only delta. The SDK consumes the [DONE] sentinel,
// so a chunk carrying a finish reason marks a completed stream.
func (r *Client) newStream(stream *ssestream.Stream[openai.ChatCompletionChunk]) llm.Stream {
	var finished bool
	next := func() (string, bool, error) {
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			if chunk.Choices[0].FinishReason != "" {
				finished = true
			}
			if content := chunk.Choices[0].Delta.Content; content != "" {
				return content, true, nil
			}
		}
		if err := stream.Err(); err != nil {
			return "", false, r.classify(err)
		}
		if !finished {
			return "", false, api.NewRetryableProviderError(r.provider, 0, "", llm.ErrTruncated)
		}
		return "", false, nil
	}
	return llm.NewStream(next, stream.Close)
}

func (r *Client) classify(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		msg := apierr.Message
		if msg == "" {
			msg = http.StatusText(apierr.StatusCode)
		}
		return llm.StatusError(r.provider, apierr.StatusCode, msg, err)
	}
	return llm.StreamError(r.provider, err)
}

func toMessages(messages []*api.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, v := range messages {
		switch v.Role {
		case api.RoleSystem:
			out = append(out, openai.SystemMessage(v.Content))
		case api.RoleAssistant:
			out = append(out, openai.AssistantMessage(v.Content))
		default:
			out = append(out, openai.UserMessage(v.Content))
		}
	}
	return out
}
