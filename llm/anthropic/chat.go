package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/qiangli/mychat/api"
	"github.com/qiangli/mychat/llm"
	"github.com/qiangli/mychat/log"
	"github.com/qiangli/mychat/middleware"
)

// https://github.com/anthropics/anthropic-sdk-go

const (
	Provider       = "anthropic"
	DefaultModel   = "claude-sonnet-4-20250514"
	DefaultBaseUrl = "https://api.anthropic.com/"
	DefaultTimeout = 60 * time.Second
	ApiKeyEnv      = "ANTHROPIC_API_KEY"

	DefaultMaxTokens   = 900
	DefaultTemperature = 0.7
)

var reserved = map[string]bool{
	"model":    true,
	"system":   true,
	"messages": true,
	"stream":   true,
}

type Client struct {
	cfg *api.ProviderConfig

	http   *http.Client
	client anthropic.Client
}

// New returns an adapter for the Messages API. cfg.SystemPrompt is used when
// a request carries no leading system message.
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
		return nil, api.MissingCredential(Provider, "Anthropic", c.ApiKeyEnv)
	}
	if u, err := url.Parse(c.BaseUrl); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &api.ConfigurationError{Provider: Provider, Message: fmt.Sprintf("invalid endpoint %q", c.BaseUrl), Cause: err}
	}

	hc := middleware.NewHTTPClient(Provider, c.Timeout)
	client := anthropic.NewClient(
		option.WithAPIKey(c.ApiKey.Reveal()),
		option.WithBaseURL(c.BaseUrl),
		option.WithHTTPClient(hc),
		option.WithMaxRetries(0),
	)

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

// Hoist splits off a single leading system message. Later system messages stay
// in place as ordinary messages. When there is no leading system message the
// fallback prompt is returned and the list is unchanged.
func Hoist(messages []*api.Message, fallback string) (string, []*api.Message) {
	if len(messages) > 0 && messages[0].Role == api.RoleSystem {
		return messages[0].Content, messages[1:]
	}
	return fallback, messages
}

func (r *Client) Chat(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if err := req.Validate(Provider); err != nil {
		return nil, err
	}
	logger := log.GetLogger(ctx)
	logger.Infof("Ⓐ %s/%s stream: %v\n", Provider, r.cfg.Model, req.Stream)
	logger.Debugf(">ANTHROPIC:\n req: %+v\n", req)

	params, opts, err := r.params(req)
	if err != nil {
		return nil, err
	}

	if req.Stream {
		stream := r.client.Messages.NewStreaming(ctx, params, opts...)
		s, err := llm.Prime(newStream(stream))
		if err != nil {
			logger.Errorf("❌ %s\n", err)
			return nil, err
		}
		return &llm.Response{Stream: s}, nil
	}

	completion, err := r.client.Messages.New(ctx, params, opts...)
	if err != nil {
		logger.Errorf("❌ %s\n", err)
		return nil, classify(err)
	}
	logger.Debugf("<ANTHROPIC:\n stop: %v blocks: %v\n", completion.StopReason, len(completion.Content))

	var sb strings.Builder
	for _, block := range completion.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			sb.WriteString(variant.Text)
		default:
			continue
		}
	}
	return &llm.Response{Content: sb.String()}, nil
}

func (r *Client) params(req *llm.Request) (anthropic.MessageNewParams, []option.RequestOption, error) {
	system, rest := Hoist(req.Messages, r.cfg.SystemPrompt)

	maxTokens, ok, err := req.Options.Int(api.OptMaxTokens)
	if err != nil {
		return anthropic.MessageNewParams{}, nil, &api.ConfigurationError{Provider: Provider, Message: "invalid option", Cause: err}
	}
	if !ok {
		maxTokens = DefaultMaxTokens
	}
	temperature, ok, err := req.Options.Float(api.OptTemperature)
	if err != nil {
		return anthropic.MessageNewParams{}, nil, &api.ConfigurationError{Provider: Provider, Message: "invalid option", Cause: err}
	}
	if !ok {
		temperature = DefaultTemperature
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(r.cfg.Model),
		Messages:    toMessages(rest),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	var opts []option.RequestOption
	extra := req.Options.Without(api.OptMaxTokens, api.OptTemperature)
	for _, k := range extra.Keys() {
		if reserved[k] {
			return anthropic.MessageNewParams{}, nil, api.NewConfigurationError(Provider, fmt.Sprintf("option %q is reserved", k))
		}
		opts = append(opts, option.WithJSONSet(k, extra[k]))
	}
	return params, opts, nil
}

func toMessages(messages []*api.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, v := range messages {
		block := anthropic.NewTextBlock(v.Content)
		switch v.Role {
		case api.RoleUser:
			out = append(out, anthropic.NewUserMessage(block))
		case api.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(block))
		default:
			// non-leading system messages are passed through in place
			out = append(out, anthropic.MessageParam{
				Role:    anthropic.MessageParamRole(v.Role),
				Content: []anthropic.ContentBlockParamUnion{block},
			})
		}
	}
	return out
}

// newStream yields text deltas only; other block kinds are ignored. A stream
// is complete once message_stop has been seen.
func newStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion]) llm.Stream {
	var stopped bool
	next := func() (string, bool, error) {
		for stream.Next() {
			event := stream.Current()
			switch variant := event.AsAny().(type) {
			case anthropic.MessageStopEvent:
				stopped = true
			case anthropic.ContentBlockDeltaEvent:
				switch delta := variant.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if delta.Text != "" {
						return delta.Text, true, nil
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			return "", false, classify(err)
		}
		if !stopped {
			return "", false, api.NewRetryableProviderError(Provider, 0, "", llm.ErrTruncated)
		}
		return "", false, nil
	}
	return llm.NewStream(next, stream.Close)
}

func classify(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return llm.StatusError(Provider, apierr.StatusCode, http.StatusText(apierr.StatusCode), err)
	}
	return llm.StreamError(Provider, err)
}
