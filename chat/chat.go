package chat

import (
	"context"

	"github.com/qiangli/mychat/api"
	"github.com/qiangli/mychat/llm"
	"github.com/qiangli/mychat/log"
	"github.com/qiangli/mychat/prompt"
)

// Service answers technical questions with one bound adapter.
type Service struct {
	client llm.Client
}

func New(client llm.Client) *Service {
	return &Service{
		client: client,
	}
}

// BuildMessages returns the fixed system prompt followed by the user
// template rendered around question.
func BuildMessages(question string) ([]*api.Message, error) {
	user, err := prompt.User(question)
	if err != nil {
		return nil, err
	}
	return []*api.Message{
		api.SystemMessage(prompt.System),
		api.UserMessage(user),
	}, nil
}

// Answer sends question to the bound adapter. stream and opts are passed
// through unchanged.
func (r *Service) Answer(ctx context.Context, question string, stream bool, opts api.Options) (*llm.Response, error) {
	messages, err := BuildMessages(question)
	if err != nil {
		return nil, err
	}
	log.GetLogger(ctx).Debugf("answer: %d messages stream: %v options: %v\n", len(messages), stream, opts.Keys())

	return r.client.Chat(ctx, &llm.Request{
		Messages: messages,
		Stream:   stream,
		Options:  opts,
	})
}
