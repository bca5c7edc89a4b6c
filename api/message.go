package api

import (
	"fmt"
	"strings"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is one turn of the canonical message list.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func (r *Message) String() string {
	return fmt.Sprintf("%s: %s", strings.ToUpper(string(r.Role)), r.Content)
}

func NewMessage(role Role, content string) *Message {
	return &Message{Role: role, Content: content}
}

func SystemMessage(content string) *Message {
	return NewMessage(RoleSystem, content)
}

func UserMessage(content string) *Message {
	return NewMessage(RoleUser, content)
}

func AssistantMessage(content string) *Message {
	return NewMessage(RoleAssistant, content)
}

// ValidateMessages checks the preconditions shared by every adapter:
// a non-empty list, known roles and non-empty user/assistant content.
func ValidateMessages(provider string, messages []*Message) error {
	if len(messages) == 0 {
		return NewConfigurationError(provider, "no messages provided")
	}
	for i, m := range messages {
		if m == nil {
			return NewConfigurationError(provider, fmt.Sprintf("message %d is nil", i))
		}
		if !m.Role.Valid() {
			return NewConfigurationError(provider, fmt.Sprintf("message %d: role not supported: %q", i, m.Role))
		}
		if m.Role != RoleSystem && m.Content == "" {
			return NewConfigurationError(provider, fmt.Sprintf("message %d: empty %s content", i, m.Role))
		}
	}
	return nil
}
