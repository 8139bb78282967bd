package llm

import (
	"context"
	"errors"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrEmptyReply is returned by clients when the service answered without any
// usable text.
var ErrEmptyReply = errors.New("llm: empty reply")

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

type Result struct {
	Text     string
	Usage    Usage
	Duration time.Duration
}

type Request struct {
	Model      string
	Messages   []Message
	Parameters map[string]any
}

type Client interface {
	Chat(ctx context.Context, req Request) (Result, error)
}

// ClientFunc adapts a plain function to Client.
type ClientFunc func(ctx context.Context, req Request) (Result, error)

func (f ClientFunc) Chat(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// BuildMessages assembles a single-turn prompt: the system prompt, the prior
// assistant reply when there is one, then the user's message.
func BuildMessages(systemPrompt, priorContext, userMessage string) []Message {
	msgs := make([]Message, 0, 3)
	if systemPrompt != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: systemPrompt})
	}
	if priorContext != "" {
		msgs = append(msgs, Message{Role: RoleAssistant, Content: priorContext})
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: userMessage})
	return msgs
}
