package openai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/GunzViruz/telegpt/llm"
	goopenai "github.com/sashabaranov/go-openai"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = goopenai.GPT3Dot5Turbo
)

type Options struct {
	// BaseURL of an OpenAI-compatible API. A missing /v1 suffix is added.
	BaseURL string
	APIKey  string
	Model   string
	// Temperature is left to the API default when nil.
	Temperature *float32
	MaxTokens   int
	HTTPClient  *http.Client
}

type Client struct {
	api   *goopenai.Client
	model string
	opts  Options
}

func New(opts Options) *Client {
	cfg := goopenai.DefaultConfig(strings.TrimSpace(opts.APIKey))
	cfg.BaseURL = normalizeBaseURL(opts.BaseURL)
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	} else {
		cfg.HTTPClient = &http.Client{Timeout: 90 * time.Second}
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		api:   goopenai.NewClientWithConfig(cfg),
		model: model,
		opts:  opts,
	}
}

func (c *Client) Model() string {
	return c.model
}

func (c *Client) Chat(ctx context.Context, req llm.Request) (llm.Result, error) {
	start := time.Now()

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.model
	}
	body := goopenai.ChatCompletionRequest{
		Model:     model,
		Messages:  toMessages(req.Messages),
		MaxTokens: c.opts.MaxTokens,
	}
	if c.opts.Temperature != nil {
		body.Temperature = wireTemperature(*c.opts.Temperature)
	}
	if v, ok := req.Parameters["temperature"].(float64); ok {
		body.Temperature = wireTemperature(float32(v))
	}
	if v, ok := req.Parameters["max_tokens"].(int); ok && v > 0 {
		body.MaxTokens = v
	}

	resp, err := c.api.CreateChatCompletion(ctx, body)
	if err != nil {
		return llm.Result{}, describeError(err)
	}
	if len(resp.Choices) == 0 {
		return llm.Result{}, fmt.Errorf("openai: empty choices: %w", llm.ErrEmptyReply)
	}
	text := resp.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return llm.Result{}, fmt.Errorf("openai: blank content: %w", llm.ErrEmptyReply)
	}
	return llm.Result{
		Text: text,
		Usage: llm.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
		Duration: time.Since(start),
	}, nil
}

// wireTemperature keeps an explicit zero on the wire. The request struct drops
// a zero temperature through omitempty, which would make the API apply its own
// default of 1.
func wireTemperature(v float32) float32 {
	if v <= 0 {
		return math.SmallestNonzeroFloat32
	}
	return v
}

func toMessages(in []llm.Message) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(in))
	for _, m := range in {
		out = append(out, goopenai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

func describeError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("openai http %d: %s: %w", apiErr.HTTPStatusCode, apiErr.Message, err)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("openai http %d: %w", reqErr.HTTPStatusCode, err)
	}
	return fmt.Errorf("openai: %w", err)
}

func normalizeBaseURL(raw string) string {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	if raw == "" {
		return DefaultBaseURL
	}
	if !strings.HasSuffix(raw, "/v1") {
		raw += "/v1"
	}
	return raw
}
