// Package nlu wraps the generative text backend used to judge caller
// utterances. The backend is an opaque collaborator: no retry policy, no
// conversational memory.
package nlu

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"ivr-gateway/internal/config"
)

// ErrClassifierUnavailable wraps any backend failure so callers can degrade
// to a fallback response instead of surfacing an error to the caller.
var ErrClassifierUnavailable = errors.New("nlu: classifier unavailable")

const (
	intentSystemPrompt     = "You are a helpful assistant"
	intentUserPromptFormat = "In 1 word: does %s have similar meaning as %s?"

	maxCompletionTokens = 1000
)

// Client classifies caller utterances with an OpenAI-compatible chat backend.
type Client struct {
	api   *openai.Client
	model string
}

func NewClient(cfg config.OpenAIConfig) *Client {
	var api *openai.Client
	if cfg.BaseURL != "" {
		c := openai.DefaultConfig(cfg.APIKey)
		c.BaseURL = cfg.BaseURL
		api = openai.NewClientWithConfig(c)
	} else {
		api = openai.NewClient(cfg.APIKey)
	}
	return &Client{api: api, model: cfg.Model}
}

// Classify sends one system+user exchange and returns the raw reply text.
func (c *Client) Classify(ctx context.Context, systemPrompt, userText string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: maxCompletionTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userText},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty response", ErrClassifierUnavailable)
	}
	return resp.Choices[0].Message.Content, nil
}

// DetectIntent asks the backend a fixed one-word yes/no question. True iff
// the reply contains "yes", case-insensitively.
func (c *Client) DetectIntent(ctx context.Context, userQuery, intentDescription string) (bool, error) {
	reply, err := c.Classify(ctx, intentSystemPrompt, fmt.Sprintf(intentUserPromptFormat, userQuery, intentDescription))
	if err != nil {
		return false, err
	}
	return strings.Contains(strings.ToLower(reply), "yes"), nil
}
