// Package extract turns raw log entries into structured text and structured
// text into validated fact sets, using Claude as the reasoning collaborator.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn sent to a Messenger.
type Message struct {
	Role Role
	Text string
}

// Messenger sends a conversation and returns the text of the reply.
type Messenger interface {
	Complete(ctx context.Context, system string, messages []Message) (string, error)
}

// ClaudeClient is a Messenger backed by the Anthropic Messages API.
type ClaudeClient struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
	logger    *slog.Logger
}

// NewClaudeClient creates a Claude-backed Messenger. SDK-level retries are
// disabled; callers retry through their own backoff policy.
func NewClaudeClient(apiKey, model string, maxTokens int64, timeout time.Duration, logger *slog.Logger) *ClaudeClient {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	c := anthropic.NewClient(opts...)
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &ClaudeClient{client: &c, model: model, maxTokens: maxTokens, logger: logger}
}

// Complete implements Messenger.
func (c *ClaudeClient) Complete(ctx context.Context, system string, messages []Message) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(0),
		Messages:    make([]anthropic.MessageParam, 0, len(messages)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	for i := range messages {
		block := anthropic.NewTextBlock(messages[i].Text)
		if messages[i].Role == RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("calling Claude API: %w", err)
	}

	var sb strings.Builder
	for i := range resp.Content {
		if resp.Content[i].Type == "text" {
			sb.WriteString(resp.Content[i].Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("empty response from Claude")
	}
	c.logger.Debug("claude response", "model", c.model, "stop_reason", resp.StopReason, "chars", len(text))
	return text, nil
}

// retryable reports whether err is worth another call. Client errors other
// than rate limiting will fail the same way again.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError
	}
	return true
}
