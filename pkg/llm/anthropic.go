package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultAnthropicModel     = "claude-sonnet-4-5"
	defaultAnthropicMaxTokens = 4096
)

type AnthropicConfig struct {
	Logger *slog.Logger
	// APIKey falls back to ANTHROPIC_API_KEY when empty.
	APIKey    string
	Model     string
	MaxTokens int64
	// BaseURL overrides the API endpoint.
	BaseURL string
}

func (cfg *AnthropicConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultAnthropicModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultAnthropicMaxTokens
	}
	return nil
}

// AnthropicClient implements Client using the Anthropic Messages API.
type AnthropicClient struct {
	log       *slog.Logger
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate anthropic config: %w", err)
	}
	// Retries are handled by RetryingClient.
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicClient{
		log:       cfg.Logger,
		client:    anthropic.NewClient(opts...),
		model:     anthropic.Model(cfg.Model),
		maxTokens: cfg.MaxTokens,
	}, nil
}

func (c *AnthropicClient) Complete(ctx context.Context, systemPrompt, userPrompt string, opts ...CompleteOption) (string, error) {
	o := applyOptions(opts)

	system := anthropic.TextBlockParam{Type: "text", Text: systemPrompt}
	if o.CacheSystemPrompt {
		system.CacheControl = anthropic.NewCacheControlEphemeralParam()
	}

	start := time.Now()
	c.log.Debug("llm: anthropic call starting", "model", c.model, "maxTokens", c.maxTokens, "userPromptLen", len(userPrompt))

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    []anthropic.TextBlockParam{system},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	duration := time.Since(start)
	CallDuration.WithLabelValues("anthropic").Observe(duration.Seconds())
	if err != nil {
		CallsTotal.WithLabelValues("anthropic", "error").Inc()
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", &StatusError{Provider: "anthropic", StatusCode: apiErr.StatusCode, Body: apiErr.Error()}
		}
		return "", fmt.Errorf("anthropic API error: %w", err)
	}
	CallsTotal.WithLabelValues("anthropic", "success").Inc()
	c.log.Debug("llm: anthropic call completed", "duration", duration, "stopReason", msg.StopReason,
		"inputTokens", msg.Usage.InputTokens, "outputTokens", msg.Usage.OutputTokens)

	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", ErrEmptyResponse
}
