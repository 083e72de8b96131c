// Package llm talks to the language-model inference service.
package llm

import (
	"context"
	"errors"
	"fmt"
)

var ErrEmptyResponse = errors.New("no text content in response")

// CompleteOptions holds options for a completion.
type CompleteOptions struct {
	// CacheSystemPrompt marks the system prompt as cacheable on providers that support it.
	CacheSystemPrompt bool
	// JSON asks the provider to constrain output to a JSON object where supported.
	JSON bool
	// NoCache bypasses the response cache.
	NoCache bool
}

type CompleteOption func(*CompleteOptions)

func WithCacheControl() CompleteOption {
	return func(o *CompleteOptions) { o.CacheSystemPrompt = true }
}

func WithJSONOutput() CompleteOption {
	return func(o *CompleteOptions) { o.JSON = true }
}

func WithoutResponseCache() CompleteOption {
	return func(o *CompleteOptions) { o.NoCache = true }
}

func applyOptions(opts []CompleteOption) CompleteOptions {
	var o CompleteOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Client sends a prompt and returns the response text.
type Client interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, opts ...CompleteOption) (string, error)
}

// StatusError is returned when the provider answers with a non-2xx status.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s http %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Temporary reports whether the request may succeed when retried.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == 408 || e.StatusCode == 429 || e.StatusCode >= 500
}
