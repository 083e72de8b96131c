package matcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/malbeclabs/sqlassist/pkg/llm"
)

const (
	defaultEmbedURL   = "http://localhost:11434"
	defaultEmbedModel = "nomic-embed-text"
)

type OllamaEmbedderConfig struct {
	Logger     *slog.Logger
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	MaxTries   uint
}

func (cfg *OllamaEmbedderConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultEmbedURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultEmbedModel
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = llm.NewHTTPClient(30 * time.Second)
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 3
	}
	return nil
}

// OllamaEmbedder calls Ollama's /api/embed endpoint.
type OllamaEmbedder struct {
	log *slog.Logger
	cfg OllamaEmbedderConfig
	bo  func() backoff.BackOff
}

func NewOllamaEmbedder(cfg OllamaEmbedderConfig) (*OllamaEmbedder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate embedder config: %w", err)
	}
	return &OllamaEmbedder{
		log: cfg.Logger,
		cfg: cfg,
		bo:  func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}, nil
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	attempt := 0
	return backoff.Retry(ctx, func() ([]float32, error) {
		if attempt > 0 {
			e.log.Warn("matcher: retrying embedding", "attempt", attempt+1)
		}
		attempt++
		vec, err := e.embed(ctx, text)
		if err != nil && !llm.IsTransient(err) {
			return nil, backoff.Permanent(err)
		}
		return vec, err
	}, backoff.WithBackOff(e.bo()), backoff.WithMaxTries(e.cfg.MaxTries))
}

func (e *OllamaEmbedder) embed(ctx context.Context, text string) ([]float32, error) {
	b, err := json.Marshal(embedRequest{Model: e.cfg.Model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/api/embed", bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, &llm.StatusError{Provider: "ollama", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embedding: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("ollama error: %s", out.Error)
	}
	if len(out.Embeddings) == 0 || len(out.Embeddings[0]) == 0 {
		return nil, errors.New("ollama returned no embedding")
	}
	return out.Embeddings[0], nil
}
