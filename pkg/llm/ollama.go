package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzhttp"
)

const (
	defaultOllamaURL       = "http://localhost:11434"
	defaultOllamaMaxTokens = 4096
)

type OllamaConfig struct {
	Logger    *slog.Logger
	BaseURL   string
	Model     string
	MaxTokens int64
	// HTTPClient defaults to a gzip-aware client without an overall timeout; callers bound
	// requests through the context.
	HTTPClient *http.Client
}

func (cfg *OllamaConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Model == "" {
		return errors.New("model is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOllamaURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultOllamaMaxTokens
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = NewHTTPClient(0)
	}
	return nil
}

// NewHTTPClient returns a client whose transport transparently handles gzip responses.
func NewHTTPClient(timeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: gzhttp.Transport(tr),
	}
}

// OllamaClient implements Client against Ollama's /api/chat endpoint.
type OllamaClient struct {
	log        *slog.Logger
	baseURL    string
	httpClient *http.Client
	model      string
	maxTokens  int64
}

func NewOllamaClient(cfg OllamaConfig) (*OllamaClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate ollama config: %w", err)
	}
	return &OllamaClient{
		log:        cfg.Logger,
		baseURL:    cfg.BaseURL,
		httpClient: cfg.HTTPClient,
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
	}, nil
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Model   string        `json:"model"`
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}

func (c *OllamaClient) Complete(ctx context.Context, systemPrompt, userPrompt string, opts ...CompleteOption) (string, error) {
	o := applyOptions(opts)

	req := ollamaChatRequest{
		Model: c.model,
		Messages: []ollamaMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Stream:  false,
		Options: map[string]any{"num_predict": c.maxTokens},
	}
	if o.JSON {
		req.Format = "json"
	}

	start := time.Now()
	text, err := c.chat(ctx, req)
	CallDuration.WithLabelValues("ollama").Observe(time.Since(start).Seconds())
	if err != nil {
		CallsTotal.WithLabelValues("ollama", "error").Inc()
		return "", err
	}
	CallsTotal.WithLabelValues("ollama", "success").Inc()
	c.log.Debug("llm: ollama call completed", "model", c.model, "duration", time.Since(start))
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func (c *OllamaClient) chat(ctx context.Context, req ollamaChatRequest) (string, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("json marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(b))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return "", &StatusError{Provider: "ollama", StatusCode: resp.StatusCode, Body: string(body)}
	}

	// Even with stream=false Ollama may send several newline-delimited chunks.
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	var content strings.Builder
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaChatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return "", fmt.Errorf("stream decode: %w (line=%q)", err, string(line))
		}
		if chunk.Error != "" {
			return "", fmt.Errorf("ollama error: %s", chunk.Error)
		}
		content.WriteString(chunk.Message.Content)
		if chunk.Done {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("scan: %w", err)
	}
	return content.String(), nil
}
