package llm

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

type mockClient struct {
	CompleteFunc func(ctx context.Context, systemPrompt, userPrompt string, opts ...CompleteOption) (string, error)
	calls        atomic.Int32
}

func (m *mockClient) Complete(ctx context.Context, systemPrompt, userPrompt string, opts ...CompleteOption) (string, error) {
	m.calls.Add(1)
	return m.CompleteFunc(ctx, systemPrompt, userPrompt, opts...)
}
