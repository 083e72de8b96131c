package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/require"
)

func newTestRetryingClient(next Client, attempts uint) *RetryingClient {
	c := NewRetryingClient(testLogger, next, attempts)
	c.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return c
}

func TestLLM_RetryingClient(t *testing.T) {
	t.Parallel()

	t.Run("retries transient errors", func(t *testing.T) {
		t.Parallel()
		next := &mockClient{}
		next.CompleteFunc = func(context.Context, string, string, ...CompleteOption) (string, error) {
			if next.calls.Load() < 3 {
				return "", &StatusError{Provider: "test", StatusCode: 529}
			}
			return "ok", nil
		}
		text, err := newTestRetryingClient(next, 3).Complete(t.Context(), "s", "u")
		require.NoError(t, err)
		require.Equal(t, "ok", text)
		require.Equal(t, int32(3), next.calls.Load())
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		t.Parallel()
		next := &mockClient{CompleteFunc: func(context.Context, string, string, ...CompleteOption) (string, error) {
			return "", &StatusError{Provider: "test", StatusCode: 500}
		}}
		_, err := newTestRetryingClient(next, 2).Complete(t.Context(), "s", "u")
		require.Error(t, err)
		require.Equal(t, int32(2), next.calls.Load())
	})

	t.Run("permanent errors are not retried", func(t *testing.T) {
		t.Parallel()
		next := &mockClient{CompleteFunc: func(context.Context, string, string, ...CompleteOption) (string, error) {
			return "", &StatusError{Provider: "test", StatusCode: 400}
		}}
		_, err := newTestRetryingClient(next, 5).Complete(t.Context(), "s", "u")
		var se *StatusError
		require.ErrorAs(t, err, &se)
		require.Equal(t, 400, se.StatusCode)
		require.Equal(t, int32(1), next.calls.Load())
	})
}

func TestLLM_IsTransient(t *testing.T) {
	t.Parallel()

	require.False(t, IsTransient(context.Canceled))
	require.False(t, IsTransient(errors.New("boom")))
	require.True(t, IsTransient(&StatusError{StatusCode: 429}))
	require.False(t, IsTransient(&StatusError{StatusCode: 404}))
}
