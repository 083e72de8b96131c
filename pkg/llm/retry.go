package llm

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const defaultMaxAttempts = 3

// RetryingClient retries transient provider failures with exponential backoff.
type RetryingClient struct {
	log         *slog.Logger
	next        Client
	maxAttempts uint
	newBackOff  func() backoff.BackOff
}

func NewRetryingClient(log *slog.Logger, next Client, maxAttempts uint) *RetryingClient {
	if maxAttempts == 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &RetryingClient{
		log:         log,
		next:        next,
		maxAttempts: maxAttempts,
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = time.Second
			bo.MaxInterval = 10 * time.Second
			return bo
		},
	}
}

func (c *RetryingClient) Complete(ctx context.Context, systemPrompt, userPrompt string, opts ...CompleteOption) (string, error) {
	attempt := 0
	return backoff.Retry(ctx, func() (string, error) {
		if attempt > 0 {
			RetriesTotal.Inc()
			c.log.Warn("llm: retrying completion", "attempt", attempt+1)
		}
		attempt++
		text, err := c.next.Complete(ctx, systemPrompt, userPrompt, opts...)
		if err != nil {
			if !IsTransient(err) {
				return "", backoff.Permanent(err)
			}
			return "", err
		}
		return text, nil
	}, backoff.WithBackOff(c.newBackOff()), backoff.WithMaxTries(c.maxAttempts))
}

// IsTransient reports whether err is worth retrying: rate limits, server errors and network
// timeouts. Context cancellation never is.
func IsTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	var oe *net.OpError
	return errors.As(err, &oe)
}
