package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

const defaultCacheTTL = time.Hour

// CachingClient memoizes completions by prompt. Identical prompts within the TTL return the
// stored response without calling the provider.
type CachingClient struct {
	next  Client
	cache *ristretto.Cache
	ttl   time.Duration
}

func NewCachingClient(next Client, maxEntries int64, ttl time.Duration) (*CachingClient, error) {
	if maxEntries <= 0 {
		maxEntries = 10_000
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create llm cache: %w", err)
	}
	return &CachingClient{next: next, cache: cache, ttl: ttl}, nil
}

func (c *CachingClient) Complete(ctx context.Context, systemPrompt, userPrompt string, opts ...CompleteOption) (string, error) {
	o := applyOptions(opts)
	if o.NoCache {
		return c.next.Complete(ctx, systemPrompt, userPrompt, opts...)
	}

	key := cacheKey(systemPrompt, userPrompt, o.JSON)
	if v, ok := c.cache.Get(key); ok {
		CacheHitsTotal.Inc()
		return v.(string), nil
	}

	text, err := c.next.Complete(ctx, systemPrompt, userPrompt, opts...)
	if err != nil {
		return "", err
	}
	c.cache.SetWithTTL(key, text, 1, c.ttl)
	// Make the entry visible to the next Get.
	c.cache.Wait()
	return text, nil
}

func (c *CachingClient) Close() {
	c.cache.Close()
}

func cacheKey(system, user string, json bool) string {
	h := sha256.New()
	h.Write([]byte(system))
	h.Write([]byte{0})
	h.Write([]byte(user))
	if json {
		h.Write([]byte{1})
	}
	return hex.EncodeToString(h.Sum(nil))
}
