package permission

import (
	"context"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const (
	defaultCacheTTL = time.Minute

	tableConfigsCacheKey = "table_configs"
)

// CachedStore serves table configs and auth contexts from a TTL cache in front of another Store.
// User lookups are not cached so that deactivating a user takes effect immediately.
type CachedStore struct {
	store Store
	ttl   time.Duration
	cache *ttlcache.Cache[string, any]
}

func NewCachedStore(store Store, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachedStore{
		store: store,
		ttl:   ttl,
		cache: ttlcache.New(
			ttlcache.WithTTL[string, any](ttl),
			ttlcache.WithDisableTouchOnHit[string, any](),
		),
	}
}

func (s *CachedStore) LookupUser(ctx context.Context, username string) (User, error) {
	return s.store.LookupUser(ctx, username)
}

func (s *CachedStore) TableConfigs(ctx context.Context) (TableConfigs, error) {
	if item := s.cache.Get(tableConfigsCacheKey); item != nil {
		StoreCacheHitsTotal.WithLabelValues("table_configs").Inc()
		return item.Value().(TableConfigs), nil
	}
	configs, err := s.store.TableConfigs(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.Set(tableConfigsCacheKey, configs, s.ttl)
	return configs, nil
}

func (s *CachedStore) AuthContext(ctx context.Context, userID int64) (AuthContext, error) {
	key := authCacheKey(userID)
	if item := s.cache.Get(key); item != nil {
		StoreCacheHitsTotal.WithLabelValues("auth_context").Inc()
		return item.Value().(AuthContext), nil
	}
	auth, err := s.store.AuthContext(ctx, userID)
	if err != nil {
		return AuthContext{}, err
	}
	s.cache.Set(key, auth, s.ttl)
	return auth, nil
}

// Invalidate drops every cached entry.
func (s *CachedStore) Invalidate() {
	s.cache.DeleteAll()
}

func authCacheKey(userID int64) string {
	return fmt.Sprintf("auth:%d", userID)
}
