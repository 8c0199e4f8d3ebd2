package pricing

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheTTL = 5 * time.Minute

// CachedStore is a read-through Redis cache in front of another Store.
// Prices change rarely and are treated as static during a request's
// lifetime, so a stale read within the TTL is acceptable.
type CachedStore struct {
	store Store
	cache *redis.Client
}

func NewCachedStore(store Store, cache *redis.Client) Store {
	return &CachedStore{store: store, cache: cache}
}

func cacheKey(modelID string) string {
	return fmt.Sprintf("price:%s", modelID)
}

func (s *CachedStore) GetByID(ctx context.Context, modelID string) (*ModelPrice, error) {
	key := cacheKey(modelID)

	var p ModelPrice
	err := s.cache.Get(ctx, key).Scan(&p)
	if err == nil {
		return &p, nil
	} else if err != redis.Nil {
		log.Printf("pricing: redis error: %v", err)
	}

	// Cache miss or error: lookup in store. A not-found result is not
	// cached so newly added models become billable immediately.
	price, err := s.store.GetByID(ctx, modelID)
	if err != nil {
		return nil, err
	}

	_ = s.cache.Set(ctx, key, price, cacheTTL).Err()

	return price, nil
}

func (s *CachedStore) List(ctx context.Context) ([]*ModelPrice, error) {
	return s.store.List(ctx)
}

func (s *CachedStore) Create(ctx context.Context, price *ModelPrice) error {
	if err := s.store.Create(ctx, price); err != nil {
		return err
	}
	_ = s.cache.Del(ctx, cacheKey(price.ID)).Err()
	return nil
}
