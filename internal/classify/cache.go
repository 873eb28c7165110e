package classify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/packet-parser/internal/entity"
	"github.com/joseph-ayodele/packet-parser/internal/kvstore"
)

const DefaultCacheTTL = 2 * time.Minute

// CacheKey is the kvstore key holding a parse's classification between stages.
func CacheKey(id uuid.UUID) string { return "classification:" + id.String() }

// Cache holds classifier output between the classification and extraction calls.
type Cache struct {
	store kvstore.Store
	ttl   time.Duration
}

func NewCache(store kvstore.Store, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{store: store, ttl: ttl}
}

// Put stores c and returns the key it was stored under.
func (c *Cache) Put(ctx context.Context, id uuid.UUID, cls entity.Classification) (string, error) {
	key := CacheKey(id)
	if err := kvstore.SetJSON(ctx, c.store, key, cls, c.ttl); err != nil {
		return "", err
	}
	return key, nil
}

func (c *Cache) Get(ctx context.Context, id uuid.UUID) (entity.Classification, bool, error) {
	var cls entity.Classification
	ok, err := kvstore.GetJSON(ctx, c.store, CacheKey(id), &cls)
	return cls, ok, err
}

func (c *Cache) Delete(ctx context.Context, id uuid.UUID) error {
	return c.store.Delete(ctx, CacheKey(id))
}
