// Package kvstore is the TTL-bounded key-value abstraction behind the status channel
// and the classification cache.
package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Store is a key-value store whose entries expire after a per-entry TTL.
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns ok=false for missing or expired keys.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
}

// SetJSON marshals v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kvstore: marshal %s: %w", key, err)
	}
	return s.Set(ctx, key, b, ttl)
}

// GetJSON loads key into v.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	b, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("kvstore: unmarshal %s: %w", key, err)
	}
	return true, nil
}
