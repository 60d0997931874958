package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stackstart/stackstart/internal/model"
)

const (
	// authCachePrefix is the Redis key prefix for auth context cache.
	authCachePrefix = "auth:ctx:"
	// authCacheTTL is the longest a verified key stays cached.
	authCacheTTL = 5 * time.Minute
)

// CachedAuthContext represents auth context stored in Redis.
type CachedAuthContext struct {
	KeyID     string `json:"key_id"`
	KeyPrefix string `json:"key_prefix"`
	ProjectID string `json:"project_id"`
	ExpiresAt *int64 `json:"expires_at,omitempty"`
}

// GetAuthContext retrieves a cached auth context by cache key.
// A miss returns (nil, nil).
func (c *Cache) GetAuthContext(ctx context.Context, cacheKey string) (*model.AuthContext, error) {
	data, err := c.client.Get(ctx, authCachePrefix+cacheKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get auth context: %w", err)
	}

	var cached CachedAuthContext
	if err := json.Unmarshal(data, &cached); err != nil {
		// Corrupted entry, treat as miss
		return nil, nil //nolint:nilerr
	}

	return &model.AuthContext{
		KeyID:     cached.KeyID,
		KeyPrefix: cached.KeyPrefix,
		ProjectID: cached.ProjectID,
		ExpiresAt: cached.ExpiresAt,
	}, nil
}

// SetAuthContext caches an auth context until the earlier of the cache TTL
// and the key's expiry. Keys already expired are not cached.
func (c *Cache) SetAuthContext(ctx context.Context, cacheKey string, auth *model.AuthContext) error {
	ttl := authTTL(auth, c.now())
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(CachedAuthContext{
		KeyID:     auth.KeyID,
		KeyPrefix: auth.KeyPrefix,
		ProjectID: auth.ProjectID,
		ExpiresAt: auth.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("marshal auth context: %w", err)
	}

	return c.client.Set(ctx, authCachePrefix+cacheKey, data, ttl).Err()
}

func authTTL(auth *model.AuthContext, now time.Time) time.Duration {
	if auth.ExpiresAt == nil {
		return authCacheTTL
	}
	remaining := time.Unix(*auth.ExpiresAt, 0).Sub(now)
	if remaining < authCacheTTL {
		return remaining
	}
	return authCacheTTL
}
