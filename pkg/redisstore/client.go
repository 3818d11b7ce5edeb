// Package redisstore provides an optional Redis-backed access-token cache
// for the credential pool. The proxy works without Redis; when REDIS_URL is
// set, refreshed tokens are mirrored so that a restart (or a second reader)
// can skip a refresh round-trip while the token is still fresh.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key prefixes for Redis data
const (
	PrefixTokenCache = "geminicli:token_cache:"
)

// Client wraps the Redis client with domain-specific operations
type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client from a redis:// URL
func NewClient(url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// CachedToken represents a cached access token
type CachedToken struct {
	AccessToken string
	Expiry      time.Time
}

// TokenCache provides the token-cache operations used by the credential pool
type TokenCache struct {
	client *Client
}

// NewTokenCache creates a TokenCache. A nil client yields a cache whose
// operations are no-ops, so callers need not branch on Redis availability.
func NewTokenCache(client *Client) *TokenCache {
	return &TokenCache{client: client}
}

// Get retrieves a cached access token for an account key. Returns nil when
// the cache is disabled, empty, or the entry expired.
func (t *TokenCache) Get(ctx context.Context, key string) (*CachedToken, error) {
	if t == nil || t.client == nil {
		return nil, nil
	}
	data, err := t.client.rdb.HGetAll(ctx, PrefixTokenCache+key).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	token := &CachedToken{AccessToken: data["accessToken"]}
	if v, ok := data["expiry"]; ok {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			token.Expiry = ts
		}
	}
	if token.AccessToken == "" || !token.Expiry.After(time.Now()) {
		return nil, nil
	}
	return token, nil
}

// Set stores an access token until its expiry instant
func (t *TokenCache) Set(ctx context.Context, key, token string, expiry time.Time) error {
	if t == nil || t.client == nil {
		return nil
	}
	ttl := time.Until(expiry)
	if ttl <= 0 {
		return nil
	}
	rkey := PrefixTokenCache + key
	values := map[string]interface{}{
		"accessToken": token,
		"expiry":      expiry.Format(time.RFC3339),
	}
	if err := t.client.rdb.HSet(ctx, rkey, values).Err(); err != nil {
		return err
	}
	return t.client.rdb.Expire(ctx, rkey, ttl).Err()
}

// Clear drops the cached token for an account key
func (t *TokenCache) Clear(ctx context.Context, key string) error {
	if t == nil || t.client == nil {
		return nil
	}
	return t.client.rdb.Del(ctx, PrefixTokenCache+key).Err()
}
