package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/medical-decision-assistant/internal/domain"
)

const (
	keyPrefix   = "answer"
	pingTimeout = 5 * time.Second
	fallbackTTL = time.Hour
)

// AnswerCache stores generated answers in Redis keyed by prompt template and
// question. A nil *AnswerCache is valid and behaves as a permanently empty cache.
type AnswerCache struct {
	redis      *redis.Client
	defaultTTL time.Duration
}

// CachedAnswer is the stored envelope.
type CachedAnswer struct {
	Answer    string    `json:"answer"`
	Template  string    `json:"template"`
	CachedAt  time.Time `json:"cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewAnswerCache connects to Redis. It returns nil, nil when config has no URL.
func NewAnswerCache(config domain.CacheConfig) (*AnswerCache, error) {
	if config.RedisURL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.PoolTimeout > 0 {
		opts.PoolTimeout = config.PoolTimeout
	}
	opts.MaxRetries = config.MaxRetries

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewAnswerCacheWithClient(client, config.DefaultTTL), nil
}

// NewAnswerCacheWithClient wraps an existing client.
func NewAnswerCacheWithClient(client *redis.Client, defaultTTL time.Duration) *AnswerCache {
	if defaultTTL <= 0 {
		defaultTTL = fallbackTTL
	}
	return &AnswerCache{redis: client, defaultTTL: defaultTTL}
}

// Get returns the cached answer for template and question.
func (c *AnswerCache) Get(ctx context.Context, template, question string) (string, bool, error) {
	if c == nil {
		return "", false, nil
	}

	key := Key(template, question)
	val, err := c.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get cached answer: %w", err)
	}

	var cached CachedAnswer
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		// Remove corrupted cache entry
		c.redis.Del(ctx, key)
		return "", false, nil
	}

	if time.Now().After(cached.ExpiresAt) {
		c.redis.Del(ctx, key)
		return "", false, nil
	}

	return cached.Answer, true, nil
}

// Set stores answer. A zero ttl uses the configured default.
func (c *AnswerCache) Set(ctx context.Context, template, question, answer string, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	now := time.Now()
	payload, err := json.Marshal(CachedAnswer{
		Answer:    answer,
		Template:  template,
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal cached answer: %w", err)
	}

	return c.redis.Set(ctx, Key(template, question), payload, ttl).Err()
}

// Invalidate removes the cached answer for template and question.
func (c *AnswerCache) Invalidate(ctx context.Context, template, question string) error {
	if c == nil {
		return nil
	}
	return c.redis.Del(ctx, Key(template, question)).Err()
}

// Ping checks the connection.
func (c *AnswerCache) Ping(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.redis.Ping(ctx).Err()
}

// Close closes the Redis client.
func (c *AnswerCache) Close() error {
	if c == nil {
		return nil
	}
	return c.redis.Close()
}

// Key derives the Redis key for a template and question.
func Key(template, question string) string {
	hash := sha256.Sum256([]byte(template + "\x00" + question))
	return fmt.Sprintf("%s:%s:%x", keyPrefix, template, hash[:16])
}
