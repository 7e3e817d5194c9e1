package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/wes-io-chat/chat-history/internal/config"
	"github.com/weiawesome/wes-io-chat/chat-history/internal/domain"
)

type RedisMessageCache struct {
	client *redis.Client
	prefix string
	owned  bool
}

func NewRedisMessageCache(cfg config.RedisConfig, prefix string) (*RedisMessageCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisMessageCache{
		client: client,
		prefix: prefix,
		owned:  true,
	}, nil
}

// NewRedisMessageCacheFromClient wraps an existing client. Close leaves the
// client open.
func NewRedisMessageCacheFromClient(client *redis.Client, prefix string) *RedisMessageCache {
	return &RedisMessageCache{client: client, prefix: prefix}
}

func (c *RedisMessageCache) BuildKey(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return fmt.Sprintf("%s:%s:%s", c.prefix, userA, userB)
}

func (c *RedisMessageCache) Get(ctx context.Context, key string) ([]domain.ChatMessage, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get from cache: %w", err)
	}

	var messages []domain.ChatMessage
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache data: %w", err)
	}
	return messages, nil
}

func (c *RedisMessageCache) Set(ctx context.Context, key string, messages []domain.ChatMessage, ttl time.Duration) error {
	data, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}
	return nil
}

func (c *RedisMessageCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete cache key: %w", err)
	}
	return nil
}

func (c *RedisMessageCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisMessageCache) Close() error {
	if !c.owned {
		return nil
	}
	return c.client.Close()
}
