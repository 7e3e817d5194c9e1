package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/wes-io-chat/chat-gateway/internal/config"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisDirectory struct {
	client            *redis.Client
	keyTTL            time.Duration
	heartbeatInterval time.Duration
	managedKeys       map[string]struct{} // keys written by this worker
	mu                sync.RWMutex
	cancel            context.CancelFunc
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
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
	return client, nil
}

func NewRedisDirectory(client *redis.Client, cfg config.RedisConfig) *RedisDirectory {
	return &RedisDirectory{
		client:            client,
		keyTTL:            cfg.KeyTTL,
		heartbeatInterval: cfg.HeartbeatInterval,
		managedKeys:       make(map[string]struct{}),
	}
}

func (r *RedisDirectory) track(key string) {
	r.mu.Lock()
	r.managedKeys[key] = struct{}{}
	r.mu.Unlock()
}

func (r *RedisDirectory) untrack(key string) {
	r.mu.Lock()
	delete(r.managedKeys, key)
	r.mu.Unlock()
}

func (r *RedisDirectory) SetSession(ctx context.Context, sessionID string, rec SessionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := sessionKey(sessionID)
	if err := r.client.Set(ctx, key, data, r.keyTTL).Err(); err != nil {
		return fmt.Errorf("failed to set session %s: %w", sessionID, err)
	}
	r.track(key)
	return nil
}

func (r *RedisDirectory) GetSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	data, err := r.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}
	var rec SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", sessionID, err)
	}
	return &rec, nil
}

func (r *RedisDirectory) DeleteSession(ctx context.Context, sessionID string) error {
	key := sessionKey(sessionID)
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	r.untrack(key)
	return nil
}

func (r *RedisDirectory) SetUserSession(ctx context.Context, userID, sessionID string) error {
	key := userKey(userID)
	if err := r.client.Set(ctx, key, sessionID, r.keyTTL).Err(); err != nil {
		return fmt.Errorf("failed to set user %s: %w", userID, err)
	}
	r.track(key)
	return nil
}

func (r *RedisDirectory) GetUserSession(ctx context.Context, userID string) (string, error) {
	sessionID, err := r.client.Get(ctx, userKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get user %s: %w", userID, err)
	}
	return sessionID, nil
}

func (r *RedisDirectory) DeleteUserSession(ctx context.Context, userID string) error {
	key := userKey(userID)
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete user %s: %w", userID, err)
	}
	r.untrack(key)
	return nil
}

func (r *RedisDirectory) DeleteUserSessionIf(ctx context.Context, userID, sessionID string) (bool, error) {
	key := userKey(userID)
	n, err := compareAndDelete.Run(ctx, r.client, []string{key}, sessionID).Int()
	if err != nil {
		return false, fmt.Errorf("failed to delete user %s: %w", userID, err)
	}
	if n == 0 {
		// Another session owns the key and may live on this worker.
		return false, nil
	}
	r.untrack(key)
	return true, nil
}

// StartHeartbeat keeps keys written by this worker alive while it runs. A
// crashed worker's keys expire after the key TTL.
func (r *RedisDirectory) StartHeartbeat(ctx context.Context) error {
	if r.keyTTL <= 0 || r.heartbeatInterval <= 0 {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	go r.heartbeatLoop(ctx)
	l := log.L()
	l.Info().Dur("interval", r.heartbeatInterval).Dur("ttl", r.keyTTL).Msg("presence heartbeat started")
	return nil
}

func (r *RedisDirectory) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refreshKeys(ctx)
		}
	}
}

func (r *RedisDirectory) refreshKeys(ctx context.Context) {
	r.mu.RLock()
	keys := make([]string, 0, len(r.managedKeys))
	for k := range r.managedKeys {
		keys = append(keys, k)
	}
	r.mu.RUnlock()

	if len(keys) == 0 {
		return
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.BoolCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.Expire(ctx, key, r.keyTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		l := log.L()
		l.Error().Err(err).Int("keys", len(keys)).Msg("failed to refresh presence keys")
	}
	for i, cmd := range cmds {
		// Expired or deleted elsewhere.
		if ok, err := cmd.Result(); err == nil && !ok {
			r.untrack(keys[i])
		}
	}
}

func (r *RedisDirectory) StopHeartbeat() {
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *RedisDirectory) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisDirectory) Close() error {
	r.StopHeartbeat()
	return r.client.Close()
}
