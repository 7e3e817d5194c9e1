package cache

import (
	"context"
	"errors"
	"time"

	"github.com/weiawesome/wes-io-chat/chat-history/internal/domain"
)

var ErrCacheMiss = errors.New("cache miss")

// MessageCache stores the full history of a conversation.
type MessageCache interface {
	Get(ctx context.Context, key string) ([]domain.ChatMessage, error)
	Set(ctx context.Context, key string, messages []domain.ChatMessage, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// BuildKey returns the same key for (a, b) and (b, a).
	BuildKey(userA, userB string) string
	Close() error
}
