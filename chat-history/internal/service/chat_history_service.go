package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/weiawesome/wes-io-chat/chat-history/internal/cache"
	"github.com/weiawesome/wes-io-chat/chat-history/internal/domain"
	"github.com/weiawesome/wes-io-chat/pkg/log"
	"github.com/weiawesome/wes-io-chat/pkg/messagestore"
	"github.com/weiawesome/wes-io-chat/pkg/pubsub"
)

// OriginHistoryAPI marks bus events published by the history API.
const OriginHistoryAPI = "chat-history"

type chatHistoryServiceImpl struct {
	store     messagestore.Store
	cache     cache.MessageCache
	cacheTTL  time.Duration
	publisher pubsub.Publisher
	sf        singleflight.Group
}

// NewChatHistoryService builds the service. msgCache and publisher may be
// nil, in which case reads go straight to the store and sends are not
// fanned out.
func NewChatHistoryService(
	store messagestore.Store,
	msgCache cache.MessageCache,
	cacheTTL time.Duration,
	publisher pubsub.Publisher,
) ChatHistoryService {
	return &chatHistoryServiceImpl{
		store:     store,
		cache:     msgCache,
		cacheTTL:  cacheTTL,
		publisher: publisher,
	}
}

func (s *chatHistoryServiceImpl) GetChatHistory(ctx context.Context, userA, userB string) (*domain.ChatHistoryResponse, error) {
	if s.cache == nil {
		messages, err := s.fetchFromStore(ctx, userA, userB)
		if err != nil {
			return nil, err
		}
		return &domain.ChatHistoryResponse{Messages: messages}, nil
	}

	cacheKey := s.cache.BuildKey(userA, userB)

	// Collapse concurrent misses for the same conversation.
	result, err, _ := s.sf.Do(cacheKey, func() (interface{}, error) {
		return s.fetchWithCache(ctx, userA, userB, cacheKey)
	})
	if err != nil {
		return nil, err
	}

	messages, ok := result.([]domain.ChatMessage)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from singleflight")
	}
	return &domain.ChatHistoryResponse{Messages: messages}, nil
}

func (s *chatHistoryServiceImpl) fetchWithCache(ctx context.Context, userA, userB, cacheKey string) ([]domain.ChatMessage, error) {
	cached, err := s.cache.Get(ctx, cacheKey)
	if err == nil {
		return cached, nil
	}

	if !errors.Is(err, cache.ErrCacheMiss) {
		// Log error but continue to fetch from DB
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("cache get error")
	}

	messages, err := s.fetchFromStore(ctx, userA, userB)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, cacheKey, messages, s.cacheTTL); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("cache set error")
	}

	return messages, nil
}

func (s *chatHistoryServiceImpl) fetchFromStore(ctx context.Context, userA, userB string) ([]domain.ChatMessage, error) {
	records, err := s.store.Query(ctx, userA, userB)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages from store: %w", err)
	}
	return domain.FromRecords(records), nil
}

func (s *chatHistoryServiceImpl) SendMessage(ctx context.Context, req domain.SendMessageRequest) (*domain.ChatMessage, error) {
	rec, err := s.store.Append(ctx, req.From, req.To, req.Message, req.CorrelationID)
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}

	l := log.Ctx(ctx)

	if s.cache != nil {
		if err := s.cache.Delete(ctx, s.cache.BuildKey(req.From, req.To)); err != nil {
			l.Warn().Err(err).Msg("cache invalidate error")
		}
	}

	if s.publisher != nil {
		if err := s.publish(ctx, rec); err != nil {
			// The message is stored; live sessions pick it up on their next history fetch.
			l.Warn().Err(err).Str(log.FieldMessageID, rec.ID).Msg("failed to publish chat message")
		}
	}

	msg := domain.FromRecord(*rec)
	return &msg, nil
}

func (s *chatHistoryServiceImpl) publish(ctx context.Context, rec *messagestore.Record) error {
	ev, err := pubsub.NewEvent(pubsub.EventChatMessage, rec.To, pubsub.ChatMessagePayload{
		ID:            rec.ID,
		From:          rec.From,
		To:            rec.To,
		Message:       rec.Message,
		CorrelationID: rec.CorrelationID,
		Timestamp:     rec.Timestamp,
	})
	if err != nil {
		return err
	}
	ev.Origin = OriginHistoryAPI

	pubCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.publisher.Publish(pubCtx, pubsub.ChannelChatMessages, ev)
}
