package service

import (
	"context"

	"github.com/weiawesome/wes-io-chat/chat-history/internal/domain"
)

type ChatHistoryService interface {
	// GetChatHistory returns the conversation between two users, oldest first.
	GetChatHistory(ctx context.Context, userA, userB string) (*domain.ChatHistoryResponse, error)
	// SendMessage stores a message and announces it to the gateway workers.
	SendMessage(ctx context.Context, req domain.SendMessageRequest) (*domain.ChatMessage, error)
}
