package service

import (
	"context"

	"github.com/weiawesome/wes-io-chat/chat-gateway/internal/hub"
	"github.com/weiawesome/wes-io-chat/pkg/pubsub"
)

// ChatService handles the lifecycle and inbound frames of local sessions.
type ChatService interface {
	HandleConnect(ctx context.Context, client *hub.Client)
	Dispatch(ctx context.Context, client *hub.Client, raw []byte)
	HandleDisconnect(ctx context.Context, client *hub.Client, reason string)
}

// Publisher is the outbound side of the fan-out bus.
type Publisher interface {
	PublishChatMessage(ctx context.Context, msg pubsub.ChatMessagePayload) error
	PublishPresence(ctx context.Context, p pubsub.PresencePayload) error
}
