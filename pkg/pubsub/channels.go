package pubsub

import "time"

// Channels every gateway worker subscribes to.
const (
	ChannelChatMessages = "chat:messages"
	ChannelPresence     = "chat:presence"
)

// Event types.
const (
	EventChatMessage     = "chat_message"
	EventPresenceChanged = "presence_changed"
)

// Channels returns the fixed set of fan-out channels.
func Channels() []string {
	return []string{ChannelChatMessages, ChannelPresence}
}

// ChatMessagePayload is a persisted chat message travelling between workers.
type ChatMessagePayload struct {
	ID            string    `json:"id"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	Message       string    `json:"message"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// PresencePayload announces that a user went online or offline.
type PresencePayload struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	WorkerID  string `json:"worker_id"`
	Online    bool   `json:"online"`
}
