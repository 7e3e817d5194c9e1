package domain

import (
	"time"

	"github.com/weiawesome/wes-io-chat/pkg/messagestore"
)

// ChatMessage is a stored message as returned by the history API.
type ChatMessage struct {
	ID            string    `json:"id"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	Message       string    `json:"message"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// FromRecord converts a store record.
func FromRecord(r messagestore.Record) ChatMessage {
	return ChatMessage{
		ID:            r.ID,
		From:          r.From,
		To:            r.To,
		Message:       r.Message,
		CorrelationID: r.CorrelationID,
		Timestamp:     r.Timestamp,
	}
}

// FromRecords converts a slice of store records, never returning nil.
func FromRecords(records []messagestore.Record) []ChatMessage {
	out := make([]ChatMessage, 0, len(records))
	for _, r := range records {
		out = append(out, FromRecord(r))
	}
	return out
}

// SendMessageRequest is the body of POST /api/v1/messages.
type SendMessageRequest struct {
	From          string `json:"from" binding:"required"`
	To            string `json:"to" binding:"required"`
	Message       string `json:"message" binding:"required"`
	CorrelationID string `json:"correlation_id"`
}

// ChatHistoryResponse is the payload of GET /api/v1/messages/:user1/:user2.
type ChatHistoryResponse struct {
	Messages []ChatMessage `json:"messages"`
}
