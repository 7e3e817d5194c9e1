// Package messagestore persists chat messages and answers conversation
// history queries.
package messagestore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a message id does not exist.
var ErrNotFound = errors.New("message not found")

// Record is a persisted chat message.
type Record struct {
	ID            string    `json:"id"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	Message       string    `json:"message"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Store appends messages and queries the conversation between two users.
type Store interface {
	Append(ctx context.Context, from, to, message, correlationID string) (*Record, error)
	Query(ctx context.Context, userA, userB string) ([]Record, error)
	Get(ctx context.Context, id string) (*Record, error)
}
