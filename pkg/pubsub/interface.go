package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrInvalidChannel is returned when a channel name cannot be mapped onto
	// the driver's addressing scheme.
	ErrInvalidChannel = errors.New("pubsub: invalid channel")

	// ErrClosed is returned by operations on a closed PubSub.
	ErrClosed = errors.New("pubsub: closed")
)

// Event represents a message published to the event bus.
type Event struct {
	Type      string          `json:"type"`
	Key       string          `json:"key"`
	Origin    string          `json:"origin,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent creates a new event with the current timestamp. key is used by
// partitioned drivers to keep related events ordered.
func NewEvent(eventType, key string, payload interface{}) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		Type:      eventType,
		Key:       key,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// UnmarshalPayload unmarshals the event payload into the given struct.
func (e *Event) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// Publisher publishes events to the event bus.
type Publisher interface {
	Publish(ctx context.Context, channel string, event *Event) error
}

// Subscriber subscribes to events from the event bus. The returned channel
// is closed when the subscription ends, either through ctx, Unsubscribe or
// a broker failure the driver cannot recover from.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan *Event, error)
	Unsubscribe(ctx context.Context, channel string) error
}

// PubSub combines Publisher and Subscriber interfaces.
type PubSub interface {
	Publisher
	Subscriber
	Ping(ctx context.Context) error
	Close() error
}
