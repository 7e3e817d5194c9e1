package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/weiawesome/wes-io-chat/pkg/log"
)

// channelToSubject maps "chat:messages" onto the NATS subject "chat.messages".
func channelToSubject(channel string) (string, error) {
	if channel == "" || strings.ContainsAny(channel, "*> .") {
		return "", fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
	}
	return strings.ReplaceAll(channel, ":", "."), nil
}

// NATSPubSub implements PubSub interface using core NATS subjects.
type NATSPubSub struct {
	conn          *nats.Conn
	subscriptions map[string]*natsSubscription
	mu            sync.Mutex
}

type natsSubscription struct {
	sub    *nats.Subscription
	cancel context.CancelFunc
}

// NewNATSPubSub connects to NATS with unlimited reconnects.
func NewNATSPubSub(cfg NATSConfig) (*NATSPubSub, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			l := log.L()
			l.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			l := log.L()
			l.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}
	if cfg.ReconnectWait > 0 {
		opts = append(opts, nats.ReconnectWait(cfg.ReconnectWait))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return NewNATSPubSubFromConn(nc), nil
}

// NewNATSPubSubFromConn wraps an established connection.
func NewNATSPubSubFromConn(nc *nats.Conn) *NATSPubSub {
	return &NATSPubSub{
		conn:          nc,
		subscriptions: make(map[string]*natsSubscription),
	}
}

// Publish publishes an event to the subject derived from channel.
func (n *NATSPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	subject, err := channelToSubject(channel)
	if err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := n.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Subscribe subscribes to the subject derived from channel.
func (n *NATSPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	subject, err := channelToSubject(channel)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if existing, ok := n.subscriptions[channel]; ok {
		existing.cancel()
		delete(n.subscriptions, channel)
	}

	msgCh := make(chan *nats.Msg, 100)
	sub, err := n.conn.ChanSubscribe(subject, msgCh)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	if err := n.conn.FlushWithContext(ctx); err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("failed to confirm subscription to %s: %w", subject, err)
	}
	subCtx, cancel := context.WithCancel(ctx)
	n.subscriptions[channel] = &natsSubscription{sub: sub, cancel: cancel}

	eventCh := make(chan *Event, 100)
	go n.processMessages(subCtx, sub, msgCh, eventCh)

	return eventCh, nil
}

func (n *NATSPubSub) processMessages(ctx context.Context, sub *nats.Subscription, msgCh <-chan *nats.Msg, eventCh chan<- *Event) {
	defer close(eventCh)
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-msgCh:
			var event Event
			if err := json.Unmarshal(msg.Data, &event); err != nil {
				l := log.L()
				l.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping malformed event")
				continue
			}
			select {
			case eventCh <- &event:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Unsubscribe unsubscribes from a channel.
func (n *NATSPubSub) Unsubscribe(ctx context.Context, channel string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if sub, ok := n.subscriptions[channel]; ok {
		delete(n.subscriptions, channel)
		sub.cancel()
	}
	return nil
}

// Ping round-trips to the server.
func (n *NATSPubSub) Ping(ctx context.Context) error {
	if !n.conn.IsConnected() {
		return nats.ErrConnectionClosed
	}
	return n.conn.FlushWithContext(ctx)
}

// Close drains subscriptions and closes the connection.
func (n *NATSPubSub) Close() error {
	n.mu.Lock()
	for key, sub := range n.subscriptions {
		sub.cancel()
		delete(n.subscriptions, key)
	}
	n.mu.Unlock()

	n.conn.Close()
	return nil
}
