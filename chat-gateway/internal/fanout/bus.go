// Package fanout carries chat messages and presence changes between gateway
// workers over a pubsub broker.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/weiawesome/wes-io-chat/pkg/log"
	"github.com/weiawesome/wes-io-chat/pkg/pubsub"
)

var ErrBusUnavailable = errors.New("fanout: bus unavailable")

// HandlerFunc processes one event received on a channel.
type HandlerFunc func(ctx context.Context, event *pubsub.Event)

type Options struct {
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	PublishTimeout time.Duration
}

type Bus struct {
	ps       pubsub.PubSub
	workerID string
	opts     Options
	handlers map[string]HandlerFunc
	sleep    func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewBus(ps pubsub.PubSub, workerID string, opts Options) *Bus {
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 100 * time.Millisecond
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 10 * time.Second
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 3 * time.Second
	}
	return &Bus{
		ps:       ps,
		workerID: workerID,
		opts:     opts,
		handlers: make(map[string]HandlerFunc),
		sleep:    sleepCtx,
	}
}

// Backoff returns min(base * 2^attempt, max).
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Handle registers fn for channel. It must be called before Start.
func (b *Bus) Handle(channel string, fn HandlerFunc) {
	b.handlers[channel] = fn
}

// Start subscribes to every handled channel in the background. It never
// fails: subscriptions that cannot be established are retried with capped
// exponential backoff while the worker keeps serving.
func (b *Bus) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	for channel, fn := range b.handlers {
		b.wg.Add(1)
		go func(channel string, fn HandlerFunc) {
			defer b.wg.Done()
			b.run(ctx, channel, fn)
		}(channel, fn)
	}
}

// Stop ends every subscription and waits for handlers to return.
func (b *Bus) Stop() {
	b.mu.Lock()
	cancel := b.cancel
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	b.wg.Wait()
}

func (b *Bus) run(ctx context.Context, channel string, fn HandlerFunc) {
	l := log.L().With().Str(log.FieldChannel, channel).Logger()
	attempt := 0

	for ctx.Err() == nil {
		events, err := b.ps.Subscribe(ctx, channel)
		if err != nil {
			delay := Backoff(attempt, b.opts.BackoffBase, b.opts.BackoffMax)
			l.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("bus subscription failed")
			attempt++
			if b.sleep(ctx, delay) != nil {
				return
			}
			continue
		}

		attempt = 0
		l.Info().Msg("bus subscription active")
		b.consume(ctx, events, fn)

		if ctx.Err() != nil {
			return
		}
		delay := Backoff(attempt, b.opts.BackoffBase, b.opts.BackoffMax)
		l.Warn().Dur("retry_in", delay).Msg("bus subscription lost")
		attempt++
		if b.sleep(ctx, delay) != nil {
			return
		}
	}
}

func (b *Bus) consume(ctx context.Context, events <-chan *pubsub.Event, fn HandlerFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			fn(ctx, ev)
		}
	}
}

// Publish sends payload on channel. Nothing is queued when the broker is
// down; the error wraps ErrBusUnavailable.
func (b *Bus) Publish(ctx context.Context, channel, eventType, key string, payload interface{}) error {
	ev, err := pubsub.NewEvent(eventType, key, payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", eventType, err)
	}
	ev.Origin = b.workerID

	ctx, cancel := context.WithTimeout(ctx, b.opts.PublishTimeout)
	defer cancel()

	if err := b.ps.Publish(ctx, channel, ev); err != nil {
		return fmt.Errorf("%w: publish %s: %v", ErrBusUnavailable, channel, err)
	}
	return nil
}

func (b *Bus) PublishChatMessage(ctx context.Context, msg pubsub.ChatMessagePayload) error {
	return b.Publish(ctx, pubsub.ChannelChatMessages, pubsub.EventChatMessage, msg.To, msg)
}

func (b *Bus) PublishPresence(ctx context.Context, p pubsub.PresencePayload) error {
	return b.Publish(ctx, pubsub.ChannelPresence, pubsub.EventPresenceChanged, p.UserID, p)
}

// Ping reports broker reachability.
func (b *Bus) Ping(ctx context.Context) error {
	if err := b.ps.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
