package fanout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-chat/pkg/pubsub"
)

func TestBackoff(t *testing.T) {
	base, max := 100*time.Millisecond, 10*time.Second
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1600 * time.Millisecond,
		3200 * time.Millisecond,
		6400 * time.Millisecond,
		10 * time.Second,
		10 * time.Second,
	}
	for attempt, w := range want {
		assert.Equal(t, w, Backoff(attempt, base, max), "attempt %d", attempt)
	}
	assert.Equal(t, max, Backoff(200, base, max))
}

// flakyPubSub fails the first n subscriptions.
type flakyPubSub struct {
	pubsub.PubSub
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyPubSub) Subscribe(ctx context.Context, channel string) (<-chan *pubsub.Event, error) {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return nil, errors.New("broker down")
	}
	return f.PubSub.Subscribe(ctx, channel)
}

func newRedisPubSub(t *testing.T) (*pubsub.RedisPubSub, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return pubsub.NewRedisPubSubFromClient(client), mr
}

func TestBus_RetriesSubscriptionWithBackoff(t *testing.T) {
	ps, _ := newRedisPubSub(t)
	flaky := &flakyPubSub{PubSub: ps, failures: 3}

	bus := NewBus(flaky, "w1", Options{})
	var (
		mu     sync.Mutex
		delays []time.Duration
	)
	bus.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return nil
	}

	got := make(chan *pubsub.Event, 1)
	bus.Handle(pubsub.ChannelChatMessages, func(_ context.Context, ev *pubsub.Event) {
		select {
		case got <- ev:
		default:
		}
	})
	bus.Start(context.Background())
	defer bus.Stop()

	require.Eventually(t, func() bool {
		return bus.PublishChatMessage(context.Background(), pubsub.ChatMessagePayload{ID: "m1", To: "bob"}) == nil &&
			len(got) == 1
	}, 2*time.Second, 20*time.Millisecond)

	ev := <-got
	assert.Equal(t, "w1", ev.Origin)
	assert.Equal(t, "bob", ev.Key)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}, delays)
}

func TestBus_PublishWhileBrokerDown(t *testing.T) {
	ps, mr := newRedisPubSub(t)
	mr.Close()

	bus := NewBus(ps, "w1", Options{PublishTimeout: 200 * time.Millisecond})
	err := bus.PublishPresence(context.Background(), pubsub.PresencePayload{UserID: "alice", Online: true})
	assert.ErrorIs(t, err, ErrBusUnavailable)
	assert.ErrorIs(t, bus.Ping(context.Background()), ErrBusUnavailable)
}

func TestBus_StopEndsSubscriptions(t *testing.T) {
	ps, _ := newRedisPubSub(t)
	bus := NewBus(ps, "w1", Options{})
	bus.Handle(pubsub.ChannelPresence, func(context.Context, *pubsub.Event) {})
	bus.Start(context.Background())

	done := make(chan struct{})
	go func() {
		bus.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
