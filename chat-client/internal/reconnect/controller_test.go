package reconnect

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-chat/chat-client/internal/transport"
)

type stubConn struct{ name string }

func (s *stubConn) Send(context.Context, []byte) error   { return nil }
func (s *stubConn) Recv(context.Context) ([]byte, error) { return nil, transport.ErrClosed }
func (s *stubConn) Close() error                         { return nil }
func (s *stubConn) Transport() string                    { return s.name }

type recorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
	dials  []string
	states []State
}

func (r *recorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	r.sleeps = append(r.sleeps, d)
	r.mu.Unlock()
	return nil
}

// failUntil returns a dial func that fails the first n dial calls.
func (r *recorder) failUntil(n int) DialFunc {
	return func(_ context.Context, name string) (transport.Conn, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.dials = append(r.dials, name)
		if len(r.dials) <= n {
			return nil, errors.New("connection refused")
		}
		return &stubConn{name: name}, nil
	}
}

func newTestController(t *testing.T, rec *recorder, dial DialFunc) *Controller {
	t.Helper()
	c := New(DefaultOptions(), dial)
	c.sleep = rec.sleep
	c.rand = func() float64 { return 0.5 } // no jitter
	c.OnStateChange(func(s State) {
		rec.mu.Lock()
		rec.states = append(rec.states, s)
		rec.mu.Unlock()
	})
	return c
}

func TestBackoff_Schedule(t *testing.T) {
	want := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		5000 * time.Millisecond,
		5000 * time.Millisecond,
	}
	for i, w := range want {
		assert.Equal(t, w, Backoff(i+1, time.Second, 5*time.Second), "attempt %d", i+1)
	}
	assert.Equal(t, 5*time.Second, Backoff(64, time.Second, 5*time.Second))
}

func TestDelay_JitterBounds(t *testing.T) {
	c := New(DefaultOptions(), nil)

	c.rand = func() float64 { return 0 }
	assert.Equal(t, 500*time.Millisecond, c.Delay(1))
	assert.Equal(t, 2500*time.Millisecond, c.Delay(10))

	c.rand = func() float64 { return 0.999999 }
	d := c.Delay(1)
	assert.Greater(t, d, 1499*time.Millisecond)
	assert.Less(t, d, 1500*time.Millisecond)
}

func TestConnect_FirstTransportSucceeds(t *testing.T) {
	rec := &recorder{}
	c := newTestController(t, rec, rec.failUntil(0))

	conn, err := c.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, transport.WebSocket, conn.Transport())
	assert.Empty(t, rec.sleeps)
	assert.Equal(t, []State{Connecting, Connected}, rec.states)
}

func TestConnect_FallsBackToPolling(t *testing.T) {
	rec := &recorder{}
	c := newTestController(t, rec, rec.failUntil(1))

	conn, err := c.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, transport.Polling, conn.Transport())
	assert.Equal(t, []string{transport.WebSocket, transport.Polling}, rec.dials)
	assert.Equal(t, Connected, c.State())
}

func TestReconnect_SucceedsOnThirdAttempt(t *testing.T) {
	rec := &recorder{}
	// Each attempt dials websocket then polling: 4 failures cover attempts 1 and 2.
	c := newTestController(t, rec, rec.failUntil(4))

	var retries []int
	c.OnRetry(func(n int, _ time.Duration) { retries = append(retries, n) })

	c.Dropped()
	conn, err := c.Reconnect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, transport.WebSocket, conn.Transport())
	assert.Equal(t, []int{1, 2, 3}, retries)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, rec.sleeps)
	assert.Equal(t, 3, c.Attempts())
	assert.Equal(t, Connected, c.State())
}

func TestReconnect_NoEleventhAttempt(t *testing.T) {
	rec := &recorder{}
	c := newTestController(t, rec, rec.failUntil(1_000))

	_, err := c.Reconnect(context.Background())
	require.ErrorIs(t, err, ErrReconnectFailed)

	assert.Equal(t, Failed, c.State())
	assert.Len(t, rec.sleeps, 10)
	assert.Len(t, rec.dials, 20)
	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second,
		5 * time.Second, 5 * time.Second, 5 * time.Second, 5 * time.Second, 5 * time.Second,
	}, rec.sleeps)
	assert.Equal(t, Failed, rec.states[len(rec.states)-1])
}

func TestReconnect_ContextCancelled(t *testing.T) {
	c := New(DefaultOptions(), func(context.Context, string) (transport.Conn, error) {
		return nil, errors.New("refused")
	})
	c.sleep = func(ctx context.Context, _ time.Duration) error { return context.Canceled }

	_, err := c.Reconnect(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Disconnected, c.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "failed", Failed.String())
}
