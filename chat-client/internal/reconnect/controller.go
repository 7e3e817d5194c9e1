// Package reconnect drives the client connection lifecycle: initial
// connect, capped exponential backoff between attempts and the terminal
// failed state.
package reconnect

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/weiawesome/wes-io-chat/chat-client/internal/transport"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

// ErrReconnectFailed is returned after the last allowed attempt failed.
var ErrReconnectFailed = errors.New("reconnect: all attempts failed")

// State of the connection.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// DialFunc opens a connection with the named transport.
type DialFunc func(ctx context.Context, transportName string) (transport.Conn, error)

type Options struct {
	// Attempts per reconnection cycle.
	Attempts      int
	Delay         time.Duration
	DelayMax      time.Duration
	Randomization float64
	Transports    []string
}

func DefaultOptions() Options {
	return Options{
		Attempts:      10,
		Delay:         time.Second,
		DelayMax:      5 * time.Second,
		Randomization: 0.5,
		Transports:    []string{transport.WebSocket, transport.Polling},
	}
}

// Controller is safe for concurrent use, but Connect and Reconnect must not
// run concurrently with each other.
type Controller struct {
	opts Options
	dial DialFunc

	sleep func(ctx context.Context, d time.Duration) error
	rand  func() float64

	mu       sync.Mutex
	state    State
	onState  func(State)
	onRetry  func(attempt int, delay time.Duration)
	attempts int
}

func New(opts Options, dial DialFunc) *Controller {
	def := DefaultOptions()
	if opts.Attempts <= 0 {
		opts.Attempts = def.Attempts
	}
	if opts.Delay <= 0 {
		opts.Delay = def.Delay
	}
	if opts.DelayMax <= 0 {
		opts.DelayMax = def.DelayMax
	}
	if opts.Randomization < 0 || opts.Randomization >= 1 {
		opts.Randomization = def.Randomization
	}
	if len(opts.Transports) == 0 {
		opts.Transports = def.Transports
	}
	return &Controller{
		opts:  opts,
		dial:  dial,
		sleep: sleepCtx,
		rand:  rand.Float64,
		state: Disconnected,
	}
}

// OnStateChange registers a callback invoked on every transition.
func (c *Controller) OnStateChange(f func(State)) {
	c.mu.Lock()
	c.onState = f
	c.mu.Unlock()
}

// OnRetry registers a callback invoked before each reconnection attempt.
func (c *Controller) OnRetry(f func(attempt int, delay time.Duration)) {
	c.mu.Lock()
	c.onRetry = f
	c.mu.Unlock()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the attempt number of the current or last reconnection
// cycle.
func (c *Controller) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	cb := c.onState
	c.mu.Unlock()

	if cb != nil {
		cb(s)
	}
}

// Backoff returns the un-jittered delay before attempt n (1-based):
// min(delay * 2^(n-1), max).
func Backoff(n int, delay, max time.Duration) time.Duration {
	if n < 1 {
		n = 1
	}
	d := delay
	for i := 1; i < n; i++ {
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

// Delay returns the jittered delay before attempt n.
func (c *Controller) Delay(n int) time.Duration {
	d := Backoff(n, c.opts.Delay, c.opts.DelayMax)
	if c.opts.Randomization == 0 {
		return d
	}
	// Uniform in [d*(1-r), d*(1+r)).
	factor := 1 + c.opts.Randomization*(2*c.rand()-1)
	return time.Duration(float64(d) * factor)
}

// Connect makes the initial attempt immediately and falls back to a
// reconnection cycle when it fails.
func (c *Controller) Connect(ctx context.Context) (transport.Conn, error) {
	c.setState(Connecting)
	conn, err := c.tryTransports(ctx)
	if err == nil {
		c.setState(Connected)
		return conn, nil
	}
	c.setState(Disconnected)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	l := log.L()
	l.Warn().Err(err).Msg("initial connection failed")
	return c.Reconnect(ctx)
}

// Reconnect runs one reconnection cycle. After the last failed attempt the
// controller is Failed and ErrReconnectFailed is returned; there is no
// further attempt.
func (c *Controller) Reconnect(ctx context.Context) (transport.Conn, error) {
	l := log.L()

	for n := 1; n <= c.opts.Attempts; n++ {
		delay := c.Delay(n)

		c.mu.Lock()
		c.attempts = n
		onRetry := c.onRetry
		c.mu.Unlock()
		if onRetry != nil {
			onRetry(n, delay)
		}

		if err := c.sleep(ctx, delay); err != nil {
			c.setState(Disconnected)
			return nil, err
		}

		c.setState(Connecting)
		conn, err := c.tryTransports(ctx)
		if err == nil {
			l.Info().Int("attempt", n).Str(log.FieldTransport, conn.Transport()).Msg("reconnected")
			c.setState(Connected)
			return conn, nil
		}
		c.setState(Disconnected)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		l.Warn().Err(err).Int("attempt", n).Dur("delay", delay).Msg("reconnection attempt failed")
	}

	c.setState(Failed)
	return nil, ErrReconnectFailed
}

// Dropped records an unexpected loss of a live connection. The caller is
// expected to run Reconnect next.
func (c *Controller) Dropped() {
	c.setState(Connecting)
}

func (c *Controller) tryTransports(ctx context.Context) (transport.Conn, error) {
	var errs []error
	for _, name := range c.opts.Transports {
		conn, err := c.dial(ctx, name)
		if err == nil {
			return conn, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
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
