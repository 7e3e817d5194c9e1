// Package tracker follows every outgoing chat message from submit to a
// single terminal outcome.
package tracker

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status of an outgoing message.
type Status int

const (
	Pending Status = iota
	Delivered
	Failed
	TimedOut
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Delivered:
		return "delivered"
	case Failed:
		return "failed"
	case TimedOut:
		return "timeout"
	default:
		return "unknown"
	}
}

// Message is a snapshot of an outgoing message.
type Message struct {
	CorrelationID string    `json:"id"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	Text          string    `json:"message"`
	SentAt        time.Time `json:"timestamp"`
	// Deadline is SentAt plus the ack timeout.
	Deadline time.Time `json:"-"`
	Status   Status    `json:"-"`
	// ServerTime is the ack timestamp once Delivered.
	ServerTime time.Time `json:"-"`
	// Error is the server's text once Failed.
	Error string `json:"-"`
}

// Flags reports the status the way the chat view renders it.
type Flags struct {
	Pending   bool `json:"pending"`
	Delivered bool `json:"delivered"`
	Failed    bool `json:"failed"`
	Timeout   bool `json:"timeout"`
}

// Remaining is the time left before a Pending message times out. It is zero
// once the deadline has passed or the message is resolved.
func (m Message) Remaining(now time.Time) time.Duration {
	if m.Status != Pending || !now.Before(m.Deadline) {
		return 0
	}
	return m.Deadline.Sub(now)
}

func (m Message) Flags() Flags {
	return Flags{
		Pending:   m.Status == Pending,
		Delivered: m.Status == Delivered,
		Failed:    m.Status == Failed,
		Timeout:   m.Status == TimedOut,
	}
}

// Timer is the subset of *time.Timer the tracker needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type entry struct {
	msg   Message
	timer Timer
}

// Tracker is safe for concurrent use. Each correlation id owns one cell that
// leaves Pending at most once.
type Tracker struct {
	mu      sync.Mutex
	order   []string
	entries map[string]*entry

	timeout    time.Duration
	afterFunc  AfterFunc
	now        func() time.Time
	newID      func() string
	onResolved func(Message)
}

type Option func(*Tracker)

// WithAfterFunc replaces time.AfterFunc.
func WithAfterFunc(f AfterFunc) Option {
	return func(t *Tracker) { t.afterFunc = f }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithIDGenerator replaces the uuid correlation id generator.
func WithIDGenerator(f func() string) Option {
	return func(t *Tracker) { t.newID = f }
}

// OnResolved is called once per message, outside the lock, when it leaves
// Pending.
func OnResolved(f func(Message)) Option {
	return func(t *Tracker) { t.onResolved = f }
}

func New(timeout time.Duration, opts ...Option) *Tracker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	t := &Tracker{
		entries:   make(map[string]*entry),
		timeout:   timeout,
		afterFunc: realAfterFunc,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Submit records a new Pending message and arms its deadline.
func (t *Tracker) Submit(from, to, text string) Message {
	t.mu.Lock()
	id := t.newID()
	sentAt := t.now()
	e := &entry{msg: Message{
		CorrelationID: id,
		From:          from,
		To:            to,
		Text:          text,
		SentAt:        sentAt,
		Deadline:      sentAt.Add(t.timeout),
		Status:        Pending,
	}}
	t.entries[id] = e
	t.order = append(t.order, id)
	msg := e.msg
	t.mu.Unlock()

	// Armed after unlock; a synchronous fake afterFunc may call Expire.
	timer := t.afterFunc(t.timeout, func() { t.Expire(id) })

	t.mu.Lock()
	if e.msg.Status == Pending {
		e.timer = timer
	}
	t.mu.Unlock()

	return msg
}

// Ack applies the server's ack. It reports whether the message changed state.
func (t *Tracker) Ack(correlationID string, success bool, serverTime time.Time, errText string) bool {
	if success {
		return t.resolve(correlationID, func(m *Message) {
			m.Status = Delivered
			m.ServerTime = serverTime
		})
	}
	return t.resolve(correlationID, func(m *Message) {
		m.Status = Failed
		m.Error = errText
	})
}

// Fail marks a message Failed without an ack, e.g. when the frame could not
// be written.
func (t *Tracker) Fail(correlationID, errText string) bool {
	return t.resolve(correlationID, func(m *Message) {
		m.Status = Failed
		m.Error = errText
	})
}

// Expire moves a still-Pending message to TimedOut.
func (t *Tracker) Expire(correlationID string) bool {
	return t.resolve(correlationID, func(m *Message) {
		m.Status = TimedOut
	})
}

func (t *Tracker) resolve(id string, apply func(*Message)) bool {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok || e.msg.Status != Pending {
		t.mu.Unlock()
		return false
	}
	apply(&e.msg)
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	msg := e.msg
	cb := t.onResolved
	t.mu.Unlock()

	if cb != nil {
		cb(msg)
	}
	return true
}

// Get returns the current snapshot of a message.
func (t *Tracker) Get(correlationID string) (Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[correlationID]
	if !ok {
		return Message{}, false
	}
	return e.msg, true
}

// Messages returns every tracked message in submit order.
func (t *Tracker) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.entries[id].msg)
	}
	return out
}

// PendingCount returns how many messages still wait for an outcome.
func (t *Tracker) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, e := range t.entries {
		if e.msg.Status == Pending {
			n++
		}
	}
	return n
}
