// Package socket is the chat client's session with the gateway: it sends
// frames, correlates acks, keeps the connection alive and re-announces the
// user after every reconnect.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weiawesome/wes-io-chat/chat-client/internal/protocol"
	"github.com/weiawesome/wes-io-chat/chat-client/internal/reconnect"
	"github.com/weiawesome/wes-io-chat/chat-client/internal/tracker"
	"github.com/weiawesome/wes-io-chat/chat-client/internal/transport"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

var ErrNotConnected = errors.New("socket: not connected")

// NoticeReconnectFailed is shown once the reconnection cycle is exhausted.
const NoticeReconnectFailed = "Connection to chat server lost. Please restart the client to reconnect."

type Handlers struct {
	OnMessage  func(protocol.Message)
	OnPresence func(protocol.Presence)
	// OnServerError receives the text of an error frame.
	OnServerError func(message string)
	// OnNotice receives user-facing notices.
	OnNotice func(message string)
}

type Options struct {
	UserID      string
	KeepAlive   time.Duration
	SendTimeout time.Duration
}

type Client struct {
	opts     Options
	ctrl     *reconnect.Controller
	tracker  *tracker.Tracker
	handlers Handlers
	newID    func() string

	mu        sync.Mutex
	conn      transport.Conn
	acks      map[string]func(protocol.Ack)
	closing   bool
	cancelRun context.CancelFunc
}

func New(ctrl *reconnect.Controller, tr *tracker.Tracker, opts Options, handlers Handlers) *Client {
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 30 * time.Second
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	return &Client{
		opts:     opts,
		ctrl:     ctrl,
		tracker:  tr,
		handlers: handlers,
		newID:    uuid.NewString,
		acks:     make(map[string]func(protocol.Ack)),
	}
}

// Run connects and serves the connection, reconnecting after unexpected
// drops. It returns nil after Close or ctx cancellation and
// reconnect.ErrReconnectFailed once the reconnection cycle is exhausted.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.cancelRun = cancel
	c.mu.Unlock()

	l := log.L()

	conn, err := c.ctrl.Connect(ctx)
	for {
		if err != nil {
			if c.isClosing() || ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, reconnect.ErrReconnectFailed) {
				c.notice(NoticeReconnectFailed)
			}
			return err
		}

		l.Info().Str(log.FieldTransport, conn.Transport()).Msg("connected to chat gateway")
		dropErr := c.serve(ctx, conn)

		if c.isClosing() || ctx.Err() != nil {
			return nil
		}
		l.Warn().Err(dropErr).Msg("connection lost")
		c.ctrl.Dropped()
		conn, err = c.ctrl.Reconnect(ctx)
	}
}

func (c *Client) serve(ctx context.Context, conn transport.Conn) error {
	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.attach(conn)
	defer c.detach(conn)

	// Recv only returns once the conn is closed.
	stop := context.AfterFunc(serveCtx, func() { conn.Close() })
	defer stop()

	if c.opts.UserID != "" {
		if err := c.SetOnline(serveCtx, true); err != nil {
			return fmt.Errorf("announce online: %w", err)
		}
	}

	go c.keepAlive(serveCtx)

	l := log.L()
	for {
		frame, err := conn.Recv(serveCtx)
		if err != nil {
			return err
		}
		in, err := protocol.Decode(frame)
		if err != nil {
			l.Warn().Err(err).Msg("ignoring frame")
			continue
		}

		switch {
		case in.Ack != nil:
			c.resolveAck(*in.Ack)
		case in.Message != nil:
			if c.handlers.OnMessage != nil {
				c.handlers.OnMessage(*in.Message)
			}
		case in.Presence != nil:
			if c.handlers.OnPresence != nil {
				c.handlers.OnPresence(*in.Presence)
			}
		case in.Error != nil:
			l.Warn().Str("server_message", in.Error.Message).Msg("server error")
			if c.handlers.OnServerError != nil {
				c.handlers.OnServerError(in.Error.Message)
			}
		case in.Disconnect != nil:
			return fmt.Errorf("server disconnect: %s", in.Disconnect.Reason)
		}
	}
}

func (c *Client) attach(conn transport.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// detach forgets the connection and its outstanding acks. Messages waiting
// on those acks time out in the tracker.
func (c *Client) detach(conn transport.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.acks = make(map[string]func(protocol.Ack))
	c.mu.Unlock()
	conn.Close()
}

func (c *Client) current() transport.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

// Connected reports whether a connection is currently attached.
func (c *Client) Connected() bool {
	return c.current() != nil
}

func (c *Client) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(c.opts.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Ping(ctx); err != nil && ctx.Err() == nil {
				l := log.L()
				l.Debug().Err(err).Msg("keepalive ping failed")
			}
		}
	}
}

// Ping sends a ping; the ack is only logged.
func (c *Client) Ping(ctx context.Context) error {
	ackID := c.newID()
	c.registerAck(ackID, func(a protocol.Ack) {
		if a.Status == protocol.AckSuccess {
			l := log.L()
			l.Debug().Time("server_time", a.Time()).Msg("ping successful")
		}
	})
	if err := c.write(ctx, protocol.NewPing(ackID)); err != nil {
		c.dropAck(ackID)
		return err
	}
	return nil
}

// Send submits a chat message. The returned message is Pending; its outcome
// is reported through the tracker.
func (c *Client) Send(ctx context.Context, to, text string) (tracker.Message, error) {
	if !c.Connected() {
		return tracker.Message{}, ErrNotConnected
	}

	msg := c.tracker.Submit(c.opts.UserID, to, text)
	ackID := c.newID()
	c.registerAck(ackID, func(a protocol.Ack) {
		c.tracker.Ack(msg.CorrelationID, a.Status == protocol.AckSuccess, a.Time(), a.Message)
	})

	frame := protocol.NewChatMessage(ackID, c.opts.UserID, to, text, msg.CorrelationID)
	if err := c.write(ctx, frame); err != nil {
		c.dropAck(ackID)
		c.tracker.Fail(msg.CorrelationID, err.Error())
		return msg, err
	}
	return msg, nil
}

// SetOnline announces the configured user as online or offline.
func (c *Client) SetOnline(ctx context.Context, online bool) error {
	if c.opts.UserID == "" {
		return nil
	}
	return c.write(ctx, protocol.NewUserStatus(c.opts.UserID, online))
}

// Close announces the user offline, sends a disconnect frame and stops Run.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	conn := c.conn
	cancelRun := c.cancelRun
	c.mu.Unlock()

	if cancelRun != nil {
		defer cancelRun()
	}
	if conn == nil {
		return nil
	}
	if err := c.SetOnline(ctx, false); err != nil {
		l := log.L()
		l.Debug().Err(err).Msg("failed to announce offline")
	}
	c.write(ctx, protocol.NewDisconnect(protocol.ReasonClientDisconnect))
	return conn.Close()
}

func (c *Client) write(ctx context.Context, frame interface{}) error {
	conn := c.current()
	if conn == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	sendCtx, cancel := context.WithTimeout(ctx, c.opts.SendTimeout)
	defer cancel()
	return conn.Send(sendCtx, data)
}

func (c *Client) registerAck(ackID string, f func(protocol.Ack)) {
	c.mu.Lock()
	c.acks[ackID] = f
	c.mu.Unlock()
}

func (c *Client) dropAck(ackID string) {
	c.mu.Lock()
	delete(c.acks, ackID)
	c.mu.Unlock()
}

func (c *Client) resolveAck(a protocol.Ack) {
	c.mu.Lock()
	f, ok := c.acks[a.AckID]
	delete(c.acks, a.AckID)
	c.mu.Unlock()

	if !ok {
		l := log.L()
		l.Debug().Str("ack_id", a.AckID).Msg("ack for unknown request")
		return
	}
	f(a)
}

func (c *Client) notice(msg string) {
	if c.handlers.OnNotice != nil {
		c.handlers.OnNotice(msg)
	}
}
