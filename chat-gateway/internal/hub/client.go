package hub

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/weiawesome/wes-io-chat/chat-gateway/internal/config"
	"github.com/weiawesome/wes-io-chat/chat-gateway/internal/domain"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

// Client is a session's outbound queue plus, for websocket sessions, its
// connection. Polling sessions have a nil Conn and are drained by the poll
// handler.
type Client struct {
	ID      string
	Hub     *Hub
	Conn    *websocket.Conn
	Send    chan []byte
	Session *domain.Session
	config  config.WebSocketConfig

	sendMu       sync.RWMutex
	sendClosed   bool
	closeOnce    sync.Once
	closed       chan struct{}
	disconnected atomic.Bool
}

func NewClient(id string, hub *Hub, conn *websocket.Conn, workerID string, cfg config.WebSocketConfig) *Client {
	return newClient(id, hub, conn, domain.NewSession(id, workerID, domain.TransportWebSocket), cfg)
}

func NewPollClient(id string, hub *Hub, workerID string) *Client {
	return newClient(id, hub, nil, domain.NewSession(id, workerID, domain.TransportPolling), hub.config)
}

func newClient(id string, hub *Hub, conn *websocket.Conn, session *domain.Session, cfg config.WebSocketConfig) *Client {
	return &Client{
		ID:      id,
		Hub:     hub,
		Conn:    conn,
		Send:    make(chan []byte, 256),
		Session: session,
		config:  cfg,
		closed:  make(chan struct{}),
	}
}

// ReadPump decodes frames sequentially and hands them to handler. onClose
// runs once the connection ends for any reason.
func (c *Client) ReadPump(handler func(*Client, []byte), onClose func(*Client, string)) {
	reason := domain.ReasonTransportClose
	defer func() {
		onClose(c, reason)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				l := log.L()
				l.Warn().Err(err).Str(log.FieldSessionID, c.ID).Msg("websocket read error")
			}
			if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
				reason = domain.ReasonPingTimeout
			}
			return
		}

		c.Session.UpdateActivity()
		handler(c, message)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendMessage queues a frame without blocking. A full queue drops the frame.
func (c *Client) SendMessage(message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	if !c.enqueue(data) {
		l := log.L()
		l.Warn().Str(log.FieldSessionID, c.ID).Msg("outbound queue full, frame dropped")
	}
	return nil
}

func (c *Client) enqueue(data []byte) bool {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()
	if c.sendClosed {
		return true
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.sendClosed {
		c.sendClosed = true
		close(c.Send)
	}
}

// Close tears down the transport. For websocket sessions this unblocks
// ReadPump, which then runs the disconnect path.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.Conn != nil {
			c.Conn.Close()
		}
	})
}

// Closed is closed once Close has been called.
func (c *Client) Closed() <-chan struct{} {
	return c.closed
}

// MarkDisconnected reports whether this call is the first to disconnect the
// client.
func (c *Client) MarkDisconnected() bool {
	return c.disconnected.CompareAndSwap(false, true)
}

func (c *Client) IsDisconnected() bool {
	return c.disconnected.Load()
}

func (c *Client) IsPolling() bool {
	return c.Conn == nil
}
