package hub

import (
	"encoding/json"
	"sync"

	"github.com/weiawesome/wes-io-chat/chat-gateway/internal/config"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

// Hub owns the sessions connected to this worker and indexes them by the
// users bound to each.
type Hub struct {
	clients    map[string]*Client            // clientID -> client
	users      map[string]map[string]*Client // userID -> clientID -> client
	register   chan *Client
	unregister chan *Client
	broadcast  chan *outbound
	quit       chan struct{}
	stopped    chan struct{}
	stopOnce   sync.Once
	onEvict    func(*Client)
	mu         sync.RWMutex
	config     config.WebSocketConfig
}

type outbound struct {
	UserID  string // empty means every client
	Message []byte
}

func NewHub(cfg config.WebSocketConfig) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		users:      make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *outbound, 256),
		quit:       make(chan struct{}),
		stopped:    make(chan struct{}),
		onEvict:    func(c *Client) { c.Close() },
		config:     cfg,
	}
}

// OnEvict sets the callback run when a client cannot keep up with its
// outbound queue.
func (h *Hub) OnEvict(fn func(*Client)) {
	h.onEvict = fn
}

func (h *Hub) Run() {
	defer close(h.stopped)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			l := log.L()
			l.Debug().Str(log.FieldSessionID, client.ID).Msg("client registered")

		case client := <-h.unregister:
			h.remove(client)
			l := log.L()
			l.Debug().Str(log.FieldSessionID, client.ID).Msg("client unregistered")

		case msg := <-h.broadcast:
			h.deliver(msg)

		case <-h.quit:
			h.drain()
			h.mu.Lock()
			for id, client := range h.clients {
				client.closeSend()
				delete(h.clients, id)
			}
			h.users = make(map[string]map[string]*Client)
			h.mu.Unlock()
			return
		}
	}
}

// Stop flushes queued deliveries, closes every client's outbound queue and
// ends Run.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
	<-h.stopped
}

func (h *Hub) drain() {
	for {
		select {
		case msg := <-h.broadcast:
			h.deliver(msg)
		default:
			return
		}
	}
}

func (h *Hub) deliver(msg *outbound) {
	h.mu.RLock()
	var targets []*Client
	if msg.UserID == "" {
		targets = make([]*Client, 0, len(h.clients))
		for _, c := range h.clients {
			targets = append(targets, c)
		}
	} else {
		for _, c := range h.users[msg.UserID] {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, client := range targets {
		if !client.enqueue(msg.Message) {
			l := log.L()
			l.Warn().Str(log.FieldSessionID, client.ID).Msg("outbound queue full, evicting client")
			go h.onEvict(client)
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	for userID, cs := range h.users {
		delete(cs, client.ID)
		if len(cs) == 0 {
			delete(h.users, userID)
		}
	}
	delete(h.clients, client.ID)
	client.closeSend()
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.quit:
		client.closeSend()
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

// BindUser indexes client under userID. It reports false once the client
// has been marked disconnected.
func (h *Hub) BindUser(client *Client, userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client.IsDisconnected() {
		return false
	}
	if _, ok := h.users[userID]; !ok {
		h.users[userID] = make(map[string]*Client)
	}
	h.users[userID][client.ID] = client
	client.Session.BindUser(userID)
	return true
}

// BoundUsers snapshots the users bound to client. Taken after
// MarkDisconnected, no later BindUser can add to it.
func (h *Hub) BoundUsers(client *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return client.Session.Users()
}

func (h *Hub) UnbindUser(client *Client, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cs, ok := h.users[userID]; ok {
		delete(cs, client.ID)
		if len(cs) == 0 {
			delete(h.users, userID)
		}
	}
	client.Session.UnbindUser(userID)
}

// DeliverToUser queues message for every local session bound to userID.
func (h *Hub) DeliverToUser(userID string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	h.enqueue(&outbound{UserID: userID, Message: data})
	return nil
}

// BroadcastAll queues message for every local session.
func (h *Hub) BroadcastAll(message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	h.enqueue(&outbound{Message: data})
	return nil
}

func (h *Hub) enqueue(msg *outbound) {
	select {
	case h.broadcast <- msg:
	case <-h.quit:
	}
}

func (h *Hub) Get(clientID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[clientID]
	return c, ok
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// UserClientCount returns how many local sessions are bound to userID.
func (h *Hub) UserClientCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// Clients returns a snapshot of every local client.
func (h *Hub) Clients() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}
