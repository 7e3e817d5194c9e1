package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/weiawesome/wes-io-chat/chat-gateway/internal/config"
	"github.com/weiawesome/wes-io-chat/chat-gateway/internal/domain"
	"github.com/weiawesome/wes-io-chat/chat-gateway/internal/hub"
	"github.com/weiawesome/wes-io-chat/chat-gateway/internal/service"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

// PollHandler serves the long-polling fallback transport.
type PollHandler struct {
	hub            *hub.Hub
	service        service.ChatService
	workerID       string
	wait           time.Duration
	idleTimeout    time.Duration
	maxMessageSize int64

	mu       sync.Mutex
	sessions map[string]*hub.Client
}

type pollOpenResponse struct {
	SessionID string `json:"session_id"`
}

func NewPollHandler(h *hub.Hub, svc service.ChatService, pollCfg config.PollConfig, wsCfg config.WebSocketConfig, workerID string) *PollHandler {
	maxSize := wsCfg.MaxMessageSize
	if maxSize <= 0 {
		maxSize = 65536
	}
	return &PollHandler{
		hub:            h,
		service:        svc,
		workerID:       workerID,
		wait:           pollCfg.Wait,
		idleTimeout:    pollCfg.IdleTimeout,
		maxMessageSize: maxSize,
		sessions:       make(map[string]*hub.Client),
	}
}

func (h *PollHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/chat/poll", h.Open).Methods(http.MethodPost)
	r.HandleFunc("/chat/poll/{sid}", h.Push).Methods(http.MethodPost)
	r.HandleFunc("/chat/poll/{sid}", h.Pull).Methods(http.MethodGet)
	r.HandleFunc("/chat/poll/{sid}", h.Close).Methods(http.MethodDelete)
}

func sessionContext(r *http.Request) context.Context {
	return log.WithLogger(context.Background(), log.Ctx(r.Context()))
}

// Open handles POST /chat/poll
func (h *PollHandler) Open(w http.ResponseWriter, r *http.Request) {
	client := hub.NewPollClient(uuid.NewString(), h.hub, h.workerID)

	h.mu.Lock()
	h.sessions[client.ID] = client
	h.mu.Unlock()

	h.service.HandleConnect(sessionContext(r), client)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(pollOpenResponse{SessionID: client.ID})
}

func (h *PollHandler) lookup(w http.ResponseWriter, r *http.Request) (*hub.Client, bool) {
	sid := mux.Vars(r)["sid"]

	h.mu.Lock()
	client, ok := h.sessions[sid]
	h.mu.Unlock()

	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return nil, false
	}
	return client, true
}

// Push handles POST /chat/poll/{sid}: one inbound frame per request.
func (h *PollHandler) Push(w http.ResponseWriter, r *http.Request) {
	client, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if client.IsDisconnected() {
		http.Error(w, "session closed", http.StatusGone)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxMessageSize+1))
	if err != nil {
		http.Error(w, "failed to read frame", http.StatusBadRequest)
		return
	}
	if int64(len(body)) > h.maxMessageSize {
		http.Error(w, "frame too large", http.StatusRequestEntityTooLarge)
		return
	}

	client.Session.UpdateActivity()
	h.service.Dispatch(sessionContext(r), client, body)
	w.WriteHeader(http.StatusNoContent)
}

// Pull handles GET /chat/poll/{sid}: waits for outbound frames and returns
// them as a JSON array.
func (h *PollHandler) Pull(w http.ResponseWriter, r *http.Request) {
	client, ok := h.lookup(w, r)
	if !ok {
		return
	}
	client.Session.UpdateActivity()
	defer client.Session.UpdateActivity()

	frames := make([]json.RawMessage, 0, 8)
	closed := false

	timer := time.NewTimer(h.wait)
	defer timer.Stop()

	select {
	case data, ok := <-client.Send:
		if ok {
			frames = append(frames, data)
		} else {
			closed = true
		}
	case <-timer.C:
	case <-r.Context().Done():
		return
	}

drain:
	for !closed {
		select {
		case data, ok := <-client.Send:
			if !ok {
				closed = true
				break drain
			}
			frames = append(frames, data)
		default:
			break drain
		}
	}

	if closed && len(frames) == 0 {
		h.forget(client.ID)
		http.Error(w, "session closed", http.StatusGone)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(frames)
}

// Close handles DELETE /chat/poll/{sid}
func (h *PollHandler) Close(w http.ResponseWriter, r *http.Request) {
	client, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.service.HandleDisconnect(sessionContext(r), client, domain.ReasonClientDisconnect)
	h.forget(client.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *PollHandler) forget(sid string) {
	h.mu.Lock()
	delete(h.sessions, sid)
	h.mu.Unlock()
}

// RunReaper disconnects polling sessions idle longer than the idle timeout
// and drops sessions already disconnected through another path.
func (h *PollHandler) RunReaper(ctx context.Context) {
	interval := h.idleTimeout / 2
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			h.reap(ctx, now)
		}
	}
}

func (h *PollHandler) reap(ctx context.Context, now time.Time) {
	h.mu.Lock()
	var idle, gone []*hub.Client
	for _, c := range h.sessions {
		switch {
		case c.IsDisconnected():
			gone = append(gone, c)
		case now.Sub(c.Session.IdleSince()) > h.idleTimeout:
			idle = append(idle, c)
		}
	}
	for _, c := range gone {
		delete(h.sessions, c.ID)
	}
	h.mu.Unlock()

	for _, c := range idle {
		l := log.L()
		l.Info().Str(log.FieldSessionID, c.ID).Msg("polling session idle, disconnecting")
		h.service.HandleDisconnect(ctx, c, domain.ReasonPingTimeout)
	}
}

func (h *PollHandler) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}
