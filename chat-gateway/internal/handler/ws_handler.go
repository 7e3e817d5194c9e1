package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/weiawesome/wes-io-chat/chat-gateway/internal/config"
	"github.com/weiawesome/wes-io-chat/chat-gateway/internal/hub"
	"github.com/weiawesome/wes-io-chat/chat-gateway/internal/service"
	"github.com/weiawesome/wes-io-chat/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WSHandler struct {
	hub      *hub.Hub
	service  service.ChatService
	wsCfg    config.WebSocketConfig
	workerID string
}

func NewWSHandler(h *hub.Hub, svc service.ChatService, wsCfg config.WebSocketConfig, workerID string) *WSHandler {
	return &WSHandler{
		hub:      h,
		service:  svc,
		wsCfg:    wsCfg,
		workerID: workerID,
	}
}

func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l := log.Ctx(r.Context())
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	// The request context ends when this handler returns; sessions outlive it.
	ctx := log.WithLogger(context.Background(), log.Ctx(r.Context()))

	client := hub.NewClient(uuid.NewString(), h.hub, conn, h.workerID, h.wsCfg)
	h.service.HandleConnect(ctx, client)

	go client.WritePump()
	go client.ReadPump(
		func(c *hub.Client, message []byte) { h.service.Dispatch(ctx, c, message) },
		func(c *hub.Client, reason string) { h.service.HandleDisconnect(ctx, c, reason) },
	)
}

func (h *WSHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/chat/ws", h.HandleWebSocket).Methods(http.MethodGet)
}
