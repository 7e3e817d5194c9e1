package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/wes-io-chat/chat-history/internal/domain"
	"github.com/weiawesome/wes-io-chat/chat-history/internal/service"
	"github.com/weiawesome/wes-io-chat/pkg/log"
	"github.com/weiawesome/wes-io-chat/pkg/messagestore"
	"github.com/weiawesome/wes-io-chat/pkg/response"
)

// Checker reports whether a dependency is reachable.
type Checker func(ctx context.Context) error

type HTTPHandler struct {
	chatHistoryService service.ChatHistoryService
	store              messagestore.Store
	checks             map[string]Checker
}

func NewHTTPHandler(chatHistoryService service.ChatHistoryService, store messagestore.Store, checks map[string]Checker) *HTTPHandler {
	return &HTTPHandler{
		chatHistoryService: chatHistoryService,
		store:              store,
		checks:             checks,
	}
}

func (h *HTTPHandler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.POST("/messages", h.SendMessage)
		api.GET("/messages/:user1/:user2", h.GetMessages)
		api.GET("/messages/:user1/:user2/:id", h.GetMessage)
	}

	r.GET("/health", h.HealthCheck)
}

func (h *HTTPHandler) GetMessages(c *gin.Context) {
	user1 := c.Param("user1")
	user2 := c.Param("user2")

	result, err := h.chatHistoryService.GetChatHistory(c.Request.Context(), user1, user2)
	if err != nil {
		l := log.Ctx(c.Request.Context())
		l.Error().Err(err).Str(log.FieldUserID, user1).Str(log.FieldPeerID, user2).Msg("failed to get chat history")
		response.InternalError(c, "failed to get chat history")
		return
	}

	response.Success(c, result)
}

// GetMessage returns one message of the conversation between user1 and user2.
func (h *HTTPHandler) GetMessage(c *gin.Context) {
	user1 := c.Param("user1")
	user2 := c.Param("user2")

	rec, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, messagestore.ErrNotFound) {
		response.NotFound(c, "message not found")
		return
	}
	if err != nil {
		l := log.Ctx(c.Request.Context())
		l.Error().Err(err).Msg("failed to get message")
		response.InternalError(c, "failed to get message")
		return
	}

	inPair := (rec.From == user1 && rec.To == user2) || (rec.From == user2 && rec.To == user1)
	if !inPair {
		response.NotFound(c, "message not found")
		return
	}

	response.Success(c, domain.FromRecord(*rec))
}

func (h *HTTPHandler) SendMessage(c *gin.Context) {
	var req domain.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "from, to and message are required")
		return
	}

	msg, err := h.chatHistoryService.SendMessage(c.Request.Context(), req)
	if err != nil {
		l := log.Ctx(c.Request.Context())
		l.Error().Err(err).Str(log.FieldUserID, req.From).Msg("failed to send message")
		response.InternalError(c, "Failed to send message")
		return
	}

	response.Created(c, msg)
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HealthCheck always answers 200; failing dependencies turn the status to
// "degraded".
func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(h.checks))}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			resp.Status = "degraded"
			resp.Checks[name] = err.Error()
			continue
		}
		resp.Checks[name] = "ok"
	}

	c.JSON(http.StatusOK, resp)
}
