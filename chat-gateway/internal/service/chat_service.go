package service

import (
	"context"
	"errors"
	"time"

	"github.com/weiawesome/wes-io-chat/chat-gateway/internal/audit"
	"github.com/weiawesome/wes-io-chat/chat-gateway/internal/domain"
	"github.com/weiawesome/wes-io-chat/chat-gateway/internal/hub"
	"github.com/weiawesome/wes-io-chat/chat-gateway/internal/presence"
	"github.com/weiawesome/wes-io-chat/pkg/log"
	"github.com/weiawesome/wes-io-chat/pkg/messagestore"
	"github.com/weiawesome/wes-io-chat/pkg/pubsub"
)

// Gateway is the per-worker connection gateway.
type Gateway struct {
	hub       *hub.Hub
	directory presence.Directory
	store     messagestore.Store
	bus       Publisher
	workerID  string
	now       func() time.Time
	inflight  *inflight
}

func NewGateway(h *hub.Hub, dir presence.Directory, store messagestore.Store, bus Publisher, workerID string) *Gateway {
	g := &Gateway{
		hub:       h,
		directory: dir,
		store:     store,
		bus:       bus,
		workerID:  workerID,
		now:       func() time.Time { return time.Now().UTC() },
	}
	g.inflight = newInflight(g.now)
	h.OnEvict(func(c *hub.Client) {
		g.HandleDisconnect(context.Background(), c, domain.ReasonTransportClose)
	})
	return g
}

func (g *Gateway) WorkerID() string {
	return g.workerID
}

func sessionCtx(ctx context.Context, c *hub.Client) context.Context {
	return log.WithSession(ctx, c.ID)
}

// HandleConnect registers the session locally and records it in the
// directory. A directory failure leaves the session usable.
func (g *Gateway) HandleConnect(ctx context.Context, c *hub.Client) {
	ctx = sessionCtx(ctx, c)
	g.hub.Register(c)

	rec := presence.SessionRecord{
		Connected:   true,
		WorkerID:    g.workerID,
		ConnectedAt: c.Session.ConnectedAt,
	}
	if err := g.directory.SetSession(ctx, c.ID, rec); err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Msg("failed to record session in directory")
	}
	audit.LogWithDetail(ctx, audit.ActionConnect, "", c.Session.Transport, "session connected")
}

// Dispatch decodes one inbound frame and routes it. Malformed frames are
// answered with an error event and the session keeps serving.
func (g *Gateway) Dispatch(ctx context.Context, c *hub.Client, raw []byte) {
	ctx = sessionCtx(ctx, c)

	ev, err := domain.DecodeInbound(raw)
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("rejecting inbound frame")
		text := domain.ErrTextInvalidMessage
		if errors.Is(err, domain.ErrUnknownType) {
			text = domain.ErrTextUnknownType
		}
		c.SendMessage(domain.NewErrorMessage(text))
		return
	}

	switch e := ev.(type) {
	case domain.ChatMessageEvent:
		g.HandleChatMessage(ctx, c, e)
	case domain.UserOnlineEvent:
		g.HandleUserOnline(ctx, c, e)
	case domain.UserOfflineEvent:
		g.HandleUserOffline(ctx, c, e)
	case domain.PingEvent:
		g.HandlePing(ctx, c, e)
	case domain.DisconnectEvent:
		reason := e.Reason
		if reason == "" {
			reason = domain.ReasonClientDisconnect
		}
		g.HandleDisconnect(ctx, c, reason)
	}
}

// HandleChatMessage persists, acks and fans out one message. Missing fields
// are stored as empty strings.
func (g *Gateway) HandleChatMessage(ctx context.Context, c *hub.Client, e domain.ChatMessageEvent) {
	l := log.Ctx(ctx).With().
		Str(log.FieldUserID, e.From).
		Str(log.FieldPeerID, e.To).
		Str(log.FieldCorrelationID, e.CorrelationID).
		Logger()

	rec, err := g.store.Append(ctx, e.From, e.To, e.Message, e.CorrelationID)
	if err != nil {
		l.Error().Err(err).Msg("failed to store chat message")
		c.SendMessage(domain.NewErrorAck(e.AckID, domain.ErrTextSendFailed))
		return
	}

	c.SendMessage(domain.NewSuccessAck(e.AckID, rec.Timestamp))
	audit.LogWithTarget(ctx, audit.ActionSendMessage, e.From, e.To, "message sent")

	payload := pubsub.ChatMessagePayload{
		ID:            rec.ID,
		From:          rec.From,
		To:            rec.To,
		Message:       rec.Message,
		CorrelationID: rec.CorrelationID,
		Timestamp:     rec.Timestamp,
	}
	g.inflight.begin(rec.ID)
	if err := g.bus.PublishChatMessage(ctx, payload); err != nil {
		// A timed out publish may still reach the bus; inflight keeps local
		// sessions from seeing both copies.
		l.Error().Err(err).Str(log.FieldMessageID, rec.ID).Msg("bus publish failed, delivering to local sessions only")
		if g.inflight.claim(rec.ID) {
			g.deliverChatMessage(ctx, payload)
		}
		return
	}
	g.inflight.published(rec.ID)
}

func (g *Gateway) HandleUserOnline(ctx context.Context, c *hub.Client, e domain.UserOnlineEvent) {
	if !g.hub.BindUser(c, e.UserID) {
		return
	}

	if err := g.directory.SetUserSession(ctx, e.UserID, c.ID); err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldUserID, e.UserID).Msg("failed to update online status")
		c.SendMessage(domain.NewErrorMessage(domain.ErrTextOnlineFailed))
		return
	}
	// HandleDisconnect may have cleared the user before the write landed.
	if c.IsDisconnected() {
		if _, err := g.directory.DeleteUserSessionIf(ctx, e.UserID, c.ID); err != nil {
			l := log.Ctx(ctx)
			l.Error().Err(err).Str(log.FieldUserID, e.UserID).Msg("failed to clear user session")
		}
		return
	}
	audit.Log(ctx, audit.ActionUserOnline, e.UserID, "user online")
	g.publishPresence(ctx, c, e.UserID, true)
}

// HandleUserOffline removes the user mapping unconditionally.
func (g *Gateway) HandleUserOffline(ctx context.Context, c *hub.Client, e domain.UserOfflineEvent) {
	g.hub.UnbindUser(c, e.UserID)

	if err := g.directory.DeleteUserSession(ctx, e.UserID); err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldUserID, e.UserID).Msg("failed to update offline status")
		c.SendMessage(domain.NewErrorMessage(domain.ErrTextOfflineFailed))
		return
	}
	audit.Log(ctx, audit.ActionUserOffline, e.UserID, "user offline")
	g.publishPresence(ctx, c, e.UserID, false)
}

func (g *Gateway) HandlePing(ctx context.Context, c *hub.Client, e domain.PingEvent) {
	c.SendMessage(domain.NewSuccessAck(e.AckID, g.now()))
}

// HandleDisconnect tears a session down once. User mappings are removed only
// while they still point at this session, so a newer session on another
// worker keeps its entry.
func (g *Gateway) HandleDisconnect(ctx context.Context, c *hub.Client, reason string) {
	if !c.MarkDisconnected() {
		return
	}
	ctx = sessionCtx(ctx, c)
	l := log.Ctx(ctx).With().Str(log.FieldReason, reason).Logger()

	users := g.hub.BoundUsers(c)
	g.hub.Unregister(c)

	if err := g.directory.DeleteSession(ctx, c.ID); err != nil {
		l.Error().Err(err).Msg("failed to delete session from directory")
	}

	for _, userID := range users {
		deleted, err := g.directory.DeleteUserSessionIf(ctx, userID, c.ID)
		if err != nil {
			l.Error().Err(err).Str(log.FieldUserID, userID).Msg("failed to clear user session")
			continue
		}
		if deleted {
			g.publishPresence(ctx, c, userID, false)
		}
	}

	audit.LogWithDetail(ctx, audit.ActionDisconnect, "", reason, "session disconnected")
}

func (g *Gateway) publishPresence(ctx context.Context, c *hub.Client, userID string, online bool) {
	p := pubsub.PresencePayload{
		UserID:    userID,
		SessionID: c.ID,
		WorkerID:  g.workerID,
		Online:    online,
	}
	if err := g.bus.PublishPresence(ctx, p); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldUserID, userID).Msg("presence publish failed")
		g.deliverPresence(p)
	}
}

// OnChatMessageEvent pushes a bus chat message to local sessions of its recipient.
func (g *Gateway) OnChatMessageEvent(ctx context.Context, ev *pubsub.Event) {
	var p pubsub.ChatMessagePayload
	if err := ev.UnmarshalPayload(&p); err != nil {
		l := log.L()
		l.Warn().Err(err).Msg("invalid chat message event")
		return
	}
	if ev.Origin == g.workerID && !g.inflight.claim(p.ID) {
		return
	}
	g.deliverChatMessage(ctx, p)
}

// OnPresenceEvent relays a presence change to every local session.
func (g *Gateway) OnPresenceEvent(ctx context.Context, ev *pubsub.Event) {
	var p pubsub.PresencePayload
	if err := ev.UnmarshalPayload(&p); err != nil {
		l := log.L()
		l.Warn().Err(err).Msg("invalid presence event")
		return
	}
	g.deliverPresence(p)
}

func (g *Gateway) deliverChatMessage(ctx context.Context, p pubsub.ChatMessagePayload) {
	out := &domain.ChatMessageOut{
		Type:          domain.MsgTypeChatMessage,
		ID:            p.ID,
		From:          p.From,
		To:            p.To,
		Message:       p.Message,
		CorrelationID: p.CorrelationID,
		Timestamp:     p.Timestamp.UnixMilli(),
	}
	if err := g.hub.DeliverToUser(p.To, out); err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldMessageID, p.ID).Msg("failed to deliver chat message")
	}
}

func (g *Gateway) deliverPresence(p pubsub.PresencePayload) {
	out := &domain.PresenceMessage{
		Type:      domain.MsgTypePresence,
		UserID:    p.UserID,
		Online:    p.Online,
		SessionID: p.SessionID,
		WorkerID:  p.WorkerID,
	}
	if err := g.hub.BroadcastAll(out); err != nil {
		l := log.L()
		l.Error().Err(err).Msg("failed to broadcast presence")
	}
}

// Shutdown tells every local session the server is going away and runs the
// disconnect path for each of them.
func (g *Gateway) Shutdown(ctx context.Context) {
	for _, c := range g.hub.Clients() {
		c.SendMessage(domain.NewDisconnectMessage(domain.ReasonServerShutdown))
		g.HandleDisconnect(ctx, c, domain.ReasonServerShutdown)
	}
}
