package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-chat/chat-gateway/internal/config"
	"github.com/weiawesome/wes-io-chat/chat-gateway/internal/domain"
	"github.com/weiawesome/wes-io-chat/chat-gateway/internal/hub"
	"github.com/weiawesome/wes-io-chat/chat-gateway/internal/presence"
	"github.com/weiawesome/wes-io-chat/pkg/messagestore"
	"github.com/weiawesome/wes-io-chat/pkg/pubsub"
)

type fakeStore struct {
	mu      sync.Mutex
	err     error
	records []messagestore.Record
}

func (s *fakeStore) Append(_ context.Context, from, to, message, correlationID string) (*messagestore.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	rec := messagestore.Record{
		ID:            "m" + string(rune('0'+len(s.records))),
		From:          from,
		To:            to,
		Message:       message,
		CorrelationID: correlationID,
		Timestamp:     time.Date(2024, 5, 1, 12, 0, len(s.records), 0, time.UTC),
	}
	s.records = append(s.records, rec)
	return &rec, nil
}

func (s *fakeStore) Query(context.Context, string, string) ([]messagestore.Record, error) {
	return nil, nil
}

func (s *fakeStore) Get(context.Context, string) (*messagestore.Record, error) {
	return nil, messagestore.ErrNotFound
}

// fakeBus delivers every publish synchronously to every attached worker.
type fakeBus struct {
	mu        sync.Mutex
	err       error
	workers   []*Gateway
	chats     []pubsub.ChatMessagePayload
	presences []pubsub.PresencePayload
}

func (b *fakeBus) attach(g *Gateway) {
	b.workers = append(b.workers, g)
}

func (b *fakeBus) PublishChatMessage(ctx context.Context, msg pubsub.ChatMessagePayload) error {
	b.mu.Lock()
	if b.err != nil {
		b.mu.Unlock()
		return b.err
	}
	b.chats = append(b.chats, msg)
	workers := append([]*Gateway(nil), b.workers...)
	b.mu.Unlock()

	ev, err := pubsub.NewEvent(pubsub.EventChatMessage, msg.To, msg)
	if err != nil {
		return err
	}
	for _, w := range workers {
		w.OnChatMessageEvent(ctx, ev)
	}
	return nil
}

func (b *fakeBus) PublishPresence(ctx context.Context, p pubsub.PresencePayload) error {
	b.mu.Lock()
	if b.err != nil {
		b.mu.Unlock()
		return b.err
	}
	b.presences = append(b.presences, p)
	b.mu.Unlock()
	return nil
}

func (b *fakeBus) published() ([]pubsub.ChatMessagePayload, []pubsub.PresencePayload) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]pubsub.ChatMessagePayload(nil), b.chats...), append([]pubsub.PresencePayload(nil), b.presences...)
}

type worker struct {
	gw  *Gateway
	hub *hub.Hub
}

func newWorker(t *testing.T, id string, dir presence.Directory, store messagestore.Store, bus *fakeBus) *worker {
	t.Helper()
	h := hub.NewHub(config.WebSocketConfig{})
	go h.Run()
	t.Cleanup(h.Stop)

	gw := NewGateway(h, dir, store, bus, id)
	bus.attach(gw)
	return &worker{gw: gw, hub: h}
}

func (w *worker) connect(t *testing.T, sessionID string) *hub.Client {
	t.Helper()
	c := hub.NewPollClient(sessionID, w.hub, w.gw.WorkerID())
	w.gw.HandleConnect(context.Background(), c)
	return c
}

func (w *worker) send(c *hub.Client, frame string) {
	w.gw.Dispatch(context.Background(), c, []byte(frame))
}

func nextFrame(t *testing.T, c *hub.Client) map[string]interface{} {
	t.Helper()
	select {
	case data, ok := <-c.Send:
		require.True(t, ok, "session closed")
		var out map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &out))
		return out
	case <-time.After(time.Second):
		t.Fatal("no frame")
		return nil
	}
}

// nextOfType skips frames of other types, such as locally relayed presence.
func nextOfType(t *testing.T, c *hub.Client, typ string) map[string]interface{} {
	t.Helper()
	for {
		f := nextFrame(t, c)
		if f["type"] == typ {
			return f
		}
	}
}

func noFrame(t *testing.T, c *hub.Client) {
	t.Helper()
	select {
	case data, ok := <-c.Send:
		if ok {
			t.Fatalf("unexpected frame %s", data)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGateway_SendSuccessAcksAndPushes(t *testing.T) {
	dir := presence.NewMemoryDirectory()
	store := &fakeStore{}
	bus := &fakeBus{}
	w := newWorker(t, "w1", dir, store, bus)

	alice := w.connect(t, "s-alice")
	bob := w.connect(t, "s-bob")
	w.send(bob, `{"type":"user_online","user_id":"bob"}`)

	w.send(alice, `{"type":"chat_message","ack_id":"1","from":"alice","to":"bob","message":"hi","correlation_id":"c-1"}`)

	ack := nextFrame(t, alice)
	assert.Equal(t, "ack", ack["type"])
	assert.Equal(t, "1", ack["ack_id"])
	assert.Equal(t, "success", ack["status"])
	assert.NotZero(t, ack["timestamp"])

	pushed := nextOfType(t, bob, "chat_message")
	assert.Equal(t, "alice", pushed["from"])
	assert.Equal(t, "hi", pushed["message"])
	assert.Equal(t, "c-1", pushed["correlation_id"])

	require.Len(t, store.records, 1)
	chats, _ := bus.published()
	require.Len(t, chats, 1)
	assert.Equal(t, store.records[0].ID, chats[0].ID)
}

func TestGateway_StoreFailureAcksErrorAndPublishesNothing(t *testing.T) {
	dir := presence.NewMemoryDirectory()
	store := &fakeStore{err: errors.New("disk full")}
	bus := &fakeBus{}
	w := newWorker(t, "w1", dir, store, bus)

	alice := w.connect(t, "s-alice")
	w.send(alice, `{"type":"chat_message","ack_id":"7","from":"alice","to":"bob","message":"hi"}`)

	ack := nextFrame(t, alice)
	assert.Equal(t, "error", ack["status"])
	assert.Equal(t, "Failed to send message", ack["message"])
	assert.NotContains(t, ack, "timestamp")

	chats, _ := bus.published()
	assert.Empty(t, chats)
}

func TestGateway_MissingFieldsPassThrough(t *testing.T) {
	store := &fakeStore{}
	w := newWorker(t, "w1", presence.NewMemoryDirectory(), store, &fakeBus{})

	c := w.connect(t, "s1")
	w.send(c, `{"type":"chat_message","ack_id":"1"}`)

	assert.Equal(t, "success", nextFrame(t, c)["status"])
	require.Len(t, store.records, 1)
	assert.Empty(t, store.records[0].From)
	assert.Empty(t, store.records[0].Message)
}

func TestGateway_OnlineThenLookup(t *testing.T) {
	dir := presence.NewMemoryDirectory()
	bus := &fakeBus{}
	w := newWorker(t, "w1", dir, &fakeStore{}, bus)

	c := w.connect(t, "s1")
	w.send(c, `{"type":"user_online","user_id":"alice"}`)

	p, err := presence.Lookup(context.Background(), dir, "alice")
	require.NoError(t, err)
	assert.Equal(t, "s1", p.SessionID)
	assert.Equal(t, "w1", p.WorkerID)

	_, presences := bus.published()
	require.Len(t, presences, 1)
	assert.True(t, presences[0].Online)
}

func TestGateway_CrossWorkerDeliveredExactlyOnce(t *testing.T) {
	dir := presence.NewMemoryDirectory()
	store := &fakeStore{}
	bus := &fakeBus{}
	w1 := newWorker(t, "w1", dir, store, bus)
	w2 := newWorker(t, "w2", dir, store, bus)

	alice := w1.connect(t, "s-alice")
	bob := w2.connect(t, "s-bob")
	w2.send(bob, `{"type":"user_online","user_id":"bob"}`)

	w1.send(alice, `{"type":"chat_message","ack_id":"1","from":"alice","to":"bob","message":"over there"}`)
	assert.Equal(t, "success", nextFrame(t, alice)["status"])

	got := 0
	deadline := time.After(200 * time.Millisecond)
loop:
	for {
		select {
		case data := <-bob.Send:
			var f map[string]interface{}
			require.NoError(t, json.Unmarshal(data, &f))
			if f["type"] == "chat_message" {
				got++
			}
		case <-deadline:
			break loop
		}
	}
	assert.Equal(t, 1, got)
	noFrame(t, alice)
}

func TestGateway_BusFailureDeliversLocally(t *testing.T) {
	bus := &fakeBus{err: errors.New("broker down")}
	store := &fakeStore{}
	w := newWorker(t, "w1", presence.NewMemoryDirectory(), store, bus)

	alice := w.connect(t, "s-alice")
	bob := w.connect(t, "s-bob")
	w.send(bob, `{"type":"user_online","user_id":"bob"}`)

	w.send(alice, `{"type":"chat_message","ack_id":"1","from":"alice","to":"bob","message":"still here"}`)
	assert.Equal(t, "success", nextOfType(t, alice, "ack")["status"])
	assert.Equal(t, "still here", nextOfType(t, bob, "chat_message")["message"])
	assert.Len(t, store.records, 1)
}

// timeoutBus reports a publish timeout although the broker took the message.
// With echoFirst the bus copy arrives before Publish returns, otherwise it is
// held until redeliver is called.
type timeoutBus struct {
	*fakeBus
	origin    string
	echoFirst bool
	held      *pubsub.Event
}

func (b *timeoutBus) PublishChatMessage(ctx context.Context, msg pubsub.ChatMessagePayload) error {
	ev, err := pubsub.NewEvent(pubsub.EventChatMessage, msg.To, msg)
	if err != nil {
		return err
	}
	ev.Origin = b.origin
	if b.echoFirst {
		b.redeliver(ctx, ev)
	} else {
		b.held = ev
	}
	return context.DeadlineExceeded
}

func (b *timeoutBus) redeliver(ctx context.Context, ev *pubsub.Event) {
	for _, w := range b.workers {
		w.OnChatMessageEvent(ctx, ev)
	}
}

func TestGateway_TimedOutPublishDeliversOnce(t *testing.T) {
	for _, echoFirst := range []bool{true, false} {
		name := "late echo"
		if echoFirst {
			name = "echo first"
		}
		t.Run(name, func(t *testing.T) {
			bus := &timeoutBus{fakeBus: &fakeBus{}, origin: "w1", echoFirst: echoFirst}
			w := newWorker(t, "w1", presence.NewMemoryDirectory(), &fakeStore{}, bus.fakeBus)
			w.gw.bus = bus

			alice := w.connect(t, "s-alice")
			bob := w.connect(t, "s-bob")
			w.send(bob, `{"type":"user_online","user_id":"bob"}`)

			w.send(alice, `{"type":"chat_message","ack_id":"1","from":"alice","to":"bob","message":"once"}`)
			assert.Equal(t, "success", nextOfType(t, alice, "ack")["status"])
			if bus.held != nil {
				bus.redeliver(context.Background(), bus.held)
			}

			assert.Equal(t, "once", nextOfType(t, bob, "chat_message")["message"])
			noFrame(t, bob)
		})
	}
}

func TestGateway_DisconnectKeepsNewerSession(t *testing.T) {
	dir := presence.NewMemoryDirectory()
	bus := &fakeBus{}
	w1 := newWorker(t, "w1", dir, &fakeStore{}, bus)
	w2 := newWorker(t, "w2", dir, &fakeStore{}, bus)

	old := w1.connect(t, "s1")
	w1.send(old, `{"type":"user_online","user_id":"bob"}`)
	fresh := w2.connect(t, "s2")
	w2.send(fresh, `{"type":"user_online","user_id":"bob"}`)

	w1.gw.HandleDisconnect(context.Background(), old, domain.ReasonTransportClose)

	sid, err := dir.GetUserSession(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "s2", sid)

	_, err = dir.GetSession(context.Background(), "s1")
	assert.ErrorIs(t, err, presence.ErrNotFound)

	_, presences := bus.published()
	for _, p := range presences {
		assert.True(t, p.Online, "no offline event while a newer session owns the user")
	}
}

func TestGateway_DisconnectClearsOwnMapping(t *testing.T) {
	dir := presence.NewMemoryDirectory()
	bus := &fakeBus{}
	w := newWorker(t, "w1", dir, &fakeStore{}, bus)

	c := w.connect(t, "s1")
	w.send(c, `{"type":"user_online","user_id":"bob"}`)
	w.send(c, `{"type":"disconnect","reason":"bye"}`)
	w.gw.HandleDisconnect(context.Background(), c, domain.ReasonTransportClose)

	_, err := dir.GetUserSession(context.Background(), "bob")
	assert.ErrorIs(t, err, presence.ErrNotFound)

	_, presences := bus.published()
	require.Len(t, presences, 2)
	assert.False(t, presences[1].Online)

	assert.Eventually(t, func() bool { return w.hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestGateway_OnlineAfterDisconnectIsIgnored(t *testing.T) {
	dir := presence.NewMemoryDirectory()
	bus := &fakeBus{}
	w := newWorker(t, "w1", dir, &fakeStore{}, bus)

	c := w.connect(t, "s1")
	w.gw.HandleDisconnect(context.Background(), c, domain.ReasonPingTimeout)
	w.send(c, `{"type":"user_online","user_id":"bob"}`)

	_, err := dir.GetUserSession(context.Background(), "bob")
	assert.ErrorIs(t, err, presence.ErrNotFound)
	assert.Equal(t, 0, w.hub.UserClientCount("bob"))
	_, presences := bus.published()
	assert.Empty(t, presences)
}

// disconnectingDirectory runs a disconnect between binding a user and
// writing its mapping.
type disconnectingDirectory struct {
	*presence.MemoryDirectory
	beforeSet func()
}

func (d *disconnectingDirectory) SetUserSession(ctx context.Context, userID, sessionID string) error {
	if d.beforeSet != nil {
		d.beforeSet()
	}
	return d.MemoryDirectory.SetUserSession(ctx, userID, sessionID)
}

func TestGateway_DisconnectDuringOnlineLeavesNoMapping(t *testing.T) {
	dir := &disconnectingDirectory{MemoryDirectory: presence.NewMemoryDirectory()}
	bus := &fakeBus{}
	w := newWorker(t, "w1", dir, &fakeStore{}, bus)

	c := w.connect(t, "s1")
	dir.beforeSet = func() {
		w.gw.HandleDisconnect(context.Background(), c, domain.ReasonTransportClose)
	}
	w.send(c, `{"type":"user_online","user_id":"bob"}`)

	_, err := dir.GetUserSession(context.Background(), "bob")
	assert.ErrorIs(t, err, presence.ErrNotFound)
	_, presences := bus.published()
	for _, p := range presences {
		assert.False(t, p.Online)
	}
	assert.Eventually(t, func() bool { return w.hub.UserClientCount("bob") == 0 }, time.Second, 10*time.Millisecond)
}

func TestGateway_ExplicitOfflineDeletesUnconditionally(t *testing.T) {
	dir := presence.NewMemoryDirectory()
	w := newWorker(t, "w1", dir, &fakeStore{}, &fakeBus{})

	c := w.connect(t, "s1")
	require.NoError(t, dir.SetUserSession(context.Background(), "bob", "s-elsewhere"))
	w.send(c, `{"type":"user_offline","user_id":"bob"}`)

	_, err := dir.GetUserSession(context.Background(), "bob")
	assert.ErrorIs(t, err, presence.ErrNotFound)
}

func TestGateway_DirectoryFailureReportsErrorAndKeepsSession(t *testing.T) {
	dir := presence.NewMemoryDirectory()
	w := newWorker(t, "w1", dir, &fakeStore{}, &fakeBus{})

	c := w.connect(t, "s1")
	dir.SetErr(errors.New("redis down"))

	w.send(c, `{"type":"user_online","user_id":"bob"}`)
	f := nextFrame(t, c)
	assert.Equal(t, "error", f["type"])
	assert.Equal(t, "Failed to update online status", f["message"])

	w.send(c, `{"type":"user_offline","user_id":"bob"}`)
	assert.Equal(t, "Failed to update offline status", nextFrame(t, c)["message"])

	w.send(c, `{"type":"ping","ack_id":"p1"}`)
	assert.Equal(t, "success", nextFrame(t, c)["status"])
}

func TestGateway_MalformedFrames(t *testing.T) {
	w := newWorker(t, "w1", presence.NewMemoryDirectory(), &fakeStore{}, &fakeBus{})
	c := w.connect(t, "s1")

	w.send(c, `{{{`)
	assert.Equal(t, "Invalid message format", nextFrame(t, c)["message"])

	w.send(c, `{"type":"join_room"}`)
	assert.Equal(t, "Unknown message type", nextFrame(t, c)["message"])

	w.send(c, `{"type":"ping","ack_id":"p"}`)
	ack := nextFrame(t, c)
	assert.Equal(t, "ack", ack["type"])
	assert.Equal(t, "p", ack["ack_id"])
}

func TestGateway_ShutdownSendsDisconnect(t *testing.T) {
	dir := presence.NewMemoryDirectory()
	w := newWorker(t, "w1", dir, &fakeStore{}, &fakeBus{})
	c := w.connect(t, "s1")
	assert.Eventually(t, func() bool { return w.hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	w.gw.Shutdown(context.Background())

	f := nextFrame(t, c)
	assert.Equal(t, "disconnect", f["type"])
	assert.Equal(t, domain.ReasonServerShutdown, f["reason"])
	_, err := dir.GetSession(context.Background(), "s1")
	assert.ErrorIs(t, err, presence.ErrNotFound)
}
