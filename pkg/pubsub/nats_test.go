package pubsub

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNATS(t *testing.T) (*NATSPubSub, string) {
	t.Helper()
	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	srv := natsserver.RunServer(&opts)
	t.Cleanup(srv.Shutdown)

	ps, err := NewNATSPubSub(NATSConfig{URL: srv.ClientURL(), Name: "pubsub-test"})
	require.NoError(t, err)
	t.Cleanup(func() { ps.Close() })
	return ps, srv.ClientURL()
}

func TestNATSPubSub_PublishSubscribe(t *testing.T) {
	ps, _ := newTestNATS(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := ps.Subscribe(ctx, ChannelChatMessages)
	require.NoError(t, err)

	payload := ChatMessagePayload{ID: "m1", From: "alice", To: "bob", Message: "hi"}
	ev, err := NewEvent(EventChatMessage, "bob", payload)
	require.NoError(t, err)
	require.NoError(t, ps.Publish(ctx, ChannelChatMessages, ev))

	select {
	case got := <-events:
		require.NotNil(t, got)
		assert.Equal(t, EventChatMessage, got.Type)
		assert.Equal(t, "bob", got.Key)
		var decoded ChatMessagePayload
		require.NoError(t, got.UnmarshalPayload(&decoded))
		assert.Equal(t, payload, decoded)
	case <-time.After(2 * time.Second):
		t.Fatal("event not received")
	}
}

func TestNATSPubSub_PublishesOnMappedSubject(t *testing.T) {
	ps, url := newTestNATS(t)
	ctx := context.Background()

	raw, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(raw.Close)
	sub, err := raw.SubscribeSync("chat.presence")
	require.NoError(t, err)
	require.NoError(t, raw.Flush())

	ev, err := NewEvent(EventPresenceChanged, "alice", PresencePayload{UserID: "alice", Online: true})
	require.NoError(t, err)
	require.NoError(t, ps.Publish(ctx, ChannelPresence, ev))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Contains(t, string(msg.Data), `"user_id":"alice"`)
}

func TestNATSPubSub_RejectsWildcardChannel(t *testing.T) {
	ps, _ := newTestNATS(t)
	ctx := context.Background()

	_, err := ps.Subscribe(ctx, "chat.>")
	assert.ErrorIs(t, err, ErrInvalidChannel)

	err = ps.Publish(ctx, "chat:*", &Event{Type: EventChatMessage})
	assert.ErrorIs(t, err, ErrInvalidChannel)
}

func TestNATSPubSub_UnsubscribeClosesChannel(t *testing.T) {
	ps, _ := newTestNATS(t)
	ctx := context.Background()

	events, err := ps.Subscribe(ctx, ChannelPresence)
	require.NoError(t, err)
	require.NoError(t, ps.Unsubscribe(ctx, ChannelPresence))

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed")
	}
}

func TestNATSPubSub_Ping(t *testing.T) {
	ps, _ := newTestNATS(t)
	require.NoError(t, ps.Ping(context.Background()))

	ps.Close()
	assert.Error(t, ps.Ping(context.Background()))
}
