package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestURLs(t *testing.T) {
	u, err := websocketURL("http://localhost:8088")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8088/chat/ws", u)

	u, err = websocketURL("https://chat.example/base/")
	require.NoError(t, err)
	assert.Equal(t, "wss://chat.example/base/chat/ws", u)

	u, err = pollURL("ws://localhost:8088")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8088/chat/poll", u)

	_, err = pollURL("ftp://x")
	assert.Error(t, err)
}

func TestDial_UnknownTransport(t *testing.T) {
	_, err := Dial(context.Background(), "carrier-pigeon", "http://localhost")
	assert.Error(t, err)
}

func TestWebSocket_RoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/ws" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			conn.WriteMessage(mt, data)
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, WebSocket, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, WebSocket, conn.Transport())

	require.NoError(t, conn.Send(ctx, []byte(`{"type":"ping","ack_id":"1"}`)))
	got, err := conn.Recv(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ping","ack_id":"1"}`, string(got))

	require.NoError(t, conn.Close())
	_, err = conn.Recv(ctx)
	assert.Error(t, err)
}

func TestWebSocket_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := Dial(context.Background(), WebSocket, srv.URL)
	assert.Error(t, err)
}

// fakePollServer mimics the gateway's polling endpoints with one session.
type fakePollServer struct {
	mu       sync.Mutex
	pushed   []string
	outbound chan string
	closed   bool
	deleted  bool
}

func (f *fakePollServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/chat/poll":
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"session_id": "s1"})
	case r.URL.Path != "/chat/poll/s1":
		http.NotFound(w, r)
	case r.Method == http.MethodPost:
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.pushed = append(f.pushed, string(body))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodGet:
		select {
		case frame, ok := <-f.outbound:
			if !ok {
				http.Error(w, "session closed", http.StatusGone)
				return
			}
			frames := []json.RawMessage{json.RawMessage(frame)}
		drain:
			for {
				select {
				case more, ok := <-f.outbound:
					if !ok {
						break drain
					}
					frames = append(frames, json.RawMessage(more))
				default:
					break drain
				}
			}
			json.NewEncoder(w).Encode(frames)
		case <-time.After(50 * time.Millisecond):
			w.Write([]byte("[]"))
		case <-r.Context().Done():
		}
	case r.Method == http.MethodDelete:
		f.mu.Lock()
		f.deleted = true
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}
}

func TestPolling_RoundTrip(t *testing.T) {
	fake := &fakePollServer{outbound: make(chan string, 8)}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, Polling, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, Polling, conn.Transport())

	require.NoError(t, conn.Send(ctx, []byte(`{"type":"user_online","user_id":"alice"}`)))
	fake.mu.Lock()
	assert.Equal(t, []string{`{"type":"user_online","user_id":"alice"}`}, fake.pushed)
	fake.mu.Unlock()

	fake.outbound <- `{"type":"ack","ack_id":"1","status":"success"}`
	fake.outbound <- `{"type":"error","message":"x"}`

	first, err := conn.Recv(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(first), `"ack"`)
	second, err := conn.Recv(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(second), `"error"`)

	close(fake.outbound)
	_, err = conn.Recv(ctx)
	assert.True(t, errors.Is(err, ErrClosed))

	require.NoError(t, conn.Close())
	fake.mu.Lock()
	assert.True(t, fake.deleted)
	fake.mu.Unlock()

	assert.ErrorIs(t, conn.Send(ctx, []byte(`{}`)), ErrClosed)
}

func TestPolling_CloseAbortsPull(t *testing.T) {
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/chat/poll":
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"session_id":"s1"}`))
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/chat/poll/"):
			close(blocked)
			<-r.Context().Done()
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	conn, err := Dial(context.Background(), Polling, srv.URL)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := conn.Recv(context.Background())
		errCh <- err
	}()

	<-blocked
	conn.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(3 * time.Second):
		t.Fatal("pull not aborted by Close")
	}
}
