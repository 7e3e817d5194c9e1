// Package transport connects the chat client to the gateway over
// websocket or HTTP long-polling.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Transport names.
const (
	WebSocket = "websocket"
	Polling   = "polling"
)

// ErrClosed is returned once the connection is closed by either side.
var ErrClosed = errors.New("transport: connection closed")

// Conn carries JSON text frames. Send may be called concurrently with Recv;
// Recv must only be called from one goroutine.
type Conn interface {
	Send(ctx context.Context, frame []byte) error
	Recv(ctx context.Context) ([]byte, error)
	Close() error
	Transport() string
}

// Dialer opens one kind of Conn.
type Dialer interface {
	Dial(ctx context.Context, serverURL string) (Conn, error)
}

// Dial opens a connection with the named transport.
func Dial(ctx context.Context, name, serverURL string) (Conn, error) {
	switch name {
	case WebSocket:
		return (&WSDialer{}).Dial(ctx, serverURL)
	case Polling:
		return (&PollDialer{}).Dial(ctx, serverURL)
	default:
		return nil, fmt.Errorf("transport: unsupported transport %q", name)
	}
}

func websocketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws", "":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/chat/ws"
	return u.String(), nil
}

func pollURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/chat/poll"
	return u.String(), nil
}
