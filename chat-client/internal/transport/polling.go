package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// PollDialer opens a long-polling session.
type PollDialer struct {
	Client *http.Client
}

type pollOpenResponse struct {
	SessionID string `json:"session_id"`
}

func (d *PollDialer) Dial(ctx context.Context, serverURL string) (Conn, error) {
	base, err := pollURL(serverURL)
	if err != nil {
		return nil, err
	}
	client := d.Client
	if client == nil {
		// No client timeout; pulls are bounded by the server's wait.
		client = &http.Client{}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll open: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("poll open: gateway returned status %d", resp.StatusCode)
	}
	var open pollOpenResponse
	if err := json.NewDecoder(resp.Body).Decode(&open); err != nil {
		return nil, fmt.Errorf("poll open: failed to decode response: %w", err)
	}
	if open.SessionID == "" {
		return nil, fmt.Errorf("poll open: empty session id")
	}

	connCtx, cancel := context.WithCancel(context.Background())
	return &pollConn{
		client:    client,
		url:       base + "/" + open.SessionID,
		sessionID: open.SessionID,
		ctx:       connCtx,
		cancel:    cancel,
	}, nil
}

type pollConn struct {
	client    *http.Client
	url       string
	sessionID string

	// ctx is cancelled by Close to abort an in-flight pull.
	ctx    context.Context
	cancel context.CancelFunc

	buffered  [][]byte
	closeOnce sync.Once
}

func (c *pollConn) Transport() string { return Polling }

// SessionID is the gateway-assigned polling session.
func (c *pollConn) SessionID() string { return c.sessionID }

func (c *pollConn) Send(ctx context.Context, frame []byte) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(frame))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("poll push: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK:
		return nil
	case http.StatusGone, http.StatusNotFound:
		return ErrClosed
	default:
		return fmt.Errorf("poll push: gateway returned status %d", resp.StatusCode)
	}
}

func (c *pollConn) Recv(ctx context.Context) ([]byte, error) {
	for len(c.buffered) == 0 {
		frames, err := c.pull(ctx)
		if err != nil {
			return nil, err
		}
		c.buffered = frames
	}
	frame := c.buffered[0]
	c.buffered = c.buffered[1:]
	return frame, nil
}

func (c *pollConn) pull(ctx context.Context) ([][]byte, error) {
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		if c.ctx.Err() != nil {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("poll pull: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusGone, http.StatusNotFound:
		return nil, ErrClosed
	default:
		return nil, fmt.Errorf("poll pull: gateway returned status %d", resp.StatusCode)
	}

	var raw []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("poll pull: failed to decode frames: %w", err)
	}
	frames := make([][]byte, 0, len(raw))
	for _, r := range raw {
		frames = append(frames, []byte(r))
	}
	return frames, nil
}

// Close ends the session on the gateway and aborts a pending pull.
func (c *pollConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodDelete, c.url, nil)
		if reqErr != nil {
			err = reqErr
			return
		}
		resp, doErr := c.client.Do(req)
		if doErr != nil {
			err = fmt.Errorf("poll close: %w", doErr)
			return
		}
		resp.Body.Close()
	})
	return err
}
