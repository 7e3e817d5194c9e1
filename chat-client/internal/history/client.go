// Package history fetches conversation history from the history API and
// keeps the last good copy per peer for when the API is unreachable.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/weiawesome/wes-io-chat/pkg/log"
)

// Message is a stored chat message.
type Message struct {
	ID            string    `json:"id"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	Message       string    `json:"message"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

type historyResponse struct {
	Success bool `json:"success"`
	Data    *struct {
		Messages []Message `json:"messages"`
	} `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Client wraps the history API.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	cache map[string][]Message
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		cache: make(map[string][]Message),
	}
}

// Fetch returns the conversation between user and peer, oldest first. When
// the API fails and an earlier copy exists, that copy is returned with
// cached set.
func (c *Client) Fetch(ctx context.Context, user, peer string) (messages []Message, cached bool, err error) {
	messages, err = c.fetch(ctx, user, peer)
	if err == nil {
		c.mu.Lock()
		c.cache[peer] = messages
		c.mu.Unlock()
		return messages, false, nil
	}

	c.mu.RLock()
	prev, ok := c.cache[peer]
	c.mu.RUnlock()
	if !ok {
		return nil, false, err
	}

	l := log.Ctx(ctx)
	l.Warn().Err(err).Str(log.FieldPeerID, peer).Msg("history API unavailable, serving cached messages")
	return prev, true, nil
}

func (c *Client) fetch(ctx context.Context, user, peer string) ([]Message, error) {
	endpoint := fmt.Sprintf("%s/api/v1/messages/%s/%s", c.baseURL, url.PathEscape(user), url.PathEscape(peer))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history service returned status: %d", resp.StatusCode)
	}

	var body historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if !body.Success || body.Data == nil {
		msg := "unknown error"
		if body.Error != nil {
			msg = body.Error.Message
		}
		return nil, fmt.Errorf("history service error: %s", msg)
	}
	if body.Data.Messages == nil {
		return []Message{}, nil
	}
	return body.Data.Messages, nil
}

// Cached returns the last fetched history for peer.
func (c *Client) Cached(peer string) ([]Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.cache[peer]
	return m, ok
}

// Remember appends a live message to the cached conversation with peer.
func (c *Client) Remember(peer string, m Message) {
	c.mu.Lock()
	c.cache[peer] = append(c.cache[peer], m)
	c.mu.Unlock()
}
