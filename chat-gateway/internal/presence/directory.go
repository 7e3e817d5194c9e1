// Package presence records which session each user is reachable through and
// which worker owns each session.
package presence

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("presence: not found")

// SessionRecord is the value stored under socket:<sessionId>.
type SessionRecord struct {
	Connected   bool      `json:"connected"`
	WorkerID    string    `json:"workerId"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// Directory is the shared presence store. Every operation touches a single
// key; there are no multi-key transactions.
type Directory interface {
	SetSession(ctx context.Context, sessionID string, rec SessionRecord) error
	GetSession(ctx context.Context, sessionID string) (*SessionRecord, error)
	DeleteSession(ctx context.Context, sessionID string) error

	SetUserSession(ctx context.Context, userID, sessionID string) error
	GetUserSession(ctx context.Context, userID string) (string, error)
	DeleteUserSession(ctx context.Context, userID string) error
	// DeleteUserSessionIf deletes user:<userID>:socket only while it still
	// holds sessionID and reports whether it did.
	DeleteUserSessionIf(ctx context.Context, userID, sessionID string) (bool, error)
}

// Presence is the resolved view of a user.
type Presence struct {
	UserID      string    `json:"user_id"`
	SessionID   string    `json:"session_id"`
	WorkerID    string    `json:"worker_id"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Lookup resolves userID to its session and owning worker.
func Lookup(ctx context.Context, dir Directory, userID string) (*Presence, error) {
	sessionID, err := dir.GetUserSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	rec, err := dir.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session %s for user %s: %w", sessionID, userID, err)
	}
	return &Presence{
		UserID:      userID,
		SessionID:   sessionID,
		WorkerID:    rec.WorkerID,
		ConnectedAt: rec.ConnectedAt,
	}, nil
}

func sessionKey(sessionID string) string {
	return "socket:" + sessionID
}

func userKey(userID string) string {
	return "user:" + userID + ":socket"
}
