package domain

import (
	"sync"
	"time"
)

// Transports a session can ride on.
const (
	TransportWebSocket = "websocket"
	TransportPolling   = "polling"
)

// Session is one live client connection owned by this worker.
type Session struct {
	ID           string
	WorkerID     string
	Transport    string
	ConnectedAt  time.Time
	LastActiveAt time.Time
	users        map[string]struct{}
	mu           sync.RWMutex
}

func NewSession(id, workerID, transport string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:           id,
		WorkerID:     workerID,
		Transport:    transport,
		ConnectedAt:  now,
		LastActiveAt: now,
		users:        make(map[string]struct{}),
	}
}

// BindUser marks userID as reachable through this session.
func (s *Session) BindUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = struct{}{}
	s.LastActiveAt = time.Now().UTC()
}

func (s *Session) UnbindUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, userID)
}

func (s *Session) HasUser(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[userID]
	return ok
}

// Users returns a snapshot of bound user ids.
func (s *Session) Users() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.users))
	for u := range s.users {
		out = append(out, u)
	}
	return out
}

func (s *Session) UpdateActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActiveAt = time.Now().UTC()
}

func (s *Session) IdleSince() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.LastActiveAt
}
