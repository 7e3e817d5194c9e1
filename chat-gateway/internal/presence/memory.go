package presence

import (
	"context"
	"sync"
)

// MemoryDirectory is a process-local Directory for tests and single-worker
// runs. Setting Err makes every call fail with it.
type MemoryDirectory struct {
	mu       sync.Mutex
	sessions map[string]SessionRecord
	users    map[string]string
	Err      error
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		sessions: make(map[string]SessionRecord),
		users:    make(map[string]string),
	}
}

func (m *MemoryDirectory) SetErr(err error) {
	m.mu.Lock()
	m.Err = err
	m.mu.Unlock()
}

func (m *MemoryDirectory) SetSession(_ context.Context, sessionID string, rec SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.sessions[sessionID] = rec
	return nil
}

func (m *MemoryDirectory) GetSession(_ context.Context, sessionID string) (*SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	rec, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (m *MemoryDirectory) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	delete(m.sessions, sessionID)
	return nil
}

func (m *MemoryDirectory) SetUserSession(_ context.Context, userID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.users[userID] = sessionID
	return nil
}

func (m *MemoryDirectory) GetUserSession(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	sid, ok := m.users[userID]
	if !ok {
		return "", ErrNotFound
	}
	return sid, nil
}

func (m *MemoryDirectory) DeleteUserSession(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	delete(m.users, userID)
	return nil
}

func (m *MemoryDirectory) DeleteUserSessionIf(_ context.Context, userID, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	if m.users[userID] != sessionID {
		return false, nil
	}
	delete(m.users, userID)
	return true, nil
}
