package sessions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Alejandro-Adrian/HireRankerAI/pkg/models"
)

// MemoryStore provides an in-memory Store implementation for testing and
// single-process runs that need no durability.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]models.Session
	history  map[string][]models.HistoryEntry
	nextID   int64
	now      func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: map[string]models.Session{},
		history:  map[string][]models.HistoryEntry{},
		now:      time.Now,
	}
}

func (m *MemoryStore) AddOrReplaceSession(ctx context.Context, session *models.Session) error {
	if err := ValidateSession(session); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *session
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = m.now()
	}
	m.sessions[clone.ConnectionID] = clone
	return nil
}

func (m *MemoryStore) RemoveSession(ctx context.Context, connectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, connectionID)
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, connectionID string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[connectionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &session, nil
}

func (m *MemoryStore) PruneSessions(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for id, session := range m.sessions {
		if session.CreatedAt.Before(before) {
			delete(m.sessions, id)
			delete(m.history, id)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) AddHistory(ctx context.Context, connectionID string, role models.Role, message string) error {
	if err := ValidateConnectionID(connectionID); err != nil {
		return err
	}
	if !role.Valid() {
		return &ValidationError{Field: "role", Reason: fmt.Sprintf("unknown role %q", role)}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[connectionID]; !ok {
		return ErrSessionNotFound
	}
	m.nextID++
	m.history[connectionID] = append(m.history[connectionID], models.HistoryEntry{
		ID:           m.nextID,
		ConnectionID: connectionID,
		Role:         role,
		Message:      message,
		CreatedAt:    m.now(),
	})
	return nil
}

func (m *MemoryStore) GetHistory(ctx context.Context, connectionID string, limit int) ([]models.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.history[connectionID]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]models.HistoryEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (m *MemoryStore) ClearHistory(ctx context.Context, connectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.history, connectionID)
	return nil
}

func (m *MemoryStore) TruncateHistory(ctx context.Context, connectionID string, maxMessages int) (int64, error) {
	if maxMessages < 0 {
		maxMessages = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.history[connectionID]
	if len(entries) <= maxMessages {
		return 0, nil
	}
	removed := len(entries) - maxMessages
	kept := make([]models.HistoryEntry, maxMessages)
	copy(kept, entries[removed:])
	m.history[connectionID] = kept
	return int64(removed), nil
}

func (m *MemoryStore) Close() error {
	return nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
