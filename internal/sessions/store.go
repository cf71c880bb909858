// Package sessions persists authenticated connections and their
// conversation history, and tracks live connection state in memory.
package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/Alejandro-Adrian/HireRankerAI/pkg/models"
)

// ErrSessionNotFound is returned when no row exists for a connection id.
var ErrSessionNotFound = errors.New("session not found")

// DefaultMaxHistory is the per-connection history cap applied after inserts.
const DefaultMaxHistory = 20

// Store is the interface for session persistence. All operations are scoped
// to a single connection.
type Store interface {
	// Sessions
	AddOrReplaceSession(ctx context.Context, session *models.Session) error
	RemoveSession(ctx context.Context, connectionID string) error
	GetSession(ctx context.Context, connectionID string) (*models.Session, error)
	PruneSessions(ctx context.Context, before time.Time) (int64, error)

	// Conversation history, oldest first. AddHistory returns
	// ErrSessionNotFound once the connection's session row is gone.
	AddHistory(ctx context.Context, connectionID string, role models.Role, message string) error
	GetHistory(ctx context.Context, connectionID string, limit int) ([]models.HistoryEntry, error)
	ClearHistory(ctx context.Context, connectionID string) error
	TruncateHistory(ctx context.Context, connectionID string, maxMessages int) (int64, error)

	Close() error
}
