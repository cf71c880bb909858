package sessions

import (
	"errors"
	"sync"
	"time"

	"github.com/Alejandro-Adrian/HireRankerAI/pkg/models"
)

var (
	ErrNotConnected         = errors.New("connection not registered")
	ErrAlreadyConnected     = errors.New("connection already registered")
	ErrAlreadyAuthenticated = errors.New("connection already authenticated")
	ErrNotAuthenticated     = errors.New("connection not authenticated")
)

// Snapshot is a copy of one connection's live state.
type Snapshot struct {
	ConnectionID    string
	User            string
	ClientPublicKey string
	SymmetricKey    string // confirmed key only
	PendingKey      string
	State           models.ConnectionState
	ConnectedAt     time.Time
}

// Session converts the snapshot into the durable row shape.
func (s Snapshot) Session() *models.Session {
	return &models.Session{
		ConnectionID:    s.ConnectionID,
		User:            s.User,
		ClientPublicKey: s.ClientPublicKey,
		SymmetricKey:    s.SymmetricKey,
		CreatedAt:       s.ConnectedAt,
	}
}

type connection struct {
	user         string
	publicKey    string
	symmetricKey string
	pendingKey   string
	state        models.ConnectionState
	connectedAt  time.Time
}

// Registry owns the in-memory state of every live connection, including
// symmetric keys that were sent to a client but not yet acknowledged.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*connection
	now   func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*connection), now: time.Now}
}

// Connect registers a new unauthenticated connection.
func (r *Registry) Connect(connectionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[connectionID]; ok {
		return ErrAlreadyConnected
	}
	r.conns[connectionID] = &connection{
		state:       models.StateUnauthenticated,
		connectedAt: r.now(),
	}
	return nil
}

// Authenticate records the user and optional public key. The user cannot be
// changed once set.
func (r *Registry) Authenticate(connectionID, user, clientPublicKey string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connectionID]
	if !ok {
		return Snapshot{}, ErrNotConnected
	}
	if conn.state != models.StateUnauthenticated {
		return Snapshot{}, ErrAlreadyAuthenticated
	}
	conn.user = user
	conn.publicKey = clientPublicKey
	conn.state = models.StateAuthenticated
	return conn.snapshot(connectionID), nil
}

// Unauthenticate returns a connection to the unauthenticated state and
// drops its user and keys.
func (r *Registry) Unauthenticate(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connectionID]
	if !ok {
		return
	}
	*conn = connection{state: models.StateUnauthenticated, connectedAt: conn.connectedAt}
}

// SetPending stores a key that has been sent to the client but not acknowledged.
func (r *Registry) SetPending(connectionID, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connectionID]
	if !ok {
		return ErrNotConnected
	}
	if !conn.state.Authenticated() {
		return ErrNotAuthenticated
	}
	conn.pendingKey = key
	conn.state = models.StateKeyPending
	return nil
}

// ConfirmPending promotes the pending key to the confirmed slot. It reports
// false when no key was pending.
func (r *Registry) ConfirmPending(connectionID string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connectionID]
	if !ok || conn.pendingKey == "" {
		return Snapshot{}, false
	}
	conn.symmetricKey = conn.pendingKey
	conn.pendingKey = ""
	conn.state = models.StateKeyConfirmed
	return conn.snapshot(connectionID), true
}

// EffectiveKey returns the confirmed key, else the pending key, else "".
// Inbound envelopes may be sealed with either.
func (r *Registry) EffectiveKey(connectionID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[connectionID]
	if !ok {
		return ""
	}
	if conn.symmetricKey != "" {
		return conn.symmetricKey
	}
	return conn.pendingKey
}

// Snapshot copies the live state of a connection.
func (r *Registry) Snapshot(connectionID string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[connectionID]
	if !ok {
		return Snapshot{}, false
	}
	return conn.snapshot(connectionID), true
}

// State returns the connection state, StateClosed for unknown ids.
func (r *Registry) State(connectionID string) models.ConnectionState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[connectionID]
	if !ok {
		return models.StateClosed
	}
	return conn.state
}

// Remove drops the connection and any pending key.
func (r *Registry) Remove(connectionID string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connectionID]
	if !ok {
		return Snapshot{}, false
	}
	delete(r.conns, connectionID)
	snap := conn.snapshot(connectionID)
	snap.State = models.StateClosed
	return snap, true
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (c *connection) snapshot(id string) Snapshot {
	return Snapshot{
		ConnectionID:    id,
		User:            c.user,
		ClientPublicKey: c.publicKey,
		SymmetricKey:    c.symmetricKey,
		PendingKey:      c.pendingKey,
		State:           c.state,
		ConnectedAt:     c.connectedAt,
	}
}
