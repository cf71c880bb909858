package models

import "time"

// ConnectionState is the lifecycle state of one live client connection.
type ConnectionState int

const (
	StateUnauthenticated ConnectionState = iota
	StateAuthenticated
	StateKeyPending
	StateKeyConfirmed
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateKeyPending:
		return "key_pending"
	case StateKeyConfirmed:
		return "key_confirmed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Authenticated reports whether the state allows request envelopes.
func (s ConnectionState) Authenticated() bool {
	return s == StateAuthenticated || s == StateKeyPending || s == StateKeyConfirmed
}

// Session is the durable row describing an authenticated connection.
// SymmetricKey stays empty until the client acknowledges the wrapped key.
type Session struct {
	ConnectionID    string    `json:"connection_id"`
	User            string    `json:"user"`
	ClientPublicKey string    `json:"client_public_key,omitempty"`
	SymmetricKey    string    `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
}
