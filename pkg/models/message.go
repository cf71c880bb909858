package models

import "time"

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a role the history table accepts.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// HistoryEntry is one exchanged message in a connection's conversation log.
type HistoryEntry struct {
	ID           int64     `json:"id"`
	ConnectionID string    `json:"connection_id"`
	Role         Role      `json:"role"`
	Message      string    `json:"message"`
	CreatedAt    time.Time `json:"created_at"`
}

// Record is one applicant row returned by the record lookup backend,
// keyed by column name.
type Record map[string]any
