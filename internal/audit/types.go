// Package audit writes the operational event log: one "[timestamp] MESSAGE"
// line per authentication, key exchange, lookup and disconnect event.
package audit

import (
	"time"
)

// EventType categorizes event log entries.
type EventType string

const (
	EventAuthSuccess  EventType = "AUTH success"
	EventAuthFailed   EventType = "AUTH failed"
	EventAuthRejected EventType = "AUTH rejected"
	EventAuthError    EventType = "AUTH error"

	EventKeyConfirmed  EventType = "KEY confirmed"
	EventKeyWrapFailed EventType = "KEY wrap_failed"

	EventDisconnect      EventType = "DISCONNECT"
	EventDisconnectError EventType = "DISCONNECT error"

	EventLookup            EventType = "LOOKUP"
	EventLookupUnavailable EventType = "LOOKUP unavailable"

	EventTokenIssued EventType = "TOKEN issued"
	EventRateLimited EventType = "RATE_LIMIT exceeded"
)

// Event is a single event log entry.
type Event struct {
	// ID uniquely identifies the event in the structured log mirror.
	ID string

	Type      EventType
	Timestamp time.Time

	ConnectionID string
	User         string

	// Fields are rendered as key=value pairs in key order.
	Fields map[string]any
}

// Config configures the event log.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// Output is "stdout", "stderr" or a file path opened in append mode.
	Output string `yaml:"output"`

	// BufferSize is the size of the async write buffer.
	BufferSize int `yaml:"buffer_size"`

	// FlushInterval is how often buffered events are drained.
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DefaultConfig writes to logs/server_events.txt.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		Output:        "logs/server_events.txt",
		BufferSize:    1000,
		FlushInterval: time.Second,
	}
}
