package audit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Alejandro-Adrian/HireRankerAI/internal/observability"
)

// EventLog appends event lines asynchronously. A disabled or nil EventLog
// discards everything.
//
// Usage:
//
//	events, err := audit.NewEventLog(audit.DefaultConfig(), logger)
//	defer events.Close()
//
//	events.AuthSuccess(ctx, connID, "alice", true, true)
type EventLog struct {
	config  Config
	output  io.Writer
	closer  io.Closer
	logger  *slog.Logger
	buffer  chan *Event
	wg      sync.WaitGroup
	done    chan struct{}
	closing sync.Once
	writeMu sync.Mutex
	now     func() time.Time
}

// NewEventLog opens the configured output and starts the writer goroutine.
func NewEventLog(config Config, logger *slog.Logger) (*EventLog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !config.Enabled {
		return &EventLog{config: config, logger: logger, now: time.Now}, nil
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = time.Second
	}

	var (
		output io.Writer
		closer io.Closer
	)
	switch config.Output {
	case "", "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		path := strings.TrimPrefix(config.Output, "file:")
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create event log directory: %w", err)
			}
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open event log file: %w", err)
		}
		output, closer = f, f
	}

	return newEventLog(config, output, closer, logger), nil
}

func newEventLog(config Config, output io.Writer, closer io.Closer, logger *slog.Logger) *EventLog {
	l := &EventLog{
		config: config,
		output: output,
		closer: closer,
		logger: logger.With("component", "events"),
		buffer: make(chan *Event, config.BufferSize),
		done:   make(chan struct{}),
		now:    time.Now,
	}
	l.wg.Add(1)
	go l.writeLoop()
	return l
}

// Close drains buffered events and closes a file output.
func (l *EventLog) Close() error {
	if l == nil || l.done == nil {
		return nil
	}
	var err error
	l.closing.Do(func() {
		close(l.done)
		l.wg.Wait()
		if l.closer != nil {
			err = l.closer.Close()
		}
	})
	return err
}

// Record queues an event.
func (l *EventLog) Record(ctx context.Context, event *Event) {
	if l == nil || l.done == nil {
		return
	}
	select {
	case <-l.done:
		return
	default:
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now()
	}
	if traceID := observability.GetTraceID(ctx); traceID != "" {
		if event.Fields == nil {
			event.Fields = make(map[string]any)
		}
		event.Fields["trace_id"] = traceID
	}

	select {
	case l.buffer <- event:
	default:
		// Buffer full, write directly (slower but doesn't drop)
		l.writeEvent(event)
	}
}

// AuthSuccess records a successful authenticate event.
func (l *EventLog) AuthSuccess(ctx context.Context, connectionID, user string, publicKeyPresent, keyPending bool) {
	l.Record(ctx, &Event{
		Type:         EventAuthSuccess,
		ConnectionID: connectionID,
		User:         user,
		Fields: map[string]any{
			"client_public_key_present": publicKeyPresent,
			"session_key_pending":       keyPending,
		},
	})
}

// AuthFailed records a rejected token.
func (l *EventLog) AuthFailed(ctx context.Context, connectionID string, tokenPresent bool, attempts int) {
	l.Record(ctx, &Event{
		Type:         EventAuthFailed,
		ConnectionID: connectionID,
		Fields:       map[string]any{"token_present": tokenPresent, "attempts": attempts},
	})
}

// KeyConfirmed records a client acknowledging its session key.
func (l *EventLog) KeyConfirmed(ctx context.Context, connectionID, user string) {
	l.Record(ctx, &Event{Type: EventKeyConfirmed, ConnectionID: connectionID, User: user})
}

// Disconnect records connection teardown. A non-nil err means the durable
// session row could not be removed.
func (l *EventLog) Disconnect(ctx context.Context, connectionID string, err error) {
	event := &Event{Type: EventDisconnect, ConnectionID: connectionID}
	if err != nil {
		event.Type = EventDisconnectError
		event.Fields = map[string]any{"err": err.Error()}
	}
	l.Record(ctx, event)
}

// Lookup records an applicant lookup and its outcome.
func (l *EventLog) Lookup(ctx context.Context, user, query string, rows int, err error) {
	event := &Event{
		Type:   EventLookup,
		User:   user,
		Fields: map[string]any{"q": query, "rows": rows},
	}
	if err != nil {
		event.Type = EventLookupUnavailable
		event.Fields["err"] = err.Error()
	}
	l.Record(ctx, event)
}

func (l *EventLog) writeLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-l.buffer:
			l.writeEvent(event)
		case <-ticker.C:
			l.flushBuffer()
		case <-l.done:
			l.flushBuffer()
			return
		}
	}
}

func (l *EventLog) flushBuffer() {
	for {
		select {
		case event := <-l.buffer:
			l.writeEvent(event)
		default:
			return
		}
	}
}

func (l *EventLog) writeEvent(event *Event) {
	line := FormatLine(event)
	l.writeMu.Lock()
	_, err := io.WriteString(l.output, line)
	l.writeMu.Unlock()
	if err != nil {
		l.logger.Warn("failed to write event", "event_id", event.ID, "error", err)
		return
	}
	l.logger.Debug("event recorded", "event_id", event.ID, "type", string(event.Type))
}

// FormatLine renders "[RFC3339 timestamp] TYPE sid=... user=... k=v\n".
func FormatLine(event *Event) string {
	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(event.Timestamp.UTC().Format(time.RFC3339))
	b.WriteString("] ")
	b.WriteString(string(event.Type))
	if event.ConnectionID != "" {
		fmt.Fprintf(&b, " sid=%s", event.ConnectionID)
	}
	if event.User != "" {
		fmt.Fprintf(&b, " user=%s", event.User)
	}
	keys := make([]string, 0, len(event.Fields))
	for k := range event.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, event.Fields[k])
	}
	b.WriteByte('\n')
	return b.String()
}
