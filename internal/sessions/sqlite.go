package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Alejandro-Adrian/HireRankerAI/pkg/models"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// timeLayout is fixed width so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteConfig configures the embedded session database.
type SQLiteConfig struct {
	Path        string        `yaml:"path"`         // database file, ":memory:" when empty
	BusyTimeout time.Duration `yaml:"busy_timeout"` // how long writers wait on a locked database
}

// SQLiteStore implements Store on an embedded SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (creating if needed) the database and its tables.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		cfg.Path = ":memory:"
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := cfg.Path
	if cfg.Path != ":memory:" && !strings.Contains(cfg.Path, "?") {
		dsn = fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", cfg.Path, cfg.BusyTimeout.Milliseconds())
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// writers on file databases.
	db.SetMaxOpenConns(1)

	store := newSQLiteStoreWithDB(db)
	if err := store.init(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func newSQLiteStoreWithDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

func (s *SQLiteStore) init(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			connection_id TEXT PRIMARY KEY,
			user TEXT NOT NULL,
			client_public_key TEXT,
			symmetric_key TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			connection_id TEXT NOT NULL,
			role TEXT NOT NULL,
			message TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_connection ON history(connection_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// AddOrReplaceSession validates and upserts the session row.
func (s *SQLiteStore) AddOrReplaceSession(ctx context.Context, session *models.Session) error {
	if err := ValidateSession(session); err != nil {
		return err
	}
	createdAt := session.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions (connection_id, user, client_public_key, symmetric_key, created_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		session.ConnectionID,
		session.User,
		nullString(session.ClientPublicKey),
		nullString(session.SymmetricKey),
		formatTime(createdAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// RemoveSession deletes the session row. Removing a missing row is not an error.
func (s *SQLiteStore) RemoveSession(ctx context.Context, connectionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE connection_id = ?`, connectionID); err != nil {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	return nil
}

// GetSession loads one session row.
func (s *SQLiteStore) GetSession(ctx context.Context, connectionID string) (*models.Session, error) {
	var (
		session   models.Session
		publicKey sql.NullString
		symKey    sql.NullString
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT connection_id, user, client_public_key, symmetric_key, created_at
		FROM sessions WHERE connection_id = ?
	`, connectionID).Scan(&session.ConnectionID, &session.User, &publicKey, &symKey, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	session.ClientPublicKey = publicKey.String
	session.SymmetricKey = symKey.String
	session.CreatedAt = parseTime(createdAt)
	return &session, nil
}

// PruneSessions deletes sessions created before the cutoff along with their
// history and returns the number of sessions removed.
func (s *SQLiteStore) PruneSessions(ctx context.Context, before time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cutoff := formatTime(before)
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM history WHERE connection_id IN (
			SELECT connection_id FROM sessions WHERE created_at < ?
		)
	`, cutoff); err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// AddHistory appends one message for a connection. The insert and the
// session check are one statement, so a row can never land after
// RemoveSession.
func (s *SQLiteStore) AddHistory(ctx context.Context, connectionID string, role models.Role, message string) error {
	if err := ValidateConnectionID(connectionID); err != nil {
		return err
	}
	if !role.Valid() {
		return &ValidationError{Field: "role", Reason: fmt.Sprintf("unknown role %q", role)}
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO history (connection_id, role, message, created_at)
		SELECT ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM sessions WHERE connection_id = ?)
	`, connectionID, string(role), message, formatTime(s.now()), connectionID)
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// GetHistory returns the newest limit entries (all when limit <= 0), oldest first.
func (s *SQLiteStore) GetHistory(ctx context.Context, connectionID string, limit int) ([]models.HistoryEntry, error) {
	query := `
		SELECT id, connection_id, role, message, created_at
		FROM history WHERE connection_id = ?
		ORDER BY id ASC
	`
	args := []any{connectionID}
	if limit > 0 {
		query = `
			SELECT id, connection_id, role, message, created_at FROM (
				SELECT id, connection_id, role, message, created_at
				FROM history WHERE connection_id = ?
				ORDER BY id DESC LIMIT ?
			) ORDER BY id ASC
		`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var (
			entry     models.HistoryEntry
			role      string
			createdAt string
		)
		if err := rows.Scan(&entry.ID, &entry.ConnectionID, &role, &entry.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		entry.Role = models.Role(role)
		entry.CreatedAt = parseTime(createdAt)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}
	return entries, nil
}

// ClearHistory deletes every history row for a connection.
func (s *SQLiteStore) ClearHistory(ctx context.Context, connectionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM history WHERE connection_id = ?`, connectionID); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}

// TruncateHistory keeps only the newest maxMessages rows for a connection and
// returns how many were deleted.
func (s *SQLiteStore) TruncateHistory(ctx context.Context, connectionID string, maxMessages int) (int64, error) {
	if maxMessages < 0 {
		maxMessages = 0
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM history
		WHERE connection_id = ? AND id NOT IN (
			SELECT id FROM history WHERE connection_id = ?
			ORDER BY id DESC LIMIT ?
		)
	`, connectionID, connectionID, maxMessages)
	if err != nil {
		return 0, fmt.Errorf("failed to truncate history: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) time.Time {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, value)
	}
	return t
}
