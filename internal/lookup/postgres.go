package lookup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Alejandro-Adrian/HireRankerAI/pkg/models"
	"github.com/lib/pq"
)

// PostgresConfig configures the applicant directory.
type PostgresConfig struct {
	DSN            string        `yaml:"dsn"`
	Table          string        `yaml:"table"`
	MaxOpenConns   int           `yaml:"max_open_conns"`
	QueryTimeout   time.Duration `yaml:"query_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// DefaultPostgresConfig returns default configuration.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		Table:          "applicants",
		MaxOpenConns:   4,
		QueryTimeout:   6 * time.Second,
		ConnectTimeout: 5 * time.Second,
	}
}

// PostgresDirectory searches the applicants table. Email terms match
// applicant_email exactly; other terms match name or email case-insensitively.
type PostgresDirectory struct {
	db  *sql.DB
	cfg PostgresConfig
}

// NewPostgresDirectory opens the database lazily; an unreachable server
// surfaces as ErrUnavailable on Search rather than failing startup.
func NewPostgresDirectory(cfg PostgresConfig) (*PostgresDirectory, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	defaults := DefaultPostgresConfig()
	if cfg.Table == "" {
		cfg.Table = defaults.Table
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = defaults.MaxOpenConns
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = defaults.QueryTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}

	connector, err := pq.NewConnector(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid dsn: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxIdleTime(2 * time.Minute)
	return newPostgresDirectoryWithDB(db, cfg), nil
}

func newPostgresDirectoryWithDB(db *sql.DB, cfg PostgresConfig) *PostgresDirectory {
	if cfg.Table == "" {
		cfg.Table = DefaultPostgresConfig().Table
	}
	return &PostgresDirectory{db: db, cfg: cfg}
}

// Ping checks connectivity.
func (d *PostgresDirectory) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.ConnectTimeout)
	defer cancel()
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Search returns at most limit rows matching query.
func (d *PostgresDirectory) Search(ctx context.Context, query string, limit int) ([]models.Record, error) {
	if d == nil || d.db == nil {
		return nil, ErrUnavailable
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if d.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.QueryTimeout)
		defer cancel()
	}

	table := pq.QuoteIdentifier(d.cfg.Table)
	var (
		stmt string
		arg  string
	)
	if email, ok := IsEmail(query); ok {
		stmt = fmt.Sprintf(`SELECT * FROM %s WHERE applicant_email = $1 LIMIT $2`, table)
		arg = email
	} else {
		stmt = fmt.Sprintf(`SELECT * FROM %s WHERE applicant_name ILIKE $1 OR applicant_email ILIKE $1 LIMIT $2`, table)
		arg = "%" + escapeLike(query) + "%"
	}

	rows, err := d.db.QueryContext(ctx, stmt, arg, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, classify(err)
	}
	return records, nil
}

// Close closes the database.
func (d *PostgresDirectory) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

func scanRecords(rows *sql.Rows) ([]models.Record, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var records []models.Record
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		record := make(models.Record, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				record[col] = string(b)
				continue
			}
			record[col] = values[i]
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// classify keeps server-side query errors distinct from connectivity failures.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fmt.Errorf("lookup query failed (%s): %w", pqErr.Code.Name(), err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
