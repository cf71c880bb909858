package sessions

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Alejandro-Adrian/HireRankerAI/pkg/models"
	"github.com/DATA-DOG/go-sqlmock"
)

// setupMockDB creates a new mock database for testing.
func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *SQLiteStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	store := newSQLiteStoreWithDB(db)
	store.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return db, mock, store
}

func TestSQLiteStore_AddOrReplaceSession_Mock(t *testing.T) {
	tests := []struct {
		name        string
		session     *models.Session
		setupMock   func(sqlmock.Sqlmock)
		wantErr     bool
		errContains string
	}{
		{
			name:    "successful insert",
			session: &models.Session{ConnectionID: "conn-1", User: "tester"},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT OR REPLACE INTO sessions").
					WithArgs("conn-1", "tester", nil, nil, "2026-01-01T00:00:00.000000000Z").
					WillReturnResult(sqlmock.NewResult(1, 1))
			},
		},
		{
			name:        "validation failure writes nothing",
			session:     &models.Session{ConnectionID: "", User: "tester"},
			setupMock:   func(sqlmock.Sqlmock) {},
			wantErr:     true,
			errContains: "invalid connection_id",
		},
		{
			name:    "database error",
			session: &models.Session{ConnectionID: "conn-1", User: "tester"},
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT OR REPLACE INTO sessions").
					WillReturnError(errors.New("disk I/O error"))
			},
			wantErr:     true,
			errContains: "failed to save session",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, store := setupMockDB(t)
			defer db.Close()
			tt.setupMock(mock)

			err := store.AddOrReplaceSession(context.Background(), tt.session)
			if (err != nil) != tt.wantErr {
				t.Fatalf("AddOrReplaceSession() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !strings.Contains(err.Error(), tt.errContains) {
				t.Fatalf("error %q does not contain %q", err, tt.errContains)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestSQLiteStore_GetSession_Mock(t *testing.T) {
	columns := []string{"connection_id", "user", "client_public_key", "symmetric_key", "created_at"}

	t.Run("not found", func(t *testing.T) {
		db, mock, store := setupMockDB(t)
		defer db.Close()
		mock.ExpectQuery("SELECT connection_id").WithArgs("conn-1").WillReturnRows(sqlmock.NewRows(columns))

		if _, err := store.GetSession(context.Background(), "conn-1"); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound, got %v", err)
		}
	})

	t.Run("null columns", func(t *testing.T) {
		db, mock, store := setupMockDB(t)
		defer db.Close()
		mock.ExpectQuery("SELECT connection_id").WithArgs("conn-1").
			WillReturnRows(sqlmock.NewRows(columns).AddRow("conn-1", "tester", nil, nil, "2026-01-01T00:00:00.000000000Z"))

		got, err := store.GetSession(context.Background(), "conn-1")
		if err != nil {
			t.Fatalf("GetSession error: %v", err)
		}
		if got.ClientPublicKey != "" || got.SymmetricKey != "" {
			t.Fatalf("expected empty keys, got %+v", got)
		}
		if got.CreatedAt.Year() != 2026 {
			t.Fatalf("CreatedAt = %v", got.CreatedAt)
		}
	})

	t.Run("database error", func(t *testing.T) {
		db, mock, store := setupMockDB(t)
		defer db.Close()
		mock.ExpectQuery("SELECT connection_id").WillReturnError(errors.New("connection reset"))

		_, err := store.GetSession(context.Background(), "conn-1")
		if err == nil || !strings.Contains(err.Error(), "failed to get session") {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestSQLiteStore_HistoryErrors_Mock(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO history").WillReturnError(errors.New("locked"))
	if err := store.AddHistory(ctx, "conn-1", models.RoleUser, "hi"); err == nil || !strings.Contains(err.Error(), "failed to append history") {
		t.Fatalf("unexpected AddHistory error: %v", err)
	}

	mock.ExpectExec("INSERT INTO history").WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.AddHistory(ctx, "conn-1", models.RoleUser, "hi"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("AddHistory without session = %v, want ErrSessionNotFound", err)
	}

	mock.ExpectQuery("SELECT id, connection_id").WillReturnError(errors.New("locked"))
	if _, err := store.GetHistory(ctx, "conn-1", 0); err == nil || !strings.Contains(err.Error(), "failed to get history") {
		t.Fatalf("unexpected GetHistory error: %v", err)
	}

	mock.ExpectExec("DELETE FROM history").WithArgs("conn-1", "conn-1", 20).WillReturnError(errors.New("locked"))
	if _, err := store.TruncateHistory(ctx, "conn-1", 20); err == nil || !strings.Contains(err.Error(), "failed to truncate history") {
		t.Fatalf("unexpected TruncateHistory error: %v", err)
	}

	mock.ExpectExec("DELETE FROM history").WillReturnError(errors.New("locked"))
	if err := store.ClearHistory(ctx, "conn-1"); err == nil || !strings.Contains(err.Error(), "failed to clear history") {
		t.Fatalf("unexpected ClearHistory error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unfulfilled expectations: %v", err)
	}
}

func TestSQLiteStore_PruneSessions_RollsBack(t *testing.T) {
	db, mock, store := setupMockDB(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM history").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("DELETE FROM sessions").WillReturnError(errors.New("locked"))
	mock.ExpectRollback()

	_, err := store.PruneSessions(context.Background(), time.Now())
	if err == nil || !strings.Contains(err.Error(), "failed to prune sessions") {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unfulfilled expectations: %v", err)
	}
}
