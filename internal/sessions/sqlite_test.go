package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/Alejandro-Adrian/HireRankerAI/pkg/models"
)

const testPublicKey = "-----BEGIN PUBLIC KEY-----\nMIIB\n-----END PUBLIC KEY-----\n"

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(SQLiteConfig{Path: ":memory:"})
	if err != nil {
		if strings.Contains(err.Error(), "unknown driver") {
			t.Skip("SQLite driver not available")
		}
		t.Fatalf("NewSQLiteStore error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func mustAddSession(t *testing.T, store Store, connectionID string) {
	t.Helper()
	session := &models.Session{ConnectionID: connectionID, User: "tester"}
	if err := store.AddOrReplaceSession(context.Background(), session); err != nil {
		t.Fatalf("AddOrReplaceSession(%s) error: %v", connectionID, err)
	}
}

func TestSQLiteStore_SessionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	session := &models.Session{
		ConnectionID:    "conn-1",
		User:            "tester",
		ClientPublicKey: testPublicKey,
		CreatedAt:       created,
	}
	if err := store.AddOrReplaceSession(ctx, session); err != nil {
		t.Fatalf("AddOrReplaceSession error: %v", err)
	}

	got, err := store.GetSession(ctx, "conn-1")
	if err != nil {
		t.Fatalf("GetSession error: %v", err)
	}
	if got.User != "tester" || got.ClientPublicKey != testPublicKey {
		t.Fatalf("unexpected session: %+v", got)
	}
	if got.SymmetricKey != "" {
		t.Fatalf("symmetric key should be empty before confirmation, got %q", got.SymmetricKey)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}

	session.SymmetricKey = "a2V5"
	if err := store.AddOrReplaceSession(ctx, session); err != nil {
		t.Fatalf("replace error: %v", err)
	}
	got, _ = store.GetSession(ctx, "conn-1")
	if got.SymmetricKey != "a2V5" {
		t.Fatalf("SymmetricKey = %q", got.SymmetricKey)
	}

	if err := store.RemoveSession(ctx, "conn-1"); err != nil {
		t.Fatalf("RemoveSession error: %v", err)
	}
	if _, err := store.GetSession(ctx, "conn-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := store.RemoveSession(ctx, "conn-1"); err != nil {
		t.Fatalf("removing missing session should not fail: %v", err)
	}
}

func TestSQLiteStore_RejectsInvalidSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		session *models.Session
		field   string
	}{
		{"bad connection id", &models.Session{ConnectionID: "conn 1", User: "tester"}, "connection_id"},
		{"empty user", &models.Session{ConnectionID: "conn-1", User: ""}, "user"},
		{"non-ascii user", &models.Session{ConnectionID: "conn-1", User: "tést"}, "user"},
		{"bad pem", &models.Session{ConnectionID: "conn-1", User: "tester", ClientPublicKey: "abc"}, "client_public_key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.AddOrReplaceSession(ctx, tt.session)
			var verr *ValidationError
			if !errors.As(err, &verr) || !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Fatalf("Field = %q, want %q", verr.Field, tt.field)
			}
			if _, err := store.GetSession(ctx, tt.session.ConnectionID); !errors.Is(err, ErrSessionNotFound) {
				t.Fatalf("invalid session must not be written, got %v", err)
			}
		})
	}
}

func TestSQLiteStore_HistoryTruncation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	const maxHistory = 4
	mustAddSession(t, store, "conn-1")

	for i := 0; i < 10; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		if err := store.AddHistory(ctx, "conn-1", role, fmt.Sprintf("msg-%d", i)); err != nil {
			t.Fatalf("AddHistory error: %v", err)
		}
		if _, err := store.TruncateHistory(ctx, "conn-1", maxHistory); err != nil {
			t.Fatalf("TruncateHistory error: %v", err)
		}
		entries, err := store.GetHistory(ctx, "conn-1", 0)
		if err != nil {
			t.Fatalf("GetHistory error: %v", err)
		}
		if len(entries) > maxHistory {
			t.Fatalf("history has %d entries, max %d", len(entries), maxHistory)
		}
	}

	entries, _ := store.GetHistory(ctx, "conn-1", 0)
	want := []string{"msg-6", "msg-7", "msg-8", "msg-9"}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries", len(entries))
	}
	for i, entry := range entries {
		if entry.Message != want[i] {
			t.Fatalf("entry %d = %q, want %q", i, entry.Message, want[i])
		}
	}
	if entries[0].Role != models.RoleUser || entries[1].Role != models.RoleAssistant {
		t.Fatalf("unexpected roles: %v %v", entries[0].Role, entries[1].Role)
	}
}

func TestSQLiteStore_GetHistoryLimitAndIsolation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	mustAddSession(t, store, "conn-a")
	mustAddSession(t, store, "conn-b")

	for i := 0; i < 5; i++ {
		_ = store.AddHistory(ctx, "conn-a", models.RoleUser, fmt.Sprintf("a-%d", i))
	}
	_ = store.AddHistory(ctx, "conn-b", models.RoleUser, "b-0")

	entries, err := store.GetHistory(ctx, "conn-a", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Message != "a-3" || entries[1].Message != "a-4" {
		t.Fatalf("unexpected limited history: %+v", entries)
	}

	if err := store.ClearHistory(ctx, "conn-a"); err != nil {
		t.Fatalf("ClearHistory error: %v", err)
	}
	entries, _ = store.GetHistory(ctx, "conn-a", 0)
	if len(entries) != 0 {
		t.Fatalf("expected zero rows after clear, got %d", len(entries))
	}
	entries, _ = store.GetHistory(ctx, "conn-b", 0)
	if len(entries) != 1 {
		t.Fatalf("other connection history must survive, got %d", len(entries))
	}
}

func TestSQLiteStore_AddHistoryRequiresSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.AddHistory(ctx, "conn-gone", models.RoleUser, "hi"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("AddHistory without session = %v, want ErrSessionNotFound", err)
	}

	mustAddSession(t, store, "conn-gone")
	if err := store.AddHistory(ctx, "conn-gone", models.RoleUser, "hi"); err != nil {
		t.Fatalf("AddHistory error: %v", err)
	}
	if err := store.RemoveSession(ctx, "conn-gone"); err != nil {
		t.Fatal(err)
	}
	if err := store.ClearHistory(ctx, "conn-gone"); err != nil {
		t.Fatal(err)
	}
	if err := store.AddHistory(ctx, "conn-gone", models.RoleAssistant, "late"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("AddHistory after removal = %v, want ErrSessionNotFound", err)
	}
	if entries, _ := store.GetHistory(ctx, "conn-gone", 0); len(entries) != 0 {
		t.Fatalf("expected zero rows after removal, got %d", len(entries))
	}
}

func TestSQLiteStore_AddHistoryRejectsUnknownRole(t *testing.T) {
	store := newTestStore(t)
	err := store.AddHistory(context.Background(), "conn-1", models.Role("system"), "hi")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestSQLiteStore_PruneSessions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	old := &models.Session{ConnectionID: "old", User: "a", CreatedAt: now.Add(-48 * time.Hour)}
	fresh := &models.Session{ConnectionID: "fresh", User: "b", CreatedAt: now.Add(-time.Hour)}
	for _, s := range []*models.Session{old, fresh} {
		if err := store.AddOrReplaceSession(ctx, s); err != nil {
			t.Fatal(err)
		}
		_ = store.AddHistory(ctx, s.ConnectionID, models.RoleUser, "hello")
	}

	n, err := store.PruneSessions(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneSessions error: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned %d sessions, want 1", n)
	}
	if _, err := store.GetSession(ctx, "old"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("old session should be gone, got %v", err)
	}
	if _, err := store.GetSession(ctx, "fresh"); err != nil {
		t.Fatalf("fresh session should remain: %v", err)
	}
	if entries, _ := store.GetHistory(ctx, "old", 0); len(entries) != 0 {
		t.Fatalf("old history should be pruned, got %d", len(entries))
	}
}
