package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Alejandro-Adrian/HireRankerAI/internal/config"
	"github.com/Alejandro-Adrian/HireRankerAI/internal/router"
	"github.com/Alejandro-Adrian/HireRankerAI/internal/sessions"
	"github.com/Alejandro-Adrian/HireRankerAI/pkg/models"
)

func TestValidateSchedule(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"@every 10m", false},
		{"@hourly", false},
		{"*/5 * * * *", false},
		{"0 */5 * * * *", false},
		{"every ten minutes", true},
		{"", true},
		{"61 * * * *", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			err := ValidateSchedule(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSchedule(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
		})
	}
}

func TestRunMaintenance(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Cache.TTL = 10 * time.Millisecond
		cfg.Sessions.MaxAge = time.Hour
	})
	ctx := context.Background()

	old := &models.Session{ConnectionID: "old-conn", User: "alice", CreatedAt: time.Now().Add(-2 * time.Hour)}
	fresh := &models.Session{ConnectionID: "fresh-conn", User: "bob"}
	for _, s := range []*models.Session{old, fresh} {
		if err := ts.store.AddOrReplaceSession(ctx, s); err != nil {
			t.Fatalf("AddOrReplaceSession(%s) error = %v", s.ConnectionID, err)
		}
	}
	ts.router.Cache().Set("grade|essay", router.Payload{Result: "A"})
	time.Sleep(20 * time.Millisecond)

	report := ts.RunMaintenance(ctx)
	if report.SessionsPruned != 1 {
		t.Errorf("SessionsPruned = %d, want 1", report.SessionsPruned)
	}
	if report.CacheEntriesExpired != 1 {
		t.Errorf("CacheEntriesExpired = %d, want 1", report.CacheEntriesExpired)
	}
	if _, err := ts.store.GetSession(ctx, "old-conn"); !errors.Is(err, sessions.ErrSessionNotFound) {
		t.Errorf("old session err = %v, want ErrSessionNotFound", err)
	}
	if _, err := ts.store.GetSession(ctx, "fresh-conn"); err != nil {
		t.Errorf("fresh session was pruned: %v", err)
	}
}

func TestStartMaintenance(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.cfg.Maintenance.Schedule = "@every 1h"
	if err := ts.startMaintenance(); err != nil {
		t.Fatalf("startMaintenance() error = %v", err)
	}
	if ts.cron == nil || len(ts.cron.Entries()) != 1 {
		t.Fatal("maintenance job not scheduled")
	}
	ts.stopMaintenance()

	bad := newTestServer(t, nil)
	bad.cfg.Maintenance.Schedule = "not a schedule"
	if err := bad.startMaintenance(); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}
