package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var maintenanceParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// MaintenanceReport summarises one maintenance pass.
type MaintenanceReport struct {
	CacheEntriesExpired int
	SessionsPruned      int64
	BucketsPruned       int
}

// ValidateSchedule reports whether expr is a usable maintenance schedule.
func ValidateSchedule(expr string) error {
	if _, err := maintenanceParser.Parse(strings.TrimSpace(expr)); err != nil {
		return fmt.Errorf("invalid maintenance schedule %q: %w", expr, err)
	}
	return nil
}

func (s *Server) startMaintenance() error {
	schedule := strings.TrimSpace(s.cfg.Maintenance.Schedule)
	if schedule == "" || s.cron != nil {
		return nil
	}
	c := cron.New(
		cron.WithParser(maintenanceParser),
		cron.WithLogger(cron.PrintfLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelDebug))),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(schedule, func() {
		s.RunMaintenance(s.baseCtx)
	}); err != nil {
		return fmt.Errorf("invalid maintenance schedule %q: %w", schedule, err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("maintenance scheduled", "schedule", schedule)
	return nil
}

func (s *Server) stopMaintenance() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// RunMaintenance sweeps expired cache entries, idle rate limit buckets and
// session rows older than sessions.max_age.
func (s *Server) RunMaintenance(ctx context.Context) MaintenanceReport {
	var report MaintenanceReport
	report.CacheEntriesExpired = s.router.Cache().Prune()
	report.BucketsPruned = s.tokenLimiter.Prune() + s.requestLimiter.Prune()

	if s.cfg.Sessions.MaxAge > 0 {
		pruneCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		pruned, err := s.store.PruneSessions(pruneCtx, time.Now().Add(-s.cfg.Sessions.MaxAge))
		if err != nil {
			s.logger.Warn("prune stale sessions", "error", err)
		}
		report.SessionsPruned = pruned
	}

	s.logger.Debug("maintenance complete",
		"cache_expired", report.CacheEntriesExpired,
		"sessions_pruned", report.SessionsPruned,
		"buckets_pruned", report.BucketsPruned,
	)
	return report
}
