// Package maintenance keeps the databases healthy over months of
// unattended operation: daily backup + retention pruning + WAL
// checkpointing, weekly integrity checks, and off-site archives to R2.
package maintenance

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/database"
	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/lockfile"
	"github.com/aristath/helmsman/internal/modules/cache"
	"github.com/aristath/helmsman/internal/modules/portfolio"
	"github.com/aristath/helmsman/internal/modules/prices"
)

// Retention is the maintenance retention configuration.
type Retention struct {
	DailyPriceDays   int // Default 365
	SnapshotDays     int // Default 90
	BackupCount      int // Backups kept per database
	R2RetentionDays  int
}

// DefaultRetention returns the canonical retention windows.
func DefaultRetention() Retention {
	return Retention{DailyPriceDays: 365, SnapshotDays: 90, BackupCount: 7, R2RetentionDays: 30}
}

// Service runs the maintenance chains over the registered databases.
type Service struct {
	databases []*database.DB
	dataDir   string
	locks     *lockfile.Manager
	cache     *cache.Repository
	prices    *prices.Repository
	snapshots *portfolio.SnapshotRepository
	r2        *R2Client // nil when R2 is not configured
	retention Retention
	bus       *events.Bus
	cron      *cron.Cron
	log       zerolog.Logger
}

// NewService creates a maintenance service over the given databases.
func NewService(databases []*database.DB, dataDir string, locks *lockfile.Manager,
	cacheRepo *cache.Repository, priceRepo *prices.Repository,
	snapshots *portfolio.SnapshotRepository, r2 *R2Client, retention Retention,
	bus *events.Bus, log zerolog.Logger) *Service {
	return &Service{
		databases: databases,
		dataDir:   dataDir,
		locks:     locks,
		cache:     cacheRepo,
		prices:    priceRepo,
		snapshots: snapshots,
		r2:        r2,
		retention: retention,
		bus:       bus,
		log:       log.With().Str("service", "maintenance").Logger(),
	}
}

// StartCalendar schedules the daily and weekly chains on a cron calendar
// (daily at 03:10, weekly Sunday 04:10 — maintenance windows with all
// covered markets closed).
func (s *Service) StartCalendar(ctx context.Context) error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc("10 3 * * *", func() {
		if err := s.RunDaily(ctx); err != nil {
			s.log.Error().Err(err).Msg("Daily maintenance failed")
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule daily maintenance: %w", err)
	}
	if _, err := s.cron.AddFunc("10 4 * * 0", func() {
		if err := s.RunWeekly(ctx); err != nil {
			s.log.Error().Err(err).Msg("Weekly maintenance failed")
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule weekly maintenance: %w", err)
	}
	s.cron.Start()
	return nil
}

// StopCalendar stops the cron calendar.
func (s *Service) StopCalendar() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// RunDaily runs the daily chain in order: backup, price retention,
// snapshot retention, cache cleanup, WAL checkpoint. The first failing
// step aborts the remainder.
func (s *Service) RunDaily(ctx context.Context) error {
	s.log.Info().Msg("Starting daily maintenance")
	s.bus.Emit(events.MaintenanceStart, &events.GenericData{Type: events.MaintenanceStart})

	steps := []struct {
		name string
		fn   func(ctx context.Context) error
	}{
		{"backup", s.CreateBackup},
		{"cleanup_prices", s.CleanupOldDailyPrices},
		{"cleanup_snapshots", s.CleanupOldSnapshots},
		{"cleanup_caches", s.CleanupExpiredCaches},
		{"checkpoint", s.CheckpointWAL},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			s.log.Error().Err(err).Str("step", step.name).Msg("Daily maintenance aborted")
			s.bus.Emit(events.ErrorOccurred, &events.ErrorData{Message: "MAINTENANCE FAILED"})
			return fmt.Errorf("daily maintenance step %s: %w", step.name, err)
		}
	}

	s.bus.Emit(events.MaintenanceComplete, &events.GenericData{Type: events.MaintenanceComplete})
	s.log.Info().Msg("Daily maintenance complete")
	return nil
}

// RunWeekly runs the integrity check.
func (s *Service) RunWeekly(ctx context.Context) error {
	return s.IntegrityCheck(ctx)
}

// CreateBackup snapshots every database into backups/ and prunes old
// copies beyond the retention count.
func (s *Service) CreateBackup(ctx context.Context) error {
	return s.locks.WithLock(ctx, lockfile.LockDBBackup, 5*time.Minute, func(ctx context.Context) error {
		s.bus.Emit(events.BackupStart, &events.GenericData{Type: events.BackupStart})

		backupDir := filepath.Join(s.dataDir, "backups")
		if err := os.MkdirAll(backupDir, 0o755); err != nil {
			return fmt.Errorf("failed to create backup directory: %w", err)
		}

		timestamp := time.Now().Format("20060102_150405")
		for _, db := range s.databases {
			dest := filepath.Join(backupDir, fmt.Sprintf("%s_%s.db", db.Name(), timestamp))
			if err := db.BackupTo(ctx, dest); err != nil {
				s.bus.Emit(events.ErrorOccurred, &events.ErrorData{Message: "BACKUP FAILED"})
				return err
			}
		}
		s.pruneOldBackups(backupDir)

		s.bus.Emit(events.BackupComplete, &events.GenericData{Type: events.BackupComplete})
		s.log.Info().Str("dir", backupDir).Msg("Database backups created")
		return nil
	})
}

// pruneOldBackups keeps the newest retention.BackupCount copies per
// database name.
func (s *Service) pruneOldBackups(backupDir string) {
	for _, db := range s.databases {
		matches, err := filepath.Glob(filepath.Join(backupDir, db.Name()+"_*.db"))
		if err != nil {
			continue
		}
		sort.Sort(sort.Reverse(sort.StringSlice(matches))) // Timestamped names sort chronologically
		for _, old := range matches[minInt(len(matches), s.retention.BackupCount):] {
			if err := os.Remove(old); err != nil {
				s.log.Warn().Err(err).Str("file", old).Msg("Failed to remove old backup")
			} else {
				s.log.Info().Str("file", filepath.Base(old)).Msg("Removed old backup")
			}
		}
	}
}

// CleanupOldDailyPrices prunes daily bars past the retention window.
// Monthly roll-ups are never touched.
func (s *Service) CleanupOldDailyPrices(ctx context.Context) error {
	return s.locks.WithLock(ctx, lockfile.LockCleanupPrices, 5*time.Minute, func(ctx context.Context) error {
		s.bus.Emit(events.CleanupStart, &events.GenericData{Type: events.CleanupStart})
		deleted, err := s.prices.DeleteDailyOlderThan(ctx, s.retention.DailyPriceDays)
		if err != nil {
			s.bus.Emit(events.ErrorOccurred, &events.ErrorData{Message: "CLEANUP FAILED"})
			return err
		}
		s.log.Info().Int64("deleted", deleted).Msg("Daily price cleanup complete")
		s.bus.Emit(events.CleanupComplete, &events.GenericData{Type: events.CleanupComplete})
		return nil
	})
}

// CleanupOldSnapshots prunes portfolio snapshots past the retention
// window.
func (s *Service) CleanupOldSnapshots(ctx context.Context) error {
	return s.locks.WithLock(ctx, lockfile.LockCleanupSnapshots, time.Minute, func(ctx context.Context) error {
		deleted, err := s.snapshots.DeleteOlderThan(ctx, s.retention.SnapshotDays)
		if err != nil {
			return err
		}
		s.log.Info().Int64("deleted", deleted).Msg("Snapshot cleanup complete")
		return nil
	})
}

// CleanupExpiredCaches removes expired cache entries. Never fatal.
func (s *Service) CleanupExpiredCaches(ctx context.Context) error {
	return s.locks.WithLock(ctx, lockfile.LockCleanupCaches, time.Minute, func(ctx context.Context) error {
		removed, err := s.cache.DeleteExpired(ctx)
		if err != nil {
			s.log.Error().Err(err).Msg("Cache cleanup failed")
			return nil
		}
		s.log.Info().Int64("removed", removed).Msg("Cache cleanup complete")
		return nil
	})
}

// CheckpointWAL truncates every database's write-ahead log. Per-database
// failures are logged, not fatal.
func (s *Service) CheckpointWAL(ctx context.Context) error {
	return s.locks.WithLock(ctx, lockfile.LockWALCheckpoint, time.Minute, func(ctx context.Context) error {
		for _, db := range s.databases {
			if err := db.CheckpointWAL(ctx); err != nil {
				s.log.Warn().Err(err).Str("database", db.Name()).Msg("Checkpoint failed")
			}
		}
		s.log.Info().Msg("WAL checkpoint complete")
		return nil
	})
}

// IntegrityCheck verifies every database and raises on the first corrupt
// one.
func (s *Service) IntegrityCheck(ctx context.Context) error {
	return s.locks.WithLock(ctx, lockfile.LockIntegrityCheck, 10*time.Minute, func(ctx context.Context) error {
		s.bus.Emit(events.IntegrityCheckStart, &events.GenericData{Type: events.IntegrityCheckStart})
		for _, db := range s.databases {
			if err := db.IntegrityCheck(ctx); err != nil {
				s.bus.Emit(events.ErrorOccurred, &events.ErrorData{Message: "INTEGRITY CHECK FAILED"})
				return err
			}
			s.log.Info().Str("database", db.Name()).Msg("Integrity check passed")
		}
		s.bus.Emit(events.IntegrityCheckComplete, &events.GenericData{Type: events.IntegrityCheckComplete})
		return nil
	})
}

// R2Backup archives the data directory and uploads it to R2, pruning
// archives past the retention window. Skipped silently when R2 is not
// configured.
func (s *Service) R2Backup(ctx context.Context) error {
	if s.r2 == nil {
		s.log.Warn().Msg("R2 backup skipped: credentials not configured")
		return nil
	}
	return s.r2.CreateAndUpload(ctx, s.dataDir, s.retention.R2RetentionDays)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
