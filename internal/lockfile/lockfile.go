// Package lockfile provides file-backed advisory locks used to serialize
// critical operations across processes (rebalance, trading loop, backups).
// Locks are cooperative: a lock file whose owning process is dead is stale
// and may be taken over on the next retry.
package lockfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
)

// PollInterval is the retry cadence while waiting for a held lock.
const PollInterval = 100 * time.Millisecond

// Well-known lock names. Locks are keyed by byte-identical names; a task
// that needs to call another locked task must use non-overlapping names.
const (
	LockRebalance        = "rebalance"
	LockEventTrading     = "event_based_trading"
	LockDBBackup         = "db_backup"
	LockWALCheckpoint    = "wal_checkpoint"
	LockIntegrityCheck   = "integrity_check"
	LockCleanupPrices    = "cleanup_prices"
	LockCleanupSnapshots = "cleanup_snapshots"
	LockCleanupCaches    = "cleanup_caches"
	LockScoreRefresh     = "score_refresh"
)

// Manager acquires named advisory locks backed by files in a dedicated
// lock directory under the data root.
type Manager struct {
	dir string
	log zerolog.Logger
}

// NewManager creates the lock directory if needed and returns a manager.
func NewManager(dataDir string, log zerolog.Logger) (*Manager, error) {
	dir := filepath.Join(dataDir, "locks")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	return &Manager{
		dir: dir,
		log: log.With().Str("component", "lockfile").Logger(),
	}, nil
}

// Handle is a held lock. Release drops the lock and best-effort deletes
// the file; release failures never propagate.
type Handle struct {
	name string
	path string
	mgr  *Manager
}

// Acquire takes the named lock, waiting up to timeout with a 100 ms poll.
// The owning PID is written into the lock file for forensic logging.
// Returns LockTimeoutError when the timeout elapses, or the context error
// when ctx is cancelled first.
func (m *Manager) Acquire(ctx context.Context, name string, timeout time.Duration) (*Handle, error) {
	path := filepath.Join(m.dir, name+".lock")
	deadline := time.Now().Add(timeout)

	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			if _, werr := f.WriteString(strconv.Itoa(os.Getpid())); werr != nil {
				m.log.Warn().Err(werr).Str("lock", name).Msg("Failed to write PID to lock file")
			}
			_ = f.Close()
			m.log.Debug().Str("lock", name).Msg("Acquired lock")
			return &Handle{name: name, path: path, mgr: m}, nil
		}

		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock file %s: %w", path, err)
		}

		// Held by someone. A file whose owner is gone means "recently
		// released, may be deleted on next retry".
		if m.isStale(path) {
			m.log.Warn().Str("lock", name).Msg("Removing stale lock file (owner not running)")
			_ = os.Remove(path)
			continue
		}

		if time.Now().After(deadline) {
			return nil, &domain.LockTimeoutError{Name: name, Timeout: timeout}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(PollInterval):
		}
	}
}

// WithLock runs fn while holding the named lock. Release errors are
// swallowed so they can never mask fn's result.
func (m *Manager) WithLock(ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	handle, err := m.Acquire(ctx, name, timeout)
	if err != nil {
		return err
	}
	defer handle.Release()
	return fn(ctx)
}

// Release drops the lock. Safe to call more than once.
func (h *Handle) Release() {
	if h.path == "" {
		return
	}
	if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
		h.mgr.log.Warn().Err(err).Str("lock", h.name).Msg("Error releasing lock")
	} else {
		h.mgr.log.Debug().Str("lock", h.name).Msg("Released lock")
	}
	h.path = ""
}

// isStale reports whether the lock file's recorded PID no longer maps to a
// live process. A malformed file is treated as stale; a file that cannot be
// read (e.g. removed in the meantime) is not.
func (m *Manager) isStale(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return true
	}
	if pid == os.Getpid() {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return true
	}
	// Signal 0 probes liveness without delivering anything.
	return proc.Signal(syscall.Signal(0)) != nil
}
