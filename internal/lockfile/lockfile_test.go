package lockfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/helmsman/internal/domain"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	mgr, err := NewManager(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	return mgr
}

func TestAcquireWritesPIDAndReleaseRemovesFile(t *testing.T) {
	mgr := newManager(t)

	handle, err := mgr.Acquire(context.Background(), "rebalance", time.Second)
	require.NoError(t, err)

	path := filepath.Join(mgr.dir, "rebalance.lock")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))

	handle.Release()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestAcquireTimesOutWhenHeld(t *testing.T) {
	mgr := newManager(t)

	handle, err := mgr.Acquire(context.Background(), "db_backup", time.Second)
	require.NoError(t, err)
	defer handle.Release()

	_, err = mgr.Acquire(context.Background(), "db_backup", 250*time.Millisecond)
	var timeoutErr *domain.LockTimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.Equal(t, "db_backup", timeoutErr.Name)
}

func TestStaleLockIsTakenOver(t *testing.T) {
	mgr := newManager(t)

	// A lock file with a PID that cannot be running.
	path := filepath.Join(mgr.dir, "score_refresh.lock")
	require.NoError(t, os.WriteFile(path, []byte("999999999"), 0o644))

	handle, err := mgr.Acquire(context.Background(), "score_refresh", time.Second)
	require.NoError(t, err)
	handle.Release()
}

func TestWithLockReleasesOnError(t *testing.T) {
	mgr := newManager(t)

	sentinel := errors.New("task failed")
	err := mgr.WithLock(context.Background(), "integrity_check", time.Second, func(context.Context) error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	// Lock must be free again.
	handle, err := mgr.Acquire(context.Background(), "integrity_check", 200*time.Millisecond)
	require.NoError(t, err)
	handle.Release()
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	mgr := newManager(t)

	handle, err := mgr.Acquire(context.Background(), "wal_checkpoint", time.Second)
	require.NoError(t, err)
	defer handle.Release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	_, err = mgr.Acquire(ctx, "wal_checkpoint", 10*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}
