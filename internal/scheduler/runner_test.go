package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/helmsman/internal/database"
	"github.com/aristath/helmsman/internal/events"
)

// fakeMarket is a controllable MarketState.
type fakeMarket struct {
	open bool
}

func (m *fakeMarket) EnsureFresh(context.Context)        {}
func (m *fakeMarket) Refresh(context.Context) error      { return nil }
func (m *fakeMarket) IsAnyMarketOpen() bool              { return m.open }
func (m *fakeMarket) AreAllMarketsClosed() bool          { return !m.open }

func newSchedulerDB(t *testing.T) (*ScheduleRepository, *HistoryRepository) {
	t.Helper()
	db, err := database.New(database.Config{
		Path: "file:scheduler_" + t.Name() + "?mode=memory&cache=shared",
		Name: "test",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	log := zerolog.Nop()
	return NewScheduleRepository(db.Conn(), log), NewHistoryRepository(db.Conn(), log)
}

func newTestRunner(t *testing.T, registry map[string]TaskSpec, market *fakeMarket) (*Runner, *ScheduleRepository, *HistoryRepository) {
	t.Helper()
	schedules, history := newSchedulerDB(t)
	deps := &Deps{Log: zerolog.Nop()}
	runner := NewRunner(registry, deps, schedules, history, market, events.NewBus(zerolog.Nop()), zerolog.Nop())
	runner.SetTimeout(5 * time.Second)
	return runner, schedules, history
}

func TestRunNowRecordsSuccess(t *testing.T) {
	ran := false
	registry := map[string]TaskSpec{
		"demo:task": {Fn: func(context.Context, *Deps, string) error {
			ran = true
			return nil
		}},
	}
	runner, schedules, history := newTestRunner(t, registry, &fakeMarket{})
	ctx := context.Background()
	require.NoError(t, schedules.Upsert(ctx, &JobSchedule{
		JobType: "demo:task", IntervalMinutes: 60, Enabled: true, ConsecutiveFailures: 2,
	}))
	_, err := schedules.Get(ctx, "demo:task")
	require.NoError(t, err)
	// Seed a failure count to verify success clears it.
	require.NoError(t, schedules.MarkFailed(ctx, "demo:task"))

	before := time.Now()
	result := runner.RunNow(ctx, "demo:task")

	assert.True(t, ran)
	assert.Equal(t, "completed", result.Status)

	schedule, err := schedules.Get(ctx, "demo:task")
	require.NoError(t, err)
	assert.Zero(t, schedule.ConsecutiveFailures)
	assert.GreaterOrEqual(t, schedule.LastRun, before.Unix())

	records, err := history.Recent(ctx, 5)
	require.NoError(t, err)
	require.NotEmpty(t, records)
	assert.Equal(t, "completed", records[0].Status)
	assert.Equal(t, "demo:task", records[0].JobType)
}

func TestRunNowRecordsFailureAndIncrementsCount(t *testing.T) {
	registry := map[string]TaskSpec{
		"demo:fail": {Fn: func(context.Context, *Deps, string) error {
			return errors.New("broker unavailable")
		}},
	}
	runner, schedules, history := newTestRunner(t, registry, &fakeMarket{})
	ctx := context.Background()
	require.NoError(t, schedules.Upsert(ctx, &JobSchedule{
		JobType: "demo:fail", IntervalMinutes: 60, Enabled: true,
	}))

	result := runner.RunNow(ctx, "demo:fail")
	assert.Equal(t, "failed", result.Status)
	assert.Contains(t, result.Error, "broker unavailable")

	schedule, err := schedules.Get(ctx, "demo:fail")
	require.NoError(t, err)
	assert.Equal(t, 1, schedule.ConsecutiveFailures)

	records, err := history.Recent(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "failed", records[0].Status)
}

func TestRunNowUnknownJob(t *testing.T) {
	runner, _, _ := newTestRunner(t, map[string]TaskSpec{}, &fakeMarket{})
	result := runner.RunNow(context.Background(), "nope")
	assert.Equal(t, "failed", result.Status)
}

func TestMarketTimingGate(t *testing.T) {
	ran := 0
	registry := map[string]TaskSpec{
		"demo:closed_only": {Fn: func(context.Context, *Deps, string) error {
			ran++
			return nil
		}},
	}
	market := &fakeMarket{open: true}
	runner, schedules, _ := newTestRunner(t, registry, market)
	ctx := context.Background()
	schedule := JobSchedule{JobType: "demo:closed_only", IntervalMinutes: 60,
		MarketTiming: TimingAfterClose, Enabled: true}
	require.NoError(t, schedules.Upsert(ctx, &schedule))

	// Timed execution respects the gate.
	result := runner.executeJob(ctx, "demo:closed_only", schedule, false)
	assert.Equal(t, "skipped", result.Status)
	assert.Equal(t, "market_timing", result.Reason)
	assert.Zero(t, ran)

	// run_now ignores it.
	result = runner.RunNow(ctx, "demo:closed_only")
	assert.Equal(t, "completed", result.Status)
	assert.Equal(t, 1, ran)

	// Market closes: the gate opens.
	market.open = false
	result = runner.executeJob(ctx, "demo:closed_only", schedule, false)
	assert.Equal(t, "completed", result.Status)
}

func TestMissingDependencySkips(t *testing.T) {
	registry := map[string]TaskSpec{
		"demo:needs_broker": {
			Fn:        func(context.Context, *Deps, string) error { return nil },
			DependsOn: []string{"broker"},
		},
	}
	runner, _, history := newTestRunner(t, registry, &fakeMarket{})

	result := runner.RunNow(context.Background(), "demo:needs_broker")
	assert.Equal(t, "skipped", result.Status)
	assert.Contains(t, result.Reason, "missing_dependency:broker")

	records, err := history.Recent(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, "skipped", records[0].Status)
}

func TestTaskTimeout(t *testing.T) {
	registry := map[string]TaskSpec{
		"demo:slow": {Fn: func(ctx context.Context, _ *Deps, _ string) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(10 * time.Second):
				return nil
			}
		}},
	}
	runner, schedules, _ := newTestRunner(t, registry, &fakeMarket{})
	runner.SetTimeout(100 * time.Millisecond)
	ctx := context.Background()
	require.NoError(t, schedules.Upsert(ctx, &JobSchedule{
		JobType: "demo:slow", IntervalMinutes: 60, Enabled: true,
	}))

	result := runner.RunNow(ctx, "demo:slow")
	assert.Equal(t, "failed", result.Status)
}

func TestBackoffInterval(t *testing.T) {
	schedules, _ := newSchedulerDB(t)
	ctx := context.Background()
	require.NoError(t, schedules.Upsert(ctx, &JobSchedule{
		JobType: "demo:backoff", IntervalMinutes: 60, Enabled: true,
	}))

	// Fresh job with last_run 0 is overdue regardless of backoff.
	expired, err := schedules.IsJobExpired(ctx, "demo:backoff", false)
	require.NoError(t, err)
	assert.True(t, expired)

	// Completed just now: a 60-minute job is not due.
	require.NoError(t, schedules.MarkCompleted(ctx, "demo:backoff"))
	expired, err = schedules.IsJobExpired(ctx, "demo:backoff", false)
	require.NoError(t, err)
	assert.False(t, expired)

	// One failure: effective interval collapses to 2 minutes, still not
	// due right after the run.
	require.NoError(t, schedules.MarkFailed(ctx, "demo:backoff"))
	expired, err = schedules.IsJobExpired(ctx, "demo:backoff", false)
	require.NoError(t, err)
	assert.False(t, expired)

	// Three failures: configured interval applies again.
	require.NoError(t, schedules.MarkFailed(ctx, "demo:backoff"))
	require.NoError(t, schedules.MarkFailed(ctx, "demo:backoff"))
	schedule, err := schedules.Get(ctx, "demo:backoff")
	require.NoError(t, err)
	assert.Equal(t, 3, schedule.ConsecutiveFailures)
}

func TestIntervalSwitchesWithMarketState(t *testing.T) {
	open := 5
	schedule := JobSchedule{
		JobType:                   "sync:portfolio",
		IntervalMinutes:           30,
		IntervalMarketOpenMinutes: &open,
	}
	assert.Equal(t, 30*time.Minute, schedule.Interval(false))
	assert.Equal(t, 5*time.Minute, schedule.Interval(true))
}

func TestStatusDeduplicatesRecentByType(t *testing.T) {
	registry := map[string]TaskSpec{
		"demo:a": {Fn: func(context.Context, *Deps, string) error { return nil }},
		"demo:b": {Fn: func(context.Context, *Deps, string) error { return nil }},
	}
	runner, schedules, _ := newTestRunner(t, registry, &fakeMarket{})
	ctx := context.Background()
	for _, jobType := range []string{"demo:a", "demo:b"} {
		require.NoError(t, schedules.Upsert(ctx, &JobSchedule{
			JobType: jobType, IntervalMinutes: 60, Enabled: true,
		}))
	}

	runner.RunNow(ctx, "demo:a")
	runner.RunNow(ctx, "demo:a")
	runner.RunNow(ctx, "demo:b")

	status, err := runner.GetStatus(ctx)
	require.NoError(t, err)
	assert.Nil(t, status.Current)

	types := make(map[string]int)
	for _, recent := range status.Recent {
		types[recent.JobType]++
	}
	assert.LessOrEqual(t, len(status.Recent), 3)
	for jobType, count := range types {
		assert.Equal(t, 1, count, jobType)
	}
}

func TestParameterizedFanOut(t *testing.T) {
	var subjects []string
	registry := map[string]TaskSpec{
		"demo:per_symbol": {
			Fn: func(_ context.Context, _ *Deps, subject string) error {
				subjects = append(subjects, subject)
				return nil
			},
			FindSubjects: func(context.Context, *Deps) ([]string, error) {
				return []string{"AAA", "BBB", "CCC"}, nil
			},
		},
	}
	runner, schedules, _ := newTestRunner(t, registry, &fakeMarket{})
	ctx := context.Background()
	require.NoError(t, schedules.Upsert(ctx, &JobSchedule{
		JobType: "demo:per_symbol", IntervalMinutes: 60, Enabled: true,
	}))

	result := runner.RunNow(ctx, "demo:per_symbol")
	assert.Equal(t, "completed", result.Status)
	assert.Equal(t, []string{"AAA", "BBB", "CCC"}, subjects)
}

func TestSeedSchedulesIsIdempotent(t *testing.T) {
	schedules, _ := newSchedulerDB(t)
	ctx := context.Background()

	require.NoError(t, SeedSchedules(ctx, schedules))
	all, err := schedules.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, len(DefaultSchedules()))

	// Tune one row, reseed, and verify the tuning survives.
	require.NoError(t, schedules.Upsert(ctx, &JobSchedule{
		JobType: "sync:portfolio", IntervalMinutes: 7, Enabled: true,
	}))
	require.NoError(t, SeedSchedules(ctx, schedules))
	tuned, err := schedules.Get(ctx, "sync:portfolio")
	require.NoError(t, err)
	assert.Equal(t, 7, tuned.IntervalMinutes)
}
