package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/events"
)

// JobTimeout bounds every task execution.
const JobTimeout = 15 * time.Minute

// MarketCheckInterval is how often the watcher refreshes market state and
// adjusts job intervals.
const MarketCheckInterval = 5 * time.Minute

// StartupCatchupDelay is the pause before the post-start snapshot
// backfill. Interval timers only fire a full interval after start, so a
// frequently-restarting process would otherwise never catch up.
const StartupCatchupDelay = 30 * time.Second

// Task is one runnable job body. subject is empty for global jobs and the
// fan-out key (symbol) for parameterized jobs.
type Task func(ctx context.Context, deps *Deps, subject string) error

// TaskSpec couples a task with its declared dependency names and optional
// per-row fan-out.
type TaskSpec struct {
	Fn        Task
	DependsOn []string
	// FindSubjects returns fan-out subjects (e.g. ML-enabled symbols).
	// Nil for global tasks.
	FindSubjects func(ctx context.Context, deps *Deps) ([]string, error)
}

// MarketState is the slice of the market-hours oracle the runner needs.
type MarketState interface {
	EnsureFresh(ctx context.Context)
	Refresh(ctx context.Context) error
	IsAnyMarketOpen() bool
	AreAllMarketsClosed() bool
}

// RunResult is the outcome of a run_now invocation.
type RunResult struct {
	Status     string `json:"status"` // "completed", "failed", "skipped"
	Reason     string `json:"reason,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// UpcomingJob is one scheduled job's next fire time.
type UpcomingJob struct {
	JobType string    `json:"job_type"`
	NextRun time.Time `json:"next_run"`
}

// RecentJob is one recent execution, deduplicated by type.
type RecentJob struct {
	JobType    string    `json:"job_type"`
	Status     string    `json:"status"`
	ExecutedAt time.Time `json:"executed_at"`
}

// Status is the runner's control-plane snapshot.
type Status struct {
	Current  *string       `json:"current"`
	Upcoming []UpcomingJob `json:"upcoming"`
	Recent   []RecentJob   `json:"recent"`
}

// jobTimer is one job's live timer state.
type jobTimer struct {
	schedule JobSchedule
	interval time.Duration
	nextRun  time.Time
	reset    chan time.Duration
}

// Runner drives the task registry on per-job interval timers.
type Runner struct {
	registry  map[string]TaskSpec
	deps      *Deps
	schedules *ScheduleRepository
	history   *HistoryRepository
	market    MarketState
	bus       *events.Bus
	timeout   time.Duration
	log       zerolog.Logger

	mu         sync.Mutex
	timers     map[string]*jobTimer
	currentJob *string
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	started    bool
}

// NewRunner creates a runner over the given registry and dependencies.
func NewRunner(registry map[string]TaskSpec, deps *Deps, schedules *ScheduleRepository,
	history *HistoryRepository, market MarketState, bus *events.Bus, log zerolog.Logger) *Runner {
	return &Runner{
		registry:  registry,
		deps:      deps,
		schedules: schedules,
		history:   history,
		market:    market,
		bus:       bus,
		timeout:   JobTimeout,
		log:       log.With().Str("component", "scheduler").Logger(),
		timers:    make(map[string]*jobTimer),
	}
}

// SetTimeout overrides the per-task timeout. Test hook.
func (r *Runner) SetTimeout(d time.Duration) { r.timeout = d }

// Init loads schedules, picks intervals for the current market state,
// starts one timer per registered job plus the market watcher and the
// startup catch-up. Jobs without a schedule row run at a 60-minute
// default.
func (r *Runner) Init(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("scheduler already started")
	}

	rows, err := r.schedules.GetAll(ctx)
	if err != nil {
		return err
	}
	byType := make(map[string]JobSchedule, len(rows))
	for _, s := range rows {
		byType[s.JobType] = s
	}

	r.market.EnsureFresh(ctx)
	marketOpen := r.market.IsAnyMarketOpen()

	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	for jobType := range r.registry {
		schedule, ok := byType[jobType]
		if !ok {
			r.log.Warn().Str("job", jobType).Msg("No schedule found, using 60 minute default")
			schedule = JobSchedule{JobType: jobType, IntervalMinutes: 60, Enabled: true}
		}
		if !schedule.Enabled {
			continue
		}
		interval := schedule.Interval(marketOpen)
		timer := &jobTimer{
			schedule: schedule,
			interval: interval,
			nextRun:  time.Now().Add(interval),
			reset:    make(chan time.Duration, 1),
		}
		r.timers[jobType] = timer
		r.wg.Add(1)
		go r.runTimer(runCtx, jobType, timer)
	}

	r.wg.Add(2)
	go r.marketWatcher(runCtx)
	go r.startupCatchup(runCtx)

	r.started = true
	r.log.Info().Int("jobs", len(r.timers)).Msg("Scheduler started")
	return nil
}

// runTimer is one job's timer loop. Interval updates arrive on the reset
// channel; the switchover is atomic from the job's perspective — the tick
// in flight still fires on the old cadence, nothing is dropped.
func (r *Runner) runTimer(ctx context.Context, jobType string, timer *jobTimer) {
	defer r.wg.Done()

	ticker := time.NewTicker(timer.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case interval := <-timer.reset:
			ticker.Reset(interval)
			r.mu.Lock()
			timer.interval = interval
			timer.nextRun = time.Now().Add(interval)
			r.mu.Unlock()
		case <-ticker.C:
			r.mu.Lock()
			timer.nextRun = time.Now().Add(timer.interval)
			schedule := timer.schedule
			r.mu.Unlock()
			r.executeJob(ctx, jobType, schedule, false)
		}
	}
}

// executeJob is the wrapper applied to every task: market-timing gate,
// dependency check, timeout, bookkeeping. Timer-driven runs of one job
// never overlap, because each job fires only from its own timer goroutine.
// run_now takes the same code path but does not check whether the job is
// already running; currentJob is only recorded for status reporting.
func (r *Runner) executeJob(ctx context.Context, jobType string, schedule JobSchedule, skipTimingCheck bool) RunResult {
	spec, ok := r.registry[jobType]
	if !ok {
		return RunResult{Status: "skipped", Reason: "unknown_job_type"}
	}

	r.market.EnsureFresh(ctx)
	if !skipTimingCheck && !r.timingAllows(schedule.MarketTiming) {
		r.log.Debug().Str("job", jobType).Msg("Skipping job: market timing not satisfied")
		return RunResult{Status: "skipped", Reason: "market_timing"}
	}

	if missing := r.deps.Missing(spec.DependsOn); missing != "" {
		r.log.Error().Str("job", jobType).Str("dependency", missing).Msg("Missing dependency, skipping job")
		r.recordHistory(ctx, jobType, "skipped", "missing_dependency:"+missing, 0)
		return RunResult{Status: "skipped", Reason: "missing_dependency:" + missing}
	}

	r.mu.Lock()
	r.currentJob = &jobType
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.currentJob = nil
		r.mu.Unlock()
	}()

	start := time.Now()
	err := r.runWithTimeout(ctx, spec)
	durationMS := time.Since(start).Milliseconds()

	if err != nil {
		if ctx.Err() != nil {
			// A cancelled tick counts as skipped, not failed.
			return RunResult{Status: "skipped", Reason: "cancelled", DurationMS: durationMS}
		}
		r.log.Error().Err(err).Str("job", jobType).Msg("Job failed")
		if merr := r.schedules.MarkFailed(ctx, jobType); merr != nil {
			r.log.Warn().Err(merr).Str("job", jobType).Msg("Could not record job failure")
		}
		r.recordHistory(ctx, jobType, "failed", err.Error(), durationMS)
		return RunResult{Status: "failed", Error: err.Error(), DurationMS: durationMS}
	}

	if merr := r.schedules.MarkCompleted(ctx, jobType); merr != nil {
		r.log.Warn().Err(merr).Str("job", jobType).Msg("Could not record job completion")
	}
	r.recordHistory(ctx, jobType, "completed", "", durationMS)
	r.log.Info().Str("job", jobType).Int64("duration_ms", durationMS).Msg("Job completed")
	return RunResult{Status: "completed", DurationMS: durationMS}
}

// runWithTimeout executes the task body, fanning out per subject for
// parameterized jobs, under the job timeout.
func (r *Runner) runWithTimeout(ctx context.Context, spec TaskSpec) error {
	taskCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if spec.FindSubjects == nil {
		return spec.Fn(taskCtx, r.deps, "")
	}

	subjects, err := spec.FindSubjects(taskCtx, r.deps)
	if err != nil {
		return err
	}
	for _, subject := range subjects {
		if taskCtx.Err() != nil {
			return taskCtx.Err()
		}
		if err := spec.Fn(taskCtx, r.deps, subject); err != nil {
			return fmt.Errorf("subject %s: %w", subject, err)
		}
	}
	return nil
}

func (r *Runner) timingAllows(timing MarketTiming) bool {
	switch timing {
	case TimingAfterClose:
		return !r.market.IsAnyMarketOpen()
	case TimingDuringOpen:
		return r.market.IsAnyMarketOpen()
	case TimingAllMarketsClosed:
		return r.market.AreAllMarketsClosed()
	default:
		return true
	}
}

func (r *Runner) recordHistory(ctx context.Context, jobType, status, errMsg string, durationMS int64) {
	rec := &JobHistoryRecord{
		JobID:      uuid.NewString(),
		JobType:    jobType,
		Status:     status,
		Error:      errMsg,
		DurationMS: durationMS,
		ExecutedAt: time.Now(),
	}
	if err := r.history.Record(ctx, rec); err != nil {
		r.log.Warn().Err(err).Str("job", jobType).Msg("Could not write job history")
	}
	r.bus.Emit(events.JobComplete, &events.JobStatusData{
		JobType: jobType, Status: status, Error: errMsg,
		DurationMS: durationMS, ExecutedAt: rec.ExecutedAt,
	})
}

// RunNow executes a job immediately, ignoring the market-timing gate.
func (r *Runner) RunNow(ctx context.Context, jobType string) RunResult {
	if _, ok := r.registry[jobType]; !ok {
		return RunResult{Status: "failed", Error: fmt.Sprintf("unknown job type: %s", jobType)}
	}
	schedule := JobSchedule{JobType: jobType}
	if s, err := r.schedules.Get(ctx, jobType); err == nil {
		schedule = *s
	}
	return r.executeJob(ctx, jobType, schedule, true)
}

// Reschedule reloads the job's schedule row and re-arms its timer with
// the interval for the current market state.
func (r *Runner) Reschedule(ctx context.Context, jobType string) error {
	schedule, err := r.schedules.Get(ctx, jobType)
	if err != nil {
		return err
	}

	r.mu.Lock()
	timer, ok := r.timers[jobType]
	if ok {
		timer.schedule = *schedule
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s has no running timer", jobType)
	}

	r.market.EnsureFresh(ctx)
	interval := schedule.Interval(r.market.IsAnyMarketOpen())
	select {
	case timer.reset <- interval:
	default:
		// A pending reset is superseded; drain and replace.
		select {
		case <-timer.reset:
		default:
		}
		timer.reset <- interval
	}
	r.log.Info().Str("job", jobType).Dur("interval", interval).Msg("Job rescheduled")
	return nil
}

// GetStatus returns the current job, the three soonest upcoming jobs, and
// the three most recent executions deduplicated by type.
func (r *Runner) GetStatus(ctx context.Context) (*Status, error) {
	r.mu.Lock()
	current := r.currentJob
	upcoming := make([]UpcomingJob, 0, len(r.timers))
	for jobType, timer := range r.timers {
		upcoming = append(upcoming, UpcomingJob{JobType: jobType, NextRun: timer.nextRun})
	}
	r.mu.Unlock()

	sort.Slice(upcoming, func(i, j int) bool { return upcoming[i].NextRun.Before(upcoming[j].NextRun) })
	if len(upcoming) > 3 {
		upcoming = upcoming[:3]
	}

	history, err := r.history.Recent(ctx, 20)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var recent []RecentJob
	for _, h := range history {
		if seen[h.JobType] {
			continue
		}
		seen[h.JobType] = true
		recent = append(recent, RecentJob{JobType: h.JobType, Status: h.Status, ExecutedAt: h.ExecutedAt})
		if len(recent) >= 3 {
			break
		}
	}

	return &Status{Current: current, Upcoming: upcoming, Recent: recent}, nil
}

// marketWatcher refreshes market state every five minutes and, on an
// open/closed transition, re-arms every job whose market-open interval
// differs from its normal one.
func (r *Runner) marketWatcher(ctx context.Context) {
	defer r.wg.Done()

	var lastOpen *bool
	ticker := time.NewTicker(MarketCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.market.Refresh(ctx); err != nil {
				r.log.Warn().Err(err).Msg("Market status refresh failed")
				continue
			}
			open := r.market.IsAnyMarketOpen()
			if lastOpen != nil && open != *lastOpen {
				r.log.Info().Bool("market_open", open).Msg("Market status changed, adjusting job intervals")
				r.adjustIntervals(ctx, open)
			}
			lastOpen = &open
		}
	}
}

func (r *Runner) adjustIntervals(ctx context.Context, marketOpen bool) {
	schedules, err := r.schedules.GetAll(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("Could not load schedules for interval adjustment")
		return
	}
	for _, schedule := range schedules {
		if schedule.IntervalMarketOpenMinutes == nil ||
			*schedule.IntervalMarketOpenMinutes == schedule.IntervalMinutes {
			continue
		}
		if err := r.Reschedule(ctx, schedule.JobType); err != nil {
			r.log.Warn().Err(err).Str("job", schedule.JobType).Msg("Interval adjustment failed")
		}
	}
}

// startupCatchup force-runs snapshot:backfill shortly after start so a
// frequently-restarting process still fills missed days.
func (r *Runner) startupCatchup(ctx context.Context) {
	defer r.wg.Done()

	select {
	case <-ctx.Done():
		return
	case <-time.After(StartupCatchupDelay):
	}
	r.log.Info().Msg("Startup catch-up: running snapshot:backfill")
	result := r.RunNow(ctx, "snapshot:backfill")
	r.log.Info().Str("status", result.Status).Msg("Startup snapshot backfill finished")
}

// Stop cancels the watchers and timers and waits for them to unwind.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	cancel := r.cancel
	r.mu.Unlock()

	cancel()
	r.wg.Wait()

	r.mu.Lock()
	r.timers = make(map[string]*jobTimer)
	r.currentJob = nil
	r.mu.Unlock()
	r.log.Info().Msg("Scheduler stopped")
}
