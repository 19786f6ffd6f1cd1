// Package scheduler implements the job runner: per-job interval timers
// driven by schedule rows, market-state-aware interval switching, a
// timeout wrapper with success/failure bookkeeping, and the run-now /
// reschedule / status control plane.
package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/helmsman/internal/domain"
)

// MarketTiming gates when a job may run relative to market state.
type MarketTiming int

const (
	// TimingAny runs regardless of market state.
	TimingAny MarketTiming = iota
	// TimingAfterClose runs only when no market is open.
	TimingAfterClose
	// TimingDuringOpen runs only when at least one market is open.
	TimingDuringOpen
	// TimingAllMarketsClosed is the explicit maintenance-window gate.
	TimingAllMarketsClosed
)

// JobSchedule is one configured job's timing row.
type JobSchedule struct {
	JobType                   string
	IntervalMinutes           int
	IntervalMarketOpenMinutes *int
	MarketTiming              MarketTiming
	Enabled                   bool
	LastRun                   int64 // Epoch seconds
	ConsecutiveFailures       int
	Category                  string
	Description               string
	ParamSource               string // e.g. "securities" for per-row fan-out
	ParamField                string // e.g. "ml_enabled"
}

// Interval picks the effective interval for the current market state.
func (s *JobSchedule) Interval(marketOpen bool) time.Duration {
	minutes := s.IntervalMinutes
	if marketOpen && s.IntervalMarketOpenMinutes != nil && *s.IntervalMarketOpenMinutes > 0 {
		minutes = *s.IntervalMarketOpenMinutes
	}
	if minutes <= 0 {
		minutes = 60
	}
	return time.Duration(minutes) * time.Minute
}

// JobHistoryRecord is one execution's outcome.
type JobHistoryRecord struct {
	JobID      string
	JobType    string
	Status     string // "completed", "failed", "skipped"
	Error      string
	DurationMS int64
	ExecutedAt time.Time
	RetryCount int
}

// ScheduleRepository handles the job_schedules table.
type ScheduleRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewScheduleRepository creates a schedule repository.
func NewScheduleRepository(db *sql.DB, log zerolog.Logger) *ScheduleRepository {
	return &ScheduleRepository{db: db, log: log.With().Str("repository", "job_schedules").Logger()}
}

const scheduleColumns = `job_type, interval_minutes, interval_market_open_minutes,
	market_timing, enabled, last_run, consecutive_failures, category, description,
	param_source, param_field`

func scanSchedule(row interface{ Scan(...any) error }) (*JobSchedule, error) {
	var s JobSchedule
	var openMinutes sql.NullInt64
	var timing, enabled int
	err := row.Scan(&s.JobType, &s.IntervalMinutes, &openMinutes, &timing, &enabled,
		&s.LastRun, &s.ConsecutiveFailures, &s.Category, &s.Description,
		&s.ParamSource, &s.ParamField)
	if err != nil {
		return nil, err
	}
	if openMinutes.Valid {
		v := int(openMinutes.Int64)
		s.IntervalMarketOpenMinutes = &v
	}
	s.MarketTiming = MarketTiming(timing)
	s.Enabled = enabled == 1
	return &s, nil
}

// GetAll returns every schedule row.
func (r *ScheduleRepository) GetAll(ctx context.Context) ([]JobSchedule, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+scheduleColumns+" FROM job_schedules ORDER BY job_type")
	if err != nil {
		return nil, fmt.Errorf("failed to list job schedules: %w", err)
	}
	defer rows.Close()

	var out []JobSchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// Get returns one schedule row, or ErrNotFound.
func (r *ScheduleRepository) Get(ctx context.Context, jobType string) (*JobSchedule, error) {
	s, err := scanSchedule(r.db.QueryRowContext(ctx,
		"SELECT "+scheduleColumns+" FROM job_schedules WHERE job_type = ?", jobType))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job schedule %s: %w", jobType, err)
	}
	return s, nil
}

// Upsert writes a schedule row, preserving runtime bookkeeping columns on
// update (seeding never resets last_run or failure counts).
func (r *ScheduleRepository) Upsert(ctx context.Context, s *JobSchedule) error {
	var openMinutes any
	if s.IntervalMarketOpenMinutes != nil {
		openMinutes = *s.IntervalMarketOpenMinutes
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO job_schedules (job_type, interval_minutes, interval_market_open_minutes,
			market_timing, enabled, last_run, consecutive_failures, category, description,
			param_source, param_field)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_type) DO UPDATE SET
			interval_minutes = excluded.interval_minutes,
			interval_market_open_minutes = excluded.interval_market_open_minutes,
			market_timing = excluded.market_timing,
			enabled = excluded.enabled,
			category = excluded.category,
			description = excluded.description,
			param_source = excluded.param_source,
			param_field = excluded.param_field`,
		s.JobType, s.IntervalMinutes, openMinutes, int(s.MarketTiming), boolToInt(s.Enabled),
		s.LastRun, s.ConsecutiveFailures, s.Category, s.Description, s.ParamSource, s.ParamField)
	if err != nil {
		return fmt.Errorf("failed to upsert job schedule %s: %w", s.JobType, err)
	}
	return nil
}

// MarkCompleted records a success: last_run now, failures cleared.
func (r *ScheduleRepository) MarkCompleted(ctx context.Context, jobType string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE job_schedules SET last_run = ?, consecutive_failures = 0 WHERE job_type = ?",
		time.Now().Unix(), jobType)
	if err != nil {
		return fmt.Errorf("failed to mark job completed %s: %w", jobType, err)
	}
	return nil
}

// MarkFailed increments the consecutive failure count.
func (r *ScheduleRepository) MarkFailed(ctx context.Context, jobType string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE job_schedules SET consecutive_failures = consecutive_failures + 1 WHERE job_type = ?",
		jobType)
	if err != nil {
		return fmt.Errorf("failed to mark job failed %s: %w", jobType, err)
	}
	return nil
}

// IsJobExpired reports whether the job is due. While 0 < failures < 3 the
// effective interval is 2^failures minutes (backoff); otherwise the
// configured interval applies.
func (r *ScheduleRepository) IsJobExpired(ctx context.Context, jobType string, marketOpen bool) (bool, error) {
	s, err := r.Get(ctx, jobType)
	if err != nil {
		return false, err
	}
	interval := s.Interval(marketOpen)
	if s.ConsecutiveFailures > 0 && s.ConsecutiveFailures < 3 {
		interval = time.Duration(1<<s.ConsecutiveFailures) * time.Minute
	}
	return time.Since(time.Unix(s.LastRun, 0)) >= interval, nil
}

// HistoryRepository handles the job_history table.
type HistoryRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewHistoryRepository creates a history repository.
func NewHistoryRepository(db *sql.DB, log zerolog.Logger) *HistoryRepository {
	return &HistoryRepository{db: db, log: log.With().Str("repository", "job_history").Logger()}
}

// Record appends one execution record.
func (r *HistoryRepository) Record(ctx context.Context, rec *JobHistoryRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO job_history (job_id, job_type, status, error, duration_ms, executed_at, retry_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.JobID, rec.JobType, rec.Status, rec.Error, rec.DurationMS,
		rec.ExecutedAt.Unix(), rec.RetryCount)
	if err != nil {
		return fmt.Errorf("failed to record job history for %s: %w", rec.JobType, err)
	}
	return nil
}

// Recent returns the latest records, newest first.
func (r *HistoryRepository) Recent(ctx context.Context, limit int) ([]JobHistoryRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT job_id, job_type, status, COALESCE(error, ''), duration_ms, executed_at, retry_count
		FROM job_history ORDER BY executed_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list job history: %w", err)
	}
	defer rows.Close()

	var out []JobHistoryRecord
	for rows.Next() {
		var rec JobHistoryRecord
		var executedAt int64
		if err := rows.Scan(&rec.JobID, &rec.JobType, &rec.Status, &rec.Error,
			&rec.DurationMS, &executedAt, &rec.RetryCount); err != nil {
			return nil, err
		}
		rec.ExecutedAt = time.Unix(executedAt, 0)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
