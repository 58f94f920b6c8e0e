// Package syncrunner provides the schedule-driven adapter that fires sync runs.
package syncrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/joblens/listing-sync/internal/core"
	"github.com/joblens/listing-sync/internal/domain/model"
)

// triggeredBy value recorded for schedule-fired runs.
const scheduledTrigger = "scheduler"

// Runner fires one sync run per schedule slot in the configured timezone.
// Missed slots are not replayed: if the process was down when the schedule
// fired, the run simply happens at the next slot.
type Runner struct {
	sync     *core.SyncService
	schedule cron.Schedule
	location *time.Location
	logger   *slog.Logger
	now      func() time.Time
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	Sync *core.SyncService
	// Hour and Minute place the daily slot within the day.
	Hour   int
	Minute int
	// Timezone is an IANA zone name the slot is anchored to; defaults to UTC.
	Timezone string
	Logger   *slog.Logger
}

// NewRunner creates a new schedule runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Sync == nil {
		return nil, errors.New("sync service is required")
	}
	if opts.Hour < 0 || opts.Hour > 23 {
		return nil, fmt.Errorf("schedule hour %d out of range", opts.Hour)
	}
	if opts.Minute < 0 || opts.Minute > 59 {
		return nil, fmt.Errorf("schedule minute %d out of range", opts.Minute)
	}
	if opts.Timezone == "" {
		opts.Timezone = "UTC"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	location, err := time.LoadLocation(opts.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", opts.Timezone, err)
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(fmt.Sprintf("%d %d * * *", opts.Minute, opts.Hour))
	if err != nil {
		return nil, fmt.Errorf("build schedule: %w", err)
	}

	return &Runner{
		sync:     opts.Sync,
		schedule: schedule,
		location: location,
		logger:   opts.Logger,
		now:      time.Now,
	}, nil
}

// NextFire returns the next time the schedule will fire.
func (r *Runner) NextFire() time.Time {
	return r.schedule.Next(r.now().In(r.location))
}

// Run blocks until the context is cancelled, firing a sync run at each
// schedule slot. Run failures are logged, never fatal; the loop always makes
// it to the next slot.
func (r *Runner) Run(ctx context.Context) error {
	if !r.sync.Enabled() {
		r.logger.InfoContext(ctx, "sync schedule runner idle, sync disabled")
		<-ctx.Done()
		return nil
	}

	for {
		next := r.NextFire()
		r.logger.InfoContext(ctx, "next scheduled sync",
			slog.Time("at", next),
			slog.String("timezone", r.location.String()),
		)

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.InfoContext(ctx, "sync schedule runner stopping")
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-timer.C:
		}

		run, err := r.sync.RunOnce(ctx, model.RunTypeScheduled, scheduledTrigger)
		if err != nil {
			r.logger.ErrorContext(ctx, "scheduled sync run failed", slog.Any("error", err))
			continue
		}
		r.logger.InfoContext(ctx, "scheduled sync run recorded",
			slog.String("run_id", run.ID),
			slog.String("status", string(run.Status)),
		)
	}
}
