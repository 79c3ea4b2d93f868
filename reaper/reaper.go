// Package reaper periodically removes expired memory records. Reads already
// hide expired rows, so the reaper only reclaims space.
package reaper

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Purger removes expired records and returns how many were removed.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Reaper runs a Purger on a cron schedule.
type Reaper struct {
	purger  Purger
	logger  zerolog.Logger
	cron    *cron.Cron
	timeout time.Duration

	runs    atomic.Int64
	removed atomic.Int64
}

// Option configures a Reaper.
type Option func(*Reaper)

// WithTimeout bounds each purge run. The default is one minute.
func WithTimeout(d time.Duration) Option {
	return func(r *Reaper) {
		r.timeout = d
	}
}

// New creates a Reaper for schedule. It does not start until Start is called.
func New(purger Purger, schedule string, logger zerolog.Logger, opts ...Option) (*Reaper, error) {
	if purger == nil {
		return nil, errors.New("purger cannot be nil")
	}
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return nil, err
	}

	r := &Reaper{
		purger:  purger,
		logger:  logger.With().Str("component", "reaper").Logger(),
		timeout: time.Minute,
	}
	for _, opt := range opts {
		opt(r)
	}

	cronLogger := cronLogAdapter{logger: r.logger}
	r.cron = cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	r.cron.Schedule(sched, cron.FuncJob(r.run))

	r.logger.Info().Str("schedule", schedule).Msg("Reaper configured")
	return r, nil
}

// Start begins running purges in the background.
func (r *Reaper) Start() {
	r.logger.Info().Msg("Reaper started")
	r.cron.Start()
}

// Stop halts scheduling and waits for a running purge to finish or ctx to end.
func (r *Reaper) Stop(ctx context.Context) {
	done := r.cron.Stop()
	select {
	case <-done.Done():
		r.logger.Info().Msg("Reaper stopped")
	case <-ctx.Done():
		r.logger.Warn().Msg("Reaper stop timed out waiting for running purge")
	}
}

// RunOnce purges immediately, outside the schedule.
func (r *Reaper) RunOnce(ctx context.Context) (int64, error) {
	n, err := r.purger.PurgeExpired(ctx)
	r.runs.Add(1)
	if err != nil {
		r.logger.Error().Err(err).Msg("Purge failed")
		return 0, err
	}
	r.removed.Add(n)
	r.logger.Debug().Int64("removed", n).Msg("Purge completed")
	return n, nil
}

// Runs returns how many purges have run.
func (r *Reaper) Runs() int64 {
	return r.runs.Load()
}

// Removed returns the total number of records purged.
func (r *Reaper) Removed() int64 {
	return r.removed.Load()
}

func (r *Reaper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	_, _ = r.RunOnce(ctx)
}

// cronLogAdapter sends cron's internal logging to zerolog.
type cronLogAdapter struct {
	logger zerolog.Logger
}

func (a cronLogAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (a cronLogAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	a.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
