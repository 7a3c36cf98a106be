package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/supportly/backend/internal/domain"
	"github.com/supportly/backend/internal/logging"
)

// ErrSweepRunning is returned when a sweep is requested while one is in progress.
var ErrSweepRunning = errors.New("expiry sweep already running")

// Sweeper runs one expiry sweep.
type Sweeper interface {
	SweepExpirations(ctx context.Context, now time.Time) (*domain.SweepResult, error)
}

// ExpiryScheduler triggers the expiry sweep on a cron schedule and on demand.
// At most one sweep runs at a time in this process.
type ExpiryScheduler struct {
	sweeper  Sweeper
	schedule string
	running  sync.Mutex
	now      func() time.Time
}

// NewExpiryScheduler creates an ExpiryScheduler. schedule is a standard five-field
// cron expression or a descriptor such as "@daily".
func NewExpiryScheduler(sweeper Sweeper, schedule string) (*ExpiryScheduler, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return &ExpiryScheduler{sweeper: sweeper, schedule: schedule, now: time.Now}, nil
}

// cronLogger adapts the cron package's logger to zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logging.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logging.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}

// Serve runs the schedule until ctx is cancelled, then waits for a running sweep.
func (s *ExpiryScheduler) Serve(ctx context.Context) error {
	l := cronLogger{}
	c := cron.New(
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
	)
	if _, err := c.AddFunc(s.schedule, func() {
		if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrSweepRunning) {
			logging.Error().Err(err).Msg("scheduled expiry sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule expiry sweep: %w", err)
	}

	c.Start()
	logging.Info().Str("schedule", s.schedule).Msg("expiry scheduler started")
	<-ctx.Done()
	<-c.Stop().Done()
	logging.Info().Msg("expiry scheduler stopped")
	return ctx.Err()
}

// String names the scheduler in supervisor logs.
func (s *ExpiryScheduler) String() string { return "expiry-scheduler" }

// RunOnce sweeps now. It returns ErrSweepRunning if another sweep has not finished.
func (s *ExpiryScheduler) RunOnce(ctx context.Context) (*domain.SweepResult, error) {
	if !s.running.TryLock() {
		return nil, ErrSweepRunning
	}
	defer s.running.Unlock()
	return s.sweeper.SweepExpirations(ctx, s.now())
}
