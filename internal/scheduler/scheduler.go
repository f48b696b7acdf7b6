// Package scheduler triggers the periodic scrape cycle. There is a single
// job slot: changing the interval replaces the entry, never adds one.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "uesbot/internal/log"
)

// Interval bounds.
const (
	MinInterval = time.Second
	MaxInterval = 24 * time.Hour
)

// ErrNotStarted is returned by SetInterval before Start.
var ErrNotStarted = errors.New("scheduler: not started")

// Job is the periodic work. It receives the scheduler's context.
type Job func(ctx context.Context)

// cronLogger adapts appLog to cron.Logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	appLog.Error("cron: "+msg, err, kv...)
}

// Scheduler runs Job every interval.
type Scheduler struct {
	ctx  context.Context
	job  Job
	cron *cron.Cron

	mu       sync.Mutex
	entry    cron.EntryID
	interval time.Duration
	started  bool
}

// New returns a stopped scheduler. ctx is handed to every job run.
func New(ctx context.Context, job Job) *Scheduler {
	logger := cronLogger{}
	return &Scheduler{
		ctx: ctx,
		job: job,
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
	}
}

func validate(d time.Duration) error {
	if d < MinInterval || d > MaxInterval {
		return fmt.Errorf("scheduler: interval %s out of range [%s, %s]", d, MinInterval, MaxInterval)
	}
	return nil
}

// Start schedules the job every interval, starts the cron loop and runs the
// job once immediately.
func (s *Scheduler) Start(interval time.Duration) error {
	if err := validate(interval); err != nil {
		return err
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return s.SetInterval(interval)
	}
	s.replace(interval)
	s.started = true
	s.cron.Start()
	s.mu.Unlock()

	appLog.Info("scheduler started", "interval", interval)
	s.runNow()
	return nil
}

// SetInterval atomically swaps the periodic entry for one at the new
// interval and runs the job once immediately.
func (s *Scheduler) SetInterval(interval time.Duration) error {
	if err := validate(interval); err != nil {
		return err
	}

	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	prev := s.interval
	s.replace(interval)
	s.mu.Unlock()

	appLog.Info("scheduler interval changed", "from", prev, "to", interval)
	s.runNow()
	return nil
}

// replace must be called with mu held.
func (s *Scheduler) replace(interval time.Duration) {
	if s.entry != 0 {
		s.cron.Remove(s.entry)
	}
	s.entry = s.cron.Schedule(cron.Every(interval), cron.FuncJob(func() {
		s.job(s.ctx)
	}))
	s.interval = interval
}

func (s *Scheduler) runNow() {
	go s.job(s.ctx)
}

// Interval returns the current interval (zero before Start).
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Next returns the next scheduled run, or the zero time.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry == 0 {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

// Entries returns the number of scheduled entries; it is at most one.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Stop stops the cron loop and waits for a running job to finish or ctx to
// expire.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()
	if !started {
		return
	}

	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		appLog.Warn("scheduler stop timed out waiting for the running job")
	}
}
