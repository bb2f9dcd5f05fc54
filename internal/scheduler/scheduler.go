// Package scheduler runs the background token sweep: a bulk refresh of
// connections about to expire followed by cleanup of long-stale ones.
package scheduler

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"melody-map/internal/common/logging"
	"melody-map/internal/locks"
	"melody-map/internal/tokens"
)

const (
	DefaultInterval  = 30 * time.Minute
	DefaultRetention = tokens.DefaultStaleRetention

	DefaultSweepLockTTL = 10 * time.Minute
)

// Sweeper is the work done on every tick. *tokens.Manager implements it.
type Sweeper interface {
	RefreshExpiring(ctx context.Context) (tokens.RefreshStats, error)
	DeactivateStale(ctx context.Context, retention time.Duration) (int64, error)
}

type Config struct {
	Interval  time.Duration
	Retention time.Duration
}

// Status is a snapshot for health reporting
type Status struct {
	Running     bool                `json:"running"`
	Sweeps      int64               `json:"sweeps"`
	LastSweep   time.Time           `json:"last_sweep,omitempty"`
	LastStats   tokens.RefreshStats `json:"last_stats"`
	LastExpired int64               `json:"last_expired"`
}

// Scheduler is a long-lived service object with stopped and running states.
// Start and Stop are idempotent.
type Scheduler struct {
	sweeper  Sweeper
	config   Config
	schedule cron.Schedule
	locker   locks.Locker
	lockTTL  time.Duration
	logger   logging.Logger

	mu      sync.Mutex
	running bool
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	statusMu sync.RWMutex
	status   Status
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithLocker makes only one instance sweep per tick
func WithLocker(locker locks.Locker) Option {
	return func(s *Scheduler) {
		s.locker = locker
	}
}

// WithSweepLockTTL sets the sweep lock expiry. The lock is extended every
// third of the TTL while a sweep runs.
func WithSweepLockTTL(ttl time.Duration) Option {
	return func(s *Scheduler) {
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

func WithLogger(logger logging.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithSchedule replaces the fixed interval schedule
func WithSchedule(schedule cron.Schedule) Option {
	return func(s *Scheduler) {
		s.schedule = schedule
	}
}

func New(sweeper Sweeper, config Config, opts ...Option) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Retention <= 0 {
		config.Retention = DefaultRetention
	}

	s := &Scheduler{
		sweeper: sweeper,
		config:  config,
		lockTTL: DefaultSweepLockTTL,
		logger:  logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "scheduler"}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.schedule == nil {
		s.schedule = cron.Every(config.Interval)
	}
	return s
}

// Start runs one sweep immediately and then one per interval.
// Calling Start on a running scheduler does nothing.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	logger := cronLogger{logger: s.logger}
	s.cron = cron.New(cron.WithLogger(logger))

	// One wrapped job so the immediate sweep and ticks never overlap.
	// Recover sits inside the skip guard so a panic still frees the slot.
	job := cron.NewChain(cron.SkipIfStillRunning(logger), cron.Recover(logger)).Then(cron.FuncJob(s.sweep))
	s.cron.Schedule(s.schedule, job)
	s.cron.Start()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		job.Run()
	}()

	s.running = true
	s.setRunning(true)
	s.logger.Info("Token scheduler started", logging.Field{Key: "interval", Value: s.config.Interval.String()})
}

// Stop cancels the timer and waits for a sweep in progress to finish.
// Calling Stop on a stopped scheduler does nothing.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()

	s.running = false
	s.cron = nil
	s.setRunning(false)
	s.logger.Info("Token scheduler stopped")
}

// IsRunning reports whether the scheduler is started
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// EntryCount returns the number of armed timers: 1 while running, 0 when stopped
func (s *Scheduler) EntryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return 0
	}
	return len(s.cron.Entries())
}

func (s *Scheduler) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

func (s *Scheduler) setRunning(running bool) {
	s.statusMu.Lock()
	s.status.Running = running
	s.statusMu.Unlock()
}

// keepLock extends the sweep lock until done closes, so long sweeps are not
// joined by another instance once the first TTL runs out.
func (s *Scheduler) keepLock(lock locks.Lock, done <-chan struct{}) {
	ticker := time.NewTicker(s.lockTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := lock.Extend(context.Background()); err != nil {
				s.logger.Warn("Failed to extend sweep lock", logging.Field{Key: "error", Value: err.Error()})
				return
			}
		}
	}
}

// sweep runs bulk refresh then cleanup. Errors are logged; panics are recovered by the job chain.
func (s *Scheduler) sweep() {
	ctx := s.ctx
	if ctx.Err() != nil {
		return
	}

	if s.locker != nil {
		lock, err := s.locker.TryLock(ctx, locks.SweepLockKey, s.lockTTL)
		if err != nil {
			if stderrors.Is(err, locks.ErrNotAcquired) {
				s.logger.Debug("Sweep already running on another instance")
			} else {
				s.logger.Warn("Could not acquire sweep lock, skipping", logging.Field{Key: "error", Value: err.Error()})
			}
			return
		}
		defer func() {
			if err := lock.Release(context.Background()); err != nil {
				s.logger.Warn("Failed to release sweep lock", logging.Field{Key: "error", Value: err.Error()})
			}
		}()

		done := make(chan struct{})
		defer close(done)
		go s.keepLock(lock, done)
	}

	start := time.Now()

	stats, err := s.sweeper.RefreshExpiring(ctx)
	if err != nil {
		s.logger.Error("Bulk token refresh failed", err)
	}

	expired, err := s.sweeper.DeactivateStale(ctx, s.config.Retention)
	if err != nil {
		s.logger.Error("Stale connection cleanup failed", err)
	}

	s.statusMu.Lock()
	s.status.Sweeps++
	s.status.LastSweep = start
	s.status.LastStats = stats
	s.status.LastExpired = expired
	s.statusMu.Unlock()

	s.logger.Info("Token sweep finished",
		logging.Field{Key: "duration", Value: time.Since(start).String()},
		logging.Field{Key: "refreshed", Value: stats.Succeeded},
		logging.Field{Key: "failed", Value: stats.Failed},
		logging.Field{Key: "expired", Value: expired},
	)
}
