// ABOUTME: Periodic sync scheduler with an overlap guard
// ABOUTME: Coalesces concurrent triggers in-process and holds a database lock across processes
package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/singleflight"

	"github.com/harperreed/gestor/metrics"
	"github.com/harperreed/gestor/models"
)

const (
	DefaultInterval = 3 * time.Hour
	MinInterval     = 5 * time.Minute
	DefaultLockTTL  = 6 * time.Hour

	flightKey = "sync"
)

// ErrSyncInProgress is returned when another process holds the sync lock.
var ErrSyncInProgress = errors.New("another sync is already in progress")

// Runner executes one sync run. *Engine satisfies it.
type Runner interface {
	Run(ctx context.Context, opts RunOptions) (*RunSummary, error)
}

// Locker guards runs across processes sharing one database. *db.Store
// satisfies it.
type Locker interface {
	AcquireSyncLock(ctx context.Context, owner string, ttl time.Duration) (bool, error)
	ReleaseSyncLock(ctx context.Context, owner string) error
}

type SchedulerConfig struct {
	Interval time.Duration
	// InitialRun syncs once as soon as Run starts; InitialFull makes that
	// first pass a full resync.
	InitialRun  bool
	InitialFull bool
	LockTTL     time.Duration
	Owner       string
	Logger      *log.Logger
}

// Scheduler serializes every sync trigger of the process: ticks, HTTP and
// MCP requests all go through Trigger.
type Scheduler struct {
	runner Runner
	locker Locker
	cfg    SchedulerConfig
	logger *log.Logger

	group    singleflight.Group
	running  atomic.Bool
	lastRun  atomic.Pointer[RunSummary]
	lifetime atomic.Pointer[lifetime]
}

// lifetime is the context runs are bound to instead of the triggering caller.
type lifetime struct {
	ctx context.Context
}

// NewScheduler validates cfg. locker may be nil when only one process uses
// the database.
func NewScheduler(runner Runner, locker Locker, cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Interval < MinInterval {
		return nil, fmt.Errorf("interval must be at least %s, got %s", MinInterval, cfg.Interval)
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	if cfg.Owner == "" {
		cfg.Owner = defaultOwner()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	return &Scheduler{
		runner: runner,
		locker: locker,
		cfg:    cfg,
		logger: logger.With("component", "scheduler"),
	}, nil
}

func defaultOwner() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "gestor"
	}
	return fmt.Sprintf("%s:%d:%s", host, os.Getpid(), ulid.Make().String())
}

// Interval is the configured tick period.
func (s *Scheduler) Interval() time.Duration {
	return s.cfg.Interval
}

// Running reports whether this process has a run in flight.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// LastRun returns the summary of the last run this scheduler finished, or nil.
func (s *Scheduler) LastRun() *RunSummary {
	return s.lastRun.Load()
}

// Bind ties runs to ctx: while bound, a run keeps going when the caller
// that started it goes away, and stops when ctx is done. Unbound runs use
// the leading caller's context. Call the returned func to unbind.
func (s *Scheduler) Bind(ctx context.Context) func() {
	life := &lifetime{ctx: ctx}
	s.lifetime.Store(life)
	return func() {
		s.lifetime.CompareAndSwap(life, nil)
	}
}

func (s *Scheduler) runContext(caller context.Context) (context.Context, context.CancelFunc) {
	life := s.lifetime.Load()
	if life == nil {
		return context.WithCancel(caller)
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(caller))
	stop := context.AfterFunc(life.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Trigger runs a sync now. When a run is already in flight in this process
// the caller joins it instead of starting another, and joined is true. A
// caller whose ctx ends stops waiting; the run itself is not cancelled when
// the scheduler is bound.
//
// A full run requested while an incremental run is in flight waits for it
// and then starts the full run.
func (s *Scheduler) Trigger(ctx context.Context, opts RunOptions) (summary *RunSummary, joined bool, err error) {
	var led atomic.Bool
	ch := s.group.DoChan(flightKey, func() (any, error) {
		led.Store(true)
		runCtx, cancel := s.runContext(ctx)
		defer cancel()
		return s.runLocked(runCtx, opts)
	})

	select {
	case res := <-ch:
		summary, _ = res.Val.(*RunSummary)
		err = res.Err
	case <-ctx.Done():
		return nil, !led.Load(), ctx.Err()
	}

	if led.Load() {
		return summary, false, err
	}
	metrics.CoalescedTriggers.Inc()
	s.logger.Info("sync trigger joined run in flight", "trigger", opts.Trigger)

	if opts.Full && (summary == nil || !summary.Full) && !errors.Is(err, ErrSyncInProgress) {
		s.logger.Info("joined run was incremental, starting requested full run", "trigger", opts.Trigger)
		summary, _, err = s.Trigger(ctx, opts)
	}
	return summary, true, err
}

func (s *Scheduler) runLocked(ctx context.Context, opts RunOptions) (*RunSummary, error) {
	if s.locker != nil {
		ok, err := s.locker.AcquireSyncLock(ctx, s.cfg.Owner, s.cfg.LockTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire sync lock: %w", err)
		}
		if !ok {
			return nil, ErrSyncInProgress
		}
		defer func() {
			if err := s.locker.ReleaseSyncLock(context.WithoutCancel(ctx), s.cfg.Owner); err != nil {
				s.logger.Error("failed to release sync lock", "error", err)
			}
		}()
	}

	s.running.Store(true)
	defer s.running.Store(false)

	summary, err := s.runner.Run(ctx, opts)
	if summary != nil {
		s.lastRun.Store(summary)
	}
	return summary, err
}

// Run syncs every Interval until ctx is done. Ticks are handled inline, so
// a slow run delays the next tick instead of stacking up.
func (s *Scheduler) Run(ctx context.Context) error {
	defer s.Bind(ctx)()
	s.logger.Info("scheduler started", "interval", s.cfg.Interval, "initial_run", s.cfg.InitialRun)

	if s.cfg.InitialRun {
		s.tick(ctx, RunOptions{Full: s.cfg.InitialFull, Trigger: models.TriggerScheduler})
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx, RunOptions{Trigger: models.TriggerScheduler})
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, opts RunOptions) {
	if ctx.Err() != nil {
		return
	}
	summary, joined, err := s.Trigger(ctx, opts)
	switch {
	case errors.Is(err, ErrSyncInProgress):
		s.logger.Info("skipping tick, another process is syncing")
	case err != nil:
		s.logger.Warn("scheduled sync finished with errors", "error", err)
	case summary != nil && !joined:
		s.logger.Info("scheduled sync complete", "run_id", summary.RunID, "status", summary.Status)
	}
}
