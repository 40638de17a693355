// ABOUTME: Tests for the sync scheduler overlap guard and tick loop
// ABOUTME: Uses a blocking fake runner to observe trigger coalescing and lock contention
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/harperreed/gestor/models"
)

type fakeRunner struct {
	calls     atomic.Int32
	active    atomic.Int32
	maxActive atomic.Int32
	lastFull  atomic.Bool
	started   chan struct{}
	release   chan struct{}
	err       error
}

func (r *fakeRunner) Run(ctx context.Context, opts RunOptions) (*RunSummary, error) {
	n := r.active.Add(1)
	defer r.active.Add(-1)
	for {
		m := r.maxActive.Load()
		if n <= m || r.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	call := r.calls.Add(1)
	r.lastFull.Store(opts.Full)

	if r.started != nil {
		select {
		case r.started <- struct{}{}:
		default:
		}
	}
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &RunSummary{RunID: fmt.Sprintf("run-%d", call), Trigger: opts.Trigger, Full: opts.Full, Status: models.RunStatusOK}, r.err
}

func mustScheduler(t *testing.T, runner Runner, locker Locker, cfg SchedulerConfig) *Scheduler {
	t.Helper()
	s, err := NewScheduler(runner, locker, cfg)
	require.NoError(t, err)
	return s
}

func TestNewSchedulerInterval(t *testing.T) {
	s := mustScheduler(t, &fakeRunner{}, nil, SchedulerConfig{})
	assert.Equal(t, DefaultInterval, s.Interval())
	assert.NotEmpty(t, s.cfg.Owner)
	assert.Equal(t, DefaultLockTTL, s.cfg.LockTTL)

	s = mustScheduler(t, &fakeRunner{}, nil, SchedulerConfig{Interval: MinInterval})
	assert.Equal(t, MinInterval, s.Interval())

	_, err := NewScheduler(&fakeRunner{}, nil, SchedulerConfig{Interval: time.Minute})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least")
}

func TestConcurrentTriggersShareOneRun(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	runner := &fakeRunner{started: make(chan struct{}, 1), release: make(chan struct{})}
	s := mustScheduler(t, runner, nil, SchedulerConfig{})
	ctx := context.Background()

	const callers = 5
	summaries := make([]*RunSummary, callers)
	joined := make([]bool, callers)

	var g errgroup.Group
	g.Go(func() error {
		var err error
		summaries[0], joined[0], err = s.Trigger(ctx, RunOptions{Trigger: models.TriggerHTTP})
		return err
	})
	<-runner.started
	assert.True(t, s.Running())

	for i := 1; i < callers; i++ {
		g.Go(func() error {
			var err error
			summaries[i], joined[i], err = s.Trigger(ctx, RunOptions{Trigger: models.TriggerMCP})
			return err
		})
	}
	time.Sleep(50 * time.Millisecond)
	close(runner.release)
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), runner.calls.Load())
	assert.Equal(t, int32(1), runner.maxActive.Load())
	assert.False(t, joined[0])
	for i := 1; i < callers; i++ {
		assert.True(t, joined[i], "caller %d", i)
		assert.Same(t, summaries[0], summaries[i])
	}
	assert.False(t, s.Running())
	assert.Same(t, summaries[0], s.LastRun())
}

func TestSequentialTriggersRunAgain(t *testing.T) {
	runner := &fakeRunner{}
	s := mustScheduler(t, runner, nil, SchedulerConfig{})

	first, joined, err := s.Trigger(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.False(t, joined)
	second, _, err := s.Trigger(context.Background(), RunOptions{Full: true})
	require.NoError(t, err)

	assert.Equal(t, int32(2), runner.calls.Load())
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.True(t, runner.lastFull.Load())
}

func TestTriggerReturnsRunErrorWithSummary(t *testing.T) {
	runner := &fakeRunner{err: errors.New("processes: upstream down")}
	s := mustScheduler(t, runner, nil, SchedulerConfig{})

	summary, _, err := s.Trigger(context.Background(), RunOptions{})
	require.Error(t, err)
	require.NotNil(t, summary)
	assert.Same(t, summary, s.LastRun())
}

func TestTriggerRespectsDatabaseLock(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	runner := &fakeRunner{}
	s := mustScheduler(t, runner, store, SchedulerConfig{Owner: "daemon-a"})

	ok, err := store.AcquireSyncLock(ctx, "daemon-b", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	_, _, err = s.Trigger(ctx, RunOptions{})
	assert.ErrorIs(t, err, ErrSyncInProgress)
	assert.Zero(t, runner.calls.Load())

	require.NoError(t, store.ReleaseSyncLock(ctx, "daemon-b"))

	_, _, err = s.Trigger(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), runner.calls.Load())

	holder, err := store.SyncLockHolder(ctx)
	require.NoError(t, err)
	assert.Empty(t, holder, "lock is released after the run")
}

func TestRunTicksUntilCancelled(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	runner := &fakeRunner{}
	s := mustScheduler(t, runner, nil, SchedulerConfig{InitialRun: true, InitialFull: true})
	s.cfg.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return runner.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
	assert.Equal(t, int32(1), runner.maxActive.Load())
	assert.False(t, runner.lastFull.Load(), "only the initial run is full")
}

func TestRunWithoutInitialRunWaitsForTick(t *testing.T) {
	runner := &fakeRunner{}
	s := mustScheduler(t, runner, nil, SchedulerConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))
	assert.Zero(t, runner.calls.Load())
}

func TestBoundRunOutlivesLeadingCaller(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	runner := &fakeRunner{started: make(chan struct{}, 1), release: make(chan struct{})}
	s := mustScheduler(t, runner, nil, SchedulerConfig{})
	unbind := s.Bind(context.Background())
	defer unbind()

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, _, err := s.Trigger(leaderCtx, RunOptions{Trigger: models.TriggerHTTP})
		leaderErr <- err
	}()
	<-runner.started

	type result struct {
		summary *RunSummary
		joined  bool
		err     error
	}
	follower := make(chan result, 1)
	go func() {
		summary, joined, err := s.Trigger(context.Background(), RunOptions{Trigger: models.TriggerMCP})
		follower <- result{summary, joined, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelLeader()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)
	assert.True(t, s.Running(), "the run keeps going without its leader")

	close(runner.release)
	got := <-follower
	require.NoError(t, got.err)
	assert.True(t, got.joined)
	require.NotNil(t, got.summary)
	assert.Equal(t, "run-1", got.summary.RunID)
	assert.Equal(t, int32(1), runner.calls.Load())
}

func TestBoundRunStopsWithScheduler(t *testing.T) {
	runner := &fakeRunner{started: make(chan struct{}, 1), release: make(chan struct{})}
	s := mustScheduler(t, runner, nil, SchedulerConfig{})
	life, stop := context.WithCancel(context.Background())
	defer s.Bind(life)()

	done := make(chan error, 1)
	go func() {
		_, _, err := s.Trigger(context.Background(), RunOptions{})
		done <- err
	}()
	<-runner.started
	stop()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop with the scheduler")
	}
}

func TestFullTriggerJoiningIncrementalRunsFullAfterwards(t *testing.T) {
	runner := &fakeRunner{started: make(chan struct{}, 1), release: make(chan struct{})}
	s := mustScheduler(t, runner, nil, SchedulerConfig{})

	incremental := make(chan error, 1)
	go func() {
		_, _, err := s.Trigger(context.Background(), RunOptions{Trigger: models.TriggerScheduler})
		incremental <- err
	}()
	<-runner.started

	full := make(chan *RunSummary, 1)
	go func() {
		summary, joined, err := s.Trigger(context.Background(), RunOptions{Trigger: models.TriggerHTTP, Full: true})
		assert.NoError(t, err)
		assert.True(t, joined)
		full <- summary
	}()
	time.Sleep(20 * time.Millisecond)
	close(runner.release)

	require.NoError(t, <-incremental)
	summary := <-full
	require.NotNil(t, summary)
	assert.True(t, summary.Full)
	assert.Equal(t, "run-2", summary.RunID)
	assert.Equal(t, int32(2), runner.calls.Load())
	assert.True(t, runner.lastFull.Load())
}
