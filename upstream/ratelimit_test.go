// ABOUTME: Tests for the shared request admission timeline
// ABOUTME: Uses a fake clock to check spacing, jitter and cancellation
package upstream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newFakeLimiter(rpm int) (*Limiter, *fakeClock, *sleepRecorder) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	rec := &sleepRecorder{}
	l := NewLimiter(rpm, 0)
	l.now = clock.Now
	l.sleep = rec.sleep
	l.jitter = func(time.Duration) time.Duration { return 0 }
	return l, clock, rec
}

func TestLimiterInterval(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, NewLimiter(120, 0).Interval())
	assert.Equal(t, time.Second, NewLimiter(60, 0).Interval())
	assert.Zero(t, NewLimiter(0, 0).Interval())
}

func TestLimiterSpacesConsecutiveAdmissions(t *testing.T) {
	l, _, rec := newFakeLimiter(60)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, l.Wait(ctx))
	}

	// The first admission is immediate and is not recorded as a sleep.
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, rec.recorded())
}

func TestLimiterIdleTimeIsNotBanked(t *testing.T) {
	l, clock, rec := newFakeLimiter(60)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx))
	clock.Advance(10 * time.Second)
	require.NoError(t, l.Wait(ctx))
	require.NoError(t, l.Wait(ctx))

	assert.Equal(t, []time.Duration{time.Second}, rec.recorded())
}

func TestLimiterAddsJitterToSpacing(t *testing.T) {
	l, _, rec := newFakeLimiter(60)
	l.jitter = func(time.Duration) time.Duration { return 200 * time.Millisecond }
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx))
	require.NoError(t, l.Wait(ctx))

	assert.Equal(t, []time.Duration{1200 * time.Millisecond}, rec.recorded())
}

func TestLimiterDisabledNeverWaits(t *testing.T) {
	l, _, rec := newFakeLimiter(0)
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}
	assert.Empty(t, rec.recorded())
}

func TestLimiterHonorsCancelledContext(t *testing.T) {
	l, _, rec := newFakeLimiter(60)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, l.Wait(ctx), context.Canceled)
	assert.Empty(t, rec.recorded())
}

func TestLimiterConcurrentCallersGetDistinctSlots(t *testing.T) {
	l, _, rec := newFakeLimiter(60)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Wait(ctx)
		}()
	}
	wg.Wait()

	delays := rec.recorded()
	require.Len(t, delays, 4)
	assert.ElementsMatch(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 4 * time.Second}, delays)
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), 0))
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
