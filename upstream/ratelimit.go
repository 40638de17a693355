// ABOUTME: Shared admission timeline that spaces outbound requests to a per-minute budget
// ABOUTME: One Limiter is built per process and handed to every client that shares the budget
package upstream

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/harperreed/gestor/metrics"
)

// Limiter serializes admission of outbound calls. Each admission starts at
// max(now, next) and pushes next forward by the minimum interval plus a
// small random jitter. Execution of the admitted call is not serialized.
type Limiter struct {
	mu        sync.Mutex
	next      time.Time
	interval  time.Duration
	maxJitter time.Duration

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
}

// NewLimiter builds a limiter for requestsPerMinute. A budget of zero or less
// disables spacing entirely.
func NewLimiter(requestsPerMinute int, maxJitter time.Duration) *Limiter {
	var interval time.Duration
	if requestsPerMinute > 0 {
		interval = time.Minute / time.Duration(requestsPerMinute)
	}
	return &Limiter{
		interval:  interval,
		maxJitter: maxJitter,
		now:       time.Now,
		sleep:     sleepContext,
		jitter:    randomJitter,
	}
}

// Interval is the minimum spacing between two admissions.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}

// Wait blocks until the caller's admission slot or until ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	delay := l.reserve()
	metrics.LimiterWait.Observe(delay.Seconds())
	if delay <= 0 {
		return nil
	}
	return l.sleep(ctx, delay)
}

// reserve claims the next slot on the timeline and returns how long the
// caller has to wait for it.
func (l *Limiter) reserve() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.interval <= 0 {
		return 0
	}

	start := now
	if l.next.After(now) {
		start = l.next
	}
	l.next = start.Add(l.interval + l.jitter(l.maxJitter))

	return start.Sub(now)
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
