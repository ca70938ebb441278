package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultWindow is the sliding window the provider quota is expressed in
const DefaultWindow = time.Minute

// SharedWindow is a cross-process request counter (see pkg/redis.SlidingWindow)
type SharedWindow interface {
	Record(ctx context.Context, now time.Time) (int, error)
	Count(ctx context.Context, now time.Time) (int, error)
}

// RateLimiter tracks request volume in a sliding window and paces outbound calls
// ⭐ SSOT: provider 요청량 추적은 여기서만. 모든 fetch가 동시에 갱신하므로 mu로 직렬화
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	stamps []time.Time // 오래된 순

	shared SharedWindow
	pacer  *rate.Limiter
	now    func() time.Time
}

// Option customizes a RateLimiter
type Option func(*RateLimiter)

// WithSharedWindow mirrors every request into a window shared across processes
func WithSharedWindow(w SharedWindow) Option {
	return func(r *RateLimiter) { r.shared = w }
}

// WithClock overrides the time source (tests)
func WithClock(now func() time.Time) Option {
	return func(r *RateLimiter) { r.now = now }
}

// WithoutPacing disables the token-bucket pacer so Wait only guards the window
func WithoutPacing() Option {
	return func(r *RateLimiter) { r.pacer = nil }
}

// New creates a limiter for limitPerMinute requests per DefaultWindow
func New(limitPerMinute int, opts ...Option) *RateLimiter {
	if limitPerMinute <= 0 {
		limitPerMinute = 1
	}

	burst := limitPerMinute / 10
	if burst < 1 {
		burst = 1
	}

	r := &RateLimiter{
		limit:  limitPerMinute,
		window: DefaultWindow,
		pacer:  rate.NewLimiter(rate.Limit(float64(limitPerMinute)/DefaultWindow.Seconds()), burst),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Limit returns the configured requests per window
func (r *RateLimiter) Limit() int {
	return r.limit
}

// RecordRequest counts one outbound request at the current time
func (r *RateLimiter) RecordRequest(ctx context.Context) {
	now := r.now()

	r.mu.Lock()
	r.evictLocked(now)
	r.stamps = append(r.stamps, now)
	r.mu.Unlock()

	if r.shared != nil {
		// shared window 장애는 로컬 카운트로 대체
		_, _ = r.shared.Record(ctx, now)
	}
}

// Count returns the number of requests inside the window
func (r *RateLimiter) Count() int {
	now := r.now()

	r.mu.Lock()
	r.evictLocked(now)
	n := len(r.stamps)
	r.mu.Unlock()

	if r.shared != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		if shared, err := r.shared.Count(ctx, now); err == nil && shared > n {
			n = shared
		}
	}

	return n
}

// UsagePercent returns requestsInWindow / limit (1.0 == quota exhausted)
func (r *RateLimiter) UsagePercent() float64 {
	return float64(r.Count()) / float64(r.limit)
}

// NextBatchSize sizes the next batch from the current window usage
func (r *RateLimiter) NextBatchSize(remaining int) (int, Mode) {
	return NextBatchSize(r.UsagePercent(), r.limit, remaining)
}

// Wait blocks until one more request fits both the pacer and the window
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r.pacer != nil {
		if err := r.pacer.Wait(ctx); err != nil {
			return err
		}
	}

	for {
		delay := r.windowDelay()
		if delay <= 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Acquire waits for room and records one outbound request.
// Every upstream attempt (retries included) must go through here.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	if err := r.Wait(ctx); err != nil {
		return err
	}
	r.RecordRequest(ctx)
	return nil
}

// windowDelay returns how long until the oldest request leaves a full window
func (r *RateLimiter) windowDelay() time.Duration {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictLocked(now)
	if len(r.stamps) < r.limit {
		return 0
	}

	return r.stamps[0].Add(r.window).Sub(now)
}

func (r *RateLimiter) evictLocked(now time.Time) {
	cutoff := now.Add(-r.window)
	i := 0
	for i < len(r.stamps) && !r.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		r.stamps = append(r.stamps[:0], r.stamps[i:]...)
	}
}
