package redis

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// SlidingWindow is a request counter shared by every process that uses the
// same provider key. Entries older than the window are evicted on each call.
// ⭐ SSOT: 프로세스 간 공유 요청 카운터는 여기서만
type SlidingWindow struct {
	client *Client
	key    string
	window time.Duration
	seq    atomic.Uint64
}

// NewSlidingWindow creates a window counter under "<prefix>:window:<name>"
func NewSlidingWindow(client *Client, prefix, name string, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		client: client,
		key:    fmt.Sprintf("%s:window:%s", prefix, name),
		window: window,
	}
}

var recordScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local member = ARGV[3]
	local window_ms = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, window_ms)
	return redis.call('ZCARD', key)
`)

var countScript = redis.NewScript(`
	local key = KEYS[1]
	local window_start = tonumber(ARGV[1])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
	return redis.call('ZCARD', key)
`)

// Record adds one request at now and returns the count inside the window
func (w *SlidingWindow) Record(ctx context.Context, now time.Time) (int, error) {
	if !w.client.Enabled() {
		return 0, nil
	}

	nowMs := now.UnixMilli()
	member := fmt.Sprintf("%d-%d", now.UnixNano(), w.seq.Add(1))

	n, err := recordScript.Run(ctx, w.client.Redis(), []string{w.key},
		nowMs,
		nowMs-w.window.Milliseconds(),
		member,
		w.window.Milliseconds(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("window record failed: %w", err)
	}

	return n, nil
}

// Count returns the number of requests recorded inside the window ending at now
func (w *SlidingWindow) Count(ctx context.Context, now time.Time) (int, error) {
	if !w.client.Enabled() {
		return 0, nil
	}

	n, err := countScript.Run(ctx, w.client.Redis(), []string{w.key},
		now.UnixMilli()-w.window.Milliseconds(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("window count failed: %w", err)
	}

	return n, nil
}
