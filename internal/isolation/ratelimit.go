package isolation

import (
	"sync"
	"time"
)

// RateLimiterConfig mirrors the teacher middleware's sliding-window
// parameters.
type RateLimiterConfig struct {
	MaxRequests     int
	Window          time.Duration
	CleanupInterval time.Duration
}

type callerWindow struct {
	mu         sync.Mutex
	timestamps []time.Time
}

// RateLimiter is a per-caller sliding-window limiter. The caller
// identifier is always user_id (see NewDefaultRateLimiter) — conversation
// id is deliberately not used as the key, since the limiter bounds a
// caller's total request rate rather than any one conversation's.
type RateLimiter struct {
	config  RateLimiterConfig
	windows sync.Map // map[string]*callerWindow
	nowFunc func() time.Time
	stopCh  chan struct{}
}

func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.CleanupInterval == 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	rl := &RateLimiter{config: config, nowFunc: time.Now, stopCh: make(chan struct{})}
	go rl.cleanup()
	return rl
}

// NewDefaultRateLimiter applies the documented deployment defaults:
// 100 requests per 60-second window, keyed by user_id.
func NewDefaultRateLimiter() *RateLimiter {
	return NewRateLimiter(RateLimiterConfig{MaxRequests: 100, Window: 60 * time.Second})
}

func (rl *RateLimiter) Stop() { close(rl.stopCh) }

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			cutoff := rl.nowFunc().Add(-rl.config.Window)
			rl.windows.Range(func(key, value any) bool {
				cw := value.(*callerWindow)
				cw.mu.Lock()
				cw.timestamps = pruneExpired(cw.timestamps, cutoff)
				empty := len(cw.timestamps) == 0
				cw.mu.Unlock()
				if empty {
					rl.windows.Delete(key)
				}
				return true
			})
		}
	}
}

// Allow checks whether userID is within its rate limit, returning
// (allowed, retryAfterSeconds).
func (rl *RateLimiter) Allow(userID string) (bool, int) {
	now := rl.nowFunc()
	cutoff := now.Add(-rl.config.Window)

	val, _ := rl.windows.LoadOrStore(userID, &callerWindow{})
	cw := val.(*callerWindow)

	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.timestamps = pruneExpired(cw.timestamps, cutoff)
	if len(cw.timestamps) >= rl.config.MaxRequests {
		retryAfter := 1
		if len(cw.timestamps) > 0 {
			oldest := cw.timestamps[0]
			retryAfter = int(oldest.Add(rl.config.Window).Sub(now).Seconds()) + 1
		}
		if retryAfter < 1 {
			retryAfter = 1
		}
		return false, retryAfter
	}
	cw.timestamps = append(cw.timestamps, now)
	return true, 0
}

// Remaining reports how many requests userID has left in the current
// window, for diagnostics.
func (rl *RateLimiter) Remaining(userID string) int {
	val, ok := rl.windows.Load(userID)
	if !ok {
		return rl.config.MaxRequests
	}
	cw := val.(*callerWindow)
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cutoff := rl.nowFunc().Add(-rl.config.Window)
	cw.timestamps = pruneExpired(cw.timestamps, cutoff)
	remaining := rl.config.MaxRequests - len(cw.timestamps)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func pruneExpired(timestamps []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for _, t := range timestamps {
		if !t.Before(cutoff) {
			timestamps[idx] = t
			idx++
		}
	}
	return timestamps[:idx]
}
