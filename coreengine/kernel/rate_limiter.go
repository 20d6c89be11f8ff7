// Rate limiting for session starts, using a sliding window per user,
// endpoint, and window length (minute, hour). Safe for concurrent use.

package kernel

import (
	"sort"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/onboarding/commbus"
)

// =============================================================================
// Rate Limit Config & Result
// =============================================================================

// RateLimitConfig defines how many sessions a user may start.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute"`
	RequestsPerHour   int `json:"requests_per_hour"`
}

// DefaultRateLimitConfig returns sensible defaults.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerMinute: 10,
		RequestsPerHour:   60,
	}
}

// RateLimitResult represents the result of a rate limit check.
type RateLimitResult struct {
	Allowed    bool          `json:"allowed"`
	LimitType  string        `json:"limit_type,omitempty"` // "minute", "hour"
	Current    int           `json:"current"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// ExceededLimit creates a rate limit exceeded result.
func ExceededLimit(limitType string, current, limit int, retryAfter time.Duration) *RateLimitResult {
	return &RateLimitResult{
		LimitType:  limitType,
		Current:    current,
		Limit:      limit,
		RetryAfter: retryAfter,
	}
}

// AllowedResult creates an allowed result.
func AllowedResult(remaining int) *RateLimitResult {
	return &RateLimitResult{Allowed: true, Remaining: remaining}
}

// =============================================================================
// Sliding Window
// =============================================================================

const bucketsPerWindow = 10

// SlidingWindow counts events over a trailing window using sub-buckets.
type SlidingWindow struct {
	window  time.Duration
	buckets map[int64]int
	mu      sync.Mutex
}

// NewSlidingWindow creates a new sliding window.
func NewSlidingWindow(window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		window:  window,
		buckets: make(map[int64]int),
	}
}

func (w *SlidingWindow) bucketSize() time.Duration {
	return w.window / bucketsPerWindow
}

func (w *SlidingWindow) bucketOf(t time.Time) int64 {
	return t.UnixNano() / int64(w.bucketSize())
}

// Record records an event at now and returns the count including it.
func (w *SlidingWindow) Record(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	// Clean up old buckets
	w.pruneLocked(now)

	// Record in current bucket
	w.buckets[w.bucketOf(now)]++
	return w.countLocked(now)
}

// Count returns the number of events inside the window ending at now.
func (w *SlidingWindow) Count(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.countLocked(now)
}

func (w *SlidingWindow) pruneLocked(now time.Time) {
	minBucket := w.bucketOf(now) - bucketsPerWindow
	for b := range w.buckets {
		if b < minBucket {
			delete(w.buckets, b)
		}
	}
}

func (w *SlidingWindow) countLocked(now time.Time) int {
	minBucket := w.bucketOf(now) - bucketsPerWindow
	count := 0
	for b, c := range w.buckets {
		if b >= minBucket {
			count += c
		}
	}
	return count
}

// RetryAfter returns how long until the count drops below limit.
func (w *SlidingWindow) RetryAfter(now time.Time, limit int) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	current := w.countLocked(now)
	if current < limit {
		return 0
	}

	// Collect and sort live buckets, oldest first
	minBucket := w.bucketOf(now) - bucketsPerWindow
	live := make([]int64, 0, len(w.buckets))
	for b := range w.buckets {
		if b >= minBucket {
			live = append(live, b)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i] < live[j] })

	// Walk forward until enough requests have expired
	excess := current - limit + 1
	expired := 0
	size := int64(w.bucketSize())
	for _, b := range live {
		expired += w.buckets[b]
		if expired >= excess {
			// A bucket leaves the window bucketsPerWindow+1 buckets after it started.
			leaves := time.Unix(0, (b+bucketsPerWindow+1)*size)
			if d := leaves.Sub(now); d > 0 {
				return d
			}
			return 0
		}
	}
	return w.window
}

// Empty reports whether the window holds no events at now.
func (w *SlidingWindow) Empty(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(now)
	return len(w.buckets) == 0
}

// =============================================================================
// Rate Limiter
// =============================================================================

type windowKey struct {
	userID     string
	endpoint   string
	windowType string
}

// RateLimiter limits requests per user and endpoint.
type RateLimiter struct {
	config  *RateLimitConfig
	clock   commbus.Clock
	windows map[windowKey]*SlidingWindow
	mu      sync.Mutex
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(config *RateLimitConfig, clock commbus.Clock) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if clock == nil {
		clock = commbus.SystemClock{}
	}
	return &RateLimiter{
		config:  config,
		clock:   clock,
		windows: make(map[windowKey]*SlidingWindow),
	}
}

type windowCheck struct {
	windowType string
	window     time.Duration
	limit      int
}

func (r *RateLimiter) checks() []windowCheck {
	return []windowCheck{
		{"minute", time.Minute, r.config.RequestsPerMinute},
		{"hour", time.Hour, r.config.RequestsPerHour},
	}
}

// CheckRateLimit checks a request and, if allowed and record is set, counts it.
// Limits of zero or less are not enforced.
func (r *RateLimiter) CheckRateLimit(userID, endpoint string, record bool) *RateLimitResult {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Check each window
	for _, c := range r.checks() {
		if c.limit <= 0 {
			continue
		}
		w := r.windowLocked(windowKey{userID, endpoint, c.windowType}, c.window)
		if current := w.Count(now); current >= c.limit {
			return ExceededLimit(c.windowType, current, c.limit, w.RetryAfter(now, c.limit))
		}
	}

	if record {
		for _, c := range r.checks() {
			if c.limit <= 0 {
				continue
			}
			r.windowLocked(windowKey{userID, endpoint, c.windowType}, c.window).Record(now)
		}
	}

	remaining := r.config.RequestsPerMinute
	if w, ok := r.windows[windowKey{userID, endpoint, "minute"}]; ok {
		remaining -= w.Count(now)
		if remaining < 0 {
			remaining = 0
		}
	}
	return AllowedResult(remaining)
}

func (r *RateLimiter) windowLocked(key windowKey, window time.Duration) *SlidingWindow {
	w, ok := r.windows[key]
	if !ok {
		w = NewSlidingWindow(window)
		r.windows[key] = w
	}
	return w
}

// ResetUser drops every window for a user and returns how many were removed.
func (r *RateLimiter) ResetUser(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for key := range r.windows {
		if key.userID == userID {
			delete(r.windows, key)
			count++
		}
	}
	return count
}

// CleanupExpired drops windows with no live events.
func (r *RateLimiter) CleanupExpired() int {
	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	cleaned := 0
	for key, w := range r.windows {
		if w.Empty(now) {
			delete(r.windows, key)
			cleaned++
		}
	}
	return cleaned
}

// WindowCount returns the number of tracked windows.
func (r *RateLimiter) WindowCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.windows)
}
