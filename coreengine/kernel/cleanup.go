package kernel

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"
)

// CleanupConfig holds cleanup parameters.
type CleanupConfig struct {
	// Interval is how often to run cleanup (default: 5 minutes).
	Interval time.Duration
	// IdleTTL is how long an untouched session is kept. Zero uses the kernel config.
	IdleTTL time.Duration
}

// DefaultCleanupConfig returns default cleanup configuration.
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{Interval: 5 * time.Minute}
}

// Cleanup discards sessions idle for longer than ttl and drops empty rate
// limit windows. It returns the number of sessions discarded.
func (k *Kernel) Cleanup(ctx context.Context, ttl time.Duration) int {
	if ttl <= 0 {
		ttl = k.cfg.SessionIdleTTL()
	}
	cutoff := k.clock.Now().Add(-ttl)

	var stale []string
	for _, info := range k.ListSessions("") {
		if info.LastActivity.Before(cutoff) {
			stale = append(stale, info.SessionID)
		}
	}
	discarded := 0
	for _, id := range stale {
		if k.Discard(ctx, id, ReasonIdle) == nil {
			discarded++
		}
	}
	windows := k.rateLimiter.CleanupExpired()

	k.logger.Debug("cleanup_cycle_completed",
		"sessions_cleaned", discarded,
		"rate_windows_cleaned", windows,
	)
	return discarded
}

// StartCleanupLoop runs Cleanup periodically until the returned stop
// function is called.
func (k *Kernel) StartCleanupLoop(cfg CleanupConfig) func() {
	if cfg.Interval == 0 {
		cfg.Interval = DefaultCleanupConfig().Interval
	}

	ticker := time.NewTicker(cfg.Interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				_ = k.runCleanupCycle(cfg)
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	return func() { close(done) }
}

// runCleanupCycle performs a single cleanup cycle with panic recovery.
func (k *Kernel) runCleanupCycle(cfg CleanupConfig) (err error) {
	defer func() {
		if r := recover(); r != nil {
			k.logger.Error("cleanup_panic_recovered", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic in cleanup: %v", r)
		}
	}()
	k.Cleanup(context.Background(), cfg.IdleTTL)
	return nil
}
