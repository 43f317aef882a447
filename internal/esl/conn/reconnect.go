package conn

import (
	"context"
	"time"
)

// Reconnect retries Dial at cfg.ReconnectDelay intervals according to
// cfg.Autorecon (spec.md §4.2 "Reconnect"): false performs one attempt and
// returns its result, true retries indefinitely until ctx is cancelled or
// an attempt succeeds, and a positive int bounds the retry count. On
// success, resubscribe is invoked with the previously subscribed event
// names so the caller can re-issue them (the teacher's health-check loop
// in services/signaling/transport/pool.go is the model for this
// plain-ticker retry shape — no exponential backoff).
func (c *Connection) Reconnect(ctx context.Context, resubscribe func(names []string)) error {
	previousSubs := c.Subscriptions()
	if len(previousSubs) == 0 {
		// teardown moves the live subscription set aside when the transport
		// drops; recover it so the caller can re-issue after reauth.
		c.subMu.Lock()
		previousSubs = append([]string(nil), c.lastSubs...)
		c.subMu.Unlock()
	}

	maxAttempts := -1 // unbounded
	switch v := c.cfg.Autorecon.(type) {
	case bool:
		if !v {
			return c.Dial(ctx)
		}
	case int:
		maxAttempts = v
	default:
		// Autorecon unset behaves as disabled: one attempt, no retry loop.
		return c.Dial(ctx)
	}

	var lastErr error
	for attempt := 0; maxAttempts < 0 || attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.ReconnectDelay):
			}
		}
		if err := c.Dial(ctx); err != nil {
			lastErr = err
			c.log.Warn("reconnect attempt failed", "attempt", attempt+1, "error", err)
			continue
		}
		if resubscribe != nil && len(previousSubs) > 0 {
			resubscribe(previousSubs)
		}
		return nil
	}
	return lastErr
}
