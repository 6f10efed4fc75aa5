package supervisor

import "time"

const (
	DefaultBaseDelay   = 1 * time.Second
	DefaultMaxDelay    = 30 * time.Second
	DefaultMinDelay    = 1 * time.Second
	DefaultMaxAttempts = 5
)

// Backoff is the reconnect policy: exponential from BaseDelay, capped at
// MaxDelay, never below MinDelay, at most MaxAttempts consecutive attempts
// without a successful open.
type Backoff struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MinDelay    time.Duration
	MaxAttempts int
}

// DefaultBackoff returns the default reconnect policy.
func DefaultBackoff() Backoff {
	return Backoff{
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		MinDelay:    DefaultMinDelay,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// Normalized fills zero values with defaults and repairs inconsistent bounds.
func (b Backoff) Normalized() Backoff {
	if b.MinDelay <= 0 {
		b.MinDelay = DefaultMinDelay
	}
	if b.BaseDelay < b.MinDelay {
		b.BaseDelay = b.MinDelay
	}
	if b.MaxDelay < b.BaseDelay {
		b.MaxDelay = b.BaseDelay
	}
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = DefaultMaxAttempts
	}
	return b
}

// Exhausted reports whether attempt is past the allowed count.
func (b Backoff) Exhausted(attempt int) bool {
	return attempt > b.Normalized().MaxAttempts
}

// CalculateBackoff returns the delay before the given 1-based attempt.
func (b Backoff) CalculateBackoff(attempt int) time.Duration {
	b = b.Normalized()
	if attempt < 1 {
		attempt = 1
	}

	delay := b.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= b.MaxDelay {
			return b.MaxDelay
		}
	}
	if delay > b.MaxDelay {
		delay = b.MaxDelay
	}
	return delay
}
