package gap

import "time"

const (
	defaultPageLimit    = 100
	defaultMaxAttempts  = 5
	defaultBaseDelay    = 500 * time.Millisecond
	defaultMaxDelay     = 30 * time.Second
	defaultFetchTimeout = 20 * time.Second
)

// Config tunes a Resolver. Zero fields take defaults.
type Config struct {
	// PageLimit caps the messages requested per range fetch.
	PageLimit int
	// MaxAttempts bounds transient retries before a conversation degrades.
	MaxAttempts int
	// BaseDelay is the first backoff delay; each retry doubles it.
	BaseDelay time.Duration
	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration
	// FetchTimeout bounds a single range fetch.
	FetchTimeout time.Duration
	// MaxConcurrent bounds resolutions across conversations; 0 is unbounded.
	MaxConcurrent int
}

func (c Config) withDefaults() Config {
	if c.PageLimit <= 0 {
		c.PageLimit = defaultPageLimit
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = defaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = defaultMaxDelay
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = defaultFetchTimeout
	}
	if c.MaxConcurrent < 0 {
		c.MaxConcurrent = 0
	}
	return c
}

// maxBackoffShift keeps the doubling from overflowing time.Duration.
const maxBackoffShift = 16

// backoffDelay returns the wait before retry number attempt (1-based):
// BaseDelay * 2^(attempt-1), capped at MaxDelay.
func (c Config) backoffDelay(attempt int) time.Duration {
	shift := attempt - 1
	if shift < 0 {
		shift = 0
	}
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	delay := c.BaseDelay << uint(shift)
	if delay <= 0 || delay > c.MaxDelay {
		return c.MaxDelay
	}
	return delay
}
