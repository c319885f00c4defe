// ABOUTME: Exponential backoff with jitter for retrying transient Koodous failures
// ABOUTME: Configurable delays, max retries, multiplicative growth and a context-aware Do loop

package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// Default backoff configuration values.
const (
	DefaultMaxRetries     = 5
	DefaultInitialDelay   = 2 * time.Second
	DefaultMaxDelay       = 2 * time.Minute
	DefaultMultiplier     = 2.0
	DefaultJitterFraction = 0.2
)

// Config configures exponential backoff behavior.
type Config struct {
	// MaxRetries is the maximum number of retry attempts.
	// Zero uses DefaultMaxRetries.
	MaxRetries int

	// InitialDelay is the delay after the first failure.
	// Zero uses DefaultInitialDelay.
	InitialDelay time.Duration

	// MaxDelay caps the delay between retries. Zero uses DefaultMaxDelay.
	MaxDelay time.Duration

	// Multiplier must be >= 1.0. Zero uses DefaultMultiplier.
	Multiplier float64

	// JitterFraction adds randomness: 0.2 means ±20%. Zero disables jitter.
	JitterFraction float64
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.JitterFraction < 0 || c.JitterFraction > 1 {
		return errors.New("jitter fraction must be between 0 and 1")
	}
	if c.Multiplier != 0 && c.Multiplier < 1 {
		return errors.New("multiplier must be at least 1")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = DefaultInitialDelay
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.Multiplier == 0 {
		c.Multiplier = DefaultMultiplier
	}
}

// DefaultConfig returns a Config with all defaults applied, jitter included.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     DefaultMaxRetries,
		InitialDelay:   DefaultInitialDelay,
		MaxDelay:       DefaultMaxDelay,
		Multiplier:     DefaultMultiplier,
		JitterFraction: DefaultJitterFraction,
	}
}

// Backoff implements exponential backoff with optional jitter.
// It is safe for concurrent use.
type Backoff struct {
	mu           sync.Mutex
	config       Config
	attempts     int
	currentDelay time.Duration

	// sleep waits for d or until ctx ends; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewBackoff creates a Backoff. Zero values in config use defaults.
func NewBackoff(config Config) *Backoff {
	config.applyDefaults()
	return &Backoff{
		config:       config,
		currentDelay: config.InitialDelay,
		sleep:        sleepContext,
	}
}

// NextDelay returns the next delay and whether another retry is allowed.
func (b *Backoff) NextDelay() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attempts >= b.config.MaxRetries {
		return 0, false
	}

	delay := b.currentDelay
	if b.config.JitterFraction > 0 {
		delay = b.applyJitter(delay)
	}

	b.attempts++
	b.currentDelay = min(time.Duration(float64(b.currentDelay)*b.config.Multiplier), b.config.MaxDelay)

	return delay, true
}

// applyJitter spreads delay over delay*(1±fraction).
func (b *Backoff) applyJitter(delay time.Duration) time.Duration {
	jitterRange := float64(delay) * b.config.JitterFraction
	jitter := (rand.Float64()*2 - 1) * jitterRange
	return time.Duration(float64(delay) + jitter)
}

// Reset returns the backoff to its initial state.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attempts = 0
	b.currentDelay = b.config.InitialDelay
}

// Attempts returns the number of retries granted so far.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Wait blocks for the next delay. It returns ErrExhausted once retries run
// out and ctx.Err() if ctx ends first.
func (b *Backoff) Wait(ctx context.Context) error {
	delay, ok := b.NextDelay()
	if !ok {
		return ErrExhausted
	}
	return b.sleep(ctx, delay)
}

// ErrExhausted reports that the retry budget is spent.
var ErrExhausted = errors.New("retries exhausted")

// Do calls fn until it succeeds, returns an error retryable rejects, or the
// backoff is exhausted. The backoff is reset after a success.
func Do(ctx context.Context, b *Backoff, retryable func(error) bool, fn func(context.Context) error) error {
	for {
		err := fn(ctx)
		if err == nil {
			b.Reset()
			return nil
		}
		if !retryable(err) {
			return err
		}
		if waitErr := b.Wait(ctx); waitErr != nil {
			if errors.Is(waitErr, ErrExhausted) {
				return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, b.Attempts()+1, err)
			}
			return errors.Join(waitErr, err)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
