// ABOUTME: Ruleset sync configuration for the local sample index
// ABOUTME: Configures page limits and retry behavior with exponential backoff

package config

import (
	"fmt"
	"time"
)

// SyncConfig configures ruleset match synchronization.
type SyncConfig struct {
	// MaxPages bounds the pages fetched per sync; 0 means no limit.
	MaxPages int `yaml:"max_pages"`

	// Retry configures retries of transient page failures.
	// If nil, uses DefaultRetryConfig().
	Retry *RetryConfig `yaml:"retry,omitempty"`
}

// GetRetry returns the retry configuration, using defaults if not set.
func (c SyncConfig) GetRetry() RetryConfig {
	if c.Retry != nil {
		return *c.Retry
	}
	return DefaultRetryConfig()
}

// RetryConfig configures retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts.
	MaxRetries int `yaml:"max_retries"`

	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`

	// JitterFraction is the fraction of delay to randomize (0-1).
	JitterFraction float64 `yaml:"jitter_fraction"`
}

// Validate checks that the retry settings describe a usable backoff.
// A nil receiver is valid and means defaults.
func (r *RetryConfig) Validate() error {
	if r == nil {
		return nil
	}
	switch {
	case r.MaxRetries < 0:
		return fmt.Errorf("sync.retry.max_retries must not be negative, got %d", r.MaxRetries)
	case r.InitialDelay <= 0:
		return fmt.Errorf("sync.retry.initial_delay must be positive, got %v", r.InitialDelay)
	case r.MaxDelay < r.InitialDelay:
		return fmt.Errorf("sync.retry.max_delay %v is below initial_delay %v", r.MaxDelay, r.InitialDelay)
	case r.Multiplier < 1:
		return fmt.Errorf("sync.retry.multiplier must be >= 1, got %v", r.Multiplier)
	case r.JitterFraction < 0 || r.JitterFraction > 1:
		return fmt.Errorf("sync.retry.jitter_fraction must be within [0,1], got %v", r.JitterFraction)
	}
	return nil
}

// DefaultSyncConfig returns default sync configuration.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		MaxPages: 0,
		Retry:    nil,
	}
}

// DefaultRetryConfig returns default retry configuration. Koodous throttles
// per token, so delays start in seconds rather than milliseconds.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     5,
		InitialDelay:   2 * time.Second,
		MaxDelay:       2 * time.Minute,
		Multiplier:     2.0,
		JitterFraction: 0.2,
	}
}
