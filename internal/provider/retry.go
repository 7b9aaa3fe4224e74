package provider

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/opencode-ai/agentd/internal/logging"
)

// Retry defaults.
const (
	DefaultMaxRetries         = 3
	DefaultInitialIntervalMS  = 1000
	DefaultBackoffMultiplier  = 2.0
	DefaultMaxRetryIntervalMS = 30_000
	retryRandomizationFactor  = 0.5
)

// RetryConfig is an exponential backoff policy. Zero fields take defaults;
// a negative MaxRetries disables retries.
type RetryConfig struct {
	MaxRetries        int     `json:"maxRetries,omitempty"`
	InitialIntervalMS int64   `json:"initialIntervalMs,omitempty"`
	BackoffMultiplier float64 `json:"backoffMultiplier,omitempty"`
	MaxIntervalMS     int64   `json:"maxIntervalMs,omitempty"`
}

// DefaultRetryConfig returns the default policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        DefaultMaxRetries,
		InitialIntervalMS: DefaultInitialIntervalMS,
		BackoffMultiplier: DefaultBackoffMultiplier,
		MaxIntervalMS:     DefaultMaxRetryIntervalMS,
	}
}

// WithDefaults fills unset fields.
func (c RetryConfig) WithDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if c.MaxRetries == 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialIntervalMS <= 0 {
		c.InitialIntervalMS = d.InitialIntervalMS
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = d.BackoffMultiplier
	}
	if c.MaxIntervalMS <= 0 {
		c.MaxIntervalMS = d.MaxIntervalMS
	}
	return c
}

// Delay returns the un-jittered delay before retry number attempt (1-based).
func (c RetryConfig) Delay(attempt int) time.Duration {
	c = c.WithDefaults()
	if attempt < 1 {
		attempt = 1
	}
	ms := float64(c.InitialIntervalMS) * math.Pow(c.BackoffMultiplier, float64(attempt-1))
	ms = math.Min(ms, float64(c.MaxIntervalMS))
	return time.Duration(ms) * time.Millisecond
}

func (c RetryConfig) newBackOff(ctx context.Context) backoff.BackOff {
	c = c.WithDefaults()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(c.InitialIntervalMS) * time.Millisecond
	b.MaxInterval = time.Duration(c.MaxIntervalMS) * time.Millisecond
	b.Multiplier = c.BackoffMultiplier
	b.RandomizationFactor = retryRandomizationFactor
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.MaxRetries)), ctx)
}

// RetryConfigFromParams reads a policy from the ConfigStore using
// <prefix>_MAX_RETRIES, <prefix>_INITIAL_RETRY_INTERVAL_MS,
// <prefix>_BACKOFF_MULTIPLIER and <prefix>_MAX_RETRY_INTERVAL_MS.
// Missing or malformed values fall back to defaults.
func RetryConfigFromParams(cfg ConfigReader, prefix string) RetryConfig {
	out := DefaultRetryConfig()
	if v, err := cfg.GetParam(prefix + "_MAX_RETRIES"); err == nil {
		if n, err := strconv.Atoi(v); err == nil {
			out.MaxRetries = n
		}
	}
	if v, err := cfg.GetParam(prefix + "_INITIAL_RETRY_INTERVAL_MS"); err == nil {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			out.InitialIntervalMS = n
		}
	}
	if v, err := cfg.GetParam(prefix + "_BACKOFF_MULTIPLIER"); err == nil {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			out.BackoffMultiplier = f
		}
	}
	if v, err := cfg.GetParam(prefix + "_MAX_RETRY_INTERVAL_MS"); err == nil {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			out.MaxIntervalMS = n
		}
	}
	return out
}

// Retry calls op until it succeeds, fails with a non-retryable error, the
// attempts are exhausted, or ctx is done. Errors are classified before the
// retry decision, so the returned error is always a provider error (or the
// context error).
func Retry[T any](ctx context.Context, cfg RetryConfig, op func(ctx context.Context) (T, error)) (T, error) {
	attempt := 0
	operation := func() (T, error) {
		attempt++
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		err = Classify(err)
		if !IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	notify := func(err error, next time.Duration) {
		logging.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", next).
			Msg("provider call failed, retrying")
	}
	return backoff.RetryNotifyWithData(operation, cfg.newBackOff(ctx), notify)
}
