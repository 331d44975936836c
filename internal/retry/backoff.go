package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"pingme/internal/models"
)

const jitterFraction = 0.25

// BackoffConfig describes an exponential schedule. OnRetry, when set, is
// called before each wait with the failed attempt number and its error.
type BackoffConfig struct {
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
	Multiplier   float64       `json:"multiplier"`
	MaxAttempts  int           `json:"max_attempts"`
	Jitter       bool          `json:"jitter"`

	OnRetry func(attempt int, err error, wait time.Duration) `json:"-"`
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  5,
		Jitter:       true,
	}
}

// FromRetryConfig converts the file-level retry settings. Zero fields keep
// their defaults.
func FromRetryConfig(rc models.RetryConfig) BackoffConfig {
	cfg := DefaultBackoffConfig()
	if rc.InitialBackoffMs > 0 {
		cfg.InitialDelay = time.Duration(rc.InitialBackoffMs) * time.Millisecond
	}
	if rc.MaxBackoffMs > 0 {
		cfg.MaxDelay = time.Duration(rc.MaxBackoffMs) * time.Millisecond
	}
	if rc.MaxAttempts > 0 {
		cfg.MaxAttempts = rc.MaxAttempts
	}
	return cfg
}

type Backoff struct {
	config BackoffConfig
}

func NewBackoff(config BackoffConfig) *Backoff {
	config.MaxAttempts = max(config.MaxAttempts, 1)
	config.Multiplier = max(config.Multiplier, 1)
	return &Backoff{config: config}
}

// Retry runs operation until it succeeds, the attempts run out or ctx is
// done.
func (b *Backoff) Retry(ctx context.Context, operation func() error) error {
	return b.RetryWithPredicate(ctx, operation, func(error) bool { return true })
}

// RetryWithPredicate is Retry that gives up as soon as isRetryable rejects
// an error, returning that error unchanged.
func (b *Backoff) RetryWithPredicate(ctx context.Context, operation func() error, isRetryable func(error) bool) error {
	var err error
	for attempt := 1; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err = operation(); err == nil {
			return nil
		}
		if !isRetryable(err) || attempt >= b.config.MaxAttempts {
			return err
		}

		wait := b.delay(attempt)
		if b.config.OnRetry != nil {
			b.config.OnRetry(attempt, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// delay is InitialDelay*Multiplier^(attempt-1), capped at MaxDelay, moved
// by up to 25% either way when jitter is on.
func (b *Backoff) delay(attempt int) time.Duration {
	d := float64(b.config.InitialDelay) * math.Pow(b.config.Multiplier, float64(attempt-1))
	ceiling := float64(b.config.MaxDelay)
	d = math.Min(d, ceiling)

	if b.config.Jitter {
		d += (rand.Float64()*2 - 1) * jitterFraction * d
		d = math.Min(math.Max(d, 0), ceiling)
	}
	return time.Duration(d)
}

// GetNextDelay returns the wait that follows a failed attempt.
func (b *Backoff) GetNextDelay(attempt int) time.Duration {
	return b.delay(attempt)
}

func (b *Backoff) MaxAttempts() int {
	return b.config.MaxAttempts
}
