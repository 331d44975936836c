package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(maxFailures uint32, opts ...Option) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	logger, _ := test.NewNullLogger()
	opts = append([]Option{WithLogger(logger), withClock(clock.Now)}, opts...)
	return New("media", maxFailures, time.Minute, opts...), clock
}

var errUpstream = errors.New("upstream failed")

func fail(context.Context) error    { return errUpstream }
func succeed(context.Context) error { return nil }

func TestState_String(t *testing.T) {
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "OPEN", StateOpen.String())
	assert.Equal(t, "HALF_OPEN", StateHalfOpen.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb, _ := newTestBreaker(3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errUpstream)
	}
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	assert.True(t, IsCircuitBreakerError(err))
	assert.False(t, called)
	assert.Contains(t, err.Error(), "'media' is OPEN")
}

func TestCircuitBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	cb, _ := newTestBreaker(2)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	require.NoError(t, cb.Execute(ctx, succeed))
	_ = cb.Execute(ctx, fail)

	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb, clock := newTestBreaker(1, WithHalfOpenCalls(2))
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	require.Equal(t, StateOpen, cb.GetState())

	clock.Advance(time.Minute)
	assert.Equal(t, StateHalfOpen, cb.GetState())

	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateHalfOpen, cb.GetState())
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(1)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.Advance(time.Minute)

	assert.ErrorIs(t, cb.Execute(ctx, fail), errUpstream)
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestCircuitBreaker_HalfOpenLimitsTrialCalls(t *testing.T) {
	cb, clock := newTestBreaker(1, WithHalfOpenCalls(1))
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.Advance(time.Minute)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	assert.True(t, IsCircuitBreakerError(cb.Execute(ctx, succeed)))
	close(release)
	assert.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_CancellationIsNotAFailure(t *testing.T) {
	cb, _ := newTestBreaker(1)

	err := cb.Execute(context.Background(), func(context.Context) error {
		return fmt.Errorf("upload aborted: %w", context.Canceled)
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_StateChangeHook(t *testing.T) {
	var transitions []string
	cb, clock := newTestBreaker(1, WithHalfOpenCalls(1), WithStateChangeHook(func(name string, from, to State) {
		transitions = append(transitions, fmt.Sprintf("%s:%s->%s", name, from, to))
	}))
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.Advance(time.Minute)
	_ = cb.Execute(ctx, succeed)

	assert.Equal(t, []string{
		"media:CLOSED->OPEN",
		"media:OPEN->HALF_OPEN",
		"media:HALF_OPEN->CLOSED",
	}, transitions)
}

func TestCircuitBreaker_Stats(t *testing.T) {
	cb, _ := newTestBreaker(5)
	ctx := context.Background()

	_ = cb.Execute(ctx, succeed)
	_ = cb.Execute(ctx, fail)

	stats := cb.GetStats()
	assert.Equal(t, "media", stats.Name)
	assert.Equal(t, StateClosed, stats.State)
	assert.Equal(t, uint32(2), stats.Requests)
	assert.Equal(t, uint32(1), stats.Failures)
	assert.False(t, stats.LastFailureTime.IsZero())
}

func TestCircuitBreaker_ConcurrentUse(t *testing.T) {
	cb, _ := newTestBreaker(1000)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if (i+j)%2 == 0 {
					_ = cb.Execute(ctx, succeed)
				} else {
					_ = cb.Execute(ctx, fail)
				}
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, uint32(1000), cb.GetStats().Requests)
}
