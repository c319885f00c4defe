// ABOUTME: Tests for the circuit breaker guarding Koodous calls
// ABOUTME: Validates state transitions, failure classification and half-open probing

package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var (
	errUpstream = errors.New("503 service unavailable")
	errNotFound = errors.New("404 not found")
)

// fakeClock is a manually advanced clock.
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
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(cfg Config) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(cfg)
	cb.now = clock.Now
	return cb, clock
}

func fail(err error) func(context.Context) error {
	return func(context.Context) error { return err }
}

func TestCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(Config{Name: "koodous"})

	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
	if cb.config.MaxFailures != DefaultMaxFailures {
		t.Errorf("MaxFailures = %d, want %d", cb.config.MaxFailures, DefaultMaxFailures)
	}
	if cb.config.ResetTimeout != DefaultResetTimeout {
		t.Errorf("ResetTimeout = %v, want %v", cb.config.ResetTimeout, DefaultResetTimeout)
	}
	if cb.config.HalfOpenMaxCalls != DefaultHalfOpenMaxCalls {
		t.Errorf("HalfOpenMaxCalls = %d, want %d", cb.config.HalfOpenMaxCalls, DefaultHalfOpenMaxCalls)
	}
	if cb.Name() != "koodous" {
		t.Errorf("Name() = %q", cb.Name())
	}
}

func TestCircuitBreaker_PassesErrorsThrough(t *testing.T) {
	t.Parallel()

	cb, _ := newTestBreaker(Config{})

	if err := cb.Execute(context.Background(), fail(nil)); err != nil {
		t.Errorf("Execute() error = %v", err)
	}
	if err := cb.Execute(context.Background(), fail(errUpstream)); !errors.Is(err, errUpstream) {
		t.Errorf("Execute() error = %v, want %v", err, errUpstream)
	}
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	t.Parallel()

	cb, _ := newTestBreaker(Config{MaxFailures: 3})
	ctx := context.Background()

	for i := range 3 {
		if cb.State() != StateClosed {
			t.Fatalf("state after %d failures = %v, want closed", i, cb.State())
		}
		cb.Execute(ctx, fail(errUpstream))
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	called := false
	err := cb.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Execute() error = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("function ran while the circuit was open")
	}
}

func TestCircuitBreaker_SuccessResetsStreak(t *testing.T) {
	t.Parallel()

	cb, _ := newTestBreaker(Config{MaxFailures: 2})
	ctx := context.Background()

	cb.Execute(ctx, fail(errUpstream))
	cb.Execute(ctx, fail(nil))
	cb.Execute(ctx, fail(errUpstream))

	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_IsFailureFiltersErrors(t *testing.T) {
	t.Parallel()

	cb, _ := newTestBreaker(Config{
		MaxFailures: 1,
		IsFailure:   func(err error) bool { return errors.Is(err, errUpstream) },
	})
	ctx := context.Background()

	for range 5 {
		if err := cb.Execute(ctx, fail(errNotFound)); !errors.Is(err, errNotFound) {
			t.Fatalf("Execute() error = %v", err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("client errors opened the circuit")
	}

	cb.Execute(ctx, fail(errUpstream))
	if cb.State() != StateOpen {
		t.Errorf("state = %v, want open", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		probeErr  error
		wantState State
	}{
		{name: "probe succeeds", probeErr: nil, wantState: StateClosed},
		{name: "probe fails", probeErr: errUpstream, wantState: StateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cb, clock := newTestBreaker(Config{MaxFailures: 1, ResetTimeout: time.Minute})
			ctx := context.Background()

			cb.Execute(ctx, fail(errUpstream))
			clock.Advance(59 * time.Second)
			if cb.State() != StateOpen {
				t.Fatalf("state before timeout = %v, want open", cb.State())
			}

			clock.Advance(time.Second)
			if cb.State() != StateHalfOpen {
				t.Fatalf("state after timeout = %v, want half-open", cb.State())
			}

			cb.Execute(ctx, fail(tt.probeErr))
			if cb.State() != tt.wantState {
				t.Errorf("state after probe = %v, want %v", cb.State(), tt.wantState)
			}
		})
	}
}

func TestCircuitBreaker_HalfOpenLimitsProbes(t *testing.T) {
	t.Parallel()

	cb, clock := newTestBreaker(Config{MaxFailures: 1, ResetTimeout: time.Second, HalfOpenMaxCalls: 1})
	ctx := context.Background()

	cb.Execute(ctx, fail(errUpstream))
	clock.Advance(time.Second)

	inProbe := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(ctx, func(context.Context) error {
			close(inProbe)
			<-release
			return nil
		})
	}()
	<-inProbe

	if err := cb.Execute(ctx, fail(nil)); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second probe error = %v, want ErrCircuitOpen", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe error = %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_Statistics(t *testing.T) {
	t.Parallel()

	cb, clock := newTestBreaker(Config{MaxFailures: 2})
	ctx := context.Background()

	cb.Execute(ctx, fail(nil))
	cb.Execute(ctx, fail(errUpstream))
	clock.Advance(time.Second)
	cb.Execute(ctx, fail(errUpstream))
	cb.Execute(ctx, fail(nil))

	stats := cb.Statistics()
	if stats.TotalRequests != 4 {
		t.Errorf("TotalRequests = %d, want 4", stats.TotalRequests)
	}
	if stats.Successes != 1 || stats.Failures != 2 || stats.Rejections != 1 {
		t.Errorf("stats = %+v, want 1 success, 2 failures, 1 rejection", stats)
	}
	if stats.State != StateOpen || stats.StateName != "open" {
		t.Errorf("state = %v (%q), want open", stats.State, stats.StateName)
	}
	if !stats.LastFailureTime.Equal(clock.Now()) {
		t.Errorf("LastFailureTime = %v, want %v", stats.LastFailureTime, clock.Now())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()

	cb, _ := newTestBreaker(Config{MaxFailures: 1})
	cb.Execute(context.Background(), fail(errUpstream))
	cb.Reset()

	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
	if got := cb.Statistics().ConsecutiveFailures; got != 0 {
		t.Errorf("ConsecutiveFailures = %d, want 0", got)
	}
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(Config{MaxFailures: 1000})
	ctx := context.Background()

	var calls atomic.Int64
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				cb.Execute(ctx, func(context.Context) error {
					calls.Add(1)
					if i%2 == 0 {
						return errUpstream
					}
					return nil
				})
			}
		}()
	}
	wg.Wait()

	if got := cb.Statistics().TotalRequests; got != 1000 {
		t.Errorf("TotalRequests = %d, want 1000", got)
	}
	if calls.Load() != 1000 {
		t.Errorf("calls = %d, want 1000", calls.Load())
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	for state, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(9):      "unknown",
	} {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
