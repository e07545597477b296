package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var errBackend = errors.New("backend unavailable")

// failN drives n consecutive failures through the breaker.
func failN(cb *CircuitBreaker, n int) {
	for range n {
		_ = cb.Execute(func() error { return errBackend })
	}
}

func TestCircuitBreakerDefaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "stt"})
	if cb.maxFailures != 5 || cb.resetTimeout != 30*time.Second || cb.halfOpenMax != 3 {
		t.Errorf("defaults = %d/%v/%d, want 5/30s/3",
			cb.maxFailures, cb.resetTimeout, cb.halfOpenMax)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
}

func TestCircuitBreakerTransitions(t *testing.T) {
	const resetTimeout = 25 * time.Millisecond
	pastReset := func() { time.Sleep(resetTimeout + 15*time.Millisecond) }

	tests := []struct {
		name string
		cfg  CircuitBreakerConfig
		run  func(cb *CircuitBreaker)
		want State
	}{
		{
			name: "intermittent failures never open the breaker",
			cfg:  CircuitBreakerConfig{Name: "stt", MaxFailures: 3, ResetTimeout: time.Hour},
			run: func(cb *CircuitBreaker) {
				failN(cb, 2)
				_ = cb.Execute(func() error { return nil })
				failN(cb, 2)
			},
			want: StateClosed,
		},
		{
			name: "a full failure streak opens it",
			cfg:  CircuitBreakerConfig{Name: "stt", MaxFailures: 3, ResetTimeout: time.Hour},
			run:  func(cb *CircuitBreaker) { failN(cb, 3) },
			want: StateOpen,
		},
		{
			name: "the reset timeout moves it to half-open",
			cfg:  CircuitBreakerConfig{Name: "stt", MaxFailures: 1, ResetTimeout: resetTimeout},
			run: func(cb *CircuitBreaker) {
				failN(cb, 1)
				pastReset()
			},
			want: StateHalfOpen,
		},
		{
			name: "successful probes close it again",
			cfg:  CircuitBreakerConfig{Name: "stt", MaxFailures: 1, ResetTimeout: resetTimeout, HalfOpenMax: 2},
			run: func(cb *CircuitBreaker) {
				failN(cb, 1)
				pastReset()
				_ = cb.Execute(func() error { return nil })
				_ = cb.Execute(func() error { return nil })
			},
			want: StateClosed,
		},
		{
			name: "one failed probe re-opens it",
			cfg:  CircuitBreakerConfig{Name: "stt", MaxFailures: 1, ResetTimeout: time.Minute, HalfOpenMax: 2},
			run: func(cb *CircuitBreaker) {
				failN(cb, 1)
				// Force the half-open transition without waiting a minute.
				cb.mu.Lock()
				cb.lastFailure = time.Now().Add(-2 * time.Minute)
				cb.mu.Unlock()
				failN(cb, 1)
			},
			want: StateOpen,
		},
		{
			name: "manual reset closes it immediately",
			cfg:  CircuitBreakerConfig{Name: "stt", MaxFailures: 1, ResetTimeout: time.Hour},
			run: func(cb *CircuitBreaker) {
				failN(cb, 1)
				cb.Reset()
			},
			want: StateClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := NewCircuitBreaker(tt.cfg)
			tt.run(cb)
			if got := cb.State(); got != tt.want {
				t.Errorf("state = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCircuitBreakerOpenRejectsWithoutCalling(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "llm", MaxFailures: 1, ResetTimeout: time.Hour})
	failN(cb, 1)

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn ran while the breaker was open")
	}
}

func TestCircuitBreakerHalfOpenProbeBudget(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "tts", MaxFailures: 1, ResetTimeout: time.Minute, HalfOpenMax: 2})
	failN(cb, 1)
	cb.mu.Lock()
	cb.lastFailure = time.Now().Add(-2 * time.Minute)
	cb.mu.Unlock()

	// Fill the probe budget with two in-flight calls, then a third must be
	// rejected rather than piling onto a backend that is still suspect.
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cb.Execute(func() error {
				started <- struct{}{}
				<-release
				return nil
			})
		}()
	}
	<-started
	<-started

	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen with the probe budget exhausted", err)
	}

	close(release)
	wg.Wait()

	if got := cb.State(); got != StateClosed {
		t.Errorf("state after successful probes = %v, want closed", got)
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(99):     "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
