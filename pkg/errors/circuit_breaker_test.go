package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func failing(ctx context.Context) error    { return fmt.Errorf("upstream error") }
func succeeding(ctx context.Context) error { return nil }

func openBreaker(cb *CircuitBreaker, failures int) {
	for i := 0; i < failures; i++ {
		cb.Execute(context.Background(), failing)
	}
}

func TestCircuitBreaker(t *testing.T) {
	ctx := context.Background()

	t.Run("Closed breaker allows requests", func(t *testing.T) {
		cb := NewCircuitBreaker(DefaultCircuitBreakerConfig("GET /api/pizzas"))

		executed := false
		err := cb.Execute(ctx, func(ctx context.Context) error {
			executed = true
			return nil
		})

		if err != nil {
			t.Errorf("Expected no error, got %v", err)
		}
		if !executed {
			t.Error("Expected function to be executed")
		}
		if cb.GetState() != CircuitBreakerClosed {
			t.Errorf("Expected state CLOSED, got %s", cb.GetState())
		}
	})

	t.Run("Breaker opens after max failures and rejects", func(t *testing.T) {
		cb := NewCircuitBreaker(CircuitBreakerConfig{
			MaxFailures:      3,
			ResetTimeout:     time.Second,
			SuccessThreshold: 1,
			Name:             "GET /api/toppings",
		})

		openBreaker(cb, 3)
		if cb.GetState() != CircuitBreakerOpen {
			t.Fatalf("Expected state OPEN, got %s", cb.GetState())
		}

		executed := false
		err := cb.Execute(ctx, func(ctx context.Context) error {
			executed = true
			return nil
		})
		if executed {
			t.Error("Expected open breaker to skip the call")
		}

		var structured *StructuredError
		if !stderrors.As(err, &structured) {
			t.Fatalf("Expected structured error, got %T", err)
		}
		if structured.Code != ErrCodeCircuitOpen {
			t.Errorf("Expected code %s, got %s", ErrCodeCircuitOpen, structured.Code)
		}
		if structured.Context["circuit_breaker"] != "GET /api/toppings" {
			t.Errorf("Expected breaker name in context, got %v", structured.Context["circuit_breaker"])
		}
	})

	t.Run("Half-open success closes the breaker", func(t *testing.T) {
		cb := NewCircuitBreaker(CircuitBreakerConfig{
			MaxFailures:      2,
			ResetTimeout:     50 * time.Millisecond,
			SuccessThreshold: 2,
			Name:             "test",
		})

		openBreaker(cb, 2)
		time.Sleep(80 * time.Millisecond)

		for i := 0; i < 2; i++ {
			if err := cb.Execute(ctx, succeeding); err != nil {
				t.Fatalf("Expected success in half-open, got %v", err)
			}
		}
		if cb.GetState() != CircuitBreakerClosed {
			t.Errorf("Expected state CLOSED, got %s", cb.GetState())
		}
	})

	t.Run("Half-open failure reopens the breaker", func(t *testing.T) {
		cb := NewCircuitBreaker(CircuitBreakerConfig{
			MaxFailures:      2,
			ResetTimeout:     50 * time.Millisecond,
			SuccessThreshold: 2,
			Name:             "test",
		})

		openBreaker(cb, 2)
		time.Sleep(80 * time.Millisecond)
		cb.Execute(ctx, failing)

		if cb.GetState() != CircuitBreakerOpen {
			t.Errorf("Expected state OPEN, got %s", cb.GetState())
		}
	})

	t.Run("IsFailure filter ignores rejected requests", func(t *testing.T) {
		rejected := NewUpstreamError(ErrCodeUpstreamNotFound, "not found", nil)
		cb := NewCircuitBreaker(CircuitBreakerConfig{
			MaxFailures:      1,
			ResetTimeout:     time.Second,
			SuccessThreshold: 1,
			Name:             "GET /api/orders/{id}",
			IsFailure: func(err error) bool {
				var se *StructuredError
				return !stderrors.As(err, &se) || se.Code != ErrCodeUpstreamNotFound
			},
		})

		err := cb.Execute(ctx, func(ctx context.Context) error { return rejected })
		if err != rejected {
			t.Errorf("Expected the original error back, got %v", err)
		}
		if cb.GetState() != CircuitBreakerClosed {
			t.Errorf("Expected not-found to leave the breaker CLOSED, got %s", cb.GetState())
		}
	})

	t.Run("Cancelled context is not recorded", func(t *testing.T) {
		cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Second, SuccessThreshold: 1, Name: "test"})
		cctx, cancel := context.WithCancel(ctx)

		err := cb.Execute(cctx, func(ctx context.Context) error {
			cancel()
			return ctx.Err()
		})
		if !stderrors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
		if cb.GetStats().FailureCount != 0 {
			t.Errorf("Expected no recorded failure, got %d", cb.GetStats().FailureCount)
		}

		if err := cb.Execute(cctx, succeeding); !stderrors.Is(err, context.Canceled) {
			t.Errorf("Expected pre-cancelled context to short circuit, got %v", err)
		}
	})
}

func TestCircuitBreakerStats(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:      3,
		ResetTimeout:     time.Second,
		SuccessThreshold: 2,
		Name:             "test-stats",
	})
	ctx := context.Background()

	cb.Execute(ctx, failing)
	stats := cb.GetStats()
	if stats.Name != "test-stats" || stats.FailureCount != 1 || !stats.IsHealthy() {
		t.Errorf("Unexpected stats after one failure: %+v", stats)
	}

	cb.Execute(ctx, succeeding)
	stats = cb.GetStats()
	if stats.FailureCount != 0 || stats.SuccessCount != 1 {
		t.Errorf("Expected success to reset failures in CLOSED, got %+v", stats)
	}
}

func TestCircuitBreakerStateChangeCallback(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:      2,
		ResetTimeout:     time.Second,
		SuccessThreshold: 1,
		Name:             "test-callback",
	})

	var mu sync.Mutex
	var gotName string
	var gotFrom, gotTo CircuitBreakerState
	done := make(chan struct{})
	cb.SetStateChangeCallback(func(name string, from, to CircuitBreakerState) {
		mu.Lock()
		gotName, gotFrom, gotTo = name, from, to
		mu.Unlock()
		close(done)
	})

	openBreaker(cb, 2)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Expected state change callback to be called")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotName != "test-callback" || gotFrom != CircuitBreakerClosed || gotTo != CircuitBreakerOpen {
		t.Errorf("Unexpected transition %s: %s -> %s", gotName, gotFrom, gotTo)
	}
}

func TestCircuitBreakerManager(t *testing.T) {
	template := CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Second, SuccessThreshold: 1}

	t.Run("GetOrCreate returns same instance for same name", func(t *testing.T) {
		manager := NewCircuitBreakerManager(template)
		if manager.GetOrCreate("a") != manager.GetOrCreate("a") {
			t.Error("Expected GetOrCreate to return the same instance")
		}
		if got := manager.GetOrCreate("b").GetStats().Name; got != "b" {
			t.Errorf("Expected breaker to be named after its key, got %q", got)
		}
	})

	t.Run("Unhealthy breakers are reported", func(t *testing.T) {
		manager := NewCircuitBreakerManager(template)
		manager.GetOrCreate("healthy")
		openBreaker(manager.GetOrCreate("unhealthy"), 2)

		if stats := manager.GetAllStats(); len(stats) != 2 {
			t.Errorf("Expected 2 breakers, got %d", len(stats))
		}
		unhealthy := manager.GetUnhealthyBreakers()
		if len(unhealthy) != 1 || unhealthy[0] != "unhealthy" {
			t.Errorf("Expected [unhealthy], got %v", unhealthy)
		}
	})

	t.Run("Callback reaches breakers created later", func(t *testing.T) {
		manager := NewCircuitBreakerManager(template)
		names := make(chan string, 1)
		manager.SetStateChangeCallback(func(name string, from, to CircuitBreakerState) {
			names <- name
		})

		openBreaker(manager.GetOrCreate("late"), 2)

		select {
		case name := <-names:
			if name != "late" {
				t.Errorf("Expected callback for 'late', got %q", name)
			}
		case <-time.After(time.Second):
			t.Fatal("Expected callback for breaker created after SetStateChangeCallback")
		}
	})
}
