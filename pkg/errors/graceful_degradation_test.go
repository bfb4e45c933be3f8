package errors

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func probeFailure() error {
	return NewUpstreamError(ErrCodeUpstreamUnavailable, "GET /api/pizzas failed", fmt.Errorf("connection refused"))
}

func TestGracefulDegradationManager(t *testing.T) {
	t.Run("RegisterComponent starts healthy", func(t *testing.T) {
		manager := NewGracefulDegradationManager(nil)
		manager.RegisterComponent(DegradationRule{
			Component:        ComponentPizzaAPI,
			ErrorThreshold:   3,
			TimeWindow:       5 * time.Minute,
			DegradationLevel: DegradationMajor,
		})

		status, exists := manager.GetComponentStatus(ComponentPizzaAPI)
		if !exists {
			t.Fatal("Expected component to be registered")
		}
		if status.DegradationLevel != DegradationNone || !status.IsHealthy {
			t.Errorf("Expected healthy NONE status, got %+v", status)
		}
	})

	t.Run("RecordError degrades after threshold", func(t *testing.T) {
		manager := NewGracefulDegradationManager(nil)
		manager.RegisterComponent(DegradationRule{
			Component:        ComponentPizzaAPI,
			ErrorThreshold:   2,
			TimeWindow:       time.Minute,
			DegradationLevel: DegradationMajor,
		})

		manager.RecordError(ComponentPizzaAPI, probeFailure())
		if !manager.IsComponentHealthy(ComponentPizzaAPI) {
			t.Error("Expected one error to stay under the threshold")
		}
		manager.RecordError(ComponentPizzaAPI, probeFailure())

		status, _ := manager.GetComponentStatus(ComponentPizzaAPI)
		if status.DegradationLevel != DegradationMajor || status.IsHealthy {
			t.Errorf("Expected MAJOR unhealthy status, got %+v", status)
		}
		if status.LastErrorMessage == "" {
			t.Error("Expected last error message to be recorded")
		}
	})

	t.Run("Errors outside the window are forgotten", func(t *testing.T) {
		manager := NewGracefulDegradationManager(nil)
		manager.RegisterComponent(DegradationRule{
			Component:        ComponentResponseCache,
			ErrorThreshold:   3,
			TimeWindow:       50 * time.Millisecond,
			DegradationLevel: DegradationMinor,
		})

		for i := 0; i < 2; i++ {
			manager.RecordError(ComponentResponseCache, NewCacheError(ErrCodeCacheExpired, "expired", nil))
		}
		time.Sleep(80 * time.Millisecond)
		manager.RecordError(ComponentResponseCache, NewCacheError(ErrCodeCacheExpired, "expired", nil))

		status, _ := manager.GetComponentStatus(ComponentResponseCache)
		if status.DegradationLevel != DegradationNone {
			t.Errorf("Expected NONE after window cleanup, got %s", status.DegradationLevel)
		}
		if status.ErrorCount != 1 {
			t.Errorf("Expected 1 error in window, got %d", status.ErrorCount)
		}
	})

	t.Run("Recovery needs consecutive successes", func(t *testing.T) {
		manager := NewGracefulDegradationManager(nil)
		manager.RegisterComponent(DegradationRule{
			Component:         ComponentPizzaAPI,
			ErrorThreshold:    1,
			TimeWindow:        time.Minute,
			DegradationLevel:  DegradationCritical,
			RecoverySuccesses: 2,
		})

		manager.RecordError(ComponentPizzaAPI, probeFailure())
		manager.RecordSuccess(ComponentPizzaAPI)
		manager.RecordError(ComponentPizzaAPI, probeFailure())
		manager.RecordSuccess(ComponentPizzaAPI)

		if manager.IsComponentHealthy(ComponentPizzaAPI) {
			t.Fatal("Expected an interrupted streak not to recover")
		}

		manager.RecordSuccess(ComponentPizzaAPI)
		status, _ := manager.GetComponentStatus(ComponentPizzaAPI)
		if status.DegradationLevel != DegradationNone || status.ErrorCount != 0 {
			t.Errorf("Expected recovery after two successes, got %+v", status)
		}
		if status.LastRecovery.IsZero() {
			t.Error("Expected recovery time to be recorded")
		}
	})

	t.Run("GetOverallHealth returns the worst level", func(t *testing.T) {
		manager := NewGracefulDegradationManager(nil)
		manager.RegisterComponent(DegradationRule{Component: ComponentConfigReload, ErrorThreshold: 1, TimeWindow: time.Minute, DegradationLevel: DegradationMinor})
		manager.RegisterComponent(DegradationRule{Component: ComponentPizzaAPI, ErrorThreshold: 1, TimeWindow: time.Minute, DegradationLevel: DegradationMajor})

		if manager.GetOverallHealth() != DegradationNone {
			t.Error("Expected overall NONE initially")
		}
		manager.RecordError(ComponentConfigReload, NewConfigError(ErrCodeConfigInvalid, "bad yaml", nil))
		if manager.GetOverallHealth() != DegradationMinor {
			t.Error("Expected overall MINOR")
		}
		manager.RecordError(ComponentPizzaAPI, probeFailure())
		if manager.GetOverallHealth() != DegradationMajor {
			t.Error("Expected overall MAJOR")
		}
		if len(manager.GetAllComponentStatuses()) != 2 {
			t.Error("Expected two component statuses")
		}
	})

	t.Run("Unregistered components are ignored", func(t *testing.T) {
		manager := NewGracefulDegradationManager(nil)
		manager.RecordError(ComponentPizzaAPI, probeFailure())
		manager.RecordSuccess(ComponentPizzaAPI)

		if !manager.IsComponentHealthy(ComponentPizzaAPI) {
			t.Error("Expected unregistered component to report healthy")
		}
	})
}

func TestExecuteWithDegradation(t *testing.T) {
	ctx := context.Background()
	rule := DegradationRule{
		Component:        ComponentPizzaAPI,
		ErrorThreshold:   1,
		TimeWindow:       time.Minute,
		DegradationLevel: DegradationMajor,
	}

	t.Run("Healthy component runs the normal path", func(t *testing.T) {
		manager := NewGracefulDegradationManager(nil)
		manager.RegisterComponent(rule)

		normalCalled, degradedCalled := false, false
		err := manager.ExecuteWithDegradation(ctx, ComponentPizzaAPI,
			func(ctx context.Context) error { normalCalled = true; return nil },
			func(ctx context.Context, level DegradationLevel) error { degradedCalled = true; return nil },
		)

		if err != nil || !normalCalled || degradedCalled {
			t.Errorf("Unexpected outcome err=%v normal=%v degraded=%v", err, normalCalled, degradedCalled)
		}
	})

	t.Run("Normal failure is recorded and degraded path takes over", func(t *testing.T) {
		manager := NewGracefulDegradationManager(nil)
		manager.RegisterComponent(rule)

		err := manager.ExecuteWithDegradation(ctx, ComponentPizzaAPI,
			func(ctx context.Context) error { return probeFailure() }, nil)
		if err == nil {
			t.Fatal("Expected normal failure to be returned")
		}

		var gotLevel DegradationLevel
		err = manager.ExecuteWithDegradation(ctx, ComponentPizzaAPI,
			func(ctx context.Context) error { t.Error("normal path must not run"); return nil },
			func(ctx context.Context, level DegradationLevel) error { gotLevel = level; return nil },
		)
		if err != nil {
			t.Errorf("Expected degraded path to succeed, got %v", err)
		}
		if gotLevel != DegradationMajor {
			t.Errorf("Expected MAJOR, got %s", gotLevel)
		}
	})

	t.Run("Degraded without fallback reports unavailable", func(t *testing.T) {
		manager := NewGracefulDegradationManager(nil)
		manager.RegisterComponent(rule)
		manager.RecordError(ComponentPizzaAPI, probeFailure())

		err := manager.ExecuteWithDegradation(ctx, ComponentPizzaAPI,
			func(ctx context.Context) error { return nil }, nil)
		se, ok := err.(*StructuredError)
		if !ok || se.Code != ErrCodeUpstreamUnavailable {
			t.Errorf("Expected unavailable structured error, got %v", err)
		}
	})

	t.Run("Cancelled calls are not recorded", func(t *testing.T) {
		manager := NewGracefulDegradationManager(nil)
		manager.RegisterComponent(rule)
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		manager.ExecuteWithDegradation(cctx, ComponentPizzaAPI,
			func(ctx context.Context) error { return ctx.Err() }, nil)

		if !manager.IsComponentHealthy(ComponentPizzaAPI) {
			t.Error("Expected cancellation not to degrade the component")
		}
	})

	t.Run("Unregistered component is an error", func(t *testing.T) {
		manager := NewGracefulDegradationManager(nil)
		if err := manager.ExecuteWithDegradation(ctx, ComponentPizzaAPI,
			func(ctx context.Context) error { return nil }, nil); err == nil {
			t.Error("Expected error for unregistered component")
		}
	})
}

func TestDegradationCallbacks(t *testing.T) {
	t.Run("State change callback fires on degradation and recovery", func(t *testing.T) {
		manager := NewGracefulDegradationManager(nil)
		type transition struct{ from, to DegradationLevel }
		transitions := make(chan transition, 2)
		manager.SetStateChangeCallback(func(component ServiceComponent, oldLevel, newLevel DegradationLevel) {
			transitions <- transition{oldLevel, newLevel}
		})
		manager.RegisterComponent(DegradationRule{Component: ComponentPizzaAPI, ErrorThreshold: 1, TimeWindow: time.Minute, DegradationLevel: DegradationMajor})

		manager.RecordError(ComponentPizzaAPI, probeFailure())
		manager.RecordSuccess(ComponentPizzaAPI)

		seen := map[transition]bool{}
		for i := 0; i < 2; i++ {
			select {
			case tr := <-transitions:
				seen[tr] = true
			case <-time.After(time.Second):
				t.Fatal("Expected two transitions")
			}
		}
		if !seen[transition{DegradationNone, DegradationMajor}] || !seen[transition{DegradationMajor, DegradationNone}] {
			t.Errorf("Unexpected transitions %v", seen)
		}
	})

	t.Run("Fallback runs on degradation", func(t *testing.T) {
		manager := NewGracefulDegradationManager(nil)
		ran := make(chan struct{})
		manager.RegisterComponent(DegradationRule{
			Component:        ComponentResponseCache,
			ErrorThreshold:   1,
			TimeWindow:       time.Minute,
			DegradationLevel: DegradationMinor,
			FallbackBehavior: func(ctx context.Context) error {
				close(ran)
				return fmt.Errorf("fallback failed")
			},
		})

		manager.RecordError(ComponentResponseCache, NewCacheError(ErrCodeCacheMiss, "miss", nil))

		select {
		case <-ran:
		case <-time.After(time.Second):
			t.Fatal("Expected fallback to run")
		}
	})
}

func TestCreateDefaultRules(t *testing.T) {
	rules := CreateDefaultRules()

	expected := map[ServiceComponent]bool{
		ComponentPizzaAPI:      true,
		ComponentResponseCache: true,
		ComponentConfigReload:  true,
	}
	if len(rules) != len(expected) {
		t.Fatalf("Expected %d default rules, got %d", len(expected), len(rules))
	}

	for _, rule := range rules {
		if !expected[rule.Component] {
			t.Errorf("Unexpected component %s", rule.Component)
		}
		if rule.ErrorThreshold <= 0 || rule.TimeWindow <= 0 {
			t.Errorf("Expected positive threshold and window for %s", rule.Component)
		}
		if rule.DegradationLevel == DegradationNone {
			t.Errorf("Expected %s to degrade to a non-NONE level", rule.Component)
		}
	}
}
