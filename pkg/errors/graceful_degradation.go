package errors

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DegradationLevel represents the level of service degradation
type DegradationLevel int

const (
	// DegradationNone - full service functionality
	DegradationNone DegradationLevel = iota
	// DegradationMinor - optional features disabled
	DegradationMinor
	// DegradationMajor - menu reads served from stale cache only
	DegradationMajor
	// DegradationCritical - upstream considered down
	DegradationCritical
)

// String returns the string representation of the degradation level
func (d DegradationLevel) String() string {
	switch d {
	case DegradationNone:
		return "NONE"
	case DegradationMinor:
		return "MINOR"
	case DegradationMajor:
		return "MAJOR"
	case DegradationCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ServiceComponent represents a component that can be degraded
type ServiceComponent string

const (
	ComponentPizzaAPI      ServiceComponent = "pizza_api"
	ComponentResponseCache ServiceComponent = "response_cache"
	ComponentConfigReload  ServiceComponent = "config_reload"
)

// DegradationRule defines when and how to degrade a service component
type DegradationRule struct {
	Component        ServiceComponent
	ErrorThreshold   int
	TimeWindow       time.Duration
	DegradationLevel DegradationLevel
	// RecoverySuccesses is the number of consecutive successes that bring a
	// degraded component back. Zero recovers on the first success.
	RecoverySuccesses int
	FallbackBehavior  func(ctx context.Context) error
}

// ComponentStatus tracks the status of a service component
type ComponentStatus struct {
	Component        ServiceComponent `json:"component"`
	DegradationLevel DegradationLevel `json:"degradationLevel"`
	ErrorCount       int              `json:"errorCount"`
	SuccessStreak    int              `json:"successStreak"`
	LastError        time.Time        `json:"lastError"`
	LastErrorMessage string           `json:"lastErrorMessage,omitempty"`
	LastRecovery     time.Time        `json:"lastRecovery"`
	IsHealthy        bool             `json:"isHealthy"`
	Message          string           `json:"message"`
}

// GracefulDegradationManager manages service degradation based on error patterns
type GracefulDegradationManager struct {
	components    map[ServiceComponent]*ComponentStatus
	rules         map[ServiceComponent]*DegradationRule
	errorHistory  map[ServiceComponent][]time.Time
	logger        *slog.Logger
	mutex         sync.RWMutex
	onStateChange func(component ServiceComponent, oldLevel, newLevel DegradationLevel)
}

// NewGracefulDegradationManager creates a new graceful degradation manager.
// A nil logger discards fallback failures.
func NewGracefulDegradationManager(logger *slog.Logger) *GracefulDegradationManager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &GracefulDegradationManager{
		components:   make(map[ServiceComponent]*ComponentStatus),
		rules:        make(map[ServiceComponent]*DegradationRule),
		errorHistory: make(map[ServiceComponent][]time.Time),
		logger:       logger,
	}
}

// RegisterComponent registers a component with degradation rules
func (gdm *GracefulDegradationManager) RegisterComponent(rule DegradationRule) {
	gdm.mutex.Lock()
	defer gdm.mutex.Unlock()

	gdm.rules[rule.Component] = &rule
	gdm.components[rule.Component] = &ComponentStatus{
		Component:        rule.Component,
		DegradationLevel: DegradationNone,
		IsHealthy:        true,
		Message:          "Component operating normally",
	}
	gdm.errorHistory[rule.Component] = nil
}

// SetStateChangeCallback sets a callback for when component degradation levels change
func (gdm *GracefulDegradationManager) SetStateChangeCallback(callback func(ServiceComponent, DegradationLevel, DegradationLevel)) {
	gdm.mutex.Lock()
	defer gdm.mutex.Unlock()
	gdm.onStateChange = callback
}

// RecordError records an error for a component and potentially triggers degradation
func (gdm *GracefulDegradationManager) RecordError(component ServiceComponent, err error) {
	gdm.mutex.Lock()
	defer gdm.mutex.Unlock()

	status, exists := gdm.components[component]
	if !exists {
		return
	}

	rule := gdm.rules[component]
	now := time.Now()

	gdm.errorHistory[component] = append(gdm.errorHistory[component], now)
	gdm.cleanErrorHistory(component, rule.TimeWindow, now)

	status.ErrorCount = len(gdm.errorHistory[component])
	status.SuccessStreak = 0
	status.LastError = now
	if err != nil {
		status.LastErrorMessage = err.Error()
	}

	oldLevel := status.DegradationLevel
	if status.ErrorCount >= rule.ErrorThreshold && oldLevel < rule.DegradationLevel {
		gdm.degradeComponent(component, rule.DegradationLevel)
	}

	gdm.notify(component, oldLevel, status.DegradationLevel)
}

// RecordSuccess records a successful operation for a component
func (gdm *GracefulDegradationManager) RecordSuccess(component ServiceComponent) {
	gdm.mutex.Lock()
	defer gdm.mutex.Unlock()

	status, exists := gdm.components[component]
	if !exists {
		return
	}

	status.SuccessStreak++
	if status.DegradationLevel == DegradationNone {
		return
	}

	rule := gdm.rules[component]
	if status.SuccessStreak >= rule.RecoverySuccesses {
		oldLevel := status.DegradationLevel
		gdm.recoverComponent(component)
		gdm.notify(component, oldLevel, DegradationNone)
	}
}

func (gdm *GracefulDegradationManager) notify(component ServiceComponent, oldLevel, newLevel DegradationLevel) {
	if gdm.onStateChange != nil && oldLevel != newLevel {
		go gdm.onStateChange(component, oldLevel, newLevel)
	}
}

func (gdm *GracefulDegradationManager) degradeComponent(component ServiceComponent, level DegradationLevel) {
	status := gdm.components[component]

	status.DegradationLevel = level
	status.IsHealthy = false
	status.Message = fmt.Sprintf("Component degraded to %s due to repeated errors", level.String())

	rule := gdm.rules[component]
	if rule.FallbackBehavior != nil {
		go func() {
			if err := rule.FallbackBehavior(context.Background()); err != nil {
				gdm.logger.Warn("Fallback behavior failed",
					"component", string(component),
					"error", err.Error())
			}
		}()
	}
}

func (gdm *GracefulDegradationManager) recoverComponent(component ServiceComponent) {
	status := gdm.components[component]
	status.DegradationLevel = DegradationNone
	status.IsHealthy = true
	status.LastRecovery = time.Now()
	status.Message = "Component recovered to normal operation"

	gdm.errorHistory[component] = nil
	status.ErrorCount = 0
}

func (gdm *GracefulDegradationManager) cleanErrorHistory(component ServiceComponent, window time.Duration, now time.Time) {
	cutoff := now.Add(-window)
	history := gdm.errorHistory[component]

	cleaned := history[:0]
	for _, errorTime := range history {
		if errorTime.After(cutoff) {
			cleaned = append(cleaned, errorTime)
		}
	}
	gdm.errorHistory[component] = cleaned
}

// GetComponentStatus returns a copy of the current status of a component
func (gdm *GracefulDegradationManager) GetComponentStatus(component ServiceComponent) (*ComponentStatus, bool) {
	gdm.mutex.RLock()
	defer gdm.mutex.RUnlock()

	status, exists := gdm.components[component]
	if !exists {
		return nil, false
	}

	statusCopy := *status
	return &statusCopy, true
}

// GetAllComponentStatuses returns the status of all registered components
func (gdm *GracefulDegradationManager) GetAllComponentStatuses() map[ServiceComponent]*ComponentStatus {
	gdm.mutex.RLock()
	defer gdm.mutex.RUnlock()

	result := make(map[ServiceComponent]*ComponentStatus)
	for component, status := range gdm.components {
		statusCopy := *status
		result[component] = &statusCopy
	}
	return result
}

// IsComponentHealthy returns true if the component is operating normally.
// Unregistered components count as healthy.
func (gdm *GracefulDegradationManager) IsComponentHealthy(component ServiceComponent) bool {
	gdm.mutex.RLock()
	defer gdm.mutex.RUnlock()

	status, exists := gdm.components[component]
	return !exists || status.IsHealthy
}

// GetOverallHealth returns the worst degradation level across components
func (gdm *GracefulDegradationManager) GetOverallHealth() DegradationLevel {
	gdm.mutex.RLock()
	defer gdm.mutex.RUnlock()

	maxDegradation := DegradationNone
	for _, status := range gdm.components {
		if status.DegradationLevel > maxDegradation {
			maxDegradation = status.DegradationLevel
		}
	}
	return maxDegradation
}

// ExecuteWithDegradation runs normalFn while the component is healthy and
// degradedFn once it is degraded. Outcomes of normalFn are recorded.
func (gdm *GracefulDegradationManager) ExecuteWithDegradation(
	ctx context.Context,
	component ServiceComponent,
	normalFn func(ctx context.Context) error,
	degradedFn func(ctx context.Context, level DegradationLevel) error,
) error {
	status, exists := gdm.GetComponentStatus(component)
	if !exists {
		return NewSystemError("COMPONENT_NOT_REGISTERED",
			fmt.Sprintf("Component %s not registered for degradation management", component), nil)
	}

	if status.DegradationLevel == DegradationNone {
		err := normalFn(ctx)
		switch {
		case err == nil:
			gdm.RecordSuccess(component)
		case ctx.Err() == nil:
			gdm.RecordError(component, err)
		}
		return err
	}

	if degradedFn != nil {
		return degradedFn(ctx, status.DegradationLevel)
	}

	return NewUpstreamError(ErrCodeUpstreamUnavailable,
		fmt.Sprintf("Component %s is degraded (%s) and no fallback provided",
			component, status.DegradationLevel.String()), nil).
		WithContext("component", string(component)).
		WithContext("degradation_level", status.DegradationLevel.String())
}

// CreateDefaultRules creates the degradation rules for the pizza service.
// The Pizza API rule is driven by the scheduled health probe and by menu reads.
func CreateDefaultRules() []DegradationRule {
	return []DegradationRule{
		{
			Component:         ComponentPizzaAPI,
			ErrorThreshold:    3,
			TimeWindow:        5 * time.Minute,
			DegradationLevel:  DegradationMajor,
			RecoverySuccesses: 2,
		},
		{
			Component:         ComponentResponseCache,
			ErrorThreshold:    5,
			TimeWindow:        3 * time.Minute,
			DegradationLevel:  DegradationMinor,
			RecoverySuccesses: 1,
		},
		{
			Component:         ComponentConfigReload,
			ErrorThreshold:    3,
			TimeWindow:        10 * time.Minute,
			DegradationLevel:  DegradationMinor,
			RecoverySuccesses: 1,
		},
	}
}
