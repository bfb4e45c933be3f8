package server

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pratapladhani/pizza-mcp-agents/pkg/errors"
	"github.com/pratapladhani/pizza-mcp-agents/pkg/logging"
)

// probeTimeout bounds a single health check
const probeTimeout = 5 * time.Second

// Pinger checks that an upstream answers
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthProbe pings the Pizza API on a cron schedule and feeds the outcome
// into the degradation manager
type HealthProbe struct {
	cron        *cron.Cron
	pinger      Pinger
	degradation *errors.GracefulDegradationManager
	lm          *logging.LoggingManager
	logger      *logging.StructuredLogger
}

// NewHealthProbe parses schedule (standard cron or @every descriptors) and
// prepares the probe without starting it
func NewHealthProbe(schedule string, pinger Pinger, degradation *errors.GracefulDegradationManager, lm *logging.LoggingManager) (*HealthProbe, error) {
	p := &HealthProbe{
		cron:        cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		pinger:      pinger,
		degradation: degradation,
		lm:          lm,
		logger:      lm.GetLogger("health"),
	}

	if _, err := p.cron.AddFunc(schedule, func() { p.Check(context.Background()) }); err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, "invalid health schedule", err).
			WithContext("schedule", schedule)
	}
	return p, nil
}

// Start begins scheduled checks
func (p *HealthProbe) Start() {
	p.cron.Start()
	p.logger.Info("Health probe started")
}

// Stop waits for a running check to finish
func (p *HealthProbe) Stop() {
	<-p.cron.Stop().Done()
}

// Check pings once and records the result
func (p *HealthProbe) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := time.Now()
	err := p.pinger.Ping(ctx)
	duration := time.Since(start)

	if err != nil {
		p.degradation.RecordError(errors.ComponentPizzaAPI, err)
	} else {
		p.degradation.RecordSuccess(errors.ComponentPizzaAPI)
	}

	health := map[string]interface{}{
		"component":   string(errors.ComponentPizzaAPI),
		"healthy":     err == nil,
		"duration_ms": duration.Milliseconds(),
	}
	if status, ok := p.degradation.GetComponentStatus(errors.ComponentPizzaAPI); ok {
		health["degradation_level"] = status.DegradationLevel.String()
		health["error_count"] = status.ErrorCount
	}
	if err != nil {
		health["error"] = err.Error()
	}
	p.lm.LogSystemHealth(health)

	return err
}
