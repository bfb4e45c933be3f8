// Package server wires the pizza MCP server together: configuration,
// logging, tracing, the Pizza API client, tool registration and transports.
package server

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/pratapladhani/pizza-mcp-agents/pkg/adapter"
	"github.com/pratapladhani/pizza-mcp-agents/pkg/cache"
	"github.com/pratapladhani/pizza-mcp-agents/pkg/config"
	"github.com/pratapladhani/pizza-mcp-agents/pkg/errors"
	"github.com/pratapladhani/pizza-mcp-agents/pkg/logging"
	"github.com/pratapladhani/pizza-mcp-agents/pkg/monitor"
	"github.com/pratapladhani/pizza-mcp-agents/pkg/pizza"
	"github.com/pratapladhani/pizza-mcp-agents/pkg/protocol"
	"github.com/pratapladhani/pizza-mcp-agents/pkg/telemetry"
	"github.com/pratapladhani/pizza-mcp-agents/pkg/tools"
)

// Options configures a PizzaServer
type Options struct {
	Config         *config.Config
	ConfigPath     string // watched for log level changes when set
	LoggingManager *logging.LoggingManager
	HTTPClient     *http.Client // Pizza API transport, mainly for tests
}

// PizzaServer is the MCP server exposing the pizza tools
type PizzaServer struct {
	cfg        *config.Config
	configPath string

	loggingManager *logging.LoggingManager
	logger         *logging.StructuredLogger

	tracing *telemetry.Provider

	cache                 *cache.ResponseCache
	circuitBreakerManager *errors.CircuitBreakerManager
	degradationManager    *errors.GracefulDegradationManager

	client   *pizza.Client
	registry *tools.Registry
	protocol *protocol.Server
	stats    *tools.ToolStats

	health  *HealthProbe
	monitor *monitor.FileSystemMonitor

	shutdownOnce sync.Once
}

// New builds the server and registers every pizza tool
func New(ctx context.Context, opts Options) (*PizzaServer, error) {
	startTime := time.Now()

	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	lm := opts.LoggingManager
	if lm == nil {
		lm = logging.NewLoggingManager()
	}
	lm.SetLogLevel(cfg.Logging.Level)
	lm.SetGlobalContext("service", pizza.ServerName)
	lm.SetGlobalContext("version", pizza.ServerVersion)

	s := &PizzaServer{
		cfg:            cfg,
		configPath:     opts.ConfigPath,
		loggingManager: lm,
		logger:         lm.GetLogger("server"),
		stats:          tools.NewToolStats(),
	}

	lm.LogStartupSequence("server_init", map[string]interface{}{
		"transport":    cfg.Server.Transport,
		"pizza_api":    cfg.PizzaAPI.BaseURL,
		"tracing":      cfg.Tracing.Enabled,
		"health_probe": cfg.Health.Enabled,
	}, 0, true)

	tracingStart := time.Now()
	tracing, err := telemetry.NewProvider(ctx, cfg.Tracing, pizza.ServerVersion)
	if err != nil {
		lm.LogStartupSequence("tracing_init", map[string]interface{}{"error": err.Error()}, time.Since(tracingStart), false)
		return nil, errors.NewSystemError(errors.ErrCodeInitializationFailed, "failed to initialize tracing", err)
	}
	s.tracing = tracing
	lm.LogStartupSequence("tracing_init", nil, time.Since(tracingStart), true)

	s.initResilience()

	clientStart := time.Now()
	if err := s.initClient(opts.HTTPClient); err != nil {
		lm.LogStartupSequence("pizza_client_init", map[string]interface{}{"error": err.Error()}, time.Since(clientStart), false)
		_ = s.tracing.Shutdown(ctx)
		s.cache.Close()
		return nil, err
	}
	lm.LogStartupSequence("pizza_client_init", nil, time.Since(clientStart), true)

	toolsStart := time.Now()
	if err := s.registerTools(); err != nil {
		lm.LogStartupSequence("tools_init", map[string]interface{}{"error": err.Error()}, time.Since(toolsStart), false)
		_ = s.tracing.Shutdown(ctx)
		s.cache.Close()
		return nil, errors.NewSystemError(errors.ErrCodeInitializationFailed, "failed to register tools", err)
	}
	lm.LogStartupSequence("tools_init", map[string]interface{}{
		"tools": s.registry.Names(),
	}, time.Since(toolsStart), true)

	lm.LogStartupSequence("server_ready", map[string]interface{}{
		"total_startup_time_ms": time.Since(startTime).Milliseconds(),
	}, time.Since(startTime), true)

	return s, nil
}

// initResilience sets up the cache, breakers and degradation tracking
func (s *PizzaServer) initResilience() {
	lm := s.loggingManager

	s.cache = cache.NewResponseCache(cache.Options{
		TTL:        s.cfg.Cache.TTLDuration(),
		MaxEntries: s.cfg.Cache.MaxEntries,
		StaleFor:   10 * s.cfg.Cache.TTLDuration(),
		Logger:     lm.GetLogger("cache"),
		OnCleanup:  lm.LogCacheEviction,
	})

	template := errors.DefaultCircuitBreakerConfig("")
	template.IsFailure = pizza.IsUpstreamFailure
	s.circuitBreakerManager = errors.NewCircuitBreakerManager(template)
	s.circuitBreakerManager.SetStateChangeCallback(lm.LogCircuitBreakerStateChange)

	s.degradationManager = errors.NewGracefulDegradationManager(lm.SlogLogger("degradation"))
	for _, rule := range errors.CreateDefaultRules() {
		s.degradationManager.RegisterComponent(rule)
	}
	s.degradationManager.SetStateChangeCallback(s.onDegradationStateChange)
}

func (s *PizzaServer) initClient(httpClient *http.Client) error {
	api := s.cfg.PizzaAPI
	client, err := pizza.NewClient(pizza.Options{
		BaseURL:       api.BaseURL,
		Timeout:       api.TimeoutDuration(),
		RateLimit:     api.RateLimit,
		Burst:         api.Burst,
		RetryAttempts: api.RetryAttempts,
		HTTPClient:    httpClient,
		Cache:         s.cache,
		Breakers:      s.circuitBreakerManager,
		Degradation:   s.degradationManager,
		Tracer:        s.tracing.Tracer(),
		Logger:        s.loggingManager.GetLogger("pizza_client"),
	})
	if err != nil {
		return err
	}
	s.client = client
	return nil
}

// registerTools fills the registry and hands it to the adapter
func (s *PizzaServer) registerTools() error {
	s.registry = tools.NewRegistry(s.loggingManager.GetLogger("tools"))
	if err := s.registry.RegisterAll(pizza.Tools(s.client)...); err != nil {
		return err
	}

	s.protocol = protocol.NewServer(protocol.Options{
		Name:         pizza.ServerName,
		Version:      pizza.ServerVersion,
		Instructions: pizza.Description,
		Logger:       s.loggingManager.SlogLogger("mcp_sdk"),
	})
	s.protocol.MCP().AddReceivingMiddleware(requestLogging(s.loggingManager, s.stats))

	toolAdapter := adapter.New(
		adapter.WithReporter(s.loggingManager.ToolFailureReporter()),
		adapter.WithTracer(s.tracing.Tracer()),
	)
	return toolAdapter.Register(s.protocol, s.registry)
}

// onDegradationStateChange handles degradation state changes
func (s *PizzaServer) onDegradationStateChange(component errors.ServiceComponent, oldLevel, newLevel errors.DegradationLevel) {
	s.loggingManager.LogDegradationStateChange(component, oldLevel, newLevel)

	switch component {
	case errors.ComponentPizzaAPI:
		if newLevel != errors.DegradationNone {
			s.logger.WithContext("action", "serve_stale_menu").
				Warn("Pizza API degraded - serving cached menu data where available")
		} else {
			s.logger.WithContext("action", "resume_live_menu").
				Info("Pizza API recovered - serving live menu data")
		}
	case errors.ComponentConfigReload:
		if newLevel != errors.DegradationNone {
			s.logger.WithContext("action", "keep_current_config").
				Warn("Config reload degraded - keeping the last good configuration")
		}
	}
}

// Start runs the background jobs and the configured transport until ctx is done
func (s *PizzaServer) Start(ctx context.Context) error {
	if s.cfg.Health.Enabled {
		probe, err := NewHealthProbe(s.cfg.Health.Schedule, s.client, s.degradationManager, s.loggingManager)
		if err != nil {
			return err
		}
		s.health = probe
		s.health.Start()
	}

	if s.configPath != "" {
		if err := s.watchConfig(); err != nil {
			s.logger.WithError(err).Warn("Config hot reload disabled")
			s.degradationManager.RecordError(errors.ComponentConfigReload, err)
		}
	}

	s.logger.WithContext("transport", s.cfg.Server.Transport).Info("Pizza MCP server started")

	switch s.cfg.Server.Transport {
	case config.TransportHTTP:
		return s.serveHTTP(ctx, s.cfg.Server.HTTPAddress)
	default:
		return s.serveStdio(ctx)
	}
}

// Shutdown stops background jobs and flushes spans. It is safe to call more than once.
func (s *PizzaServer) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		shutdownStart := time.Now()
		s.loggingManager.LogShutdownSequence("shutdown_start", nil, 0, true)

		if s.health != nil {
			stepStart := time.Now()
			s.health.Stop()
			s.loggingManager.LogShutdownSequence("health_probe_stop", nil, time.Since(stepStart), true)
		}

		if s.monitor != nil {
			stepStart := time.Now()
			if err := s.monitor.StopWatching(); err != nil {
				s.loggingManager.LogShutdownSequence("monitor_stop", map[string]interface{}{
					"error": err.Error(),
				}, time.Since(stepStart), false)
			} else {
				s.loggingManager.LogShutdownSequence("monitor_stop", nil, time.Since(stepStart), true)
			}
		}

		stepStart := time.Now()
		s.cache.Close()
		s.cache.Clear()
		s.loggingManager.LogShutdownSequence("cache_clear", nil, time.Since(stepStart), true)

		stepStart = time.Now()
		if err := s.tracing.Shutdown(ctx); err != nil {
			shutdownErr = errors.NewSystemError(errors.ErrCodeShutdownFailed, "failed to flush traces", err)
			s.loggingManager.LogShutdownSequence("tracing_stop", map[string]interface{}{
				"error": err.Error(),
			}, time.Since(stepStart), false)
		} else {
			s.loggingManager.LogShutdownSequence("tracing_stop", nil, time.Since(stepStart), true)
		}

		s.loggingManager.LogShutdownSequence("shutdown_complete", map[string]interface{}{
			"total_shutdown_time_ms": time.Since(shutdownStart).Milliseconds(),
		}, time.Since(shutdownStart), shutdownErr == nil)
	})

	return shutdownErr
}

// Protocol returns the MCP protocol server
func (s *PizzaServer) Protocol() *protocol.Server {
	return s.protocol
}

// Registry returns the registered tool descriptors
func (s *PizzaServer) Registry() *tools.Registry {
	return s.registry
}

// Stats reports tool, cache, breaker and degradation state
func (s *PizzaServer) Stats() map[string]interface{} {
	breakers := make(map[string]interface{})
	for name, st := range s.client.BreakerStats() {
		breakers[name] = map[string]interface{}{
			"state":    st.State.String(),
			"failures": st.FailureCount,
		}
	}

	components := make(map[string]interface{})
	for component, status := range s.degradationManager.GetAllComponentStatuses() {
		components[string(component)] = status.DegradationLevel.String()
	}

	unhealthy := s.circuitBreakerManager.GetUnhealthyBreakers()
	if unhealthy == nil {
		unhealthy = []string{}
	}
	sort.Strings(unhealthy)

	return map[string]interface{}{
		"tools":              s.stats.Snapshot(),
		"cache":              s.cache.GetPerformanceMetrics(),
		"circuit_breakers":   breakers,
		"unhealthy_breakers": unhealthy,
		"degradation":        components,
		"overall_health":     s.degradationManager.GetOverallHealth().String(),
		"logging":            s.loggingManager.GetStats(),
	}
}
