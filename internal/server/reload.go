package server

import (
	"github.com/pratapladhani/pizza-mcp-agents/pkg/config"
	"github.com/pratapladhani/pizza-mcp-agents/pkg/errors"
	"github.com/pratapladhani/pizza-mcp-agents/pkg/logging"
	"github.com/pratapladhani/pizza-mcp-agents/pkg/monitor"
)

// watchConfig reloads the log level whenever the config file changes
func (s *PizzaServer) watchConfig() error {
	m, err := monitor.NewFileSystemMonitor(s.loggingManager.GetLogger("config_monitor"))
	if err != nil {
		return err
	}
	if err := m.WatchFile(s.configPath, s.onConfigEvent); err != nil {
		_ = m.StopWatching()
		return err
	}
	s.monitor = m
	return nil
}

func (s *PizzaServer) onConfigEvent(event monitor.FileEvent) {
	if event.Type == monitor.EventDelete {
		s.logger.WithContext("config_file", event.Path).
			Warn("Config file removed - keeping the current configuration")
		return
	}
	s.reloadConfig(event.Path)
}

// reloadConfig applies the settings that can change at runtime. Other
// changed settings are reported as needing a restart.
func (s *PizzaServer) reloadConfig(path string) {
	next, err := config.Load(path)
	if err != nil {
		s.loggingManager.LogConfigReload(path, nil, err)
		s.degradationManager.RecordError(errors.ComponentConfigReload, err)
		return
	}

	changes := map[string]interface{}{}
	if level, _ := logging.ParseLevel(next.Logging.Level); level.String() != s.loggingManager.GetLogLevel() {
		changes["log_level_from"] = s.loggingManager.GetLogLevel()
		s.loggingManager.SetLogLevel(next.Logging.Level)
		changes["log_level_to"] = s.loggingManager.GetLogLevel()
	}
	if restart := restartRequired(s.cfg, next); len(restart) > 0 {
		changes["restart_required"] = restart
	}

	s.loggingManager.LogConfigReload(path, changes, nil)
	s.degradationManager.RecordSuccess(errors.ComponentConfigReload)
}

// restartRequired lists the sections that differ but are only read at startup
func restartRequired(current, next *config.Config) []string {
	var sections []string
	if current.Server != next.Server {
		sections = append(sections, "server")
	}
	if current.PizzaAPI != next.PizzaAPI {
		sections = append(sections, "pizza_api")
	}
	if current.Cache != next.Cache {
		sections = append(sections, "cache")
	}
	if current.Tracing != next.Tracing {
		sections = append(sections, "tracing")
	}
	if current.Health != next.Health {
		sections = append(sections, "health")
	}
	return sections
}
