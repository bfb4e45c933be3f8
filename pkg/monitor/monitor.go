// Package monitor watches configuration files for changes.
package monitor

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/pratapladhani/pizza-mcp-agents/pkg/logging"
)

// DefaultDebounceDelay coalesces bursts of writes from editors
const DefaultDebounceDelay = 500 * time.Millisecond

// Event types delivered to callbacks
const (
	EventCreate = "create"
	EventModify = "modify"
	EventDelete = "delete"
)

// FileEvent describes a change to a watched file
type FileEvent struct {
	Type string
	Path string
}

type watch struct {
	path     string
	callback func(FileEvent)
}

// FileSystemMonitor delivers debounced change events for individual files.
// It watches the parent directory so files replaced by rename are still seen.
type FileSystemMonitor struct {
	watcher       *fsnotify.Watcher
	debounceDelay time.Duration
	logger        *logging.StructuredLogger

	mu      sync.Mutex
	watches []watch
	dirs    map[string]struct{}
	timers  map[string]*time.Timer
	started bool
	closed  bool
}

// NewFileSystemMonitor creates a new file system monitor
func NewFileSystemMonitor(logger *logging.StructuredLogger) (*FileSystemMonitor, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if logger == nil {
		logger = logging.NewStructuredLogger("monitor")
	}

	return &FileSystemMonitor{
		watcher:       watcher,
		debounceDelay: DefaultDebounceDelay,
		logger:        logger,
		dirs:          make(map[string]struct{}),
		timers:        make(map[string]*time.Timer),
	}, nil
}

// SetDebounceDelay changes the quiet period before an event is delivered
func (fsm *FileSystemMonitor) SetDebounceDelay(d time.Duration) {
	fsm.mu.Lock()
	defer fsm.mu.Unlock()
	fsm.debounceDelay = d
}

// WatchFile calls callback after path is created, written, or removed
func (fsm *FileSystemMonitor) WatchFile(path string, callback func(FileEvent)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	dir := filepath.Dir(abs)

	fsm.mu.Lock()
	defer fsm.mu.Unlock()

	if fsm.closed {
		return fmt.Errorf("monitor is stopped")
	}

	if _, ok := fsm.dirs[dir]; !ok {
		if err := fsm.watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch directory %s: %w", dir, err)
		}
		fsm.dirs[dir] = struct{}{}
	}
	fsm.watches = append(fsm.watches, watch{path: abs, callback: callback})

	if !fsm.started {
		fsm.started = true
		go fsm.monitorEvents()
	}

	fsm.logger.LogFileSystemEvent("watch", abs, nil)
	return nil
}

// StopWatching stops the file system monitoring. Pending events are dropped.
func (fsm *FileSystemMonitor) StopWatching() error {
	fsm.mu.Lock()
	if fsm.closed {
		fsm.mu.Unlock()
		return nil
	}
	fsm.closed = true
	for name, timer := range fsm.timers {
		timer.Stop()
		delete(fsm.timers, name)
	}
	fsm.mu.Unlock()

	return fsm.watcher.Close()
}

func (fsm *FileSystemMonitor) monitorEvents() {
	for {
		select {
		case event, ok := <-fsm.watcher.Events:
			if !ok {
				return
			}
			fsm.schedule(event)

		case err, ok := <-fsm.watcher.Errors:
			if !ok {
				return
			}
			fsm.logger.WithError(err).Warn("File watcher error")
		}
	}
}

// schedule debounces events per file name
func (fsm *FileSystemMonitor) schedule(event fsnotify.Event) {
	name := filepath.Clean(event.Name)

	fsm.mu.Lock()
	defer fsm.mu.Unlock()

	if fsm.closed || !fsm.isWatched(name) {
		return
	}

	if timer, exists := fsm.timers[name]; exists {
		timer.Stop()
	}
	fsm.timers[name] = time.AfterFunc(fsm.debounceDelay, func() {
		fsm.mu.Lock()
		delete(fsm.timers, name)
		closed := fsm.closed
		fsm.mu.Unlock()

		if !closed {
			fsm.processEvent(event)
		}
	})
}

func (fsm *FileSystemMonitor) isWatched(name string) bool {
	for _, w := range fsm.watches {
		if w.path == name {
			return true
		}
	}
	return false
}

// processEvent converts the fsnotify event and runs the callbacks for its file
func (fsm *FileSystemMonitor) processEvent(event fsnotify.Event) {
	var eventType string
	switch {
	case event.Op.Has(fsnotify.Create):
		eventType = EventCreate
	case event.Op.Has(fsnotify.Write):
		eventType = EventModify
	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		eventType = EventDelete
	default:
		return
	}

	name := filepath.Clean(event.Name)
	fileEvent := FileEvent{Type: eventType, Path: name}

	fsm.mu.Lock()
	var callbacks []func(FileEvent)
	for _, w := range fsm.watches {
		if w.path == name {
			callbacks = append(callbacks, w.callback)
		}
	}
	fsm.mu.Unlock()

	fsm.logger.LogFileSystemEvent(eventType, name, map[string]interface{}{
		"callbacks": len(callbacks),
	})
	for _, callback := range callbacks {
		callback(fileEvent)
	}
}
