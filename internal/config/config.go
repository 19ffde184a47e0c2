// Package config loads routine definitions for the evcat command.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// RoutineDefinition represents one configured routine.
type RoutineDefinition struct {
	Name   string       `yaml:"name"`
	Source SourceConfig `yaml:"source"`
	Output OutputConfig `yaml:"output,omitempty"`
}

// SourceConfig holds source configuration.
type SourceConfig struct {
	Type   string                 `yaml:"type"`
	Config map[string]interface{} `yaml:"config"`
}

// OutputConfig controls how evcat renders events.
type OutputConfig struct {
	// Format is "raw" (default) or "cloudevents".
	Format string `yaml:"format"`
}

// sourceTypes are the transports evcat can construct.
var sourceTypes = map[string]bool{
	"udp":    true,
	"serial": true,
	"file":   true,
	"ws":     true,
	"kafka":  true,
}

// Loader loads and watches routine definition files.
type Loader struct {
	mu       sync.RWMutex
	routines map[string]*RoutineDefinition
	dir      string
	logger   *slog.Logger
	onChange func(map[string]*RoutineDefinition)
}

// NewLoader creates a new configuration loader for the given directory.
func NewLoader(dir string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		routines: make(map[string]*RoutineDefinition),
		dir:      dir,
		logger:   logger,
	}
}

// OnChange registers a callback that fires when config files change.
func (l *Loader) OnChange(fn func(map[string]*RoutineDefinition)) {
	l.onChange = fn
}

// Load reads all YAML files from the configured directory.
func (l *Loader) Load() (map[string]*RoutineDefinition, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read config dir %s: %w", l.dir, err)
	}

	routines := make(map[string]*RoutineDefinition)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(l.dir, entry.Name())
		def, err := l.loadFile(path)
		if err != nil {
			l.logger.Error("failed to load config file", "path", path, "error", err)
			continue
		}
		routines[def.Name] = def
	}

	l.mu.Lock()
	l.routines = routines
	l.mu.Unlock()

	return routines, nil
}

// Watch starts watching the config directory for changes. Blocks until
// done is closed.
func (l *Loader) Watch(done <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() {
		_ = watcher.Close() // intentionally ignoring close error during cleanup
	}()

	if err := watcher.Add(l.dir); err != nil {
		return fmt.Errorf("watch dir %s: %w", l.dir, err)
	}

	l.logger.Info("watching config directory", "dir", l.dir)

	for {
		select {
		case <-done:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) {
				l.logger.Info("config change detected", "file", event.Name, "op", event.Op)
				routines, err := l.Load()
				if err != nil {
					l.logger.Error("failed to reload config", "error", err)
					continue
				}
				if l.onChange != nil {
					l.onChange(routines)
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Error("watcher error", "error", err)
		}
	}
}

// GetRoutines returns a copy of the currently loaded definitions.
func (l *Loader) GetRoutines() map[string]*RoutineDefinition {
	l.mu.RLock()
	defer l.mu.RUnlock()

	routines := make(map[string]*RoutineDefinition, len(l.routines))
	for k, v := range l.routines {
		routines[k] = v
	}
	return routines
}

func (l *Loader) loadFile(path string) (*RoutineDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var def RoutineDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	if def.Name == "" {
		return nil, fmt.Errorf("routine definition missing 'name' field in %s", path)
	}
	if !sourceTypes[def.Source.Type] {
		return nil, fmt.Errorf("unknown source type %q in %s", def.Source.Type, path)
	}

	return &def, nil
}
