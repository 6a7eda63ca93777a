package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Runtime setting keys.
const (
	KeyExtractionThreshold = "memory_extraction_threshold"
	KeyAllowedSubjects     = "allowed_subjects"
)

// OverrideSource yields the database-backed setting overrides.
// Implemented by *store.Store.
type OverrideSource interface {
	AllOverrides() (map[string]string, error)
}

// SettingsLoader produces the effective runtime settings: JSON file
// defaults overlaid with last-writer-wins database overrides. The
// defaults file is cached and invalidated through fsnotify, so the
// per-call cost is one overrides query against the embedded database.
type SettingsLoader struct {
	path   string
	source OverrideSource
	log    *zap.Logger

	mu        sync.Mutex
	cached    map[string]any
	haveCache bool
	watcher   *fsnotify.Watcher
}

// NewSettingsLoader builds a loader over the defaults file and override
// source. A missing or unwatchable defaults file is tolerated: settings
// then consist of overrides only.
func NewSettingsLoader(path string, source OverrideSource, log *zap.Logger) *SettingsLoader {
	if log == nil {
		log = zap.NewNop()
	}
	l := &SettingsLoader{path: path, source: source, log: log}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if err := watcher.Add(path); err != nil {
			watcher.Close()
			l.log.Debug("settings file not watchable, re-reading per call",
				zap.String("path", path), zap.Error(err))
		} else {
			l.watcher = watcher
			go l.watch()
		}
	}
	return l
}

func (l *SettingsLoader) watch() {
	for {
		select {
		case _, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			l.mu.Lock()
			l.haveCache = false
			l.mu.Unlock()
		case _, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the file watcher.
func (l *SettingsLoader) Close() error {
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}

// Load returns the merged settings map. File read errors degrade to an
// empty default set; override read errors are returned so callers can
// decide (the tool facade logs and proceeds with defaults).
func (l *SettingsLoader) Load() (map[string]any, error) {
	settings := make(map[string]any)
	for k, v := range l.defaults() {
		settings[k] = v
	}

	if l.source != nil {
		overrides, err := l.source.AllOverrides()
		if err != nil {
			return settings, fmt.Errorf("failed to load overrides: %w", err)
		}
		for k, v := range overrides {
			settings[k] = v
		}
	}
	return settings, nil
}

func (l *SettingsLoader) defaults() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.haveCache && l.watcher != nil {
		return l.cached
	}

	defaults := make(map[string]any)
	data, err := os.ReadFile(l.path)
	if err == nil {
		var parsed map[string]any
		if jsonErr := json.Unmarshal(data, &parsed); jsonErr == nil {
			defaults = parsed
		} else {
			l.log.Warn("defaults file is not a JSON object",
				zap.String("path", l.path), zap.Error(jsonErr))
		}
	} else if !os.IsNotExist(err) {
		l.log.Warn("failed to read defaults file",
			zap.String("path", l.path), zap.Error(err))
	}

	l.cached = defaults
	l.haveCache = true
	return defaults
}

// Threshold parses memory_extraction_threshold tolerantly. Overrides
// arrive as strings, file defaults as JSON numbers; anything unparseable
// reports ok=false so the caller can fall back and log.
func Threshold(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// SubjectList parses allowed_subjects tolerantly: a native list, or a
// JSON-encoded list in a string. Reports ok=false when the value is
// neither.
func SubjectList(v any) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return t, true
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, fmt.Sprint(item))
		}
		return out, true
	case string:
		var parsed []any
		if err := json.Unmarshal([]byte(t), &parsed); err != nil {
			return nil, false
		}
		out := make([]string, 0, len(parsed))
		for _, item := range parsed {
			out = append(out, fmt.Sprint(item))
		}
		return out, true
	default:
		return nil, false
	}
}
