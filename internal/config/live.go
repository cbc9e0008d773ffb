package config

import (
	"reflect"
	"sync"
)

// Live is the configuration of a running bridge, shared by the daemon and
// the file watcher. A reload swaps it whole and reports what differs, so
// the daemon applies what it can change in place and flags the rest.
type Live struct {
	mu   sync.RWMutex
	cfg  *Config
	path string
}

// NewLive starts from the config loaded at startup.
func NewLive(cfg *Config, path string) *Live {
	return &Live{cfg: cfg, path: path}
}

// Config returns the active config. Callers must not modify it.
func (l *Live) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.cfg
}

// Path is the watched config file.
func (l *Live) Path() string {
	return l.path
}

// Swap installs cfg and returns how it differs from the config it replaces.
func (l *Live) Swap(cfg *Config) Changes {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch := Diff(l.cfg, cfg)
	l.cfg = cfg

	return ch
}

// Changes is the difference between two configs as a running bridge sees
// it. Only the log level applies without a restart.
type Changes struct {
	LogLevel bool
	Restart  []string // TOML sections whose changes need a restart
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool {
	return !c.LogLevel && len(c.Restart) == 0
}

// Diff compares old and next section by section.
func Diff(old, next *Config) Changes {
	var ch Changes

	ch.LogLevel = old.Logging.LogLevel != next.Logging.LogLevel

	oldLog, nextLog := old.Logging, next.Logging
	oldLog.LogLevel, nextLog.LogLevel = "", ""

	sections := []struct {
		name string
		a, b any
	}{
		{"data_dir", old.DataDir, next.DataDir},
		{"polling", old.Polling, next.Polling},
		{"api", old.API, next.API},
		{"logging", oldLog, nextLog},
		{"mqtt", old.MQTT, next.MQTT},
		{"influxdb", old.InfluxDB, next.InfluxDB},
		{"store", old.Store, next.Store},
	}

	for _, s := range sections {
		if !reflect.DeepEqual(s.a, s.b) {
			ch.Restart = append(ch.Restart, s.name)
		}
	}

	return ch
}
