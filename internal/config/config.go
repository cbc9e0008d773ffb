// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for ha-bosch. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags).
// Durations are kept as strings in the file format and parsed by accessor
// methods after validation.
package config

import (
	"path/filepath"
	"time"
)

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	DataDir  string         `toml:"data_dir"`
	Polling  PollingConfig  `toml:"polling"`
	API      APIConfig      `toml:"api"`
	Logging  LoggingConfig  `toml:"logging"`
	MQTT     MQTTConfig     `toml:"mqtt"`
	InfluxDB InfluxDBConfig `toml:"influxdb"`
	Store    StoreConfig    `toml:"store"`
}

// PollingConfig controls the snapshot coordinator and per-request limits.
type PollingConfig struct {
	Interval           string   `toml:"interval"`
	CycleTimeout       string   `toml:"cycle_timeout"`
	RequestTimeout     string   `toml:"request_timeout"`
	TokenRefreshMargin string   `toml:"token_refresh_margin"`
	Roots              []string `toml:"roots"`
}

// APIConfig points at the vendor endpoints. Overrides exist for testing and
// for installations behind a proxy.
type APIConfig struct {
	BaseURL  string `toml:"base_url"`
	TokenURL string `toml:"token_url"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFile   string `toml:"log_file"`
	LogFormat string `toml:"log_format"`
}

// MQTTConfig configures the Home Assistant discovery bridge.
type MQTTConfig struct {
	Enabled               bool   `toml:"enabled"`
	Host                  string `toml:"host"`
	Port                  int    `toml:"port"`
	TLS                   bool   `toml:"tls"`
	ClientID              string `toml:"client_id"`
	Username              string `toml:"username"`
	Password              string `toml:"password"`
	QoS                   int    `toml:"qos"`
	DiscoveryPrefix       string `toml:"discovery_prefix"`
	BaseTopic             string `toml:"base_topic"`
	ReconnectInitialDelay string `toml:"reconnect_initial_delay"`
	ReconnectMaxDelay     string `toml:"reconnect_max_delay"`
}

// InfluxDBConfig configures the telemetry recorder.
type InfluxDBConfig struct {
	Enabled       bool   `toml:"enabled"`
	URL           string `toml:"url"`
	Token         string `toml:"token"`
	Org           string `toml:"org"`
	Bucket        string `toml:"bucket"`
	BatchSize     int    `toml:"batch_size"`
	FlushInterval string `toml:"flush_interval"`
}

// StoreConfig locates the SQLite state database.
type StoreConfig struct {
	Path string `toml:"path"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	DataDir    *string // --data-dir flag
}

// EntriesDir is where per-gateway entry files live.
func (c *Config) EntriesDir() string {
	return filepath.Join(c.DataDir, entriesDirName)
}

// StorePath is the state database path, defaulting into the data dir.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}

	return filepath.Join(c.DataDir, storeFileName)
}

// IntervalDuration is the parsed poll interval.
func (p *PollingConfig) IntervalDuration() time.Duration {
	return parseDurationOr(p.Interval, defaultPollInterval)
}

// CycleTimeoutDuration is the parsed cycle timeout.
func (p *PollingConfig) CycleTimeoutDuration() time.Duration {
	return parseDurationOr(p.CycleTimeout, defaultCycleTimeout)
}

// RequestTimeoutDuration is the parsed per-request timeout.
func (p *PollingConfig) RequestTimeoutDuration() time.Duration {
	return parseDurationOr(p.RequestTimeout, defaultRequestTimeout)
}

// TokenRefreshMarginDuration is the parsed token refresh margin.
func (p *PollingConfig) TokenRefreshMarginDuration() time.Duration {
	return parseDurationOr(p.TokenRefreshMargin, defaultTokenRefreshMargin)
}

// ReconnectDelays returns the parsed initial and maximum reconnect delays.
func (m *MQTTConfig) ReconnectDelays() (initial, maxDelay time.Duration) {
	return parseDurationOr(m.ReconnectInitialDelay, defaultReconnectInitial),
		parseDurationOr(m.ReconnectMaxDelay, defaultReconnectMax)
}

// FlushIntervalDuration is the parsed Influx flush interval.
func (i *InfluxDBConfig) FlushIntervalDuration() time.Duration {
	return parseDurationOr(i.FlushInterval, defaultFlushInterval)
}

// parseDurationOr parses s, falling back to def string when s is invalid.
// Values reaching here have been validated, so the fallback only covers
// hand-built configs in tests.
func parseDurationOr(s, def string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}

	d, _ := time.ParseDuration(def)

	return d
}
