package config

import (
	"github.com/CaseyRo/ha-bosch/internal/coordinator"
	"github.com/CaseyRo/ha-bosch/internal/oauth"
	"github.com/CaseyRo/ha-bosch/internal/pointtapi"
)

// Default values for configuration options. These represent the "layer 0"
// of the four-layer override chain.
const (
	defaultPollInterval       = "60s"
	defaultCycleTimeout       = "120s"
	defaultRequestTimeout     = "30s"
	defaultTokenRefreshMargin = "5m"
	defaultLogLevel           = "info"
	defaultLogFormat          = "auto"
	defaultMQTTPort           = 1883
	defaultMQTTClientID       = "ha-bosch"
	defaultDiscoveryPrefix    = "homeassistant"
	defaultBaseTopic          = "ha-bosch"
	defaultReconnectInitial   = "1s"
	defaultReconnectMax       = "60s"
	defaultInfluxBatchSize    = 100
	defaultFlushInterval      = "10s"
)

// File names under the data dir.
const (
	entriesDirName = "entries"
	storeFileName  = "state.db"
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		DataDir:  DefaultDataDir(),
		Polling:  defaultPollingConfig(),
		API:      defaultAPIConfig(),
		Logging:  defaultLoggingConfig(),
		MQTT:     defaultMQTTConfig(),
		InfluxDB: defaultInfluxDBConfig(),
	}
}

func defaultPollingConfig() PollingConfig {
	return PollingConfig{
		Interval:           defaultPollInterval,
		CycleTimeout:       defaultCycleTimeout,
		RequestTimeout:     defaultRequestTimeout,
		TokenRefreshMargin: defaultTokenRefreshMargin,
		Roots:              append([]string(nil), coordinator.DefaultRoots...),
	}
}

func defaultAPIConfig() APIConfig {
	return APIConfig{
		BaseURL:  pointtapi.DefaultBaseURL,
		TokenURL: oauth.TokenURL,
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
	}
}

func defaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		Port:                  defaultMQTTPort,
		ClientID:              defaultMQTTClientID,
		DiscoveryPrefix:       defaultDiscoveryPrefix,
		BaseTopic:             defaultBaseTopic,
		ReconnectInitialDelay: defaultReconnectInitial,
		ReconnectMaxDelay:     defaultReconnectMax,
	}
}

func defaultInfluxDBConfig() InfluxDBConfig {
	return InfluxDBConfig{
		BatchSize:     defaultInfluxBatchSize,
		FlushInterval: defaultFlushInterval,
	}
}
