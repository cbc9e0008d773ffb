package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) *Config {
	t.Helper()

	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()

	return cfg
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"relative data dir", func(c *Config) { c.DataDir = "data" }, "data_dir: must be absolute"},
		{"empty data dir", func(c *Config) { c.DataDir = "" }, "data_dir: must not be empty"},
		{"interval too short", func(c *Config) { c.Polling.Interval = "10s" }, "polling.interval"},
		{"interval garbage", func(c *Config) { c.Polling.Interval = "often" }, "invalid duration"},
		{"request timeout too long", func(c *Config) { c.Polling.RequestTimeout = "5m" }, "polling.request_timeout"},
		{"cycle shorter than request", func(c *Config) {
			c.Polling.RequestTimeout = "60s"
			c.Polling.CycleTimeout = "30s"
		}, "polling.cycle_timeout"},
		{"negative margin", func(c *Config) { c.Polling.TokenRefreshMargin = "-1s" }, "token_refresh_margin"},
		{"margin too long", func(c *Config) { c.Polling.TokenRefreshMargin = "2h" }, "token_refresh_margin"},
		{"relative root", func(c *Config) { c.Polling.Roots = []string{"/gateway", "zones"} }, "must start with /"},
		{"primary root missing", func(c *Config) { c.Polling.Roots = []string{"/zones/zn1"} }, "must include /gateway"},
		{"bad base url", func(c *Config) { c.API.BaseURL = "pointt-api/gateways" }, "api.base_url"},
		{"empty token url", func(c *Config) { c.API.TokenURL = "" }, "api.token_url"},
		{"log level", func(c *Config) { c.Logging.LogLevel = "trace" }, "logging.log_level"},
		{"log format", func(c *Config) { c.Logging.LogFormat = "xml" }, "logging.log_format"},
		{"mqtt host", func(c *Config) { c.MQTT.Enabled = true }, "mqtt.host"},
		{"mqtt port", func(c *Config) {
			c.MQTT.Enabled, c.MQTT.Host, c.MQTT.Port = true, "broker", 0
		}, "mqtt.port"},
		{"mqtt qos", func(c *Config) {
			c.MQTT.Enabled, c.MQTT.Host, c.MQTT.QoS = true, "broker", 3
		}, "mqtt.qos"},
		{"mqtt wildcard prefix", func(c *Config) {
			c.MQTT.Enabled, c.MQTT.Host, c.MQTT.DiscoveryPrefix = true, "broker", "home/#"
		}, "mqtt.discovery_prefix"},
		{"mqtt trailing slash", func(c *Config) {
			c.MQTT.Enabled, c.MQTT.Host, c.MQTT.BaseTopic = true, "broker", "bosch/"
		}, "mqtt.base_topic"},
		{"mqtt delays inverted", func(c *Config) {
			c.MQTT.Enabled, c.MQTT.Host = true, "broker"
			c.MQTT.ReconnectInitialDelay, c.MQTT.ReconnectMaxDelay = "2m", "1m"
		}, "reconnect_initial_delay"},
		{"influx url", func(c *Config) {
			c.InfluxDB.Enabled, c.InfluxDB.Org, c.InfluxDB.Bucket = true, "home", "b"
		}, "influxdb.url"},
		{"influx org and bucket", func(c *Config) {
			c.InfluxDB.Enabled, c.InfluxDB.URL = true, "http://influx:8086"
		}, "influxdb.org"},
		{"influx batch size", func(c *Config) {
			c.InfluxDB.Enabled, c.InfluxDB.URL, c.InfluxDB.Org, c.InfluxDB.Bucket = true, "http://influx:8086", "o", "b"
			c.InfluxDB.BatchSize = 0
		}, "influxdb.batch_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_DisabledSectionsNotChecked(t *testing.T) {
	cfg := validConfig(t)
	cfg.MQTT.Host = ""
	cfg.MQTT.QoS = 7
	cfg.InfluxDB.URL = ""

	require.NoError(t, Validate(cfg))
}

func TestValidate_EnabledSectionsValid(t *testing.T) {
	cfg := validConfig(t)
	cfg.MQTT.Enabled = true
	cfg.MQTT.Host = "broker.local"
	cfg.InfluxDB.Enabled = true
	cfg.InfluxDB.URL = "http://influx:8086"
	cfg.InfluxDB.Org = "home"
	cfg.InfluxDB.Bucket = "heating"

	require.NoError(t, Validate(cfg))
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := validConfig(t)
	cfg.Polling.Interval = "1s"
	cfg.Logging.LogFormat = "xml"
	cfg.API.BaseURL = ""

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "polling.interval")
	assert.Contains(t, err.Error(), "logging.log_format")
	assert.Contains(t, err.Error(), "api.base_url")
}
