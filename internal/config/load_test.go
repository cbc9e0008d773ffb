package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)

	return path
}

// withDataDir prefixes content with a data_dir line pointing at a temp dir.
func withDataDir(t *testing.T, content string) string {
	t.Helper()

	return fmt.Sprintf("data_dir = '%s'\n%s", t.TempDir(), content)
}

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeTestConfig(t, withDataDir(t, `
[polling]
interval = "90s"
cycle_timeout = "3m"
request_timeout = "20s"
token_refresh_margin = "10m"
roots = ["/gateway", "/zones/zn1"]

[api]
base_url = "http://127.0.0.1:8080/gateways/"
token_url = "http://127.0.0.1:8080/token"

[logging]
log_level = "debug"
log_format = "json"

[mqtt]
enabled = true
host = "broker.local"
port = 8883
tls = true
username = "bridge"
password = "secret"
qos = 1

[influxdb]
enabled = true
url = "http://influx:8086"
token = "t0ken"
org = "home"
bucket = "heating"
batch_size = 50
flush_interval = "5s"

[store]
path = "/tmp/ha-bosch-test.db"
`))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "90s", cfg.Polling.Interval)
	assert.Equal(t, []string{"/gateway", "/zones/zn1"}, cfg.Polling.Roots)
	assert.Equal(t, "http://127.0.0.1:8080/token", cfg.API.TokenURL)
	assert.Equal(t, "debug", cfg.Logging.LogLevel)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, 8883, cfg.MQTT.Port)
	assert.Equal(t, 1, cfg.MQTT.QoS)
	assert.Equal(t, "homeassistant", cfg.MQTT.DiscoveryPrefix, "unset keys keep defaults")
	assert.Equal(t, "heating", cfg.InfluxDB.Bucket)
	assert.Equal(t, "/tmp/ha-bosch-test.db", cfg.StorePath())
}

func TestLoad_EmptyFileKeepsDefaults(t *testing.T) {
	path := writeTestConfig(t, withDataDir(t, ""))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, defaultPollInterval, cfg.Polling.Interval)
	assert.Equal(t, defaultLogLevel, cfg.Logging.LogLevel)
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeTestConfig(t, "[polling\ninterval = ")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoad_ValidationErrorsAccumulate(t *testing.T) {
	path := writeTestConfig(t, withDataDir(t, `
[polling]
interval = "1s"

[logging]
log_level = "chatty"
`))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "polling.interval")
	assert.Contains(t, err.Error(), "logging.log_level")
}

func TestLoad_TildeExpansion(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path := writeTestConfig(t, `data_dir = "~/bosch"`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "bosch"), cfg.DataDir)
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestResolveConfigPath_Precedence(t *testing.T) {
	assert.Equal(t, DefaultConfigPath(), ResolveConfigPath(EnvOverrides{}, CLIOverrides{}))
	assert.Equal(t, "/env.toml", ResolveConfigPath(EnvOverrides{ConfigPath: "/env.toml"}, CLIOverrides{}))
	assert.Equal(t, "/cli.toml", ResolveConfigPath(
		EnvOverrides{ConfigPath: "/env.toml"}, CLIOverrides{ConfigPath: "/cli.toml"}))
}

func TestResolve_OverrideChain(t *testing.T) {
	fileDir := t.TempDir()
	envDir := t.TempDir()
	cliDir := t.TempDir()

	path := writeTestConfig(t, fmt.Sprintf("data_dir = '%s'\n[logging]\nlog_level = \"warn\"\n", fileDir))

	cfg, got, err := Resolve(EnvOverrides{ConfigPath: path}, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, path, got)
	assert.Equal(t, fileDir, cfg.DataDir)
	assert.Equal(t, "warn", cfg.Logging.LogLevel)

	cfg, _, err = Resolve(EnvOverrides{ConfigPath: path, DataDir: envDir, LogLevel: "DEBUG"}, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, envDir, cfg.DataDir)
	assert.Equal(t, "debug", cfg.Logging.LogLevel)

	cfg, _, err = Resolve(EnvOverrides{ConfigPath: path, DataDir: envDir}, CLIOverrides{DataDir: &cliDir})
	require.NoError(t, err)
	assert.Equal(t, cliDir, cfg.DataDir)
}

func TestResolve_InvalidEnvOverride(t *testing.T) {
	path := writeTestConfig(t, withDataDir(t, ""))

	_, _, err := Resolve(EnvOverrides{ConfigPath: path, LogLevel: "loud"}, CLIOverrides{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
}

func TestReadEnvOverrides(t *testing.T) {
	t.Setenv(EnvConfig, "/custom/config.toml")
	t.Setenv(EnvDataDir, "/custom/data")
	t.Setenv(EnvLogLevel, "debug")

	assert.Equal(t, EnvOverrides{
		ConfigPath: "/custom/config.toml",
		DataDir:    "/custom/data",
		LogLevel:   "debug",
	}, ReadEnvOverrides())
}
