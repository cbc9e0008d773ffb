package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig   = "HA_BOSCH_CONFIG"
	EnvDataDir  = "HA_BOSCH_DATA_DIR"
	EnvLogLevel = "HA_BOSCH_LOG_LEVEL"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // HA_BOSCH_CONFIG: override config file path
	DataDir    string // HA_BOSCH_DATA_DIR: entries and state database
	LogLevel   string // HA_BOSCH_LOG_LEVEL: debug, info, warn, error
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; callers apply the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		DataDir:    os.Getenv(EnvDataDir),
		LogLevel:   os.Getenv(EnvLogLevel),
	}
}
