package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/CaseyRo/ha-bosch/internal/coordinator"
)

// Validation range constants.
const (
	minPollInterval     = 15 * time.Second
	minRequestTimeout   = 1 * time.Second
	maxRequestTimeout   = 120 * time.Second
	maxRefreshMargin    = time.Hour
	minFlushInterval    = 100 * time.Millisecond
	minPort             = 1
	maxPort             = 65535
	maxQoS              = 2
	minInfluxBatchSize  = 1
	maxInfluxBatchSize  = 10_000
	mqttWildcardSymbols = "+#"
)

var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"auto", "text", "json"}
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.DataDir == "" {
		errs = append(errs, errors.New("data_dir: must not be empty"))
	} else if !filepath.IsAbs(cfg.DataDir) {
		errs = append(errs, fmt.Errorf("data_dir: must be absolute, got %q", cfg.DataDir))
	}

	errs = append(errs, validatePolling(&cfg.Polling)...)
	errs = append(errs, validateAPI(&cfg.API)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateMQTT(&cfg.MQTT)...)
	errs = append(errs, validateInfluxDB(&cfg.InfluxDB)...)

	return errors.Join(errs...)
}

func validatePolling(p *PollingConfig) []error {
	var errs []error

	interval, err := parseField("polling.interval", p.Interval)
	if err != nil {
		errs = append(errs, err)
	} else if interval < minPollInterval {
		errs = append(errs, fmt.Errorf("polling.interval: must be at least %s, got %s", minPollInterval, interval))
	}

	request, reqErr := parseField("polling.request_timeout", p.RequestTimeout)
	if reqErr != nil {
		errs = append(errs, reqErr)
	} else if request < minRequestTimeout || request > maxRequestTimeout {
		errs = append(errs, fmt.Errorf("polling.request_timeout: must be between %s and %s, got %s",
			minRequestTimeout, maxRequestTimeout, request))
	}

	cycle, err := parseField("polling.cycle_timeout", p.CycleTimeout)
	if err != nil {
		errs = append(errs, err)
	} else if reqErr == nil && cycle < request {
		errs = append(errs, fmt.Errorf("polling.cycle_timeout: must not be shorter than request_timeout (%s), got %s",
			request, cycle))
	}

	margin, err := parseField("polling.token_refresh_margin", p.TokenRefreshMargin)
	if err != nil {
		errs = append(errs, err)
	} else if margin < 0 || margin > maxRefreshMargin {
		errs = append(errs, fmt.Errorf("polling.token_refresh_margin: must be between 0 and %s, got %s",
			maxRefreshMargin, margin))
	}

	errs = append(errs, validateRoots(p.Roots)...)

	return errs
}

func validateRoots(roots []string) []error {
	var errs []error

	for _, r := range roots {
		if !strings.HasPrefix(r, "/") {
			errs = append(errs, fmt.Errorf("polling.roots: path %q must start with /", r))
		}
	}

	if !slices.Contains(roots, coordinator.DefaultPrimaryRoot) {
		errs = append(errs, fmt.Errorf("polling.roots: must include %s", coordinator.DefaultPrimaryRoot))
	}

	return errs
}

func validateAPI(a *APIConfig) []error {
	var errs []error

	if err := validateURL("api.base_url", a.BaseURL); err != nil {
		errs = append(errs, err)
	}

	if err := validateURL("api.token_url", a.TokenURL); err != nil {
		errs = append(errs, err)
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !slices.Contains(validLogLevels, l.LogLevel) {
		errs = append(errs, fmt.Errorf("logging.log_level: must be one of %v, got %q", validLogLevels, l.LogLevel))
	}

	if !slices.Contains(validLogFormats, l.LogFormat) {
		errs = append(errs, fmt.Errorf("logging.log_format: must be one of %v, got %q", validLogFormats, l.LogFormat))
	}

	return errs
}

func validateMQTT(m *MQTTConfig) []error {
	if !m.Enabled {
		return nil
	}

	var errs []error

	if m.Host == "" {
		errs = append(errs, errors.New("mqtt.host: required when mqtt is enabled"))
	}

	if m.Port < minPort || m.Port > maxPort {
		errs = append(errs, fmt.Errorf("mqtt.port: must be between %d and %d, got %d", minPort, maxPort, m.Port))
	}

	if m.QoS < 0 || m.QoS > maxQoS {
		errs = append(errs, fmt.Errorf("mqtt.qos: must be 0, 1 or 2, got %d", m.QoS))
	}

	if m.ClientID == "" {
		errs = append(errs, errors.New("mqtt.client_id: must not be empty"))
	}

	errs = append(errs, validateTopicPrefix("mqtt.discovery_prefix", m.DiscoveryPrefix)...)
	errs = append(errs, validateTopicPrefix("mqtt.base_topic", m.BaseTopic)...)

	initial, err := parseField("mqtt.reconnect_initial_delay", m.ReconnectInitialDelay)
	if err != nil {
		errs = append(errs, err)
	}

	maxDelay, maxErr := parseField("mqtt.reconnect_max_delay", m.ReconnectMaxDelay)
	if maxErr != nil {
		errs = append(errs, maxErr)
	}

	if err == nil && maxErr == nil && initial > maxDelay {
		errs = append(errs, fmt.Errorf("mqtt.reconnect_initial_delay: %s exceeds reconnect_max_delay %s", initial, maxDelay))
	}

	return errs
}

func validateTopicPrefix(field, topic string) []error {
	switch {
	case topic == "":
		return []error{fmt.Errorf("%s: must not be empty", field)}
	case strings.ContainsAny(topic, mqttWildcardSymbols):
		return []error{fmt.Errorf("%s: must not contain wildcards, got %q", field, topic)}
	case strings.HasPrefix(topic, "/") || strings.HasSuffix(topic, "/"):
		return []error{fmt.Errorf("%s: must not start or end with /, got %q", field, topic)}
	default:
		return nil
	}
}

func validateInfluxDB(i *InfluxDBConfig) []error {
	if !i.Enabled {
		return nil
	}

	var errs []error

	if err := validateURL("influxdb.url", i.URL); err != nil {
		errs = append(errs, err)
	}

	if i.Org == "" {
		errs = append(errs, errors.New("influxdb.org: required when influxdb is enabled"))
	}

	if i.Bucket == "" {
		errs = append(errs, errors.New("influxdb.bucket: required when influxdb is enabled"))
	}

	if i.BatchSize < minInfluxBatchSize || i.BatchSize > maxInfluxBatchSize {
		errs = append(errs, fmt.Errorf("influxdb.batch_size: must be between %d and %d, got %d",
			minInfluxBatchSize, maxInfluxBatchSize, i.BatchSize))
	}

	flush, err := parseField("influxdb.flush_interval", i.FlushInterval)
	if err != nil {
		errs = append(errs, err)
	} else if flush < minFlushInterval {
		errs = append(errs, fmt.Errorf("influxdb.flush_interval: must be at least %s, got %s", minFlushInterval, flush))
	}

	return errs
}

func parseField(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", field, value)
	}

	return d, nil
}

func validateURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s: must not be empty", field)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s: must be an absolute http(s) URL, got %q", field, raw)
	}

	return nil
}
