package config

import (
	"fmt"
	"io"
	"strings"
)

const redacted = "********"

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary to w. Secrets are masked.
func RenderEffective(cfg *Config, path string, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", path)
	ew.printf("data_dir = %q\n\n", cfg.DataDir)

	renderPollingSection(ew, &cfg.Polling)
	renderAPISection(ew, &cfg.API)
	renderLoggingSection(ew, &cfg.Logging)
	renderMQTTSection(ew, &cfg.MQTT)
	renderInfluxSection(ew, &cfg.InfluxDB)

	ew.printf("[store]\n")
	ew.printf("  path = %q\n", cfg.StorePath())

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func renderPollingSection(ew *errWriter, p *PollingConfig) {
	ew.printf("[polling]\n")
	ew.printf("  interval             = %q\n", p.Interval)
	ew.printf("  cycle_timeout        = %q\n", p.CycleTimeout)
	ew.printf("  request_timeout      = %q\n", p.RequestTimeout)
	ew.printf("  token_refresh_margin = %q\n", p.TokenRefreshMargin)
	ew.printf("  roots                = [%s]\n", joinQuoted(p.Roots))
	ew.printf("\n")
}

func renderAPISection(ew *errWriter, a *APIConfig) {
	ew.printf("[api]\n")
	ew.printf("  base_url  = %q\n", a.BaseURL)
	ew.printf("  token_url = %q\n", a.TokenURL)
	ew.printf("\n")
}

func renderLoggingSection(ew *errWriter, l *LoggingConfig) {
	ew.printf("[logging]\n")
	ew.printf("  log_level  = %q\n", l.LogLevel)

	if l.LogFile != "" {
		ew.printf("  log_file   = %q\n", l.LogFile)
	}

	ew.printf("  log_format = %q\n", l.LogFormat)
	ew.printf("\n")
}

func renderMQTTSection(ew *errWriter, m *MQTTConfig) {
	ew.printf("[mqtt]\n")
	ew.printf("  enabled          = %t\n", m.Enabled)

	if !m.Enabled {
		ew.printf("\n")
		return
	}

	ew.printf("  host             = %q\n", m.Host)
	ew.printf("  port             = %d\n", m.Port)
	ew.printf("  tls              = %t\n", m.TLS)
	ew.printf("  client_id        = %q\n", m.ClientID)

	if m.Username != "" {
		ew.printf("  username         = %q\n", m.Username)
	}

	if m.Password != "" {
		ew.printf("  password         = %q\n", redacted)
	}

	ew.printf("  qos              = %d\n", m.QoS)
	ew.printf("  discovery_prefix = %q\n", m.DiscoveryPrefix)
	ew.printf("  base_topic       = %q\n", m.BaseTopic)
	ew.printf("\n")
}

func renderInfluxSection(ew *errWriter, i *InfluxDBConfig) {
	ew.printf("[influxdb]\n")
	ew.printf("  enabled        = %t\n", i.Enabled)

	if !i.Enabled {
		ew.printf("\n")
		return
	}

	ew.printf("  url            = %q\n", i.URL)

	if i.Token != "" {
		ew.printf("  token          = %q\n", redacted)
	}

	ew.printf("  org            = %q\n", i.Org)
	ew.printf("  bucket         = %q\n", i.Bucket)
	ew.printf("  batch_size     = %d\n", i.BatchSize)
	ew.printf("  flush_interval = %q\n", i.FlushInterval)
	ew.printf("\n")
}

// joinQuoted formats a string slice as comma-separated quoted values.
func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}

	return strings.Join(quoted, ", ")
}
