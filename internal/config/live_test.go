package config

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLive_Swap(t *testing.T) {
	first := DefaultConfig()
	l := NewLive(first, "/etc/ha-bosch/config.toml")

	assert.Same(t, first, l.Config())
	assert.Equal(t, "/etc/ha-bosch/config.toml", l.Path())

	next := DefaultConfig()
	next.Logging.LogLevel = "debug"

	ch := l.Swap(next)
	assert.True(t, ch.LogLevel)
	assert.Empty(t, ch.Restart)
	assert.Same(t, next, l.Config())
}

func TestDiff(t *testing.T) {
	tests := []struct {
		name        string
		edit        func(*Config)
		wantLevel   bool
		wantRestart []string
	}{
		{name: "identical", edit: func(*Config) {}},
		{
			name:      "log level only",
			edit:      func(c *Config) { c.Logging.LogLevel = "warn" },
			wantLevel: true,
		},
		{
			name:        "log format needs restart",
			edit:        func(c *Config) { c.Logging.LogFormat = "json" },
			wantRestart: []string{"logging"},
		},
		{
			name:        "roots",
			edit:        func(c *Config) { c.Polling.Roots = []string{"/gateway"} },
			wantRestart: []string{"polling"},
		},
		{
			name: "broker and influx",
			edit: func(c *Config) {
				c.MQTT.Host = "broker.lan"
				c.InfluxDB.Bucket = "heating"
				c.Logging.LogLevel = "error"
			},
			wantLevel:   true,
			wantRestart: []string{"mqtt", "influxdb"},
		},
		{
			name:        "data dir and store",
			edit:        func(c *Config) { c.DataDir = "/srv"; c.Store.Path = "/srv/state.db" },
			wantRestart: []string{"data_dir", "store"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := DefaultConfig()
			tt.edit(next)

			ch := Diff(DefaultConfig(), next)
			assert.Equal(t, tt.wantLevel, ch.LogLevel)
			assert.Equal(t, tt.wantRestart, ch.Restart)
			assert.Equal(t, !tt.wantLevel && tt.wantRestart == nil, ch.Empty())
		})
	}
}

func TestLive_ConcurrentSwap(t *testing.T) {
	l := NewLive(DefaultConfig(), "/tmp/config.toml")

	var wg sync.WaitGroup

	for range 8 {
		wg.Add(2)

		go func() {
			defer wg.Done()

			for range 100 {
				require.NotNil(t, l.Config())
			}
		}()

		go func() {
			defer wg.Done()

			for range 100 {
				l.Swap(DefaultConfig())
			}
		}()
	}

	wg.Wait()
}
