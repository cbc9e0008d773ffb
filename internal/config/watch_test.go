package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatch_ReloadsValidAndIgnoresInvalid(t *testing.T) {
	dataDir := t.TempDir()
	path := writeTestConfig(t, fmt.Sprintf("data_dir = '%s'\n", dataDir))

	cfg, err := Load(path)
	require.NoError(t, err)

	l := NewLive(cfg, path)
	reloaded := make(chan Changes, 4)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)

	go func() {
		done <- Watch(ctx, l, EnvOverrides{}, CLIOverrides{}, slog.New(slog.DiscardHandler), func(_ *Config, ch Changes) {
			reloaded <- ch
		})
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)

	// Replace via rename so the watcher never sees a half-written file.
	write := func(content string) {
		tmp := path + ".tmp"
		require.NoError(t, os.WriteFile(tmp, []byte(content), 0o600))
		require.NoError(t, os.Rename(tmp, path))
	}

	write(fmt.Sprintf("data_dir = '%s'\n[polling]\ninterval = \"2m\"\n", dataDir))

	select {
	case ch := <-reloaded:
		assert.Equal(t, []string{"polling"}, ch.Restart)
		assert.False(t, ch.LogLevel)
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}

	assert.Equal(t, "2m", l.Config().Polling.Interval)

	write(fmt.Sprintf("data_dir = '%s'\n[polling]\ninterval = \"1s\"\n", dataDir))

	select {
	case ch := <-reloaded:
		t.Fatalf("invalid config was applied: %+v", ch)
	case <-time.After(300 * time.Millisecond):
	}

	assert.Equal(t, "2m", l.Config().Polling.Interval)

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	l := NewLive(DefaultConfig(), "/nonexistent/dir/config.toml")

	err := Watch(t.Context(), l, EnvOverrides{}, CLIOverrides{}, slog.New(slog.DiscardHandler), nil)
	require.Error(t, err)
}
