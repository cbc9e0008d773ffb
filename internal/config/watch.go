package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the live config file whenever it is written or
// (re)created and calls onReload with the new config and what changed.
// Rewrites that change nothing are not reported. The parent directory
// is watched because editors commonly replace the file via rename. Invalid
// files are logged and ignored; the previous config stays active. Blocks
// until ctx is canceled.
func Watch(ctx context.Context, l *Live, env EnvOverrides, cli CLIOverrides, logger *slog.Logger, onReload func(*Config, Changes)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: creating watcher: %w", err)
	}
	defer w.Close()

	target := filepath.Clean(l.Path())

	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("config: watching %s: %w", filepath.Dir(target), err)
	}

	logger.Debug("watching config file", slog.String("path", target))

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}

			reload(l, env, cli, logger, onReload)

		case werr, ok := <-w.Errors:
			if !ok {
				return nil
			}

			logger.Warn("config watcher error", slog.String("error", werr.Error()))
		}
	}
}

func reload(l *Live, env EnvOverrides, cli CLIOverrides, logger *slog.Logger, onReload func(*Config, Changes)) {
	cfg, err := Load(l.Path())
	if err != nil {
		logger.Warn("config reload rejected, keeping previous config",
			slog.String("path", l.Path()),
			slog.String("error", err.Error()),
		)

		return
	}

	applyOverrides(cfg, env, cli)

	if err := Validate(cfg); err != nil {
		logger.Warn("config reload rejected, keeping previous config",
			slog.String("path", l.Path()),
			slog.String("error", err.Error()),
		)

		return
	}

	ch := l.Swap(cfg)
	if ch.Empty() {
		logger.Debug("config file touched, nothing changed", slog.String("path", l.Path()))
		return
	}

	logger.Info("config reloaded", slog.String("path", l.Path()))

	if onReload != nil {
		onReload(cfg, ch)
	}
}
