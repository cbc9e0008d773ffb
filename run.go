package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/CaseyRo/ha-bosch/internal/bridge"
	"github.com/CaseyRo/ha-bosch/internal/config"
	"github.com/CaseyRo/ha-bosch/internal/coordinator"
	"github.com/CaseyRo/ha-bosch/internal/entry"
	"github.com/CaseyRo/ha-bosch/internal/gateway"
	"github.com/CaseyRo/ha-bosch/internal/mqtt"
	"github.com/CaseyRo/ha-bosch/internal/oauth"
	"github.com/CaseyRo/ha-bosch/internal/store"
	"github.com/CaseyRo/ha-bosch/internal/telemetry"
)

// Setup retry backoff for gateways that are not ready yet.
const (
	setupRetryInitial = 30 * time.Second
	setupRetryMax     = 5 * time.Minute
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll every configured gateway and bridge it to Home Assistant",
		Long: `Run the bridge in the foreground until interrupted.

Every configured gateway is polled on the configured interval. Snapshots and
poll history go to the state database; with [mqtt] enabled the entities are
announced to Home Assistant and commands are routed back to the gateway;
with [influxdb] enabled numeric readings are recorded.

The first SIGINT or SIGTERM shuts down gracefully, a second one exits
immediately. SIGHUP (see 'ha-bosch refresh') polls every gateway now and
re-announces discovery. Only one instance may run per data directory.`,
		Args: cobra.NoArgs,
		RunE: runDaemon,
	}
}

// daemon holds the shared services every gateway runtime is wired to.
type daemon struct {
	cc       *CLIContext
	logger   *slog.Logger
	tokens   *oauth.Manager
	registry *gateway.Registry
	store    *store.Store
	bridge   *bridge.Bridge      // nil without [mqtt]
	recorder *telemetry.Recorder // nil without [influxdb]

	needLogin atomic.Int32
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger

	lock, err := acquireRunLock(config.DefaultPIDPath(cc.Cfg.DataDir))
	if err != nil {
		return err
	}
	defer lock.Release()

	ctx := shutdownContext(cmd.Context(), logger)

	entries, err := entry.List(cc.Cfg.EntriesDir())
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		return errors.New("no gateways configured; run 'ha-bosch login --device <serial>' first")
	}

	d := &daemon{
		cc:       cc,
		logger:   logger,
		tokens:   cc.tokenManager(),
		registry: gateway.NewRegistry(),
	}

	d.store, err = store.Open(ctx, cc.Cfg.StorePath(), logger)
	if err != nil {
		return err
	}
	defer d.store.Close()

	closeOutputs, err := d.connectOutputs(ctx)
	if err != nil {
		return err
	}
	defer closeOutputs()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go d.watchConfig(runCtx)
	go onSIGHUP(runCtx, logger, d.refreshAll)

	logger.Info("bridge starting",
		slog.String("version", version),
		slog.Int("gateways", len(entries)),
		slog.Bool("mqtt", d.bridge != nil),
		slog.Bool("influxdb", d.recorder != nil),
	)

	g, gctx := errgroup.WithContext(runCtx)
	for _, e := range entries {
		path := entry.Path(cc.Cfg.EntriesDir(), e.DeviceID)
		g.Go(func() error {
			return d.serve(gctx, entry.NewFileStore(path, e))
		})
	}

	err = g.Wait()

	logger.Info("bridge stopped")

	if err != nil {
		return err
	}

	if n := d.needLogin.Load(); n > 0 && ctx.Err() == nil {
		return fmt.Errorf("%w: %d gateway(s) stopped", errReauthRequired, n)
	}

	return nil
}

// connectOutputs connects the optional MQTT bridge and InfluxDB recorder.
// The returned func closes whatever was opened.
func (d *daemon) connectOutputs(ctx context.Context) (func(), error) {
	var closers []func()

	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if d.cc.Cfg.MQTT.Enabled {
		mc, err := mqtt.Connect(d.cc.Cfg.MQTT, d.logger)
		if err != nil {
			return nil, err
		}

		closers = append(closers, func() {
			if err := mc.Close(); err != nil {
				d.logger.Warn("closing MQTT connection", slog.String("error", err.Error()))
			}
		})

		d.bridge = bridge.New(mc, mc.Topics(), mc.QoS(), d.logger)
		if err := d.bridge.Start(); err != nil {
			closeAll()
			return nil, err
		}

		// A restarted broker without persistence has lost the retained configs.
		mc.SetOnConnect(d.bridge.Republish)
	}

	if d.cc.Cfg.InfluxDB.Enabled {
		ic, err := telemetry.Connect(ctx, d.cc.Cfg.InfluxDB, d.logger)
		if err != nil {
			closeAll()
			return nil, err
		}

		closers = append(closers, func() {
			if err := ic.Close(); err != nil {
				d.logger.Warn("closing InfluxDB client", slog.String("error", err.Error()))
			}
		})

		d.recorder = telemetry.NewRecorder(ic, d.logger)
	}

	return closeAll, nil
}

// serve runs one gateway until ctx ends or its login stops working. Only
// unexpected failures are returned; they stop the whole daemon.
func (d *daemon) serve(ctx context.Context, fs *entry.FileStore) error {
	rt := gateway.New(fs, d.cc.gatewayOptions(d.tokens), d.logger)
	device := rt.DeviceID()
	logger := d.logger.With(slog.String("device", device))

	if err := d.registry.Add(rt); err != nil {
		return err
	}
	defer d.registry.Remove(device)

	if ok, err := d.store.Restore(ctx, rt); err != nil {
		logger.Warn("restoring stored snapshot failed", slog.String("error", err.Error()))
	} else if ok {
		logger.Info("restored last snapshot", slog.Int("paths", rt.Coordinator().Snapshot().Len()))
	}

	defer d.store.Follow(rt)()

	if d.recorder != nil {
		defer d.recorder.Follow(rt)()
	}

	if d.bridge != nil {
		actx, stopAttach := context.WithCancel(ctx)
		attached := make(chan struct{})

		go func() {
			defer close(attached)
			d.attach(actx, rt)
		}()

		defer func() {
			stopAttach()
			<-attached
			d.bridge.Detach(device)
		}()
	}

	if err := d.setup(ctx, rt, logger); err != nil {
		if coordinator.IsAuthFailure(err) {
			d.loginRequired(logger, device, err)
			return nil
		}

		if ctx.Err() != nil {
			return nil
		}

		return err
	}

	rt.Start(ctx)

	if err := rt.Wait(); err != nil && coordinator.IsAuthFailure(err) {
		d.loginRequired(logger, device, err)
	}

	return nil
}

// setup retries rt.Setup with backoff while the gateway is not ready.
func (d *daemon) setup(ctx context.Context, rt *gateway.Runtime, logger *slog.Logger) error {
	delay := setupRetryInitial

	for {
		err := rt.Setup(ctx)
		if err == nil || !errors.Is(err, gateway.ErrNotReady) {
			return err
		}

		logger.Warn("gateway not ready, retrying",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", delay),
		)

		if !sleepCtx(ctx, delay) {
			return ctx.Err()
		}

		delay = min(delay*2, setupRetryMax)
	}
}

// attach announces rt to Home Assistant, retrying while the broker is
// unreachable.
func (d *daemon) attach(ctx context.Context, rt *gateway.Runtime) {
	delay := setupRetryInitial

	for {
		err := d.bridge.Attach(ctx, rt)
		if err == nil {
			return
		}

		d.logger.Warn("announcing gateway to Home Assistant failed",
			slog.String("device", rt.DeviceID()),
			slog.String("error", err.Error()),
		)

		if !sleepCtx(ctx, delay) {
			return
		}

		delay = min(delay*2, setupRetryMax)
	}
}

func (d *daemon) loginRequired(logger *slog.Logger, device string, err error) {
	d.needLogin.Add(1)

	logger.Error("gateway login is no longer valid; polling stopped",
		slog.String("error", err.Error()),
		slog.String("fix", "ha-bosch login --device "+device),
	)
}

// refreshAll polls every gateway now and re-announces discovery.
func (d *daemon) refreshAll() {
	for _, rt := range d.registry.All() {
		rt.RequestRefresh()
	}

	if d.bridge != nil {
		d.bridge.Republish()
	}
}

// watchConfig follows the config file. Only the log level applies to a
// running daemon; other changes are logged and take effect on restart.
func (d *daemon) watchConfig(ctx context.Context) {
	live := config.NewLive(d.cc.Cfg, d.cc.CfgPath)

	err := config.Watch(ctx, live, d.cc.Env, d.cc.CLI, d.logger, func(c *config.Config, ch config.Changes) {
		if ch.LogLevel {
			d.cc.Level.Set(effectiveLevel(c.Logging.LogLevel, flagVerbose, flagQuiet))
			d.logger.Info("log level changed", slog.String("log_level", c.Logging.LogLevel))
		}

		if len(ch.Restart) > 0 {
			d.logger.Warn("config changes need a restart of ha-bosch run",
				slog.String("sections", strings.Join(ch.Restart, ",")),
			)
		}
	})
	if err != nil {
		d.logger.Debug("config file not watched", slog.String("error", err.Error()))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
