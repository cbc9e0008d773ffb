package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/CaseyRo/ha-bosch/internal/coordinator"
	"github.com/CaseyRo/ha-bosch/internal/entry"
	"github.com/CaseyRo/ha-bosch/internal/gateway"
	"github.com/CaseyRo/ha-bosch/internal/oauth"
)

// gatewayOptions builds runtime options from the effective config. Every
// runtime of one process shares the token manager.
func (cc *CLIContext) gatewayOptions(tokens *oauth.Manager) gateway.Options {
	p := &cc.Cfg.Polling

	return gateway.Options{
		APIBase:    cc.Cfg.API.BaseURL,
		HTTPClient: cc.httpClient(),
		Tokens:     tokens,
		Coordinator: coordinator.Options{
			Roots:        p.Roots,
			Interval:     p.IntervalDuration(),
			CycleTimeout: p.CycleTimeoutDuration(),
		},
	}
}

func (cc *CLIContext) tokenManager() *oauth.Manager {
	return oauth.NewManager(cc.Cfg.API.TokenURL, cc.httpClient(), cc.Cfg.Polling.TokenRefreshMarginDuration(), cc.Logger)
}

// openGateway builds the runtime for one configured gateway without
// touching the network.
func openGateway(cc *CLIContext, rawDevice string) (*gateway.Runtime, error) {
	deviceID, err := entry.NormalizeDeviceID(rawDevice)
	if err != nil {
		return nil, err
	}

	st, err := entry.OpenFileStore(entry.Path(cc.Cfg.EntriesDir(), deviceID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("no gateway %s is configured; run 'ha-bosch login --device %s'", deviceID, deviceID)
		}

		return nil, err
	}

	return gateway.New(st, cc.gatewayOptions(cc.tokenManager()), cc.Logger), nil
}

// authHint marks authorization failures so main exits with the reauth
// status and the user sees what to do.
func authHint(deviceID string, err error) error {
	if err == nil || !coordinator.IsAuthFailure(err) {
		return err
	}

	return fmt.Errorf("%w for gateway %s (run 'ha-bosch login --device %s'): %w",
		errReauthRequired, deviceID, deviceID, err)
}

func addDeviceFlag(cmd *cobra.Command) {
	cmd.Flags().String("device", "", "gateway serial number")
	_ = cmd.MarkFlagRequired("device")
}

func deviceFlag(cmd *cobra.Command) string {
	d, _ := cmd.Flags().GetString("device")
	return d
}

func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <path>",
		Short: "Read one resource from a gateway",
		Long: `Fetch a single POINTTAPI resource, for example /heatingCircuits/hc1/roomtemperature,
and print the response body.`,
		Args: cobra.ExactArgs(1),
		RunE: runGet,
	}

	addDeviceFlag(cmd)

	return cmd
}

func runGet(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	rt, err := openGateway(cc, deviceFlag(cmd))
	if err != nil {
		return err
	}

	body, err := rt.Client().Get(cmd.Context(), resourcePath(args[0]))
	if err != nil {
		return authHint(rt.DeviceID(), err)
	}

	if s, ok := body.(string); ok {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), s)
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	return enc.Encode(body)
}

func newPutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <path> <value>",
		Short: "Write one value to a gateway resource",
		Long: `Write a value to a POINTTAPI resource. The value is parsed as JSON when
possible (21.5, true) and sent as a string otherwise (on, manual).`,
		Args: cobra.ExactArgs(2),
		RunE: runPut,
	}

	addDeviceFlag(cmd)

	return cmd
}

func runPut(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	rt, err := openGateway(cc, deviceFlag(cmd))
	if err != nil {
		return err
	}

	path := resourcePath(args[0])

	if err := rt.Client().Put(cmd.Context(), path, parseValue(args[1])); err != nil {
		return authHint(rt.DeviceID(), err)
	}

	cc.Statusf("Wrote %s\n", path)

	return nil
}

// parseValue decodes a command-line value as a JSON scalar, falling back
// to the raw string.
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}

	switch v.(type) {
	case float64, bool, string:
		return v
	default:
		return s
	}
}

func resourcePath(p string) string {
	return "/" + strings.TrimLeft(p, "/")
}

func newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Run one poll cycle and print the result",
		Long: `Crawl the configured resource roots once, exactly as the daemon does on
every cycle, and print each collected path with its value.`,
		Args: cobra.NoArgs,
		RunE: runSnapshot,
	}

	addDeviceFlag(cmd)

	return cmd
}

func runSnapshot(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	rt, err := openGateway(cc, deviceFlag(cmd))
	if err != nil {
		return err
	}

	snap, err := rt.Coordinator().Refresh(cmd.Context())
	if err != nil {
		return authHint(rt.DeviceID(), err)
	}

	if flagJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")

		return enc.Encode(snap)
	}

	rows := make([][]string, 0, snap.Len())
	for _, p := range snap.Paths() {
		v, _ := snap.Value(p)
		rows = append(rows, []string{p, formatValue(v)})
	}

	printTable(cmd.OutOrStdout(), []string{"PATH", "VALUE"}, rows)

	if skipped := rt.Coordinator().Stats().PathsSkipped; skipped > 0 {
		cc.Statusf("%d path(s) skipped; run with --verbose for details\n", skipped)
	}

	return nil
}

// refreshOrWarn is a best-effort poll for reports that still work offline.
func refreshOrWarn(ctx context.Context, cc *CLIContext, rt *gateway.Runtime) *coordinator.Snapshot {
	snap, err := rt.Coordinator().Refresh(ctx)
	if err != nil {
		cc.Logger.Warn("live poll failed, falling back to stored data",
			slog.String("device", rt.DeviceID()),
			slog.String("error", err.Error()),
		)

		return nil
	}

	return snap
}
