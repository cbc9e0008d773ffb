package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/CaseyRo/ha-bosch/internal/coordinator"
	"github.com/CaseyRo/ha-bosch/internal/diagnostics"
	"github.com/CaseyRo/ha-bosch/internal/store"
)

// diagnosticsCycles is how much poll history a report carries.
const diagnosticsCycles = 20

func newDiagnosticsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diagnostics",
		Short: "Print a redacted diagnostics report for a gateway",
		Long: `Print the gateway's entry and its latest resource snapshot with tokens,
passwords and device identifiers replaced by **REDACTED**, plus recent poll
history. Safe to attach to a bug report.

A live poll is attempted first; if it fails the last stored snapshot is used.`,
		Args: cobra.NoArgs,
		RunE: runDiagnostics,
	}

	addDeviceFlag(cmd)
	cmd.Flags().String("format", diagnostics.FormatJSON, "output format: json or yaml")

	return cmd
}

func runDiagnostics(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	format, _ := cmd.Flags().GetString("format")
	if format != diagnostics.FormatJSON && format != diagnostics.FormatYAML {
		return fmt.Errorf("unknown format %q (want json or yaml)", format)
	}

	rt, err := openGateway(cc, deviceFlag(cmd))
	if err != nil {
		return err
	}

	in := diagnostics.Input{
		Entry:       rt.Entry(),
		Snapshot:    refreshOrWarn(ctx, cc, rt),
		Coordinator: rt.Coordinator(),
	}

	if _, statErr := os.Stat(cc.Cfg.StorePath()); statErr == nil {
		st, err := store.Open(ctx, cc.Cfg.StorePath(), cc.Logger)
		if err != nil {
			return err
		}
		defer st.Close()

		if in.Snapshot == nil {
			in.Snapshot = storedSnapshot(ctx, cc, st, rt.DeviceID())
		}

		in.Cycles, err = st.RecentCycles(ctx, rt.DeviceID(), diagnosticsCycles)
		if err != nil {
			return err
		}
	}

	report, err := diagnostics.Build(in)
	if err != nil {
		return err
	}

	return report.Write(cmd.OutOrStdout(), format)
}

func storedSnapshot(ctx context.Context, cc *CLIContext, st *store.Store, deviceID string) *coordinator.Snapshot {
	snap, err := st.LoadSnapshot(ctx, deviceID)
	if err != nil {
		cc.Logger.Warn("loading stored snapshot failed",
			slog.String("device", deviceID),
			slog.String("error", err.Error()),
		)
	}

	return snap
}
