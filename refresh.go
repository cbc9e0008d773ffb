package main

import (
	"syscall"

	"github.com/spf13/cobra"

	"github.com/CaseyRo/ha-bosch/internal/config"
)

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Ask the running bridge to poll every gateway now",
		Long: `Send SIGHUP to the 'ha-bosch run' process of this data directory. It
starts a poll cycle for every gateway without waiting for the interval and
re-announces discovery to Home Assistant.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if err := signalRun(config.DefaultPIDPath(cc.Cfg.DataDir), syscall.SIGHUP); err != nil {
				return err
			}

			cc.Statusf("Refresh requested\n")

			return nil
		},
	}
}
