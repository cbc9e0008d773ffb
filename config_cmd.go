package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/CaseyRo/ha-bosch/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if flagJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")

		return enc.Encode(redactedConfig(cc.Cfg))
	}

	return config.RenderEffective(cc.Cfg, cc.CfgPath, cmd.OutOrStdout())
}

// redactedConfig copies cfg with credentials masked.
func redactedConfig(cfg *config.Config) config.Config {
	out := *cfg
	out.Polling.Roots = append([]string(nil), cfg.Polling.Roots...)

	if out.MQTT.Password != "" {
		out.MQTT.Password = redactedSecret
	}

	if out.InfluxDB.Token != "" {
		out.InfluxDB.Token = redactedSecret
	}

	return out
}

const redactedSecret = "********"
