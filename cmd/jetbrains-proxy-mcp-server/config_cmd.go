package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lumerix7/jetbrains-proxy-mcp-server/internal/config"
)

func newConfigCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Long: `Print the configuration the proxy would run with, after defaults,
the config file, environment overrides and command line flags are applied.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			data, err := config.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to render configuration: %w", err)
			}

			out := cmd.OutOrStdout()
			if cfg.ConfigFile != "" {
				fmt.Fprintf(out, "# loaded from %s\n", cfg.ConfigFile)
			} else {
				fmt.Fprintln(out, "# no config file found, using defaults")
			}
			_, err = out.Write(data)
			return err
		},
	}
}
