package main

import (
	"fmt"

	"codeberg.org/mutker/framealign/internal/config"
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "framealignd",
		Short:         "Align asynchronous measurements into fixed-rate frames",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := []config.Option{config.WithFlags(cmd.Flags())}
			if configPath != "" {
				opts = append(opts, config.WithConfigFile(configPath))
			}

			cfg, err := config.Load(opts...)
			if err != nil {
				return err
			}

			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Configuration file (default /etc/framealign.toml)")
	config.RegisterFlags(cmd.Flags())

	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "framealignd %s\n", version)
		},
	}
}
