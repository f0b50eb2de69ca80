package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rtmesh/rtmesh/internal/log"
)

var (
	logLevel  string
	configVar string
)

// NewRootCmd builds the rtmeshd CLI, cobra/pflag wired exactly as
// linkerd2's cli/cmd.RootCmd does for its own control-plane process.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rtmeshd",
		Short: "rtmeshd runs the rtmesh participant/endpoint discovery daemon",
		Long:  `rtmeshd hosts one or more DDS domains: entity lifecycle, SPDP/SEDP discovery, and the local delivery engine.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := log.SetLevel(logLevel); err != nil {
				return fmt.Errorf("invalid --log-level: %w", err)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (panic, fatal, error, warn, info, debug, trace)")
	root.PersistentFlags().StringVar(&configVar, "config-env", "RTMESH_CONFIG_URI", "environment variable naming the configuration file URI")

	root.AddCommand(newRunCmd())
	root.AddCommand(newVersionCmd())

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the rtmeshd version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "rtmeshd (dev)")
			return nil
		},
	}
}
