// Command servicedg runs the block scheduling service and its offline tools.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/seantiz/servicedg/internal/config"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "servicedg",
		Short:         "Scheduled viewer order blocks for live streams",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if configPath != "" {
				return os.Setenv(config.EnvConfigPath, configPath)
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (overrides "+config.EnvConfigPath+")")

	rootCmd.AddCommand(newServeCmd(), newExportCmd(), newMetricsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "servicedg:", err)
		os.Exit(1)
	}
}
