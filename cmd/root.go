// Package cmd implements the opencrab command line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/adolfousier/opencrab/config"
)

var configDirFlag string

var rootCmd = &cobra.Command{
	Use:   "opencrab",
	Short: "opencrab is a self-hosted AI agent",
	Long: `opencrab is a self-hosted AI agent with tool use, streaming
responses and multi-channel messaging.

Run 'opencrab onboard' first to create the configuration, then
'opencrab serve' to start the service or 'opencrab agent' for an
interactive chat.`,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		if configDirFlag != "" {
			config.SetConfigDir(configDirFlag)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDirFlag, "config-dir", "", "Override config directory (default ~/.opencrab)")
	rootCmd.AddGroup(&cobra.Group{ID: "internal", Title: "Internal Commands:"})
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
