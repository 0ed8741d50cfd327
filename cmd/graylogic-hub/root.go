package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

var rootCmd = &cobra.Command{
	Use:   "graylogic-hub",
	Short: "Gray Logic hub: automation programs over MQTT",
	Long: `The Gray Logic hub compiles and runs automation programs, keeps a
persistent connection to the site MQTT broker and serves the hub API.

Running without a subcommand is the same as "serve".`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serveCmd.RunE(cmd, nil)
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "",
		"path to config file (default $GRAYLOGIC_CONFIG or "+defaultConfigPath+")")
}

// configPath resolves the config file: the --config flag, then the
// GRAYLOGIC_CONFIG environment variable, then the default.
func configPath(cmd *cobra.Command) string {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return path
	}
	return getConfigPath()
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
