// Package cmd implements the lightnvr CLI.
package cmd

import (
	"github.com/spf13/cobra"
)

// configPath is the --config flag value shared by all subcommands.
var configPath string

var rootCmd = &cobra.Command{
	Use:   "lightnvr",
	Short: "Lightweight network video recorder",
	Long: `lightnvr ingests RTSP camera streams, serves them live over HLS,
records them to MP4 on object detection, and indexes every recording in
an embedded catalog.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default: lightnvr.yaml in ., /etc/lightnvr, ~/.lightnvr)")
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}
