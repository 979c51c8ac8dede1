package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opensensor/lightnvr/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the lightnvr version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("lightnvr", version.String())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
