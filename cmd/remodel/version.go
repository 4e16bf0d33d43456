package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/remodel"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of remodel",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "remodel version %s\n", strings.TrimSpace(remodel.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
