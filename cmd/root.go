// Package cmd wires the command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "docsage",
	Short: "docsage - documentation question answering service",
	Long: `docsage answers questions about web framework documentation.

It retrieves relevant documentation chunks by vector similarity and
generates grounded answers through a configured AI model. Run
"docsage serve" to start the HTTP API.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
