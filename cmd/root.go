// Package cmd wires the CLI commands. main.go stays a minimal entry
// point; all command logic lives here.
package cmd

import (
	"github.com/spf13/cobra"
)

// Version information (injected at build time via ldflags).
var (
	AppVersion = "development"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "shiplog",
	Short: "Shiplog - conversational changelog assistant",
	Long: `Shiplog answers questions about your products' releases and
changelog entries through a conversational terminal interface.

Running shiplog with no arguments opens the chat client. Use
"shiplog serve" to run the server the client talks to.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd, args)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
