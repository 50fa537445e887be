package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (load failed, invalid arguments).
	ExitCodeError = 1
)

// rootCmd represents the base command for the cascade application.
var rootCmd = &cobra.Command{
	Use:   "cascade",
	Short: "Dependency-aware service supervisor",
	Long: `cascade supervises a fleet of long-running services declared in a
dependency file. A service only starts once everything it depends on is
running, and only stops once everything that depends on it has stopped.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors
	// that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command. Called from the main
// package to inject the build version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "cascade version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(ExitCodeError)
	}
}
