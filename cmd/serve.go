package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"cascade/internal/app"
	"cascade/internal/config"
	"cascade/pkg/logging"
)

// serveDebug enables verbose logging across the application.
var serveDebug bool

// serveConfigPath points at an alternative settings file.
var serveConfigPath string

// serveCmd starts the supervisor: it loads the dependency file, builds the
// service graph and then reads commands from standard input until EXIT.
var serveCmd = &cobra.Command{
	Use:   "serve [dependency-file]",
	Short: "Start the supervisor and read commands from standard input",
	Long: `Starts the cascade supervisor for the services declared in the given
dependency file (default services.txt).

Commands are read from standard input, one per line:

  RESUME-ALL            resume every source service
  STOP-ALL              stop every sink service
  RESUME-SERVICE <id>   resume the named service
  STOP-SERVICE <id>     stop the named service
  EXIT                  stop everything, wait for it, and quit

START-ALL and START-SERVICE are accepted as synonyms of the RESUME forms.
End of input is equivalent to EXIT.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServe,
}

// runServe is the main entry point for the serve command.
func runServe(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(args)
	if err != nil {
		return err
	}

	application, err := app.New(settings)
	if err != nil {
		return fmt.Errorf("failed to initialize supervisor: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return application.Run(ctx)
}

// loadSettings merges the settings file, flags and the positional argument.
func loadSettings(args []string) (config.Settings, error) {
	settings, err := config.LoadSettings(serveConfigPath)
	if err != nil {
		return config.Settings{}, err
	}
	if len(args) > 0 {
		settings.DependencyFile = args[0]
	}

	level := logging.ParseLevel(settings.LogLevel)
	if serveDebug {
		level = logging.LevelDebug
	}
	logging.Init(level, os.Stderr)
	return settings, nil
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
	serveCmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultSettingsFile, "Path to the settings file")
}
