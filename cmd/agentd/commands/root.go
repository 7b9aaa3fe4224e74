// Package commands provides the CLI commands for agentd.
package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/opencode-ai/agentd/internal/config"
	"github.com/opencode-ai/agentd/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	printLogs bool
	logLevel  string
	envFile   string
	workDir   string
)

var logCloser io.Closer

var rootCmd = &cobra.Command{
	Use:   "agentd",
	Short: "agentd - a general-purpose AI agent server",
	Long: `agentd runs an AI agent that answers conversations by calling an LLM
provider and the tools exposed by MCP extensions.

Run 'agentd serve' to start the HTTP server, or 'agentd run' to reply to a
single message from the terminal.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Load environment variables from this file (default: .env if present)")
	rootCmd.PersistentFlags().StringVar(&workDir, "directory", "", "Working directory")

	rootCmd.SetVersionTemplate(fmt.Sprintf("agentd %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(configureCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// setup loads the env file and initializes logging. Logs always go to a
// dated file under the state directory. serve and --print-logs mirror them
// to stderr, pretty-printed on a terminal.
func setup(cmd *cobra.Command, args []string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	cfg := logging.DefaultConfig()
	cfg.Level = logging.ParseLevel(logLevel)
	cfg.LogToFile = true
	cfg.LogDir = paths.LogPath()
	if printLogs || cmd == serveCmd {
		cfg.Pretty = !color.NoColor
	} else {
		cfg.Output = io.Discard
	}
	closer, err := logging.Init(cfg)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	logCloser = closer
	return nil
}

// getWorkDir returns the working directory from the flag or the process.
func getWorkDir() (string, error) {
	if workDir != "" {
		return workDir, nil
	}
	return os.Getwd()
}
