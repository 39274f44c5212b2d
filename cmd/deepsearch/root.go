package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/smhanov/deepsearch/config"
)

var (
	// Global flags
	cfgFile  string
	envFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "deepsearch",
	Short: "Search, read and reason until a question is answered",
	Long: `deepsearch runs a research agent that alternates between searching the
web, reading pages, reflecting on sub-questions and drafting answers until
an answer passes evaluation or its token budget runs out.

Commands:
  serve   Run the OpenAI-compatible chat completions server
  ask     Answer one question and print the result

Configuration is read from defaults, the --config YAML file, a .env file
and the environment, in that order.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file (ignored when missing)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
}

// newLogger builds the stderr text logger for the requested level.
func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

// setup loads the configuration and logger shared by every subcommand.
func setup() (*config.Config, *slog.Logger, error) {
	logger, err := newLogger(logLevel)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(cfgFile, envFile)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
