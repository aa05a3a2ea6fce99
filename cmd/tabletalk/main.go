package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/table-talk25/TableTalk-app-sub000/pkg/config"
	"github.com/table-talk25/TableTalk-app-sub000/pkg/logging"
)

var rootCmd = &cobra.Command{
	Use:           "tabletalk",
	Short:         "TableTalk realtime relay and chat client",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup()
	},
}

var (
	flagConfig   string
	flagLogLevel string

	logger *slog.Logger
	cfg    *config.Config
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagConfig, "config", config.DefaultFile, "config name in the working directory or path to a YAML file")
	flags.StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config")

	rootCmd.AddCommand(relayCmd, tokenCmd, chatCmd)
}

func setup() error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	bootLogger := logging.New(logging.ParseLevel(flagLogLevel))
	loaded, err := config.Load(bootLogger, flagConfig)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg = loaded

	level := cfg.LogLevel
	if flagLogLevel != "" {
		level = flagLogLevel
	}
	logger = logging.New(logging.ParseLevel(level))
	slog.SetDefault(logger)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "tabletalk:", err)
		os.Exit(1)
	}
}
