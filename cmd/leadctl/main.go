package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/raaihank/lead-sentinel/internal/config"
	"github.com/raaihank/lead-sentinel/internal/logger"
	"github.com/spf13/cobra"
)

// app holds what PersistentPreRunE resolved for the subcommands
type app struct {
	configPath string
	envFile    string
	logLevel   string

	cfg *config.Config
	log *logger.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:          "leadctl",
		Short:        "Redact lead messages and file them under anonymous tokens",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "configuration file")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", ".env file to load before the configuration")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logging.level")

	root.AddCommand(
		newSanitizeCmd(a),
		newRestoreCmd(a),
		newImportCmd(a),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	if err := config.LoadEnvFile(a.envFile); err != nil {
		return fmt.Errorf("failed to load %s: %w", a.envFile, err)
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = strings.ToLower(a.logLevel)
	}

	// stdout carries command output, logs go to stderr
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	a.cfg = cfg
	a.log = log
	return nil
}
