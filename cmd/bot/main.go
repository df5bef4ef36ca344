package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xaenox/circle-bot/pkg/config"
)

const defaultConfigPath = "config.yaml"

var (
	configPath string
	debug      bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "circle-bot <command>",
	Short:         "Slack bot that turns event responses and busy threads into discussion circles",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if debug {
			logger, err = zap.NewDevelopment()
		} else {
			logger, err = zap.NewProduction()
		}
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		path, err := resolveConfigPath(cmd)
		if err != nil {
			return err
		}
		cfg, err = config.LoadConfig(path)
		if err != nil {
			return err
		}
		if debug {
			cfg.Slack.Debug = true
		}
		logger.Debug("Configuration loaded", zap.String("path", path))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// resolveConfigPath returns the config file to read. The default file is
// optional; an explicitly passed one must exist.
func resolveConfigPath(cmd *cobra.Command) (string, error) {
	if cmd.Flags().Changed("config") {
		return configPath, nil
	}
	if _, err := os.Stat(configPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("stat %s: %w", configPath, err)
	}
	return configPath, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "path to the YAML config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "development logging and Slack client debug output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(eventCmd)
	rootCmd.AddCommand(promptCmd)
	rootCmd.AddCommand(audienceCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
