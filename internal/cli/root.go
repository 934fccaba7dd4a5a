// Package cli provides the command-line interface for starwatch.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"starwatch/internal/app"
	"starwatch/internal/config"
	"starwatch/pkg/logx"
)

// Version and Commit are set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

var (
	configPath string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "starwatch",
	Short: "Desktop alerts for new items in starred feeds",
	Long: "starwatch polls a content service for items in starred sources and raises one alert per " +
		"new item on the desktop, in a Telegram chat, or in the log.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return loadEnvFile(envFile)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "starwatch %s (%s)\n", Version, Commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./starwatch.yaml", "path to the config file (yaml or json)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with STARWATCH_* overrides (optional)")
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// loadEnvFile loads a dotenv file without overriding variables already set.
// A missing file is fine.
func loadEnvFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// loadComponents loads and validates the config and builds the poller graph
// for a one-shot command. The caller closes the result.
func loadComponents(ctx context.Context, lastChecked time.Time) (*config.Config, *app.Components, error) {
	cfgm := config.NewConfigManager(configPath)
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log := logx.NewConsole(cfg.Logging.Level)
	comp, err := app.Build(cfg, lastChecked, nil, log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, comp, nil
}

func closeComponents(comp *app.Components) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = comp.Close(ctx)
}
