package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"threetick/pkg/config"
	"threetick/pkg/logger"
)

// Version is set at build time with -ldflags "-X threetick/internal/cli.Version=...".
var Version = "dev"

// rootConfig carries the persistent flags and the loaded settings to subcommands.
type rootConfig struct {
	ConfigPath string
	LogLevel   string

	cfg *config.Config
}

func NewRootCmd() *cobra.Command {
	rc := &rootConfig{}

	cmd := &cobra.Command{
		Use:           "threetick",
		Short:         "Three-tick momentum trader for Binance USDT-M futures",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&rc.ConfigPath, "config", "", "Path to YAML config file (optional, overrides env)")
	cmd.PersistentFlags().StringVar(&rc.LogLevel, "log-level", "", "Log level: debug|info|warn|error (overrides LOG_LEVEL)")

	cmd.AddCommand(
		newRunCmd(rc),
		newSignalCmd(rc),
	)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "threetick %s\n", Version)
		},
	})

	return cmd
}

// load reads configuration and builds the global logger.
func (rc *rootConfig) load() (*config.Config, error) {
	cfg, err := config.Load(rc.ConfigPath)
	if err != nil {
		return nil, err
	}
	if rc.LogLevel != "" {
		cfg.LogLevel = rc.LogLevel
	}
	if err := logger.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	rc.cfg = cfg
	return cfg, nil
}

func Execute() {
	defer logger.Sync()
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
