// Package cli implements the opsdesk command line.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tOgg1/opsdesk/internal/config"
	"github.com/tOgg1/opsdesk/internal/logging"
)

type app struct {
	configFile string
	logLevel   string
	logFormat  string

	loader  *config.Loader
	cfg     *config.Config
	logger  zerolog.Logger
	logFile *os.File
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context, version string) error {
	return NewRootCmd(version).ExecuteContext(ctx)
}

// NewRootCmd builds the command tree.
func NewRootCmd(version string) *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "opsdesk",
		Short:         "Real-time chat and task console sync engine",
		Long:          "opsdesk keeps a local replica of channels and messages in sync with an ops console backend.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (default searches ~/.config/opsdesk and .)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	flags.StringVar(&a.logFormat, "log-format", "", "log format: auto, json, console")

	cmd.AddCommand(
		newServeCmd(a),
		newChannelsCmd(a),
		newWatchCmd(a),
		newSendCmd(a),
		newConfigCmd(a),
	)
	return cmd
}

func (a *app) setup(cmd *cobra.Command) error {
	a.loader = config.NewLoader()
	if a.configFile != "" {
		a.loader.SetConfigFile(a.configFile)
	}
	if cmd.Flags().Changed("log-level") {
		a.loader.Set("logging.level", a.logLevel)
	}
	if cmd.Flags().Changed("log-format") {
		a.loader.Set("logging.format", a.logFormat)
	}

	cfg, err := a.loader.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg

	logCfg := logging.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cmd.ErrOrStderr(),
		EnableCaller: cfg.Logging.EnableCaller,
	}
	if cfg.Logging.File != "" {
		file, err := logging.OpenFile(cfg.Logging.File)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		a.logFile = file
		logCfg.Output = file
	}
	logging.Init(logCfg)
	a.logger = logging.Component("cli")
	a.logger.Debug().Str("config", a.loader.ConfigFileUsed()).Msg("configuration loaded")
	return nil
}

func (a *app) teardown() error {
	if a.logFile == nil {
		return nil
	}
	err := a.logFile.Close()
	a.logFile = nil
	return err
}
