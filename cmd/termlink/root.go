package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/termlink/internal/infrastructure/config"
	"github.com/GriffinCanCode/termlink/internal/infrastructure/logging"
	"github.com/GriffinCanCode/termlink/internal/infrastructure/monitoring"
)

// globals is state shared by every subcommand once the root has run
type globals struct {
	debug bool

	cfg     *config.Config
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

func newRootCmd(g *globals) *cobra.Command {
	root := &cobra.Command{
		Use:           "termlink",
		Short:         "Run commands in a terminal session over the control-plane API",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return g.setup(cmd)
		},
	}
	root.PersistentFlags().BoolVarP(&g.debug, "debug", "d", false, "Enable debug logging")

	root.AddCommand(newRunCmd(g))
	root.AddCommand(newMockServerCmd(g))
	root.AddCommand(newVersionCmd())
	return root
}

func (g *globals) setup(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var logger *logging.Logger
	if g.debug {
		logger = logging.NewDevelopment()
	} else {
		lc := logging.DefaultConfig()
		if cfg.Log.Level != "" {
			lc.Level = cfg.Log.Level
		}
		lc.Development = cfg.Log.Development || isTerminal(cmd.ErrOrStderr())
		if logger, err = logging.New(lc); err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
	}

	g.cfg = cfg
	g.logger = logger
	g.metrics = monitoring.NewMetrics()
	g.logger.Debug("configuration loaded",
		zap.String("profile", cfg.Profile),
		zap.String("socket", cfg.Connect.Socket),
		zap.String("url", cfg.Connect.URL),
		zap.Duration("connect_timeout", cfg.Connect.Timeout.Duration()))
	return nil
}

func (g *globals) close() {
	if g.logger == nil {
		return
	}
	if g.debug {
		g.logger.Debug("metrics", g.metrics.Snapshot().Fields()...)
	}
	g.logger.Sync()
}
