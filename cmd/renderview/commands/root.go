package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bryanchriswhite/renderview/internal/config"
	"github.com/bryanchriswhite/renderview/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	v       = viper.New()
	rootCmd = &cobra.Command{
		Use:   "renderview",
		Short: "RenderView - external render viewer for a 3D content tool",
		Long: `RenderView shows a 3D tool's render viewport in its own window.

The host side launches the viewer and talks to it over a localhost control
channel. The viewer takes over the viewport window, captures it and shows
the result with snapshots, an A/B comparison and render-region selection.

Features:
  • Viewport detection, chrome stripping and off-screen parking
  • Continuous capture with zoom and pan
  • Snapshot gallery with A/B divider
  • Render-region selection sent back to the host
  • MJPEG preview and HTTP/WebSocket control API`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/renderview/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "control channel port (default is 42069)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-pretty", true, "human readable log output")

	v.BindPFlag("control.port", rootCmd.PersistentFlags().Lookup("port"))
	v.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	v.BindPFlag("log_pretty", rootCmd.PersistentFlags().Lookup("log-pretty"))
}

// loadConfig reads the configuration and sets up logging for role.
func loadConfig(role string) (*config.Manager, *config.Config, error) {
	mgr, err := config.NewManagerWithViper(cfgFile, v)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg, err := mgr.Get()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	logger.Init(cfg.LogLevel, cfg.LogPretty)
	if role != "" {
		logger.WithProcess(role)
	}
	return mgr, cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
