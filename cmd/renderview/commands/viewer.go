package commands

import (
	"errors"
	"fmt"

	"github.com/bryanchriswhite/renderview/internal/capture"
	"github.com/bryanchriswhite/renderview/internal/config"
	"github.com/bryanchriswhite/renderview/internal/display"
	"github.com/bryanchriswhite/renderview/internal/logger"
	"github.com/bryanchriswhite/renderview/internal/output"
	"github.com/bryanchriswhite/renderview/internal/protocol"
	"github.com/bryanchriswhite/renderview/internal/viewer"
	"github.com/bryanchriswhite/renderview/internal/window"
	"github.com/spf13/cobra"
)

var viewerCmd = &cobra.Command{
	Use:   "viewer",
	Short: "Run the external viewer",
	Long: `Run the viewer process. It connects to the host's control channel,
waits for the viewport window, strips and parks it, then shows the captured
render with the snapshot gallery and A/B comparison.

The host normally launches this command itself.`,
	Example: `  # Run with a window and the browser preview
  renderview viewer

  # Run without a local window, driven from http://127.0.0.1:42070/
  renderview viewer --headless`,
	RunE: runViewer,
}

var viewerHeadless bool

func init() {
	rootCmd.AddCommand(viewerCmd)

	viewerCmd.Flags().BoolVar(&viewerHeadless, "headless", false, "do not open a local window")
	viewerCmd.Flags().String("preview-listen", "", "preview and control API address (default is 127.0.0.1:42070)")
	v.BindPFlag("preview.listen", viewerCmd.Flags().Lookup("preview-listen"))
}

// viewerOptions maps the configuration onto session options.
func viewerOptions(cfg *config.Config) viewer.Options {
	opts := viewer.Options{
		ControlAddr: cfg.ControlAddr(),
		Control: protocol.Options{
			ReadTimeout:     cfg.Control.ReadTimeout,
			WriteTimeout:    cfg.Control.WriteTimeout,
			MaxMessageBytes: cfg.Control.MaxMessageBytes,
		},
		Monitor: window.MonitorOptions{
			TitlePattern:  cfg.Viewport.TitlePattern,
			PollInterval:  cfg.Viewport.PollInterval,
			DetectTimeout: cfg.Viewport.DetectTimeout,
		},
		Capture: capture.LoopOptions{
			MaxConsecutiveFailures: cfg.Capture.MaxConsecutiveFailures,
			MinInterval:            cfg.Capture.MinInterval,
		},
		MaxSnapshots:     cfg.Gallery.MaxSnapshots,
		ThumbSize:        cfg.Gallery.ThumbSize,
		ZoomStep:         cfg.View.ZoomStep,
		DevicePixelRatio: cfg.View.DevicePixelRatio,
		Preview: output.Config{
			FPS:     cfg.Preview.FPS,
			Quality: cfg.Preview.JPEGQuality,
		},
	}
	if cfg.Preview.Enabled {
		opts.PreviewListen = cfg.Preview.Listen
	}
	return opts
}

func runViewer(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig("viewer")
	if err != nil {
		return err
	}
	log := logger.WithComponent("viewer")

	backend, err := window.NewDefaultBackend()
	if err != nil {
		return fmt.Errorf("failed to initialize window backend: %w", err)
	}

	opts := viewerOptions(cfg)
	deps := viewer.Deps{Backend: backend}

	if !viewerHeadless {
		w, h := viewer.DefaultResolution.Scaled()
		surface, err := display.NewSurface("RenderView", w/2, h/2)
		switch {
		case err == nil:
			deps.Surface = surface
		case opts.PreviewListen != "":
			log.Warn().Err(err).Msg("No local window, continuing with the browser preview")
		default:
			backend.Close()
			return fmt.Errorf("failed to open viewer window: %w", err)
		}
	}
	if deps.Surface == nil && opts.PreviewListen == "" {
		backend.Close()
		return errors.New("headless viewer needs preview.enabled")
	}

	session, err := viewer.New(opts, deps)
	if err != nil {
		backend.Close()
		return fmt.Errorf("failed to create viewer session: %w", err)
	}

	ctx, stop := signalContext()
	defer stop()

	log.Info().
		Str("control", opts.ControlAddr).
		Str("preview", opts.PreviewListen).
		Str("backend", backend.Name()).
		Msg("Viewer starting")

	if err := session.Run(ctx); err != nil {
		if window.IsNotFound(err) || errors.Is(err, protocol.ErrConnectionLost) {
			log.Info().Err(err).Msg("Viewer session ended")
			return nil
		}
		return err
	}
	log.Info().Msg("Viewer stopped")
	return nil
}
