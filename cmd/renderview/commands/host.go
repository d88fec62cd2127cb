package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/bryanchriswhite/renderview/internal/config"
	"github.com/bryanchriswhite/renderview/internal/host"
	"github.com/bryanchriswhite/renderview/internal/logger"
	"github.com/bryanchriswhite/renderview/internal/protocol"
	"github.com/spf13/cobra"
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Run the demo host",
	Long: `Run a stand-in for the 3D tool's side of RenderView. It owns the control
channel, opens a test-pattern viewport window when asked, and launches the
viewer.

Commands are read from stdin:
  create              launch the viewer and open the viewport
  align               align the camera to the viewport
  region              apply the last selected render region
  resolution W H [P]  change the render resolution
  status              show the session status
  quit                shut down`,
	Example: `  # Run the host and create a render view right away
  renderview host --create`,
	RunE: runHost,
}

var (
	hostTitle  string
	hostCreate bool
	hostWidth  int
	hostHeight int
)

func init() {
	rootCmd.AddCommand(hostCmd)

	hostCmd.Flags().StringVar(&hostTitle, "title", "Blender Render", "viewport window title")
	hostCmd.Flags().BoolVar(&hostCreate, "create", false, "create the render view on start")
	hostCmd.Flags().IntVar(&hostWidth, "width", 1920, "render width")
	hostCmd.Flags().IntVar(&hostHeight, "height", 1080, "render height")
}

// viewerLauncher starts the configured viewer, or this executable's viewer
// subcommand with the same config file.
func viewerLauncher(cfg *config.Config) (host.Launcher, error) {
	if cfg.Host.ViewerCommand != "" {
		return host.CommandLauncher(cfg.Host.ViewerCommand)
	}
	l, err := host.SelfLauncher()
	if err != nil {
		return nil, err
	}
	if cfgFile != "" {
		l.Args = append(l.Args, "--config", cfgFile)
	}
	return l, nil
}

func runHost(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig("host")
	if err != nil {
		return err
	}
	log := logger.WithComponent("host")

	launcher, err := viewerLauncher(cfg)
	if err != nil {
		return err
	}

	scene := host.NewDemoScene(hostTitle, protocol.Resolution{X: hostWidth, Y: hostHeight, Percentage: 100}, nil)
	ctl, err := host.NewController(scene, host.Options{
		Addr: cfg.ControlAddr(),
		Control: protocol.Options{
			ReadTimeout:     cfg.Control.ReadTimeout,
			WriteTimeout:    cfg.Control.WriteTimeout,
			MaxMessageBytes: cfg.Control.MaxMessageBytes,
		},
		Launcher:     launcher,
		ReadyTimeout: cfg.Host.ReadyTimeout,
		AlignDelay:   cfg.Host.AlignDelay,
		RegionDelay:  cfg.Host.RegionDelay,
		CloseDelay:   cfg.Host.CloseDelay,
	})
	if err != nil {
		if errors.Is(err, protocol.ErrPortInUse) {
			return fmt.Errorf("another host is running on %s: %w", cfg.ControlAddr(), err)
		}
		return err
	}
	defer func() {
		ctl.Shutdown()
		scene.CloseViewport()
	}()

	ctx, stop := signalContext()
	defer stop()

	serveErr := make(chan error, 1)
	go func() { serveErr <- ctl.Serve(ctx) }()

	log.Info().Str("control", ctl.Addr()).Msg("Host running")

	if hostCreate {
		if err := ctl.CreateRenderView(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to create render view")
		}
	}

	lines := make(chan string)
	go readLines(os.Stdin, lines)

	for {
		fmt.Fprint(os.Stderr, "renderview> ")
		select {
		case <-ctx.Done():
			return nil
		case err := <-serveErr:
			return err
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := hostCommand(ctx, ctl, scene, line)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		out <- sc.Text()
	}
}

// hostCommand runs one prompt line. It reports whether the host should exit.
func hostCommand(ctx context.Context, ctl *host.Controller, scene *host.DemoScene, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}

	switch fields[0] {
	case "create":
		return false, ctl.CreateRenderView(ctx)
	case "align":
		return false, ctl.AlignCamera()
	case "region":
		return false, ctl.SetRenderRegionFromLastSelection()
	case "resolution":
		res, err := parseResolution(fields[1:])
		if err != nil {
			return false, err
		}
		if err := scene.SetResolution(res); err != nil {
			return false, err
		}
		ctl.ResolutionChanged()
		return false, nil
	case "status":
		fmt.Printf("status:  %s\n", ctl.Status())
		fmt.Printf("viewers: %d\n", ctl.Peers())
		fmt.Printf("render:  %s\n", scene.Resolution())
		if r, ok := ctl.LastRegion(); ok {
			fmt.Printf("region:  %.3f %.3f %.3f %.3f\n", r.XMin, r.YMin, r.XMax, r.YMax)
		}
		return false, nil
	case "quit", "exit":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q", fields[0])
	}
}

func parseResolution(args []string) (protocol.Resolution, error) {
	if len(args) < 2 || len(args) > 3 {
		return protocol.Resolution{}, errors.New("usage: resolution W H [P]")
	}
	nums := make([]int, 0, 3)
	for _, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil {
			return protocol.Resolution{}, fmt.Errorf("invalid number %q", a)
		}
		nums = append(nums, n)
	}
	res := protocol.Resolution{X: nums[0], Y: nums[1], Percentage: 100}
	if len(nums) == 3 {
		res.Percentage = nums[2]
	}
	return res, nil
}
