package host

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/bryanchriswhite/renderview/internal/logger"
)

// Process is a launched viewer.
type Process interface {
	Kill() error
	Wait() error
}

// Launcher starts the viewer process.
type Launcher interface {
	Launch() (Process, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func() (Process, error)

// Launch implements Launcher.
func (f LauncherFunc) Launch() (Process, error) { return f() }

// ExecLauncher runs an external command. Its output goes to this process's
// stderr so the viewer log interleaves with the host's.
type ExecLauncher struct {
	Path string
	Args []string
	Env  []string
}

// SelfLauncher runs the current executable's "viewer" subcommand.
func SelfLauncher() (*ExecLauncher, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate executable: %w", err)
	}
	return &ExecLauncher{Path: exe, Args: []string{"viewer"}}, nil
}

// CommandLauncher splits a configured command line on whitespace.
func CommandLauncher(command string) (*ExecLauncher, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return SelfLauncher()
	}
	return &ExecLauncher{Path: fields[0], Args: fields[1:]}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Kill() error { return p.cmd.Process.Kill() }
func (p *execProcess) Wait() error { return p.cmd.Wait() }

// Launch implements Launcher.
func (l *ExecLauncher) Launch() (Process, error) {
	cmd := exec.Command(l.Path, l.Args...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), l.Env...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", l.Path, err)
	}
	logger.WithComponent("host").Info().
		Str("path", l.Path).
		Strs("args", l.Args).
		Int("pid", cmd.Process.Pid).
		Msg("Viewer launched")
	return &execProcess{cmd: cmd}, nil
}
