package commands

import (
	"context"
	"testing"

	"github.com/bryanchriswhite/renderview/internal/host"
	"github.com/bryanchriswhite/renderview/internal/protocol"
)

// TestParseResolution checks the prompt's resolution syntax.
func TestParseResolution(t *testing.T) {
	tests := []struct {
		args    []string
		want    protocol.Resolution
		wantErr bool
	}{
		{args: []string{"1920", "1080"}, want: protocol.Resolution{X: 1920, Y: 1080, Percentage: 100}},
		{args: []string{"1280", "720", "50"}, want: protocol.Resolution{X: 1280, Y: 720, Percentage: 50}},
		{args: []string{"1920"}, wantErr: true},
		{args: []string{"1920", "x"}, wantErr: true},
		{args: []string{"1", "2", "3", "4"}, wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseResolution(tt.args)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("parseResolution(%v) succeeded, want error", tt.args)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseResolution(%v): %v", tt.args, err)
		}
		if got != tt.want {
			t.Fatalf("parseResolution(%v) = %+v, want %+v", tt.args, got, tt.want)
		}
	}
}

// TestHostCommandPrompt runs the prompt commands that need no viewer.
func TestHostCommandPrompt(t *testing.T) {
	scene := host.NewDemoScene("test", protocol.Resolution{X: 640, Y: 480, Percentage: 100}, nil)
	ctl, err := host.NewController(scene, host.Options{
		Addr: "127.0.0.1:0",
		Launcher: host.LauncherFunc(func() (host.Process, error) {
			t.Fatalf("viewer launched")
			return nil, nil
		}),
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	defer ctl.Shutdown()
	ctx := context.Background()

	if quit, err := hostCommand(ctx, ctl, scene, ""); quit || err != nil {
		t.Fatalf("empty line = %v, %v", quit, err)
	}
	if _, err := hostCommand(ctx, ctl, scene, "resolution 800 600 50"); err != nil {
		t.Fatalf("resolution: %v", err)
	}
	if got := scene.Resolution(); got != (protocol.Resolution{X: 800, Y: 600, Percentage: 50}) {
		t.Fatalf("scene resolution = %+v", got)
	}
	if _, err := hostCommand(ctx, ctl, scene, "region"); err == nil {
		t.Fatalf("region without a selection succeeded")
	}
	if _, err := hostCommand(ctx, ctl, scene, "bogus"); err == nil {
		t.Fatalf("unknown command accepted")
	}
	if quit, _ := hostCommand(ctx, ctl, scene, "quit"); !quit {
		t.Fatalf("quit did not quit")
	}
}
