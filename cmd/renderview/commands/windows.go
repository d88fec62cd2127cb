package commands

import (
	"fmt"
	"os"
	"regexp"
	"text/tabwriter"

	"github.com/bryanchriswhite/renderview/internal/window"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
)

var windowsCmd = &cobra.Command{
	Use:   "windows",
	Short: "List top-level windows",
	Long: `List the top-level windows the viewer can see and mark the ones whose
title matches viewport.title_pattern. Use it to check the pattern before
launching a render view.`,
	Example: `  # List windows in table format (default)
  renderview windows

  # Only windows the viewer would consider
  renderview windows --matching

  # List windows in JSON format
  renderview windows --format json`,
	RunE: runWindows,
}

var (
	windowsFormat   string
	windowsMatching bool
)

func init() {
	rootCmd.AddCommand(windowsCmd)

	windowsCmd.Flags().StringVarP(&windowsFormat, "format", "f", "table", "output format (table or json)")
	windowsCmd.Flags().BoolVarP(&windowsMatching, "matching", "m", false, "show only windows matching the title pattern")
}

func runWindows(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig("")
	if err != nil {
		return err
	}
	pattern, err := regexp.Compile(cfg.Viewport.TitlePattern)
	if err != nil {
		return fmt.Errorf("invalid viewport.title_pattern: %w", err)
	}

	backend, err := window.NewDefaultBackend()
	if err != nil {
		return fmt.Errorf("failed to initialize window backend: %w", err)
	}
	defer backend.Close()

	windows, err := backend.ListWindows()
	if err != nil {
		return fmt.Errorf("failed to list windows: %w", err)
	}

	if windowsMatching {
		filtered := make([]window.Info, 0, len(windows))
		for _, w := range windows {
			if pattern.MatchString(w.Title) {
				filtered = append(filtered, w)
			}
		}
		windows = filtered
	}

	switch windowsFormat {
	case "json":
		encoder := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(windows)
	case "table":
		return printWindowsTable(windows, pattern)
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", windowsFormat)
	}
}

func printWindowsTable(windows []window.Info, pattern *regexp.Regexp) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tTITLE\tCLASS\tPID\tGEOMETRY\tMATCH")
	fmt.Fprintln(w, "--\t-----\t-----\t---\t--------\t-----")

	for _, info := range windows {
		match := "No"
		if pattern.MatchString(info.Title) {
			match = "Yes"
		}
		g := info.Geometry
		fmt.Fprintf(w, "0x%x\t%s\t%s\t%d\t%dx%d+%d+%d\t%s\n",
			info.ID, info.Title, info.Class, info.PID, g.Width, g.Height, g.X, g.Y, match)
	}

	return nil
}
