package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"tidal/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "tidal",
	Short: "Host for cooperative wasm guests",
	Long: `tidal loads a wasip1 guest built on the tidal runtime, provides its host
imports and drives it through poll_runtime.`,
	SilenceUsage:      true,
	PersistentPreRunE: applyColorFlag,
}

// main registers subcommands and persistent flags, then executes the root
// command. A command error exits with status 1.
func main() {
	rootCmd.Version = version.Version

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)

	flags := rootCmd.PersistentFlags()
	flags.String("color", "auto", "colorize output (auto|on|off)")
	flags.Bool("quiet", false, "suppress non-essential output")
	flags.String("config", "", "path to "+configFileHint+" (default: search upwards from the working directory)")

	flags.String("trace", "", "trace output file (- for stderr)")
	flags.String("trace-level", "", "host trace level (off|error|tick|task|debug)")
	flags.String("trace-mode", "", "trace storage mode (stream|ring|both)")
	flags.String("trace-format", "auto", "trace format (auto|text|ndjson)")
	flags.Int("trace-ring-size", 0, "events kept in ring mode")
	flags.Duration("trace-heartbeat", 0, "host heartbeat interval (0 disables)")

	flags.String("cpu-profile", "", "write a CPU profile to file")
	flags.String("mem-profile", "", "write a heap profile to file on exit")
	flags.String("runtime-trace", "", "write a Go runtime trace to file")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func applyColorFlag(cmd *cobra.Command, _ []string) error {
	mode, err := cmd.Root().PersistentFlags().GetString("color")
	if err != nil {
		return fmt.Errorf("failed to get color flag: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "auto":
		color.NoColor = !isTerminal(os.Stdout) || os.Getenv("NO_COLOR") != ""
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	default:
		return fmt.Errorf("invalid --color value %q (expected auto|on|off)", mode)
	}
	return nil
}

// isTerminal reports whether f is a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
