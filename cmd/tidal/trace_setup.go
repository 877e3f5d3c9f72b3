package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"tidal/internal/config"
	"tidal/internal/trace"
)

// traceSettings merges the [trace] section with any trace flags given on the
// command line. Flags win.
func traceSettings(cmd *cobra.Command, file config.TraceConfig) (config.TraceConfig, string, error) {
	flags := cmd.Root().PersistentFlags()
	out := file
	var err error
	if flags.Changed("trace") {
		if out.Output, err = flags.GetString("trace"); err != nil {
			return out, "", fmt.Errorf("failed to get trace flag: %w", err)
		}
		if !flags.Changed("trace-level") && file.Level == trace.LevelOff.String() {
			out.Level = trace.LevelTick.String()
		}
	}
	if flags.Changed("trace-level") {
		if out.Level, err = flags.GetString("trace-level"); err != nil {
			return out, "", fmt.Errorf("failed to get trace-level flag: %w", err)
		}
	}
	if flags.Changed("trace-mode") {
		if out.Mode, err = flags.GetString("trace-mode"); err != nil {
			return out, "", fmt.Errorf("failed to get trace-mode flag: %w", err)
		}
	}
	if flags.Changed("trace-ring-size") {
		if out.RingSize, err = flags.GetInt("trace-ring-size"); err != nil {
			return out, "", fmt.Errorf("failed to get trace-ring-size flag: %w", err)
		}
	}
	if flags.Changed("trace-heartbeat") {
		hb, err := flags.GetDuration("trace-heartbeat")
		if err != nil {
			return out, "", fmt.Errorf("failed to get trace-heartbeat flag: %w", err)
		}
		out.Heartbeat = config.Duration(hb)
	}
	format, err := flags.GetString("trace-format")
	if err != nil {
		return out, "", fmt.Errorf("failed to get trace-format flag: %w", err)
	}
	return out, format, nil
}

// setupTracing builds the host tracer and attaches it to the command context,
// where trace.FromContext finds it.
// The cleanup function flushes and closes it; in ring mode it first dumps
// the retained events.
func setupTracing(cmd *cobra.Command, settings config.TraceConfig, formatName string) (func(), error) {
	level, err := trace.ParseLevel(settings.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid trace level: %w", err)
	}
	if level == trace.LevelOff {
		cmd.SetContext(trace.WithTracer(cmd.Context(), trace.Nop))
		return func() {}, nil
	}
	mode, err := trace.ParseMode(settings.Mode)
	if err != nil {
		return nil, fmt.Errorf("invalid trace mode: %w", err)
	}
	format, ok := trace.ParseFormat(formatName)
	if !ok {
		return nil, fmt.Errorf("invalid trace format %q (expected auto|text|ndjson)", formatName)
	}

	tracer, err := trace.New(trace.Config{
		Level:      level,
		Mode:       mode,
		Format:     format,
		OutputPath: settings.Output,
		RingSize:   settings.RingSize,
		Color:      !color.NoColor && (settings.Output == "" || settings.Output == "-") && isTerminal(os.Stderr),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}
	cmd.SetContext(trace.WithTracer(cmd.Context(), tracer))

	cleanup := func() {
		if ring := ringOf(tracer); ring != nil && mode == trace.ModeRing {
			if err := ring.Dump(cmd.ErrOrStderr(), trace.FormatText); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "trace: dump error: %v\n", err)
			}
		}
		if err := tracer.Flush(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "trace: flush error: %v\n", err)
		}
		if err := tracer.Close(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "trace: close error: %v\n", err)
		}
	}
	return cleanup, nil
}

func ringOf(t trace.Tracer) *trace.RingTracer {
	switch t := t.(type) {
	case *trace.RingTracer:
		return t
	case *trace.MultiTracer:
		return t.Ring()
	default:
		return nil
	}
}
