package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"tidal/internal/config"
	"tidal/internal/host"
	"tidal/internal/observ"
	"tidal/internal/trace"
	"tidal/internal/wire"
)

// guestHeartbeatEnv is read by the reference guest to start its heartbeat task.
const guestHeartbeatEnv = "TIDAL_HEARTBEAT"

var runCmd = &cobra.Command{
	Use:   "run [flags] <guest.wasm> [-- guest args]",
	Short: "Run a guest module",
	Long: `Load a guest module, run its initializer and drive it until the guest
shuts down, stays idle longer than --max-idle, or the process is interrupted.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGuest,
}

func init() {
	f := runCmd.Flags()
	f.Bool("echo", false, "answer guest hello and tick messages with data envelopes")
	f.Bool("stdin", false, "send stdin lines to every open channel")
	f.Duration("max-idle", 0, "end the run once the guest is idle this long (0 waits forever)")
	f.Duration("poll-budget", 0, "raise the yield flag once a poll runs this long (0 never)")
	f.StringArray("env", nil, "guest environment variable KEY=VALUE (repeatable)")
	f.String("guest-trace", "", "guest trace level, passed as "+trace.EnvVar)
	f.Duration("heartbeat", 0, "guest heartbeat interval, passed as "+guestHeartbeatEnv)
	f.String("ui", "off", "live monitor (auto|on|off)")
	f.Bool("timings", false, "print phase timings")
	f.Bool("stats", false, "print run statistics")
	f.String("locale", "en", "locale used to format statistics")
}

type runFlags struct {
	echo    bool
	stdin   bool
	ui      uiMode
	timings bool
	stats   bool
	locale  string
	quiet   bool
}

func runGuest(cmd *cobra.Command, args []string) error {
	stopProfiling, err := setupProfiling(cmd)
	if err != nil {
		return err
	}
	defer stopProfiling()

	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyRunFlags(cmd, &cfg); err != nil {
		return err
	}
	rf, err := readRunFlags(cmd)
	if err != nil {
		return err
	}

	settings, formatName, err := traceSettings(cmd, cfg.Trace)
	if err != nil {
		return err
	}
	cfg.Trace = settings
	if err := cfg.Validate(); err != nil {
		return err
	}
	stopTracing, err := setupTracing(cmd, settings, formatName)
	if err != nil {
		return err
	}
	defer stopTracing()

	path := args[0]
	wasm, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read guest: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	timer := observ.NewTimer()
	opts := host.Options{
		Config: cfg,
		Args:   append([]string{filepath.Base(path)}, args[1:]...),
		Stdout: cmd.OutOrStdout(),
		Stderr: cmd.ErrOrStderr(),
		Tracer: trace.FromContext(cmd.Context()),
		Timer:  timer,
	}
	if rf.echo {
		opts.Reply = echoReply
	}
	if rf.stdin {
		opts.Input = cmd.InOrStdin()
	}

	var res host.Result
	if shouldUseTUI(rf.ui, rf.stdin) {
		res, err = runWithUI(ctx, cmd, wasm, opts, filepath.Base(path))
	} else {
		if !rf.quiet {
			out := cmd.OutOrStdout()
			opts.Sink = host.SinkFunc(func(id uint32, msg []byte) {
				fmt.Fprintln(out, messageLine(id, msg))
			})
		}
		res, err = runPlain(ctx, wasm, opts)
	}
	if err != nil {
		return err
	}

	if !rf.quiet {
		fmt.Fprintf(cmd.ErrOrStderr(), "guest stopped: %s\n", res.Reason)
	}
	printRunReport(cmd.OutOrStdout(), res, timer, rf.timings, rf.stats, parseLocale(rf.locale))
	return nil
}

func runPlain(ctx context.Context, wasm []byte, opts host.Options) (host.Result, error) {
	rt, err := host.New(ctx, wasm, opts)
	if err != nil {
		return host.Result{}, err
	}
	defer rt.Close(context.Background())
	return rt.Run(ctx)
}

func readRunFlags(cmd *cobra.Command) (runFlags, error) {
	var rf runFlags
	var err error
	f := cmd.Flags()
	if rf.echo, err = f.GetBool("echo"); err != nil {
		return rf, fmt.Errorf("failed to get echo flag: %w", err)
	}
	if rf.stdin, err = f.GetBool("stdin"); err != nil {
		return rf, fmt.Errorf("failed to get stdin flag: %w", err)
	}
	uiValue, err := f.GetString("ui")
	if err != nil {
		return rf, fmt.Errorf("failed to get ui flag: %w", err)
	}
	if rf.ui, err = readUIMode(uiValue); err != nil {
		return rf, err
	}
	if rf.timings, err = f.GetBool("timings"); err != nil {
		return rf, fmt.Errorf("failed to get timings flag: %w", err)
	}
	if rf.stats, err = f.GetBool("stats"); err != nil {
		return rf, fmt.Errorf("failed to get stats flag: %w", err)
	}
	if rf.locale, err = f.GetString("locale"); err != nil {
		return rf, fmt.Errorf("failed to get locale flag: %w", err)
	}
	if rf.quiet, err = cmd.Root().PersistentFlags().GetBool("quiet"); err != nil {
		return rf, fmt.Errorf("failed to get quiet flag: %w", err)
	}
	return rf, nil
}

// applyRunFlags overlays run flags that were set explicitly onto cfg.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	if f.Changed("max-idle") {
		d, err := f.GetDuration("max-idle")
		if err != nil {
			return fmt.Errorf("failed to get max-idle flag: %w", err)
		}
		cfg.Runtime.MaxIdle = config.Duration(d)
	}
	if f.Changed("poll-budget") {
		d, err := f.GetDuration("poll-budget")
		if err != nil {
			return fmt.Errorf("failed to get poll-budget flag: %w", err)
		}
		cfg.Runtime.PollBudget = config.Duration(d)
	}

	pairs, err := f.GetStringArray("env")
	if err != nil {
		return fmt.Errorf("failed to get env flag: %w", err)
	}
	guestTrace, err := f.GetString("guest-trace")
	if err != nil {
		return fmt.Errorf("failed to get guest-trace flag: %w", err)
	}
	if guestTrace != "" {
		if _, err := trace.ParseLevel(guestTrace); err != nil {
			return fmt.Errorf("invalid --guest-trace: %w", err)
		}
		pairs = append(pairs, trace.EnvVar+"="+guestTrace)
	}
	if f.Changed("heartbeat") {
		hb, err := f.GetDuration("heartbeat")
		if err != nil {
			return fmt.Errorf("failed to get heartbeat flag: %w", err)
		}
		pairs = append(pairs, guestHeartbeatEnv+"="+hb.String())
	}
	env, err := mergeEnv(cfg.Runtime.Env, pairs)
	if err != nil {
		return err
	}
	cfg.Runtime.Env = env
	return nil
}

// mergeEnv returns base overlaid with KEY=VALUE pairs. base is not modified.
func mergeEnv(base map[string]string, pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return base, nil
	}
	out := make(map[string]string, len(base)+len(pairs))
	for k, v := range base {
		out[k] = v
	}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --env value %q (expected KEY=VALUE)", p)
		}
		out[k] = v
	}
	return out, nil
}

// messageLine renders one outbound guest message for the terminal.
func messageLine(channel uint32, msg []byte) string {
	env, err := wire.Decode(msg)
	if err != nil {
		return fmt.Sprintf("! [ch %d] %d bytes: %v", channel, len(msg), err)
	}
	return fmt.Sprintf("[ch %d] %s", channel, env)
}

// echoReply answers hello and tick envelopes with a data envelope carrying
// the same body, so the guest's echo path has traffic.
func echoReply(msg []byte) ([]byte, bool) {
	env, err := wire.Decode(msg)
	if err != nil {
		return nil, false
	}
	switch env.Kind {
	case wire.KindHello, wire.KindTick:
	default:
		return nil, false
	}
	reply, err := wire.Encode(wire.Envelope{Seq: env.Seq, Kind: wire.KindData, Body: env.Body})
	if err != nil {
		return nil, false
	}
	return reply, true
}
