// Package host is the reference host for tidal guests. It loads a guest
// module with wazero, provides the env imports the guest runtime links
// against and drives the guest by calling poll_runtime whenever the wait
// hint, a wake signal or an inbound message says there is work.
package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"golang.org/x/sync/errgroup"

	"tidal/internal/config"
	"tidal/internal/observ"
	"tidal/internal/trace"
)

// Guest exports the driver calls.
const (
	ExportPoll   = "poll_runtime"
	ExportNotify = "ipc_notify"
)

// ErrMissingExport is returned when a guest lacks one of the runtime exports.
var ErrMissingExport = errors.New("guest does not export")

type runStats = observ.RunStats

// Sink receives messages the guest sends.
type Sink interface {
	Deliver(channel uint32, msg []byte)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(channel uint32, msg []byte)

// Deliver calls f.
func (f SinkFunc) Deliver(channel uint32, msg []byte) { f(channel, msg) }

type discardSink struct{}

func (discardSink) Deliver(uint32, []byte) {}

// Reason says why a run ended.
type Reason string

const (
	ReasonShutdown  Reason = "shutdown"
	ReasonIdle      Reason = "idle"
	ReasonCancelled Reason = "cancelled"
)

// Status is a snapshot of the driver, passed to Options.Observe after every
// poll.
type Status struct {
	Polls    uint64
	LastHint time.Duration
	Idle     bool
	Channels []uint32
	Pending  int
	Stats    observ.RunStats
}

// Options configures a Runtime.
type Options struct {
	Config config.Config
	// Args are passed to the guest as its argv.
	Args   []string
	Stdout io.Writer
	Stderr io.Writer
	// Sink receives outbound guest messages. Nil discards them.
	Sink Sink
	// Reply, when set, is asked for a reply to every outbound message. A
	// returned reply is queued back on the same channel.
	Reply func(msg []byte) ([]byte, bool)
	// Input, when set, is read line by line; each line is sent to every open
	// channel as a wire envelope.
	Input   io.Reader
	Tracer  trace.Tracer
	Timer   *observ.Timer
	Observe func(Status)
}

// Result describes a finished run.
type Result struct {
	Reason Reason
	Stats  observ.RunStats
}

// Runtime hosts one guest module.
type Runtime struct {
	opts     Options
	tracer   trace.Tracer
	sink     Sink
	wz       wazero.Runtime
	compiled wazero.CompiledModule
	table    *ChannelTable

	mod    api.Module
	poll   api.Function
	notify api.Function

	yield     atomic.Bool
	wakeCh    chan struct{}
	inboundCh chan struct{}

	mu       sync.Mutex
	stats    runStats
	lastHint time.Duration
	idle     bool
}

// New compiles wasm and prepares the host modules. Close releases
// everything New allocated.
func New(ctx context.Context, wasm []byte, opts Options) (*Runtime, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	r := &Runtime{
		opts:      opts,
		tracer:    trace.OrNop(opts.Tracer),
		sink:      opts.Sink,
		table:     NewChannelTable(opts.Config.Channels.MaxChannels, opts.Config.Channels.Capacity),
		wakeCh:    make(chan struct{}, 1),
		inboundCh: make(chan struct{}, 1),
	}
	if r.sink == nil {
		r.sink = discardSink{}
	}

	idx := opts.Timer.Begin("runtime")
	r.wz = wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r.wz); err != nil {
		_ = r.wz.Close(ctx)
		return nil, fmt.Errorf("instantiate wasi: %w", err)
	}
	if err := r.instantiateEnv(ctx); err != nil {
		_ = r.wz.Close(ctx)
		return nil, err
	}
	opts.Timer.End(idx, "")

	idx = opts.Timer.Begin("compile")
	compiled, err := r.compileGuest(ctx, wasm)
	if err != nil {
		_ = r.wz.Close(ctx)
		return nil, err
	}
	r.compiled = compiled
	opts.Timer.End(idx, fmt.Sprintf("%d bytes", len(wasm)))
	return r, nil
}

// Close releases the wazero runtime and the guest.
func (r *Runtime) Close(ctx context.Context) error {
	if r == nil || r.wz == nil {
		return nil
	}
	return r.wz.Close(ctx)
}

// Channels returns the channel table.
func (r *Runtime) Channels() *ChannelTable { return r.table }

// Inject queues msg for channel id and wakes the driver.
func (r *Runtime) Inject(id uint32, msg []byte) error {
	if err := r.table.Inject(id, msg); err != nil {
		r.bump(func(s *runStats) { s.Rejected++ })
		return err
	}
	r.signalInbound()
	return nil
}

// Stats returns the run totals so far.
func (r *Runtime) Stats() observ.RunStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// heartbeatProbe reports the counters a heartbeat carries.
func (r *Runtime) heartbeatProbe() map[string]string {
	s := r.Stats()
	return map[string]string{
		"polls":      strconv.FormatUint(s.Polls, 10),
		"idle_waits": strconv.FormatUint(s.IdleWaits, 10),
		"delivered":  strconv.FormatUint(s.Deliveries, 10),
		"open":       strconv.Itoa(r.table.Len()),
	}
}

// Run instantiates the guest, runs its initializer and drives it until it
// shuts down, stays idle longer than max_idle, or ctx ends.
func (r *Runtime) Run(ctx context.Context) (Result, error) {
	idx := r.opts.Timer.Begin("instantiate")
	mod, err := r.wz.InstantiateModule(ctx, r.compiled, r.moduleConfig())
	if err != nil {
		r.opts.Timer.End(idx, "failed")
		if reason, ok := r.classifyExit(ctx, err); ok {
			return Result{Reason: reason, Stats: r.Stats()}, nil
		}
		return Result{}, fmt.Errorf("instantiate guest: %w", err)
	}
	r.opts.Timer.End(idx, "")
	r.mod = mod
	r.poll = mod.ExportedFunction(ExportPoll)
	r.notify = mod.ExportedFunction(ExportNotify)

	hb := trace.StartHeartbeat(r.tracer, r.opts.Config.Trace.Heartbeat.Std(), r.heartbeatProbe)
	defer hb.Stop()

	idx = r.opts.Timer.Begin("drive")
	span, ctx := trace.BeginIn(trace.WithTracer(ctx, r.tracer), trace.ScopeRuntime, "run")
	var reason Reason
	g, gctx := errgroup.WithContext(ctx)
	feedCtx, stopFeed := context.WithCancel(gctx)
	g.Go(func() error {
		defer stopFeed()
		var err error
		reason, err = r.drive(gctx)
		return err
	})
	if r.opts.Input != nil {
		lines := readLines(feedCtx, r.opts.Input)
		g.Go(func() error { return r.feed(feedCtx, lines) })
	}
	err = g.Wait()
	r.opts.Timer.End(idx, string(reason))
	if err != nil {
		span.End(err.Error())
		return Result{Stats: r.Stats()}, err
	}
	span.End(string(reason))
	return Result{Reason: reason, Stats: r.Stats()}, nil
}

func (r *Runtime) moduleConfig() wazero.ModuleConfig {
	cfg := wazero.NewModuleConfig().
		WithName("guest").
		WithStartFunctions("_initialize").
		WithSysWalltime().
		WithSysNanotime().
		WithSysNanosleep()
	if len(r.opts.Args) > 0 {
		cfg = cfg.WithArgs(r.opts.Args...)
	}
	if r.opts.Stdout != nil {
		cfg = cfg.WithStdout(r.opts.Stdout)
	}
	if r.opts.Stderr != nil {
		cfg = cfg.WithStderr(r.opts.Stderr)
	}
	env := r.opts.Config.Runtime.Env
	for _, k := range slices.Sorted(maps.Keys(env)) {
		cfg = cfg.WithEnv(k, env[k])
	}
	return cfg
}

func (r *Runtime) bump(f func(s *runStats)) {
	r.mu.Lock()
	f(&r.stats)
	r.mu.Unlock()
}

func (r *Runtime) signalWake() {
	select {
	case r.wakeCh <- struct{}{}:
	default:
	}
}

func (r *Runtime) signalInbound() {
	select {
	case r.inboundCh <- struct{}{}:
	default:
	}
}

func (r *Runtime) observe() {
	if r.opts.Observe == nil {
		return
	}
	r.mu.Lock()
	st := Status{
		Polls:    r.stats.Polls,
		LastHint: r.lastHint,
		Idle:     r.idle,
		Stats:    r.stats,
	}
	r.mu.Unlock()
	st.Channels = r.table.IDs()
	st.Pending = r.table.Pending()
	r.opts.Observe(st)
}
