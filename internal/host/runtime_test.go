package host

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero/sys"

	"tidal/internal/asyncrt"
	"tidal/internal/config"
	"tidal/internal/observ"
	"tidal/internal/trace"
)

// Hand-assembled guests. Every section body here is shorter than 128 bytes,
// so lengths fit in one LEB128 byte.

func section(id byte, content ...byte) []byte {
	return append([]byte{id, byte(len(content))}, content...)
}

func name(s string) []byte {
	return append([]byte{byte(len(s))}, s...)
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// guestModule builds a module importing env.shutdown_rt and exporting
// poll_runtime (with pollBody as its code) and ipc_notify (returns 0).
func guestModule(pollBody []byte, exports ...string) []byte {
	if len(exports) == 0 {
		exports = []string{ExportPoll, ExportNotify}
	}
	types := section(1,
		3,
		0x60, 0, 0, // () -> ()
		0x60, 0, 1, 0x7e, // () -> i64
		0x60, 2, 0x7f, 0x7f, 1, 0x7f, // (i32, i32) -> i32
	)
	imports := section(2, concat(
		[]byte{1},
		name(EnvModule),
		name("shutdown_rt"),
		[]byte{0x00, 0},
	)...)
	funcs := section(3, 2, 1, 2)

	exportBody := []byte{byte(len(exports))}
	for _, e := range exports {
		idx := byte(1)
		if e == ExportNotify {
			idx = 2
		}
		exportBody = concat(exportBody, name(e), []byte{0x00, idx})
	}
	exportSec := section(7, exportBody...)

	poll := concat([]byte{0}, pollBody, []byte{0x0b})
	notify := []byte{0, 0x41, 0, 0x0b}
	code := section(10, concat(
		[]byte{2},
		[]byte{byte(len(poll))}, poll,
		[]byte{byte(len(notify))}, notify,
	)...)

	return concat(
		[]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00},
		types, imports, funcs, exportSec, code,
	)
}

var (
	// call shutdown_rt; i64.const 0
	pollShutdown = []byte{0x10, 0x00, 0x42, 0x00}
	// i64.const -1 (u64 max, idle)
	pollIdle = []byte{0x42, 0x7f}
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Runtime.PollBudget = config.Duration(time.Second)
	return cfg
}

func TestRunEndsOnShutdown(t *testing.T) {
	ctx := context.Background()
	timer := observ.NewTimer()
	rt, err := New(ctx, guestModule(pollShutdown), Options{Config: testConfig(), Timer: timer})
	require.NoError(t, err)
	defer rt.Close(ctx)

	res, err := rt.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReasonShutdown, res.Reason)
	assert.Equal(t, uint64(0), res.Stats.Polls, "the shutdown poll never returned")

	var names []string
	for _, p := range timer.Phases() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"runtime", "compile", "instantiate", "drive"}, names)
}

func TestRunEndsAfterMaxIdle(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Runtime.MaxIdle = config.Duration(20 * time.Millisecond)

	var statuses []Status
	rt, err := New(ctx, guestModule(pollIdle), Options{
		Config:  cfg,
		Observe: func(st Status) { statuses = append(statuses, st) },
	})
	require.NoError(t, err)
	defer rt.Close(ctx)

	res, err := rt.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReasonIdle, res.Reason)
	assert.Equal(t, uint64(1), res.Stats.Polls)
	assert.Equal(t, uint64(1), res.Stats.IdleWaits)
	require.NotEmpty(t, statuses)
	assert.True(t, statuses[len(statuses)-1].Idle)
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rt, err := New(ctx, guestModule(pollIdle), Options{Config: testConfig()})
	require.NoError(t, err)
	defer rt.Close(context.Background())

	time.AfterFunc(20*time.Millisecond, cancel)
	res, err := rt.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReasonCancelled, res.Reason)
}

func TestInjectWakesIdleDriver(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rt, err := New(ctx, guestModule(pollIdle), Options{Config: testConfig()})
	require.NoError(t, err)
	defer rt.Close(context.Background())

	id, _, errno := rt.Channels().Make()
	require.Equal(t, asyncrt.ErrnoSuccess, errno)

	polled := make(chan uint64, 8)
	rt.opts.Observe = func(st Status) {
		select {
		case polled <- st.Polls:
		default:
		}
	}
	go func() {
		<-polled
		_ = rt.Inject(id, []byte("ping"))
		<-polled
		cancel()
	}()

	res, err := rt.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReasonCancelled, res.Reason)
	assert.GreaterOrEqual(t, res.Stats.Polls, uint64(2))
	assert.Equal(t, uint64(1), res.Stats.Deliveries)
}

func TestNewRejectsGuestWithoutExports(t *testing.T) {
	ctx := context.Background()
	_, err := New(ctx, guestModule(pollIdle, ExportPoll), Options{Config: testConfig()})
	require.ErrorIs(t, err, ErrMissingExport)
	assert.Contains(t, err.Error(), ExportNotify)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Channels.MaxChannels = 0
	_, err := New(context.Background(), guestModule(pollIdle), Options{Config: cfg})
	require.Error(t, err)
}

func TestClassifyExit(t *testing.T) {
	r := &Runtime{}
	live := context.Background()
	done, cancel := context.WithCancel(context.Background())
	cancel()

	reason, ok := r.classifyExit(live, sys.NewExitError(0))
	assert.True(t, ok)
	assert.Equal(t, ReasonShutdown, reason)

	_, ok = r.classifyExit(live, sys.NewExitError(2))
	assert.False(t, ok, "guest crash is an error")

	reason, ok = r.classifyExit(done, sys.NewExitError(sys.ExitCodeContextCanceled))
	assert.True(t, ok)
	assert.Equal(t, ReasonCancelled, reason)

	_, ok = r.classifyExit(live, errors.New("trap"))
	assert.False(t, ok)
}

func TestRunTracesHeartbeatsUnderRunSpan(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Runtime.MaxIdle = config.Duration(60 * time.Millisecond)
	cfg.Trace.Heartbeat = config.Duration(5 * time.Millisecond)

	ring := trace.NewRingTracer(256, trace.LevelTick)
	rt, err := New(ctx, guestModule(pollIdle), Options{Config: cfg, Tracer: ring})
	require.NoError(t, err)
	defer rt.Close(ctx)

	res, err := rt.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, ReasonIdle, res.Reason)

	var runSpan uint64
	var polls, beats int
	var lastBeat map[string]string
	for _, ev := range ring.Snapshot() {
		switch {
		case ev.Kind == trace.KindSpanBegin && ev.Name == "run":
			runSpan = ev.SpanID
		case ev.Kind == trace.KindSpanBegin && ev.Name == ExportPoll:
			polls++
			assert.Equal(t, runSpan, ev.ParentID, "poll spans nest under the run span")
		case ev.Kind == trace.KindHeartbeat:
			beats++
			lastBeat = ev.Extra
		}
	}
	assert.NotZero(t, runSpan)
	assert.Equal(t, 1, polls)
	require.Positive(t, beats)
	assert.Equal(t, "1", lastBeat["polls"], "the idle guest was polled once")
	assert.Equal(t, "0", lastBeat["open"])
}

func TestImportsListEnvModule(t *testing.T) {
	imports := Imports()
	require.Len(t, imports, len(envFuncs))
	assert.Contains(t, imports, "env.wake()")
	assert.Contains(t, imports, "env.ipc_send_msg(id, ptr, len) -> i32")
	for _, imp := range imports {
		assert.True(t, strings.HasPrefix(imp, EnvModule+"."), imp)
	}
	assert.Equal(t, "poll_runtime() -> i64", Exports()[0])
}
