package host

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"

	"tidal/internal/asyncrt"
	"tidal/internal/trace"
)

// EnvModule is the import module name the guest links against.
const EnvModule = "env"

// envFunc is one function of the env module. Every parameter and result
// is an i32.
type envFunc struct {
	name    string
	params  []string
	results int
	fn      func(*Runtime, context.Context, api.Module, []uint64)
}

var envFuncs = []envFunc{
	{name: "wake", fn: (*Runtime).hostWake},
	{name: "shutdown_rt", fn: (*Runtime).hostShutdown},
	{name: "yield_requested", results: 1, fn: (*Runtime).hostYieldRequested},
	{name: "ipc_make_channel", params: []string{"id_ptr", "cap_ptr"}, results: 1, fn: (*Runtime).hostMakeChannel},
	{name: "ipc_drop_channel", params: []string{"id"}, results: 1, fn: (*Runtime).hostDropChannel},
	{name: "ipc_send_msg", params: []string{"id", "ptr", "len"}, results: 1, fn: (*Runtime).hostSendMsg},
	{name: "ipc_recv_msg", params: []string{"ptr", "len"}, results: 1, fn: (*Runtime).hostRecvMsg},
}

func (f envFunc) signature() string {
	sig := f.name + "(" + strings.Join(f.params, ", ") + ")"
	if f.results > 0 {
		sig += " -> i32"
	}
	return sig
}

func i32s(n int) []api.ValueType {
	if n == 0 {
		return nil
	}
	return slices.Repeat([]api.ValueType{api.ValueTypeI32}, n)
}

// Imports lists the env functions a guest may import, as name(params) -> i32.
func Imports() []string {
	out := make([]string, len(envFuncs))
	for i, f := range envFuncs {
		out[i] = EnvModule + "." + f.signature()
	}
	return out
}

// Exports lists the functions a guest must export.
func Exports() []string {
	return []string{ExportPoll + "() -> i64", ExportNotify + "(channel, size) -> i32"}
}

// instantiateEnv registers the runtime's host functions under EnvModule.
func (r *Runtime) instantiateEnv(ctx context.Context) error {
	b := r.wz.NewHostModuleBuilder(EnvModule)
	for _, f := range envFuncs {
		b.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
				f.fn(r, ctx, mod, stack)
			}), i32s(len(f.params)), i32s(f.results)).
			WithParameterNames(f.params...).
			Export(f.name)
	}
	if _, err := b.Instantiate(ctx); err != nil {
		return fmt.Errorf("instantiate %s module: %w", EnvModule, err)
	}
	return nil
}

func (r *Runtime) hostWake(context.Context, api.Module, []uint64) {
	r.bump(func(s *runStats) { s.WakeSignals++ })
	r.signalWake()
}

func (r *Runtime) hostShutdown(ctx context.Context, mod api.Module, _ []uint64) {
	trace.Point(r.tracer, trace.ScopeRuntime, "guest.shutdown", "", nil)
	_ = mod.CloseWithExitCode(ctx, 0)
	// Unwind the guest like proc_exit does; the caller sees a zero exit.
	panic(sys.NewExitError(0))
}

func (r *Runtime) hostYieldRequested(_ context.Context, _ api.Module, stack []uint64) {
	if r.yield.Load() {
		stack[0] = api.EncodeU32(1)
		return
	}
	stack[0] = api.EncodeU32(0)
}

func (r *Runtime) hostMakeChannel(_ context.Context, mod api.Module, stack []uint64) {
	idPtr, capPtr := api.DecodeU32(stack[0]), api.DecodeU32(stack[1])
	id, capacity, errno := r.table.Make()
	if errno == asyncrt.ErrnoSuccess {
		mem := mod.Memory()
		if !mem.WriteUint32Le(idPtr, id) || !mem.WriteUint32Le(capPtr, capacity) {
			r.table.Drop(id)
			errno = asyncrt.ErrnoFault
		}
	}
	if errno == asyncrt.ErrnoSuccess {
		r.bump(func(s *runStats) { s.Channels++ })
		trace.Point(r.tracer, trace.ScopeIO, "channel.open", "", map[string]string{
			"channel": fmt.Sprint(id),
		})
		r.observe()
	}
	stack[0] = api.EncodeU32(uint32(errno))
}

func (r *Runtime) hostDropChannel(_ context.Context, _ api.Module, stack []uint64) {
	id := api.DecodeU32(stack[0])
	errno := r.table.Drop(id)
	if errno == asyncrt.ErrnoSuccess {
		trace.Point(r.tracer, trace.ScopeIO, "channel.drop", "", map[string]string{
			"channel": fmt.Sprint(id),
		})
		r.observe()
	}
	stack[0] = api.EncodeU32(uint32(errno))
}

func (r *Runtime) hostSendMsg(_ context.Context, mod api.Module, stack []uint64) {
	id, ptr, n := api.DecodeU32(stack[0]), api.DecodeU32(stack[1]), api.DecodeU32(stack[2])
	if !r.table.Has(id) {
		stack[0] = api.EncodeU32(uint32(asyncrt.ErrnoBadf))
		return
	}
	view, ok := mod.Memory().Read(ptr, n)
	if !ok {
		stack[0] = api.EncodeU32(uint32(asyncrt.ErrnoFault))
		return
	}
	// view aliases guest memory, which the guest reuses after we return.
	msg := bytes.Clone(view)
	if msg == nil {
		msg = []byte{}
	}
	r.bump(func(s *runStats) { s.Sent++ })
	r.sink.Deliver(id, msg)
	if r.opts.Reply != nil {
		if reply, ok := r.opts.Reply(msg); ok {
			_ = r.Inject(id, reply)
		}
	}
	stack[0] = api.EncodeU32(uint32(asyncrt.ErrnoSuccess))
}

func (r *Runtime) hostRecvMsg(_ context.Context, mod api.Module, stack []uint64) {
	ptr, n := api.DecodeU32(stack[0]), api.DecodeU32(stack[1])
	msg, errno := r.table.Receive(n)
	if errno == asyncrt.ErrnoSuccess && !mod.Memory().Write(ptr, msg) {
		errno = asyncrt.ErrnoFault
	}
	stack[0] = api.EncodeU32(uint32(errno))
}

// compileGuest compiles wasm and checks it exports the runtime ABI.
func (r *Runtime) compileGuest(ctx context.Context, wasm []byte) (wazero.CompiledModule, error) {
	compiled, err := r.wz.CompileModule(ctx, wasm)
	if err != nil {
		return nil, fmt.Errorf("compile guest: %w", err)
	}
	exports := compiled.ExportedFunctions()
	for _, name := range []string{ExportPoll, ExportNotify} {
		if _, ok := exports[name]; !ok {
			_ = compiled.Close(ctx)
			return nil, fmt.Errorf("%w: %s", ErrMissingExport, name)
		}
	}
	return compiled, nil
}
