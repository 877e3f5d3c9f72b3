// Package trace records runtime events for the tidal host and guest.
//
// Both sides of the boundary use it: the guest executor emits tick spans,
// task polls, timer fires and channel traffic, and the host driver emits
// poll round trips, wakes and deliveries.
//
// # Usage
//
// Enable tracing on the host via command-line flags:
//
//	tidal run --trace=- --trace-level=task guest.wasm
//
// The host forwards the level to the guest through the TIDAL_TRACE
// environment variable, so guest events land on the same stderr stream.
//
// # Architecture
//
//   - Nop: discards everything when tracing is off
//   - StreamTracer: immediate write to output (file/stderr)
//   - RingTracer: the last events of a run, dumped with a task/channel summary
//   - MultiTracer: combines multiple tracers
//
// # Levels
//
//   - LevelOff: no tracing
//   - LevelError: runtime lifecycle only (shutdown, panics)
//   - LevelTick: plus scheduling passes and host polls
//   - LevelTask: plus channel traffic and per-task polls
//   - LevelDebug: everything including individual timer fires
//
// # Context Propagation
//
// The host attaches its tracer to the run context and opens the run span
// there; every poll_runtime span nests under it:
//
//	ctx = trace.WithTracer(ctx, tracer)
//	run, ctx := trace.BeginIn(ctx, trace.ScopeRuntime, "run")
//	defer run.End("")
//
//	poll := trace.Begin(trace.FromContext(ctx), trace.ScopeTick, "poll_runtime", trace.ParentOf(ctx))
package trace
