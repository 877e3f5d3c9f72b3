package trace

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"":       LevelOff,
		"off":    LevelOff,
		"ERROR":  LevelError,
		" tick ": LevelTick,
		"task":   LevelTask,
		"debug":  LevelDebug,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestLevelScopes(t *testing.T) {
	if LevelError.ShouldEmit(ScopeTick) {
		t.Fatal("error level must not emit tick scope")
	}
	if !LevelTick.ShouldEmit(ScopeRuntime) || !LevelTick.ShouldEmit(ScopeTick) {
		t.Fatal("tick level must emit runtime and tick")
	}
	if LevelTick.ShouldEmit(ScopeIO) {
		t.Fatal("tick level must not emit io")
	}
	if !LevelTask.ShouldEmit(ScopeIO) || LevelTask.ShouldEmit(ScopeTimer) {
		t.Fatal("task level covers io and task only")
	}
	if !LevelDebug.ShouldEmit(ScopeTimer) {
		t.Fatal("debug emits timer")
	}
}

func TestRingKeepsNewest(t *testing.T) {
	ring := NewRingTracer(3, LevelDebug)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		Point(ring, ScopeTask, name, "", nil)
	}
	events := ring.Snapshot()
	if len(events) != 3 {
		t.Fatalf("snapshot len = %d, want 3", len(events))
	}
	var names []string
	for _, ev := range events {
		names = append(names, ev.Name)
	}
	if got := strings.Join(names, ""); got != "cde" {
		t.Fatalf("snapshot order = %q", got)
	}
	if events[0].Seq >= events[2].Seq {
		t.Fatal("sequence numbers must increase")
	}
}

func TestPointRespectsLevel(t *testing.T) {
	ring := NewRingTracer(8, LevelTick)
	Point(ring, ScopeTask, "task.poll", "", nil)
	Point(ring, ScopeRuntime, "shutdown", "empty", nil)
	events := ring.Snapshot()
	if len(events) != 1 || events[0].Name != "shutdown" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestSpanNestsUnderParent(t *testing.T) {
	ring := NewRingTracer(8, LevelDebug)
	outer := Begin(ring, ScopeTick, "tick", 0)
	inner := Begin(ring, ScopeTask, "task.poll", outer.ID())
	inner.WithExtra("task", "1").End("pending")
	outer.End("idle")

	events := ring.Snapshot()
	if len(events) != 4 {
		t.Fatalf("events = %d, want 4", len(events))
	}
	if events[1].ParentID != outer.ID() {
		t.Fatalf("inner parent = %d, want %d", events[1].ParentID, outer.ID())
	}
	if events[2].Kind != KindSpanEnd || events[2].Extra["task"] != "1" {
		t.Fatalf("inner end = %+v", events[2])
	}
}

func TestBeginOnDisabledTracer(t *testing.T) {
	span := Begin(Nop, ScopeRuntime, "run", 0)
	if span.ID() != 0 {
		t.Fatalf("nop span id = %d", span.ID())
	}
	if d := span.End("done"); d != 0 {
		t.Fatalf("nop span duration = %v", d)
	}
	if Begin(nil, ScopeRuntime, "run", 0).ID() != 0 {
		t.Fatal("nil tracer must yield an inert span")
	}
}

func TestFormatText(t *testing.T) {
	ev := &Event{
		Time:   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Kind:   KindPoint,
		Scope:  ScopeIO,
		Name:   "channel.open",
		Detail: "cap 8",
		Extra:  map[string]string{"id": "4", "at": "init"},
	}
	got := string(FormatEvent(ev, FormatText))
	want := "03:04:05.000000 [io] • channel.open (cap 8) {at=init, id=4}\n"
	if got != want {
		t.Fatalf("text = %q, want %q", got, want)
	}
}

func TestFormatNDJSON(t *testing.T) {
	ev := &Event{Time: time.Now(), Seq: 7, Kind: KindSpanEnd, Scope: ScopeTick, SpanID: 3, Name: "tick"}
	line := FormatEvent(ev, FormatNDJSON)
	if !bytes.HasSuffix(line, []byte("\n")) {
		t.Fatal("ndjson line must end with newline")
	}
	var decoded map[string]any
	if err := json.Unmarshal(line, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["kind"] != "end" || decoded["scope"] != "tick" || decoded["name"] != "tick" {
		t.Fatalf("decoded = %v", decoded)
	}
	if _, ok := decoded["detail"]; ok {
		t.Fatal("empty detail must be omitted")
	}
}

func TestStreamTracerWrites(t *testing.T) {
	var buf bytes.Buffer
	tr := NewStreamTracer(&buf, LevelTask, FormatAuto)
	Point(tr, ScopeTask, "spawn", "", nil)
	Point(tr, ScopeTimer, "timer.fire", "", nil)
	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "spawn") || strings.Contains(out, "timer.fire") {
		t.Fatalf("stream output = %q", out)
	}
}

func TestNewSelectsMode(t *testing.T) {
	tr, err := New(Config{Level: LevelOff})
	if err != nil || tr.Enabled() {
		t.Fatalf("off level: %v %v", tr, err)
	}

	tr, err = New(Config{Level: LevelTick, Mode: ModeBoth, Output: &bytes.Buffer{}, RingSize: 4})
	if err != nil {
		t.Fatalf("both mode: %v", err)
	}
	multi, ok := tr.(*MultiTracer)
	if !ok || multi.Ring() == nil {
		t.Fatalf("both mode tracer = %T", tr)
	}

	if _, err := ParseMode("disk"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
	if f, ok := ParseFormat("json"); !ok || f != FormatNDJSON {
		t.Fatalf("ParseFormat(json) = %v %v", f, ok)
	}
}

func TestContextPropagation(t *testing.T) {
	ctx := context.Background()
	if FromContext(ctx) != Nop || ParentOf(ctx) != 0 {
		t.Fatal("empty context must yield Nop at top level")
	}
	if _, same := BeginIn(ctx, ScopeRuntime, "run"); same != ctx {
		t.Fatal("a disabled span must not derive a context")
	}

	ring := NewRingTracer(8, LevelTick)
	ctx = WithTracer(ctx, ring)
	if FromContext(ctx) != Tracer(ring) {
		t.Fatal("tracer not propagated")
	}
	run, ctx := BeginIn(ctx, ScopeRuntime, "run")
	if ParentOf(ctx) != run.ID() || run.ID() == 0 {
		t.Fatalf("parent = %d, want run span %d", ParentOf(ctx), run.ID())
	}
	poll, _ := BeginIn(ctx, ScopeTick, "poll_runtime")
	poll.End("idle")
	run.End("shutdown")

	events := ring.Snapshot()
	if len(events) != 4 || events[1].ParentID != run.ID() {
		t.Fatalf("events = %+v", events)
	}
	if FromContext(WithTracer(ctx, nil)) != Nop || ParentOf(WithTracer(ctx, nil)) != run.ID() {
		t.Fatal("replacing the tracer must keep the parent span")
	}
}

func TestRingDumpHeader(t *testing.T) {
	ring := NewRingTracer(2, LevelDebug)
	Point(ring, ScopeTask, "task.poll", "", map[string]string{"task": "3"})
	Point(ring, ScopeIO, "channel.send", "", map[string]string{"channel": "7"})
	Point(ring, ScopeTask, "task.poll", "", map[string]string{"task": "1"})
	if got := ring.Overwritten(); got != 1 {
		t.Fatalf("overwritten = %d, want 1", got)
	}

	var buf bytes.Buffer
	if err := ring.Dump(&buf, FormatText); err != nil {
		t.Fatalf("dump: %v", err)
	}
	first, _, _ := strings.Cut(buf.String(), "\n")
	want := "--- trace ring: 2 events, 1 older dropped; tasks [1]; channels [7] ---"
	if first != want {
		t.Fatalf("header = %q, want %q", first, want)
	}

	buf.Reset()
	if err := ring.Dump(&buf, FormatNDJSON); err != nil {
		t.Fatalf("dump: %v", err)
	}
	if strings.Count(buf.String(), "\n") != 2 || strings.Contains(buf.String(), "---") {
		t.Fatalf("ndjson dump = %q", buf.String())
	}
}

func TestHeartbeatCarriesProbe(t *testing.T) {
	if StartHeartbeat(Nop, time.Millisecond, nil) != nil {
		t.Fatal("disabled tracer must not start a heartbeat")
	}
	var nilBeat *Heartbeat
	nilBeat.Stop()

	ring := NewRingTracer(16, LevelError)
	hb := StartHeartbeat(ring, time.Millisecond, func() map[string]string {
		return map[string]string{"polls": "42"}
	})
	deadline := time.Now().Add(5 * time.Second)
	for len(ring.Snapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	hb.Stop()

	events := ring.Snapshot()
	if len(events) == 0 {
		t.Fatal("no heartbeat emitted")
	}
	ev := events[0]
	if ev.Kind != KindHeartbeat || ev.Extra["polls"] != "42" || !strings.HasPrefix(ev.Detail, "#1 after ") {
		t.Fatalf("heartbeat = %+v", ev)
	}
}
