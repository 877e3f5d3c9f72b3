package main

import (
	"bytes"
	"testing"
	"time"

	"tidal/internal/asyncrt"
	"tidal/internal/wire"
)

type nopHost struct{ shutdowns int }

func (*nopHost) Wake()                {}
func (h *nopHost) Shutdown()          { h.shutdowns++ }
func (*nopHost) YieldRequested() bool { return false }

type loopback struct {
	open   map[asyncrt.ChannelID]bool
	out    []wire.Envelope
	staged []byte
}

func (l *loopback) MakeChannel() (asyncrt.ChannelID, uint32, asyncrt.Errno) {
	l.open[7] = true
	return 7, 8, asyncrt.ErrnoSuccess
}

func (l *loopback) DropChannel(id asyncrt.ChannelID) asyncrt.Errno {
	delete(l.open, id)
	return asyncrt.ErrnoSuccess
}

func (l *loopback) Send(_ asyncrt.ChannelID, msg []byte) asyncrt.Errno {
	env, err := wire.Decode(msg)
	if err != nil {
		return asyncrt.ErrnoInval
	}
	l.out = append(l.out, env)
	return asyncrt.ErrnoSuccess
}

func (l *loopback) ReceiveInto(buf []byte) asyncrt.Errno {
	copy(buf, l.staged)
	return asyncrt.ErrnoSuccess
}

func (l *loopback) deliver(t *testing.T, ex *asyncrt.Executor, env wire.Envelope) {
	t.Helper()
	msg, err := wire.Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	l.staged = msg
	if errno := ex.Notify(7, uint32(len(msg))); errno != asyncrt.ErrnoSuccess {
		t.Fatalf("notify: %v", errno)
	}
}

func newService(interval time.Duration) (*service, *loopback, *nopHost, *asyncrt.ManualClock) {
	host := &nopHost{}
	lb := &loopback{open: make(map[asyncrt.ChannelID]bool)}
	clock := asyncrt.NewManualClock(time.Unix(0, 0))
	ex := asyncrt.NewExecutor(asyncrt.Config{Host: host, Channels: lb, Clock: clock})
	return &service{ex: ex, log: &bytes.Buffer{}, interval: interval}, lb, host, clock
}

func kinds(envs []wire.Envelope) []wire.Kind {
	out := make([]wire.Kind, len(envs))
	for i, e := range envs {
		out[i] = e.Kind
	}
	return out
}

func TestServiceEchoesUntilQuit(t *testing.T) {
	svc, lb, host, _ := newService(0)
	h, err := asyncrt.Spawn(svc.ex, svc.run())
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	svc.ex.Tick()
	if len(lb.out) != 1 || lb.out[0].Kind != wire.KindHello {
		t.Fatalf("expected hello, got %v", kinds(lb.out))
	}

	lb.deliver(t, svc.ex, wire.Envelope{Seq: 1, Kind: wire.KindData, Body: []byte("ping")})
	svc.ex.Tick()
	if len(lb.out) != 2 || lb.out[1].Kind != wire.KindEcho || string(lb.out[1].Body) != "ping" {
		t.Fatalf("expected echo of ping, got %v", lb.out)
	}

	lb.deliver(t, svc.ex, wire.Envelope{Seq: 2, Kind: wire.KindQuit})
	if hint := svc.ex.Tick(); hint != asyncrt.WaitIdle {
		t.Fatalf("expected idle after quit, got %v", hint)
	}
	if got := kinds(lb.out); got[len(got)-1] != wire.KindBye {
		t.Fatalf("expected bye last, got %v", got)
	}
	if !h.Done() || host.shutdowns != 1 {
		t.Fatalf("done=%v shutdowns=%d", h.Done(), host.shutdowns)
	}
	if len(lb.open) != 0 {
		t.Fatalf("channel should be released on exit")
	}
}

func TestServiceIgnoresGarbage(t *testing.T) {
	svc, lb, _, _ := newService(0)
	if _, err := asyncrt.Spawn(svc.ex, svc.run()); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	svc.ex.Tick()
	lb.staged = []byte{0xff}
	if errno := svc.ex.Notify(7, 1); errno != asyncrt.ErrnoSuccess {
		t.Fatalf("notify: %v", errno)
	}
	svc.ex.Tick()
	if len(lb.out) != 1 {
		t.Fatalf("garbage must not produce replies, got %v", kinds(lb.out))
	}
	if !bytes.Contains(svc.log.(*bytes.Buffer).Bytes(), []byte("dropping message")) {
		t.Fatalf("expected a log line about the dropped message")
	}
}

func TestHeartbeatTicksAndStopsWithService(t *testing.T) {
	svc, lb, host, clock := newService(time.Second)
	if _, err := asyncrt.Spawn(svc.ex, svc.run()); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if hint := svc.ex.Tick(); hint != asyncrt.WaitHint(time.Second) {
		t.Fatalf("expected the heartbeat timer to drive the hint, got %v", hint)
	}
	clock.Advance(time.Second)
	svc.ex.Tick()
	clock.Advance(time.Second)
	svc.ex.Tick()

	ticks := 0
	for _, e := range lb.out {
		if e.Kind == wire.KindTick {
			ticks++
		}
	}
	if ticks != 2 {
		t.Fatalf("expected 2 ticks, got %v", kinds(lb.out))
	}

	lb.deliver(t, svc.ex, wire.Envelope{Kind: wire.KindQuit})
	if hint := svc.ex.Tick(); hint != asyncrt.WaitIdle {
		t.Fatalf("heartbeat must stop with the service, got hint %v", hint)
	}
	if host.shutdowns != 1 {
		t.Fatalf("expected shutdown once both tasks ended, got %d", host.shutdowns)
	}
}
