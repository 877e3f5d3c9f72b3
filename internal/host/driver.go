package host

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"fortio.org/safecast"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"

	"tidal/internal/asyncrt"
	"tidal/internal/trace"
	"tidal/internal/wire"
)

// drive is the poll loop. It owns every call into the guest.
func (r *Runtime) drive(ctx context.Context) (Reason, error) {
	maxIdle := r.opts.Config.Runtime.MaxIdle.Std()
	for {
		hint, err := r.pollOnce(ctx)
		if err == nil {
			err = r.deliver(ctx)
		}
		if err != nil {
			if reason, ok := r.classifyExit(ctx, err); ok {
				return reason, nil
			}
			return "", err
		}
		r.observe()

		if reason, done := r.wait(ctx, hint, maxIdle); done {
			return reason, nil
		}
	}
}

// wait blocks until the hint elapses, the guest or an injector signals, or
// the run should end. Wake signals raised during the last poll are latched in
// wakeCh, so the wait returns at once for them.
func (r *Runtime) wait(ctx context.Context, hint asyncrt.WaitHint, maxIdle time.Duration) (Reason, bool) {
	var hintC, idleC <-chan time.Time
	if d, ok := hint.Duration(); ok {
		if d == 0 {
			if ctx.Err() != nil {
				return ReasonCancelled, true
			}
			return "", false
		}
		t := time.NewTimer(d)
		defer t.Stop()
		hintC = t.C
	} else {
		r.bump(func(s *runStats) { s.IdleWaits++ })
		if maxIdle > 0 {
			t := time.NewTimer(maxIdle)
			defer t.Stop()
			idleC = t.C
		}
	}

	select {
	case <-ctx.Done():
		return ReasonCancelled, true
	case <-r.wakeCh:
	case <-r.inboundCh:
	case <-hintC:
	case <-idleC:
		trace.Point(r.tracer, trace.ScopeRuntime, "idle", maxIdle.String(), nil)
		return ReasonIdle, true
	}
	return "", false
}

// pollOnce calls poll_runtime with the yield flag armed by the poll budget.
func (r *Runtime) pollOnce(ctx context.Context) (asyncrt.WaitHint, error) {
	r.yield.Store(false)
	if budget := r.opts.Config.Runtime.PollBudget.Std(); budget > 0 {
		t := time.AfterFunc(budget, func() {
			if r.yield.CompareAndSwap(false, true) {
				r.bump(func(s *runStats) { s.YieldRaised++ })
			}
		})
		defer t.Stop()
	}

	span := trace.Begin(r.tracer, trace.ScopeTick, ExportPoll, trace.ParentOf(ctx))
	res, err := r.poll.Call(ctx)
	if err != nil {
		span.End("error")
		return asyncrt.WaitIdle, err
	}
	if len(res) != 1 {
		span.End("error")
		return asyncrt.WaitIdle, fmt.Errorf("%s returned %d values", ExportPoll, len(res))
	}
	hint := asyncrt.HintFromMicros(res[0])
	span.End(hint.String())

	r.mu.Lock()
	r.stats.Polls++
	r.idle = hint.Idle()
	r.lastHint, _ = hint.Duration()
	r.mu.Unlock()
	return hint, nil
}

// deliver hands every queued inbound message to the guest, one ipc_notify
// per message.
func (r *Runtime) deliver(ctx context.Context) error {
	for {
		id, msg, ok := r.table.pop()
		if !ok {
			return nil
		}
		size, err := safecast.Conv[uint32](len(msg))
		if err != nil {
			r.bump(func(s *runStats) { s.Rejected++ })
			continue
		}
		r.table.stage(msg)
		res, err := r.notify.Call(ctx, api.EncodeU32(id), api.EncodeU32(size))
		r.table.unstage()
		if err != nil {
			return err
		}
		errno := asyncrt.ErrnoInval
		if len(res) == 1 {
			if v, convErr := safecast.Conv[uint16](api.DecodeU32(res[0])); convErr == nil {
				errno = asyncrt.Errno(v)
			}
		}
		if errno != asyncrt.ErrnoSuccess {
			r.bump(func(s *runStats) { s.Rejected++ })
			trace.Point(r.tracer, trace.ScopeIO, "deliver", errno.Error(), map[string]string{
				"channel": strconv.FormatUint(uint64(id), 10),
			})
			continue
		}
		r.bump(func(s *runStats) { s.Deliveries++ })
	}
}

// classifyExit maps the error of a guest call to a clean end of the run. A
// zero exit after shutdown_rt is a shutdown; a closed module after ctx ended
// is a cancellation.
func (r *Runtime) classifyExit(ctx context.Context, err error) (Reason, bool) {
	var exitErr *sys.ExitError
	if !errors.As(err, &exitErr) {
		if ctx.Err() != nil {
			return ReasonCancelled, true
		}
		return "", false
	}
	switch {
	case exitErr.ExitCode() == 0:
		return ReasonShutdown, true
	case ctx.Err() != nil:
		return ReasonCancelled, true
	default:
		return "", false
	}
}

// readLines scans in on its own goroutine and closes the channel at EOF. A
// blocked read keeps the goroutine alive past the run.
func readLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

// feed turns input lines into envelopes for every open channel.
func (r *Runtime) feed(ctx context.Context, lines <-chan string) error {
	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if line == "" {
				continue
			}
			seq++
			msg, err := wire.Encode(wire.ParseLine(seq, line))
			if err != nil {
				return err
			}
			if r.table.Broadcast(msg) == 0 {
				r.bump(func(s *runStats) { s.Rejected++ })
				continue
			}
			r.signalInbound()
		}
	}
}
