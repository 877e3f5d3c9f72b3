package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"tidal/internal/asyncrt"
	"tidal/internal/wire"
)

const heartbeatEnv = "TIDAL_HEARTBEAT"

// stopSignal completes once fire is called.
type stopSignal struct {
	fired  bool
	waiter asyncrt.Waker
}

func (s *stopSignal) fire() {
	s.fired = true
	if w := s.waiter; w != nil {
		s.waiter = nil
		w.Wake()
	}
}

func (s *stopSignal) Poll(cx *asyncrt.Context) (struct{}, bool) {
	if s.fired {
		return struct{}{}, true
	}
	s.waiter = cx.Waker()
	return struct{}{}, false
}

func (s *stopSignal) Drop() { s.waiter = nil }

type service struct {
	ex       *asyncrt.Executor
	log      io.Writer
	interval time.Duration
	seq      uint64
}

func heartbeatInterval() time.Duration {
	v := os.Getenv(heartbeatEnv)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

func (s *service) send(ch *asyncrt.Channel, kind wire.Kind, body []byte) error {
	s.seq++
	msg, err := wire.Encode(wire.Envelope{Seq: s.seq, Kind: kind, Body: body})
	if err != nil {
		return err
	}
	return ch.Send(msg)
}

// run is the guest entry: it opens a channel, greets the host, echoes data
// envelopes and stops on quit. The exit status is returned for logging.
func (s *service) run() asyncrt.Future[int] {
	return asyncrt.Async(func(aw *asyncrt.Awaiter) int {
		ch, err := s.ex.OpenChannel()
		if err != nil {
			fmt.Fprintf(s.log, "tidal-guest: %v\n", err)
			return 1
		}
		defer func() {
			if err := ch.Close(); err != nil {
				fmt.Fprintf(s.log, "tidal-guest: %v\n", err)
			}
		}()

		stop := &stopSignal{}
		defer stop.fire()
		if s.interval > 0 {
			if _, err := asyncrt.Spawn(s.ex, s.heartbeat(ch, stop)); err != nil {
				fmt.Fprintf(s.log, "tidal-guest: heartbeat: %v\n", err)
			}
		}

		if err := s.send(ch, wire.KindHello, []byte(fmt.Sprintf("channel %d", ch.ID()))); err != nil {
			fmt.Fprintf(s.log, "tidal-guest: hello: %v\n", err)
			return 1
		}

		for {
			res := asyncrt.Await(aw, ch.Recv())
			if res.Err != nil {
				return 0
			}
			env, err := wire.Decode(res.Value)
			if err != nil {
				fmt.Fprintf(s.log, "tidal-guest: dropping message: %v\n", err)
				continue
			}
			switch env.Kind {
			case wire.KindQuit:
				if err := s.send(ch, wire.KindBye, env.Body); err != nil {
					fmt.Fprintf(s.log, "tidal-guest: bye: %v\n", err)
				}
				return 0
			case wire.KindData:
				if err := s.send(ch, wire.KindEcho, env.Body); err != nil {
					fmt.Fprintf(s.log, "tidal-guest: echo: %v\n", err)
				}
			}
			asyncrt.Await(aw, s.ex.AutoYield())
		}
	})
}

// heartbeat sends a tick envelope every interval until stop fires.
func (s *service) heartbeat(ch *asyncrt.Channel, stop *stopSignal) asyncrt.Future[struct{}] {
	return asyncrt.Async(func(aw *asyncrt.Awaiter) struct{} {
		for n := 1; ; n++ {
			sel := asyncrt.Await(aw, asyncrt.Select[struct{}](asyncrt.Sleep(s.interval), stop))
			if sel.Index == 1 || ch.Closed() {
				return struct{}{}
			}
			if err := s.send(ch, wire.KindTick, []byte(fmt.Sprintf("%d", n))); err != nil {
				fmt.Fprintf(s.log, "tidal-guest: tick: %v\n", err)
				return struct{}{}
			}
		}
	})
}
