package main

import (
	"bytes"
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"tidal/internal/host"
	"tidal/internal/ui"
)

type runOutcome struct {
	result host.Result
	err    error
}

// runWithUI drives the guest on a goroutine while the monitor owns the
// terminal. Quitting the monitor cancels the run.
func runWithUI(ctx context.Context, cmd *cobra.Command, wasm []byte, opts host.Options, title string) (host.Result, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan ui.Event, 256)
	send := func(ev ui.Event) {
		select {
		case events <- ev:
		case <-runCtx.Done():
		}
	}
	opts.Sink = host.SinkFunc(func(id uint32, msg []byte) {
		send(ui.Event{Message: messageLine(id, msg)})
	})
	opts.Observe = func(st host.Status) {
		// Status updates are dropped rather than stall the guest.
		select {
		case events <- ui.Event{Status: &st}:
		default:
		}
	}
	guestOut := &lineWriter{emit: func(line string) { send(ui.Event{Message: "guest: " + line}) }}
	opts.Stdout = guestOut
	opts.Stderr = guestOut

	outcomeCh := make(chan runOutcome, 1)
	go func() {
		res, err := runPlain(runCtx, wasm, opts)
		outcomeCh <- runOutcome{result: res, err: err}
		close(events)
	}()

	model := ui.NewMonitorModel(title, opts.Config.Channels.MaxChannels, events)
	program := tea.NewProgram(model, tea.WithOutput(cmd.OutOrStdout()), tea.WithContext(runCtx))
	_, uiErr := program.Run()
	cancel()
	outcome := <-outcomeCh
	if uiErr != nil && outcome.err == nil && ctx.Err() == nil {
		return outcome.result, uiErr
	}
	return outcome.result, outcome.err
}

// lineWriter splits guest output into lines for the monitor.
type lineWriter struct {
	mu   sync.Mutex
	buf  []byte
	emit func(line string)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := string(w.buf[:i])
		w.buf = w.buf[i+1:]
		w.emit(line)
	}
	return len(p), nil
}
