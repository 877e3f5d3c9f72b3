package host

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidal/internal/config"
	"tidal/internal/wire"
)

// buildGuest compiles cmd/tidal-guest as a wasip1 reactor.
func buildGuest(t *testing.T) []byte {
	t.Helper()
	if testing.Short() {
		t.Skip("builds the wasm guest")
	}
	goBin, err := exec.LookPath("go")
	if err != nil {
		t.Skip("go toolchain not on PATH")
	}
	gomod, err := exec.Command(goBin, "env", "GOMOD").Output()
	require.NoError(t, err)
	root := filepath.Dir(strings.TrimSpace(string(gomod)))

	out := filepath.Join(t.TempDir(), "guest.wasm")
	cmd := exec.Command(goBin, "build", "-buildmode=c-shared", "-o", out, "./cmd/tidal-guest")
	cmd.Dir = root
	cmd.Env = append(os.Environ(), "GOOS=wasip1", "GOARCH=wasm", "CGO_ENABLED=0")
	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "build guest:\n%s", output)

	wasm, err := os.ReadFile(out)
	require.NoError(t, err)
	return wasm
}

type envelopeLog struct {
	mu   sync.Mutex
	seen []wire.Envelope
}

func (l *envelopeLog) Deliver(_ uint32, msg []byte) {
	env, err := wire.Decode(msg)
	if err != nil {
		return
	}
	l.mu.Lock()
	l.seen = append(l.seen, env)
	l.mu.Unlock()
}

func (l *envelopeLog) kinds() []wire.Kind {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []wire.Kind
	for _, env := range l.seen {
		out = append(out, env.Kind)
	}
	return out
}

func TestGuestEchoesUntilQuit(t *testing.T) {
	wasm := buildGuest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := testConfig()
	cfg.Runtime.MaxIdle = config.Duration(5 * time.Second)

	// hello is answered with data; the echo of that data is answered with quit.
	reply := func(msg []byte) ([]byte, bool) {
		env, err := wire.Decode(msg)
		if err != nil {
			return nil, false
		}
		var next wire.Envelope
		switch env.Kind {
		case wire.KindHello:
			next = wire.Envelope{Seq: 1, Kind: wire.KindData, Body: []byte("ping")}
		case wire.KindEcho:
			next = wire.Envelope{Seq: 2, Kind: wire.KindQuit, Body: []byte("done")}
		default:
			return nil, false
		}
		out, err := wire.Encode(next)
		return out, err == nil
	}

	log := &envelopeLog{}
	var stderr strings.Builder
	rt, err := New(ctx, wasm, Options{
		Config: cfg,
		Sink:   log,
		Reply:  reply,
		Stderr: &syncWriter{w: &stderr},
	})
	require.NoError(t, err)
	defer rt.Close(context.Background())

	res, err := rt.Run(ctx)
	require.NoError(t, err, "guest stderr:\n%s", stderr.String())
	assert.Equal(t, ReasonShutdown, res.Reason)
	assert.Equal(t, []wire.Kind{wire.KindHello, wire.KindEcho, wire.KindBye}, log.kinds())
	assert.Equal(t, uint64(2), res.Stats.Deliveries)
	assert.Equal(t, uint64(1), res.Stats.Channels)
	assert.Zero(t, rt.Channels().Len(), "the guest closes its channel before exiting")
}

type syncWriter struct {
	mu sync.Mutex
	w  *strings.Builder
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
