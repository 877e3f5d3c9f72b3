// Package config loads the host configuration file (tidal.toml).
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"tidal/internal/trace"
)

// FileName is the configuration file looked up from the working directory.
const FileName = "tidal.toml"

// Duration is a time.Duration that reads and writes as a Go duration string.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full host configuration.
type Config struct {
	Runtime  RuntimeConfig  `toml:"runtime"`
	Channels ChannelsConfig `toml:"channels"`
	Trace    TraceConfig    `toml:"trace"`
}

// RuntimeConfig controls the poll driver.
type RuntimeConfig struct {
	// MaxIdle ends the run when the guest stays idle this long. Zero waits
	// forever.
	MaxIdle Duration `toml:"max_idle"`
	// PollBudget is how long one poll may run before the yield flag is raised.
	PollBudget Duration `toml:"poll_budget"`
	// Env is passed to the guest as its environment.
	Env map[string]string `toml:"env"`
}

// ChannelsConfig bounds the host channel table.
type ChannelsConfig struct {
	MaxChannels int `toml:"max_channels"`
	Capacity    int `toml:"capacity"`
}

// TraceConfig mirrors the trace flags.
type TraceConfig struct {
	Level     string   `toml:"level"`
	Mode      string   `toml:"mode"`
	Output    string   `toml:"output"`
	RingSize  int      `toml:"ring_size"`
	Heartbeat Duration `toml:"heartbeat"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Runtime: RuntimeConfig{
			PollBudget: Duration(10 * time.Millisecond),
		},
		Channels: ChannelsConfig{
			MaxChannels: 128,
			Capacity:    128,
		},
		Trace: TraceConfig{
			Level:    "off",
			Mode:     "stream",
			RingSize: 4096,
		},
	}
}

// Find walks up from startDir looking for FileName.
func Find(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// Load reads path over the defaults. An empty path returns Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return Config{}, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if meta.IsDefined("trace", "output") && !meta.IsDefined("trace", "level") {
		// an output without a level means the user wants to see something
		cfg.Trace.Level = trace.LevelTick.String()
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks ranges and enum values.
func (c Config) Validate() error {
	if c.Channels.MaxChannels <= 0 || c.Channels.MaxChannels > 1<<16 {
		return fmt.Errorf("[channels].max_channels must be in 1..65536, got %d", c.Channels.MaxChannels)
	}
	if c.Channels.Capacity <= 0 {
		return fmt.Errorf("[channels].capacity must be positive, got %d", c.Channels.Capacity)
	}
	if c.Runtime.PollBudget < 0 {
		return fmt.Errorf("[runtime].poll_budget must not be negative")
	}
	if c.Runtime.MaxIdle < 0 {
		return fmt.Errorf("[runtime].max_idle must not be negative")
	}
	if _, err := trace.ParseLevel(c.Trace.Level); err != nil {
		return fmt.Errorf("[trace].level: %w", err)
	}
	if _, err := trace.ParseMode(c.Trace.Mode); err != nil {
		return fmt.Errorf("[trace].mode: %w", err)
	}
	return nil
}

// Write encodes c as TOML.
func (c Config) Write(w io.Writer) error {
	enc := toml.NewEncoder(w)
	enc.Indent = ""
	return enc.Encode(c)
}
