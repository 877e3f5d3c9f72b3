// Package wire defines the message envelope exchanged over tidal channels.
//
// Every message is one schema version byte followed by a msgpack-encoded
// Envelope. The runtime itself never looks inside messages; only the
// reference guest and host use this package.
package wire

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// SchemaVersion is bumped whenever Envelope changes incompatibly.
const SchemaVersion uint8 = 1

// Kind tags what an envelope carries.
type Kind uint8

const (
	KindHello Kind = iota + 1 // guest announces a channel
	KindData                  // payload from the host
	KindEcho                  // guest reply to KindData
	KindTick                  // guest heartbeat
	KindQuit                  // host asks the guest to stop
	KindBye                   // guest acknowledges KindQuit
)

var kindNames = map[Kind]string{
	KindHello: "hello",
	KindData:  "data",
	KindEcho:  "echo",
	KindTick:  "tick",
	KindQuit:  "quit",
	KindBye:   "bye",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind converts a kind name back to a Kind.
func ParseKind(s string) (Kind, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

// Envelope is one channel message.
type Envelope struct {
	Seq  uint64 `msgpack:"seq"`
	Kind Kind   `msgpack:"kind"`
	Body []byte `msgpack:"body,omitempty"`
}

var (
	// ErrEmpty is returned when decoding a zero-length message.
	ErrEmpty = errors.New("wire: empty message")
	// ErrSchema is returned when the schema byte does not match SchemaVersion.
	ErrSchema = errors.New("wire: unsupported schema version")
)

// Encode serializes env with the schema prefix.
func Encode(env Envelope) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(SchemaVersion)
	enc := msgpack.NewEncoder(&buf)
	if err := enc.Encode(&env); err != nil {
		return nil, fmt.Errorf("wire: encode %s: %w", env.Kind, err)
	}
	return buf.Bytes(), nil
}

// Decode parses a message produced by Encode.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if len(data) == 0 {
		return env, ErrEmpty
	}
	if data[0] != SchemaVersion {
		return env, fmt.Errorf("%w: %d", ErrSchema, data[0])
	}
	if err := msgpack.Unmarshal(data[1:], &env); err != nil {
		return env, fmt.Errorf("wire: decode: %w", err)
	}
	return env, nil
}

// ParseLine turns a line of text into an envelope. A leading kind name
// ("quit", "data hello") selects the kind; anything else is sent as data.
func ParseLine(seq uint64, line string) Envelope {
	line = strings.TrimRight(line, "\r\n")
	head, rest, _ := strings.Cut(line, " ")
	if kind, ok := ParseKind(head); ok {
		return Envelope{Seq: seq, Kind: kind, Body: []byte(rest)}
	}
	return Envelope{Seq: seq, Kind: KindData, Body: []byte(line)}
}

func (e Envelope) String() string {
	if len(e.Body) == 0 {
		return fmt.Sprintf("#%d %s", e.Seq, e.Kind)
	}
	return fmt.Sprintf("#%d %s %q", e.Seq, e.Kind, e.Body)
}
