package trace

import (
	"encoding/json"
	"maps"
	"slices"
	"strings"

	"github.com/fatih/color"
)

// Format represents the output format for trace events.
type Format uint8

const (
	FormatAuto   Format = iota // pick from the output path
	FormatText                 // human-readable text
	FormatNDJSON               // newline-delimited JSON
)

// ParseFormat converts a string to Format.
func ParseFormat(s string) (Format, bool) {
	switch strings.ToLower(s) {
	case "", "auto":
		return FormatAuto, true
	case "text":
		return FormatText, true
	case "ndjson", "json":
		return FormatNDJSON, true
	}
	return FormatAuto, false
}

var (
	beginMark = color.New(color.FgCyan).SprintFunc()
	endMark   = color.New(color.FgGreen).SprintFunc()
	pointMark = color.New(color.FgYellow).SprintFunc()
	beatMark  = color.New(color.FgMagenta).SprintFunc()
	dimText   = color.New(color.Faint).SprintFunc()
)

// FormatEvent formats an event according to the specified format.
func FormatEvent(ev *Event, format Format) []byte {
	return formatEvent(ev, format, false)
}

func formatEvent(ev *Event, format Format, colored bool) []byte {
	switch format {
	case FormatNDJSON:
		return formatNDJSON(ev)
	default:
		return formatText(ev, colored)
	}
}

// formatNDJSON formats an event as newline-delimited JSON.
func formatNDJSON(ev *Event) []byte {
	type jsonEvent struct {
		Time     string            `json:"time"`
		Seq      uint64            `json:"seq"`
		Kind     string            `json:"kind"`
		Scope    string            `json:"scope"`
		SpanID   uint64            `json:"span_id,omitempty"`
		ParentID uint64            `json:"parent_id,omitempty"`
		GID      uint64            `json:"gid,omitempty"`
		Name     string            `json:"name"`
		Detail   string            `json:"detail,omitempty"`
		Extra    map[string]string `json:"extra,omitempty"`
	}

	j := jsonEvent{
		Time:     ev.Time.Format("2006-01-02T15:04:05.000000Z07:00"),
		Seq:      ev.Seq,
		Kind:     ev.Kind.String(),
		Scope:    ev.Scope.String(),
		SpanID:   ev.SpanID,
		ParentID: ev.ParentID,
		GID:      ev.GID,
		Name:     ev.Name,
		Detail:   ev.Detail,
		Extra:    ev.Extra,
	}

	data, _ := json.Marshal(j)
	data = append(data, '\n')
	return data
}

// formatText formats an event as human-readable text.
// Format: hh:mm:ss.micros [scope] [indent]→/← name (detail) {k=v}
func formatText(ev *Event, colored bool) []byte {
	var sb strings.Builder
	paint := func(f func(a ...any) string, s string) string {
		if !colored {
			return s
		}
		return f(s)
	}

	sb.WriteString(paint(dimText, ev.Time.Format("15:04:05.000000")))
	sb.WriteString(" ")
	sb.WriteString(paint(dimText, "["+ev.Scope.String()+"]"))
	sb.WriteString(" ")

	if ev.ParentID > 0 {
		sb.WriteString("  ")
	}

	switch ev.Kind {
	case KindSpanBegin:
		sb.WriteString(paint(beginMark, "→ "))
	case KindSpanEnd:
		sb.WriteString(paint(endMark, "← "))
	case KindPoint:
		sb.WriteString(paint(pointMark, "• "))
	case KindHeartbeat:
		sb.WriteString(paint(beatMark, "♡ "))
	}

	sb.WriteString(ev.Name)

	if ev.Detail != "" {
		sb.WriteString(" (")
		sb.WriteString(ev.Detail)
		sb.WriteString(")")
	}

	// Extra fields in key order so lines diff cleanly.
	if len(ev.Extra) > 0 {
		sb.WriteString(" {")
		for i, k := range slices.Sorted(maps.Keys(ev.Extra)) {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(k)
			sb.WriteString("=")
			sb.WriteString(ev.Extra[k])
		}
		sb.WriteString("}")
	}

	sb.WriteString("\n")
	return []byte(sb.String())
}
