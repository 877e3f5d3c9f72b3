package observ

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Counters are the executor's running totals.
type Counters struct {
	Ticks        uint64 `json:"ticks"`
	Polls        uint64 `json:"polls"`
	Spawned      uint64 `json:"spawned"`
	Completed    uint64 `json:"completed"`
	Dropped      uint64 `json:"dropped"`
	Wakes        uint64 `json:"wakes"`
	HostWakes    uint64 `json:"host_wakes"`
	StaleEntries uint64 `json:"stale_entries"`
	TimersFired  uint64 `json:"timers_fired"`
	YieldBreaks  uint64 `json:"yield_breaks"`
	Panics       uint64 `json:"panics"`
	Sends        uint64 `json:"sends"`
	Notifies     uint64 `json:"notifies"`
	NotifyMisses uint64 `json:"notify_misses"`
	Reclaimed    uint64 `json:"reclaimed"`
	DropPanics   uint64 `json:"drop_panics"`
}

// RunStats are the host driver's totals for one guest run.
type RunStats struct {
	Polls       uint64 `json:"polls"`
	WakeSignals uint64 `json:"wake_signals"`
	YieldRaised uint64 `json:"yield_raised"`
	IdleWaits   uint64 `json:"idle_waits"`
	Deliveries  uint64 `json:"deliveries"`
	Rejected    uint64 `json:"rejected"`
	Sent        uint64 `json:"sent"`
	Channels    uint64 `json:"channels"`
}

// Row is one labelled value of a stats table.
type Row struct {
	Label string
	Value uint64
}

// Rows lists the run stats in display order.
func (s RunStats) Rows() []Row {
	return []Row{
		{"polls", s.Polls},
		{"wake signals", s.WakeSignals},
		{"yield raised", s.YieldRaised},
		{"idle waits", s.IdleWaits},
		{"deliveries", s.Deliveries},
		{"rejected", s.Rejected},
		{"messages sent", s.Sent},
		{"channels opened", s.Channels},
	}
}

// Rows lists the executor counters in display order.
func (c Counters) Rows() []Row {
	return []Row{
		{"ticks", c.Ticks},
		{"task polls", c.Polls},
		{"spawned", c.Spawned},
		{"completed", c.Completed},
		{"dropped", c.Dropped},
		{"wakes", c.Wakes},
		{"host wakes", c.HostWakes},
		{"stale entries", c.StaleEntries},
		{"timers fired", c.TimersFired},
		{"yield breaks", c.YieldBreaks},
		{"panics", c.Panics},
		{"sends", c.Sends},
		{"notifies", c.Notifies},
		{"notify misses", c.NotifyMisses},
		{"reclaimed channels", c.Reclaimed},
		{"drop panics", c.DropPanics},
	}
}

// FormatRows renders rows as an aligned table with digit grouping for tag.
func FormatRows(title string, rows []Row, tag language.Tag) string {
	p := message.NewPrinter(tag)
	var sb strings.Builder
	sb.WriteString(title)
	sb.WriteString(":\n")
	for _, r := range rows {
		sb.WriteString(p.Sprintf("  %-20s %12d\n", r.Label, r.Value))
	}
	return sb.String()
}

// Summary renders run stats in English.
func (s RunStats) Summary() string {
	return FormatRows("run", s.Rows(), language.English)
}

// String implements fmt.Stringer.
func (c Counters) String() string {
	return fmt.Sprintf("ticks=%d polls=%d spawned=%d completed=%d", c.Ticks, c.Polls, c.Spawned, c.Completed)
}
