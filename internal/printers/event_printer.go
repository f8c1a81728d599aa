package printers

import (
	"fmt"
	"io"
	"strings"

	"cmtrace/trace"
)

// EventPrinter prints decoded trace events, one per line:
//
//	Idx:<N>; ID:<id>; <event detail>
type EventPrinter struct {
	ItemPrinter
	collectStats bool
	counts       map[trace.EventKind]int
}

// NewEventPrinter creates a new event printer.
func NewEventPrinter(writer io.Writer) *EventPrinter {
	return &EventPrinter{
		ItemPrinter: *NewItemPrinter(writer),
		counts:      make(map[trace.EventKind]int),
	}
}

// EventIn prints one event from the source with the given trace ID.
func (p *EventPrinter) EventIn(traceID uint8, ev trace.Event) {
	if p.collectStats {
		p.counts[ev.Kind]++
	}
	if p.IsMuted() {
		return
	}

	var sb strings.Builder
	if p.IDPrintMuted() {
		fmt.Fprintf(&sb, "Idx:%d; ", ev.Index)
	} else {
		fmt.Fprintf(&sb, "Idx:%d; ID:%x; ", ev.Index, traceID)
	}
	sb.WriteString(ev.Detail())
	sb.WriteString("\n")
	p.ItemPrintLine(sb.String())
}

// PrintEvents prints every event of evs.
func (p *EventPrinter) PrintEvents(traceID uint8, evs []trace.Event) {
	for _, ev := range evs {
		p.EventIn(traceID, ev)
	}
}

// SetCollectStats turns on statistics collections.
func (p *EventPrinter) SetCollectStats() { p.collectStats = true }

// Count returns the number of events of kind seen while collecting stats.
func (p *EventPrinter) Count(kind trace.EventKind) int { return p.counts[kind] }

// PrintStats outputs statistics about the events processed.
func (p *EventPrinter) PrintStats() {
	var sb strings.Builder

	sb.WriteString("Trace events processed:-\n")
	for k := trace.Sync; k <= trace.Unknown; k++ {
		fmt.Fprintf(&sb, "%s : %d\n", k, p.counts[k])
	}
	sb.WriteString("\n")

	p.ItemPrintLine(sb.String())
}
