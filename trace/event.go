package trace

import (
	"fmt"
	"strings"

	"cmtrace/internal/ocsd"
)

// EventKind identifies the variant held by an Event.
type EventKind int

const (
	Sync EventKind = iota
	InstructionExecuted
	ExceptionEntry
	ExceptionExit
	ExceptionReturn
	Timestamp
	Overflow
	Stimulus
	DataTrace
	CounterWrap
	Atom
	TraceOn
	TraceInfo
	Context
	ResourceEvent
	Discard
	Unknown
)

var kindNames = [...]string{
	Sync:                "SYNC",
	InstructionExecuted: "INSTR",
	ExceptionEntry:      "EXC_ENTRY",
	ExceptionExit:       "EXC_EXIT",
	ExceptionReturn:     "EXC_RETURN",
	Timestamp:           "TIMESTAMP",
	Overflow:            "OVERFLOW",
	Stimulus:            "STIMULUS",
	DataTrace:           "DATA",
	CounterWrap:         "CNT_WRAP",
	Atom:                "ATOM",
	TraceOn:             "TRACE_ON",
	TraceInfo:           "TRACE_INFO",
	Context:             "CONTEXT",
	ResourceEvent:       "EVENT",
	Discard:             "DISCARD",
	Unknown:             "UNKNOWN",
}

func (k EventKind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is one decoded trace event. Which fields are meaningful depends on
// Kind; the rest are zero.
type Event struct {
	Kind  EventKind
	Index ocsd.TrcIndex // offset of the first byte of the source packet

	// InstructionExecuted: the PC. DataTrace: the address offset.
	// ExceptionEntry from ETMv4: the preferred return address.
	Address uint32
	// InstructionExecuted: matching comparator, -1 for a PC sample or an
	// ETMv4 address packet. DataTrace: comparator that matched.
	Comparator int
	// InstructionExecuted: a periodic PC sample, and whether it was taken
	// while the core slept.
	Sampled bool
	Sleep   bool

	// ExceptionEntry, ExceptionExit, ExceptionReturn. ETMv4 reports the
	// exception type field of the exception packet.
	Exception uint16

	// Timestamp: Delta is the local timestamp increment after prescaling,
	// Time the running local time, or the full global timestamp when Global
	// is set. TC holds the local timing quality bits, or the wrap and clock
	// change flags of a global timestamp.
	Delta  uint64
	Time   uint64
	Global bool
	TC     uint8

	// Stimulus and DataTrace value. Size is the payload size in bytes; it is
	// zero for a DataTrace address offset, which is held in Address.
	Port  uint16
	Value uint32
	Size  uint8
	// DataTrace: the data value was written.
	Write bool

	// CounterWrap: the DWT counters that wrapped. ResourceEvent: the ETM
	// events that fired. TraceInfo: the INFO section, with the P0 key in
	// Value.
	Flags uint8

	// Atom: NumAtoms atoms, oldest in bit 0, a set bit for executed.
	Atoms    uint32
	NumAtoms uint8

	// Context: the PE context after the packet.
	EL        uint8
	NonSecure bool
	ContextID uint32
	VMID      uint32

	// Unknown: the undecodable bytes and the reason. Raw keeps at most the
	// first 256 bytes of a span; Dropped counts the rest.
	Raw     []byte
	Dropped int
	Err     error
}

// String returns the debug representation of the event.
func (e Event) String() string {
	return fmt.Sprintf("Idx:%d; %s", e.Index, e.Detail())
}

// Detail is String without the index.
func (e Event) Detail() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.String())

	switch e.Kind {
	case InstructionExecuted:
		switch {
		case e.Comparator >= 0:
			fmt.Fprintf(&sb, "; PC=0x%08X; cmp=%d", e.Address, e.Comparator)
		case e.Sleep:
			sb.WriteString("; sample (sleeping)")
		case e.Sampled:
			fmt.Fprintf(&sb, "; PC=0x%08X; sample", e.Address)
		default:
			fmt.Fprintf(&sb, "; PC=0x%08X", e.Address)
		}
	case ExceptionEntry, ExceptionExit, ExceptionReturn:
		fmt.Fprintf(&sb, "; exception=%d", e.Exception)
		if e.Address != 0 {
			fmt.Fprintf(&sb, "; ret=0x%08X", e.Address)
		}
	case Timestamp:
		if e.Global {
			fmt.Fprintf(&sb, "; global=0x%X", e.Time)
		} else {
			fmt.Fprintf(&sb, "; delta=%d; time=%d", e.Delta, e.Time)
		}
		if e.TC != 0 {
			fmt.Fprintf(&sb, "; tc=%d", e.TC)
		}
	case Stimulus:
		fmt.Fprintf(&sb, "; port=%d; value=0x%0*X", e.Port, int(e.Size)*2, e.Value)
	case DataTrace:
		switch {
		case e.Size == 0:
			fmt.Fprintf(&sb, "; cmp=%d; addr=0x%04X", e.Comparator, e.Address)
		case e.Write:
			fmt.Fprintf(&sb, "; cmp=%d; write=0x%0*X", e.Comparator, int(e.Size)*2, e.Value)
		default:
			fmt.Fprintf(&sb, "; cmp=%d; read=0x%0*X", e.Comparator, int(e.Size)*2, e.Value)
		}
	case CounterWrap:
		fmt.Fprintf(&sb, "; flags=0x%02X", e.Flags)
	case Atom:
		sb.WriteString("; ")
		for i := uint8(0); i < e.NumAtoms; i++ {
			if e.Atoms&(1<<i) != 0 {
				sb.WriteByte('E')
			} else {
				sb.WriteByte('N')
			}
		}
	case TraceInfo:
		fmt.Fprintf(&sb, "; info=0x%02X; key=0x%X", e.Flags, e.Value)
	case Context:
		fmt.Fprintf(&sb, "; EL%d", e.EL)
		if e.NonSecure {
			sb.WriteString("; NS")
		}
		if e.ContextID != 0 || e.VMID != 0 {
			fmt.Fprintf(&sb, "; ctxt=0x%X; vmid=0x%X", e.ContextID, e.VMID)
		}
	case ResourceEvent:
		fmt.Fprintf(&sb, "; events=0x%X", e.Flags)
	case Unknown:
		fmt.Fprintf(&sb, "; [% 02X]", e.Raw)
		if e.Dropped > 0 {
			fmt.Fprintf(&sb, " +%d bytes", e.Dropped)
		}
		if e.Err != nil {
			fmt.Fprintf(&sb, "; %v", e.Err)
		}
	}
	return sb.String()
}
