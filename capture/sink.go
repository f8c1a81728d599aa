package capture

import (
	"fmt"

	"cmtrace/internal/regs"
)

// SinkKind is where trace is collected.
type SinkKind int

const (
	SinkDisabled SinkKind = iota
	SinkTraceMemory
	SinkExternalPort
)

func (k SinkKind) String() string {
	switch k {
	case SinkTraceMemory:
		return "trace-memory"
	case SinkExternalPort:
		return "external-port"
	}
	return "disabled"
}

// PortProtocol is the TPIU output protocol.
type PortProtocol uint32

const (
	PortParallel   PortProtocol = regs.TpiuSpprParallel
	PortManchester PortProtocol = regs.TpiuSpprManchester
	PortNRZ        PortProtocol = regs.TpiuSpprNRZ
)

func (p PortProtocol) String() string {
	switch p {
	case PortParallel:
		return "parallel"
	case PortManchester:
		return "manchester"
	case PortNRZ:
		return "nrz"
	}
	return fmt.Sprintf("PortProtocol(%d)", uint32(p))
}

// DefaultCapacity is the trace memory read-back size used by the reference
// deployment.
const DefaultCapacity = 0x3E

// DefaultSWOBuffer bounds an external port read when no limit is given.
const DefaultSWOBuffer = 4096

// Sink selects and parameterises a trace sink.
type Sink struct {
	Kind SinkKind
	// Capacity is the number of bytes read back from trace memory.
	Capacity int
	// Formatted routes the trace through the CoreSight formatter.
	Formatted bool

	PortProtocol PortProtocol
	// SWOPrescaler divides the trace clock for the serial wire output.
	SWOPrescaler uint32
}

// TraceMemory selects the on-chip trace memory.
func TraceMemory(capacity int) Sink {
	return Sink{Kind: SinkTraceMemory, Capacity: capacity}
}

// ExternalPort selects the TPIU serial wire output.
func ExternalPort(protocol PortProtocol, prescaler uint32) Sink {
	return Sink{Kind: SinkExternalPort, PortProtocol: protocol, SWOPrescaler: prescaler}
}

// Disabled turns trace collection off.
func Disabled() Sink {
	return Sink{Kind: SinkDisabled}
}

func (s Sink) String() string {
	switch s.Kind {
	case SinkTraceMemory:
		return fmt.Sprintf("%s(%d bytes, formatted=%t)", s.Kind, s.Capacity, s.Formatted)
	case SinkExternalPort:
		return fmt.Sprintf("%s(%s, /%d, formatted=%t)", s.Kind, s.PortProtocol, s.SWOPrescaler, s.Formatted)
	}
	return s.Kind.String()
}

// RawTraceBuffer is trace read back from a sink. It is not modified after
// the read.
type RawTraceBuffer struct {
	Data []byte
	Sink SinkKind
}

// Bytes returns a copy of the data.
func (b RawTraceBuffer) Bytes() []byte {
	return append([]byte(nil), b.Data...)
}

// Empty reports that the sink held no trace.
func (b RawTraceBuffer) Empty() bool {
	return len(b.Data) == 0
}

func (b RawTraceBuffer) Len() int {
	return len(b.Data)
}
