// Package coresight describes on-chip debug components and locates them by
// their declared peripheral type.
//
// Component discovery itself (ROM table walking, per-device address maps) is
// done by the probe collaborator; this package only works on the resulting
// list, in the order the collaborator enumerated it.
package coresight

import (
	"fmt"

	"cmtrace/internal/common"
	"cmtrace/internal/ocsd"
)

// PeripheralType is the declared type of a debug component.
type PeripheralType int

const (
	Unknown PeripheralType = iota
	Scs                    // System Control Space (DHCSR, DEMCR, AIRCR)
	Dwt                    // Data Watchpoint and Trace unit
	Itm                    // Instrumentation Trace Macrocell
	Etm                    // Embedded Trace Macrocell
	Fpb                    // Flash Patch and Breakpoint unit
	Tpiu                   // Trace Port Interface Unit
	Tmc                    // Trace Memory Controller (ETF/ETB)
	Cti                    // Cross Trigger Interface
)

func (t PeripheralType) String() string {
	switch t {
	case Scs:
		return "SCS"
	case Dwt:
		return "DWT"
	case Itm:
		return "ITM"
	case Etm:
		return "ETM"
	case Fpb:
		return "FPB"
	case Tpiu:
		return "TPIU"
	case Tmc:
		return "TMC"
	case Cti:
		return "CTI"
	default:
		return "UNKNOWN"
	}
}

// Component is one discovered debug component.
type Component struct {
	Type        PeripheralType
	BaseAddress uint64
	Name        string
}

func (c Component) String() string {
	if c.Name != "" {
		return fmt.Sprintf("%s(%s)@0x%08X", c.Type, c.Name, c.BaseAddress)
	}
	return fmt.Sprintf("%s@0x%08X", c.Type, c.BaseAddress)
}

// Reg returns the absolute address of a register at offset off.
func (c Component) Reg(off uint32) uint64 {
	return c.BaseAddress + uint64(off)
}

// Find returns the first component of the given type.
// Missing components are reported with ErrComponentNotFound.
func Find(components []Component, typ PeripheralType) (Component, error) {
	for _, c := range components {
		if c.Type == typ {
			return c, nil
		}
	}
	return Component{}, common.NewComponentError(ocsd.CmpnamePrefixLocator, ocsd.ErrComponentNotFound,
		"no %s component among %d discovered", typ, len(components))
}

// FindAll returns every component of the given type, in enumeration order.
func FindAll(components []Component, typ PeripheralType) []Component {
	var out []Component
	for _, c := range components {
		if c.Type == typ {
			out = append(out, c)
		}
	}
	return out
}

// Architecturally fixed ARMv7-M/ARMv8-M system component addresses.
const (
	ItmBase  = 0xE0000000
	DwtBase  = 0xE0001000
	FpbBase  = 0xE0002000
	ScsBase  = 0xE000E000
	TpiuBase = 0xE0040000

	// EtmBase is the Cortex-M7 ETM on the private peripheral bus. Cores
	// without an ETM have nothing there, so it is not part of DefaultCortexM.
	EtmBase = 0xE0041000
)

// DefaultCortexM returns the fixed Cortex-M private peripheral bus components.
// Device specific components, such as a trace memory controller, are appended
// from extra.
func DefaultCortexM(extra ...Component) []Component {
	comps := []Component{
		{Type: Scs, BaseAddress: ScsBase, Name: "scs"},
		{Type: Itm, BaseAddress: ItmBase, Name: "itm"},
		{Type: Dwt, BaseAddress: DwtBase, Name: "dwt"},
		{Type: Fpb, BaseAddress: FpbBase, Name: "fpb"},
		{Type: Tpiu, BaseAddress: TpiuBase, Name: "tpiu"},
	}
	return append(comps, extra...)
}
