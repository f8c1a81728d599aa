package etm

import (
	icommon "cmtrace/internal/common"
	"cmtrace/internal/etmv4"
	"cmtrace/internal/ocsd"
	"cmtrace/internal/regs"
)

// NoComparator leaves a ViewInst start or stop input unused.
const NoComparator = -1

// maxComparators is the number of PE comparator inputs of TRCVIPCSSCTLR.
const maxComparators = 8

// Config is the static programming of the ETM.
type Config struct {
	// TraceID is the CoreSight trace bus ID (1..0x6F).
	TraceID uint8
	// Timestamps enables global timestamp packets.
	Timestamps bool
	// BranchBroadcast traces the target of every taken branch, not only
	// indirect ones, so every executed branch yields an address.
	BranchBroadcast bool

	// StartComparator and StopComparator select the DWT comparators that
	// start and stop ViewInst, or NoComparator. Without a start comparator
	// tracing starts as soon as the ETM is enabled.
	StartComparator int
	StopComparator  int

	// Formatted is set when the trace passes through a CoreSight formatter
	// on its way to the sink.
	Formatted bool
}

// DefaultConfig traces every instruction from enable with branch broadcast
// and timestamps, trace ID 1.
func DefaultConfig() Config {
	return Config{
		TraceID:         1,
		Timestamps:      true,
		BranchBroadcast: true,
		StartComparator: NoComparator,
		StopComparator:  NoComparator,
	}
}

// Validate checks the fields that have a restricted range.
func (c Config) Validate() error {
	if !ocsd.IsValidCSSrcID(c.TraceID) {
		return icommon.NewComponentError(ocsd.CmpnamePrefixETM, ocsd.ErrInvalidParamVal,
			"trace ID 0x%02X outside 0x01..0x6F", c.TraceID)
	}
	for _, n := range []int{c.StartComparator, c.StopComparator} {
		if n != NoComparator && (n < 0 || n >= maxComparators) {
			return icommon.NewComponentError(ocsd.CmpnamePrefixETM, ocsd.ErrInvalidIndex,
				"comparator input %d outside 0..%d", n, maxComparators-1)
		}
	}
	return nil
}

// CONFIGR returns the TRCCONFIGR value for this configuration. Cycle
// counting stays off.
func (c Config) CONFIGR() uint32 {
	var v uint32
	if c.BranchBroadcast {
		v |= regs.EtmConfigrBB
	}
	if c.Timestamps {
		v |= regs.EtmConfigrTS
	}
	return v
}

// VICTLR returns the TRCVICTLR value: ViewInst event always true, start/stop
// logic started unless a start comparator gates it.
func (c Config) VICTLR() uint32 {
	v := uint32(regs.EtmEventTrue)
	if c.StartComparator == NoComparator {
		v |= regs.EtmViCtlrSSStatus
	}
	return v
}

// VIPCSSCTLR returns the TRCVIPCSSCTLR value selecting the start and stop
// comparator inputs.
func (c Config) VIPCSSCTLR() uint32 {
	var v uint32
	if c.StartComparator != NoComparator {
		v |= 1 << c.StartComparator
	}
	if c.StopComparator != NoComparator {
		v |= 1 << (16 + c.StopComparator)
	}
	return v
}

// decoderConfig is the packet processor view of this configuration.
func (c Config) decoderConfig(idr [3]uint32) *etmv4.Config {
	ec := etmv4.NewConfig(c.TraceID, c.CONFIGR())
	ec.RegIdr0, ec.RegIdr1, ec.RegIdr2 = idr[0], idr[1], idr[2]
	return ec
}
