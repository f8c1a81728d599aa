package itm

import (
	"fmt"

	"cmtrace/internal/common"
	"cmtrace/internal/ocsd"
)

// PktType represents the ITM packet type.
type PktType int

const (
	// spans of bytes that did not form a packet
	PktNotSync       PktType = iota // bytes seen while not synchronised
	PktIncompleteEOT                // partial packet flushed at end of trace
	PktNoErrType                    // no error in error packet marker

	PktAsync     // synchronisation packet
	PktOverflow  // overflow packet
	PktSWIT      // software stimulus packet
	PktDWT       // DWT hardware source packet
	PktTSLocal   // local timestamp
	PktTSGlobal1 // global timestamp bits [25:0]
	PktTSGlobal2 // global timestamp bits [63:26] or [47:26]
	PktExtension // extension packet (stimulus page)

	PktBadSequence // invalid payload sequence
	PktReserved    // reserved header
)

// DwtEcntr represents DWT hardware event counters.
type DwtEcntr uint8

const (
	DwtEcntrCPI DwtEcntr = 0x01
	DwtEcntrEXC DwtEcntr = 0x02
	DwtEcntrSLP DwtEcntr = 0x04
	DwtEcntrLSU DwtEcntr = 0x08
	DwtEcntrFLD DwtEcntr = 0x10
	DwtEcntrCYC DwtEcntr = 0x20
)

// Packet is one ITM protocol packet, or one span of bytes that could not be
// decoded as a packet.
type Packet struct {
	Type  PktType
	Index ocsd.TrcIndex // offset of the first byte

	// SrcID is the stimulus channel (SWIT), discriminator (DWT), TC flags
	// (local TS), wrap/clock-change flags (GTS1), or source and bit length
	// for extension packets: SW(0)/HW(1) in bit 7, value bit length in [4:0].
	SrcID  uint8
	Value  uint32
	ValSz  uint8 // payload size in bytes
	ValExt uint8 // bits [37:32] of a GTS2 value

	Raw     []byte        // bytes of the packet or span
	Dropped int           // span bytes past MaxUnsyncedSpan, not kept in Raw
	Err     *common.Error // set for spans that are not packets
}

// SetValue sets the packet payload value.
func (p *Packet) SetValue(val uint32, valSzBytes uint8) {
	p.Value = val
	p.ValSz = valSzBytes
}

// SetExtValue sets the extended value (size is always 5).
func (p *Packet) SetExtValue(extVal uint64) {
	p.Value = uint32(extVal & 0xFFFFFFFF)
	p.ValExt = uint8((extVal >> 32) & 0x3F)
	p.ValSz = 5
}

// ExtValue gets the extended value.
func (p *Packet) ExtValue() uint64 {
	return uint64(p.Value) | (uint64(p.ValExt) << 32)
}

// IsBadPacket reports whether the packet is an undecodable span.
func (p *Packet) IsBadPacket() bool {
	return p.Err != nil
}

// String provides a string representation of the packet.
func (p *Packet) String() string {
	name, desc := p.Type.nameAndDesc()
	str := fmt.Sprintf("%s:%s", name, desc)

	switch p.Type {
	case PktSWIT:
		str += fmt.Sprintf("; %v; Port 0x%02X; Data 0x%08X", p.valSizeStr(), p.SrcID, p.Value)
	case PktDWT:
		str += fmt.Sprintf("; %s", p.dwtPacketStr())
	case PktTSLocal:
		str += fmt.Sprintf("; %s", p.tsLocalPacketStr())
	case PktTSGlobal1:
		str += fmt.Sprintf("; TS 25:0  0x%07X", p.Value)
	case PktTSGlobal2:
		str += fmt.Sprintf("; TS 63:26 0x%010X", p.ExtValue())
	case PktExtension:
		src := "SW"
		if p.SrcID&0x80 != 0 {
			src = "HW"
		}
		str += fmt.Sprintf("; Src %s; Val 0x%08X", src, p.Value)
	case PktNotSync, PktIncompleteEOT, PktBadSequence, PktReserved:
		str += fmt.Sprintf("; %d bytes % 02X", len(p.Raw)+p.Dropped, p.Raw)
		if p.Dropped > 0 {
			str += " ..."
		}
	}
	return str
}

func (t PktType) nameAndDesc() (string, string) {
	switch t {
	case PktNotSync:
		return "NOTSYNC", "ITM not synchronised"
	case PktIncompleteEOT:
		return "INCOMPLETE_EOT", "Incomplete packet at end of trace"
	case PktAsync:
		return "ASYNC", "Alignment synchronisation packet"
	case PktOverflow:
		return "OVERFLOW", "Overflow packet"
	case PktSWIT:
		return "SWIT", "Software stimulus packet"
	case PktDWT:
		return "DWT", "Hardware stimulus packet"
	case PktTSLocal:
		return "TS_L", "Local timestamp packet"
	case PktTSGlobal1:
		return "TS_G1", "Global timestamp packet 1"
	case PktTSGlobal2:
		return "TS_G2", "Global timestamp packet 2"
	case PktExtension:
		return "EXTENSION", "Extension packet"
	case PktBadSequence:
		return "BAD_SEQUENCE", "Invalid sequence in packet"
	case PktReserved:
		return "RESERVED", "Reserved packet header"
	default:
		return "UNKNOWN", "Unknown Packet Type"
	}
}

func (t PktType) String() string {
	name, _ := t.nameAndDesc()
	return name
}

func (p *Packet) valSizeStr() string {
	switch p.ValSz {
	case 1:
		return "8 bit"
	case 2:
		return "16 bit"
	case 4:
		return "32 bit"
	default:
		return "Unsized"
	}
}

func (p *Packet) dwtPacketStr() string {
	str := p.valSizeStr()
	desc := ""

	switch id := p.SrcID; {
	case id == 0:
		desc = "Event"
		names := []struct {
			bit  DwtEcntr
			name string
		}{
			{DwtEcntrCPI, "CPI"}, {DwtEcntrEXC, "EXC"}, {DwtEcntrSLP, "SLP"},
			{DwtEcntrLSU, "LSU"}, {DwtEcntrFLD, "FLD"}, {DwtEcntrCYC, "CYC"},
		}
		for _, n := range names {
			if p.Value&uint32(n.bit) != 0 {
				str += " " + n.name + ";"
			}
		}
	case id == 1:
		desc = "Exception"
		str += fmt.Sprintf("; Exception Num %03d", p.Value&0x1FF)
		switch (p.Value >> 12) & 0x3 {
		case 1:
			str += " Entered"
		case 2:
			str += " Exited"
		case 3:
			str += " Returned"
		}
	case id == 2:
		desc = "PC Sample"
		if p.ValSz == 1 {
			str += "; Sleep"
		} else {
			str += fmt.Sprintf("; PC = 0x%08X", p.Value)
		}
	case id >= 8 && id <= 15 && id&1 == 0:
		desc = "Data Trace PC Value"
		str += fmt.Sprintf("; Cmp %d; PC = 0x%08X", (id-8)/2, p.Value)
	case id >= 8 && id <= 15:
		desc = "Data Trace Address"
		str += fmt.Sprintf("; Cmp %d; Addr = 0x%08X", (id-9)/2, p.Value)
	case id >= 16 && id <= 23:
		desc = "Data Trace Data"
		str += fmt.Sprintf("; Cmp %d; Data = 0x%08X", (id>>1)&0x3, p.Value)
		if id&1 != 0 {
			str += " (Write)"
		} else {
			str += " (Read)"
		}
	default:
		desc = "Unknown"
		str += fmt.Sprintf("; ID = 0x%02X; Data = 0x%08X", p.SrcID, p.Value)
	}

	return fmt.Sprintf("%s : %s", desc, str)
}

func (p *Packet) tsLocalPacketStr() string {
	tcDescs := []string{
		"TS Sync",
		"TS Delay",
		"TS Async",
		"TS delayed - async",
	}
	return fmt.Sprintf("TC %s; TS = 0x%07X", tcDescs[p.SrcID&0x3], p.Value)
}
