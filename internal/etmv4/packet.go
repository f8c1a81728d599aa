package etmv4

import (
	"fmt"
	"strings"

	"cmtrace/internal/common"
	"cmtrace/internal/ocsd"
)

// PktType is the ETMv4 instruction trace packet type. Packet types carry
// the value of their first header byte where there is one.
type PktType int

const (
	/* state of decode markers */
	PktNotSync       PktType = 0x200 /*!< no sync found yet. */
	PktIncompleteEOT PktType = 0x201 /*!< flushing incomplete packet at end of trace.*/

	/* markers for unknown/bad packets */
	PktBadSequence PktType = 0x300 /*!< invalid sequence for packet type. */
	PktReserved    PktType = 0x302 /*!< packet type reserved. */

	PktTraceInfo PktType = 0x01 /*!< b00000001 */
	PktTimestamp PktType = 0x02 /*!< b0000001x */
	PktTraceOn   PktType = 0x04 /*!< b00000100 */
	PktExcept    PktType = 0x06 /*!< b00000110 */
	PktExceptRtn PktType = 0x07 /*!< b00000111 */

	PktEvent PktType = 0x70 /*!< b0111xxxx */

	PktCtxt            PktType = 0x80 /*!< b1000000x */
	PktAddrCtxtL_32IS0 PktType = 0x82
	PktAddrCtxtL_32IS1 PktType = 0x83
	PktAddrCtxtL_64IS0 PktType = 0x85
	PktAddrCtxtL_64IS1 PktType = 0x86

	PktAddrMatch   PktType = 0x90 /*!< b100100xx exact address match */
	PktAddrS_IS0   PktType = 0x95
	PktAddrS_IS1   PktType = 0x96
	PktAddrL_32IS0 PktType = 0x9A
	PktAddrL_32IS1 PktType = 0x9B
	PktAddrL_64IS0 PktType = 0x9D
	PktAddrL_64IS1 PktType = 0x9E

	// atoms
	PktAtomF6 PktType = 0xC0 /*!< b11000000 - b11010100 0xC0 - 0xD4, b11100000 - b11110100 0xE0 - 0xF4 */
	PktAtomF5 PktType = 0xD5 /*!< b11010101 - b11010111 0xD5 - 0xD7, b11110101 0xF5 */
	PktAtomF2 PktType = 0xD8 /*!< b110110xx to 0xDB */
	PktAtomF4 PktType = 0xDC /*!< b110111xx to 0xDF */
	PktAtomF1 PktType = 0xF6 /*!< b1111011x to 0xF7 */
	PktAtomF3 PktType = 0xF8 /*!< b11111xxx to 0xFF */

	// extension packets - follow 0x00 header
	PktAsync    PktType = 0x100 /*!< b00000000 */
	PktDiscard  PktType = 0x103 /*!< b00000011 */
	PktOverflow PktType = 0x105 /*!< b00000101 */
)

// TraceInfo holds the INFO section of a trace info packet.
type TraceInfo struct {
	CCEnabled   bool  // cycle counting enabled
	CondEnabled uint8 // conditional trace enabled type
	P0Load      bool
	P0Store     bool

	P0Key       uint32
	SpecDepth   uint32
	CCThreshold uint32
}

// Context is the PE context carried by context packets. Fields hold the
// running context, so a packet that only confirms the context repeats the
// last one with Updated false.
type Context struct {
	EL       uint8 // exception level
	SF       bool  // sixty four bit
	NS       bool  // non secure
	Updated  bool  // updated by this packet
	UpdatedC bool  // CtxtID updated
	UpdatedV bool  // VMID updated

	CtxtID uint32
	VMID   uint32
}

// ExceptionInfo holds the fields of an exception packet.
type ExceptionInfo struct {
	ExceptionType uint16 // TYPE field
	AddrInterp    uint8  // E1:E0
	MFaultPending bool   // P, M class fault pending
}

// Atom is a run of atoms, bit 0 the oldest; a set bit is an E atom.
type Atom struct {
	Bits uint32
	Num  uint8
}

// Packet is one ETMv4 packet, or one span of bytes that could not be
// decoded as a packet. Address, context and timestamp fields hold the
// running values after the packet, with compressed fields expanded.
type Packet struct {
	Type  PktType
	Index ocsd.TrcIndex // offset of the first byte

	Addr    uint64
	AddrIS  uint8 // instruction set of the address
	Context Context

	Timestamp     uint64
	TSBitsChanged uint8

	Atom          Atom
	TraceInfo     TraceInfo
	ExceptionInfo ExceptionInfo

	AddrExactMatchIdx uint8
	EventVal          uint8

	Raw     []byte        // bytes of the packet or span
	Dropped int           // span bytes past MaxUnsyncedSpan, not kept in Raw
	Err     *common.Error // set for spans that are not packets
}

// IsBadPacket reports whether the packet is an undecodable span.
func (p *Packet) IsBadPacket() bool {
	return p.Err != nil
}

// IsAddress reports whether the packet carries an instruction address.
func (t PktType) IsAddress() bool {
	switch t {
	case PktAddrCtxtL_32IS0, PktAddrCtxtL_32IS1, PktAddrCtxtL_64IS0, PktAddrCtxtL_64IS1,
		PktAddrMatch, PktAddrS_IS0, PktAddrS_IS1,
		PktAddrL_32IS0, PktAddrL_32IS1, PktAddrL_64IS0, PktAddrL_64IS1:
		return true
	}
	return false
}

// HasContext reports whether the packet carries a context.
func (t PktType) HasContext() bool {
	switch t {
	case PktCtxt, PktAddrCtxtL_32IS0, PktAddrCtxtL_32IS1, PktAddrCtxtL_64IS0, PktAddrCtxtL_64IS1:
		return true
	}
	return false
}

// ensure PktType meets Stringer requirements
var _ fmt.Stringer = PktType(0)

func (t PktType) String() string {
	switch t {
	case PktNotSync:
		return "I_NOT_SYNC"
	case PktIncompleteEOT:
		return "I_INCOMPLETE_EOT"
	case PktBadSequence:
		return "I_BAD_SEQUENCE"
	case PktReserved:
		return "I_RESERVED"
	case PktTraceInfo:
		return "I_TRACE_INFO"
	case PktTimestamp:
		return "I_TIMESTAMP"
	case PktTraceOn:
		return "I_TRACE_ON"
	case PktExcept:
		return "I_EXCEPT"
	case PktExceptRtn:
		return "I_EXCEPT_RTN"
	case PktEvent:
		return "I_EVENT"
	case PktCtxt:
		return "I_CTXT"
	case PktAddrCtxtL_32IS0:
		return "I_ADDR_CTXT_L_32IS0"
	case PktAddrCtxtL_32IS1:
		return "I_ADDR_CTXT_L_32IS1"
	case PktAddrCtxtL_64IS0:
		return "I_ADDR_CTXT_L_64IS0"
	case PktAddrCtxtL_64IS1:
		return "I_ADDR_CTXT_L_64IS1"
	case PktAddrMatch:
		return "I_ADDR_MATCH"
	case PktAddrS_IS0:
		return "I_ADDR_S_IS0"
	case PktAddrS_IS1:
		return "I_ADDR_S_IS1"
	case PktAddrL_32IS0:
		return "I_ADDR_L_32IS0"
	case PktAddrL_32IS1:
		return "I_ADDR_L_32IS1"
	case PktAddrL_64IS0:
		return "I_ADDR_L_64IS0"
	case PktAddrL_64IS1:
		return "I_ADDR_L_64IS1"
	case PktAtomF6:
		return "I_ATOM_F6"
	case PktAtomF5:
		return "I_ATOM_F5"
	case PktAtomF2:
		return "I_ATOM_F2"
	case PktAtomF4:
		return "I_ATOM_F4"
	case PktAtomF1:
		return "I_ATOM_F1"
	case PktAtomF3:
		return "I_ATOM_F3"
	case PktAsync:
		return "I_ASYNC"
	case PktDiscard:
		return "I_DISCARD"
	case PktOverflow:
		return "I_OVERFLOW"
	}
	return "I_UNKNOWN"
}

// String provides a string representation of the packet.
func (p *Packet) String() string {
	str := p.Type.String()
	switch {
	case p.IsBadPacket():
		str += fmt.Sprintf("; %d bytes % 02X", len(p.Raw)+p.Dropped, p.Raw)
		if p.Dropped > 0 {
			str += " ..."
		}
	case p.Type.IsAddress():
		str += fmt.Sprintf("; Addr=0x%08X; IS%d", p.Addr, p.AddrIS)
		if p.Type == PktAddrMatch {
			str += fmt.Sprintf("; match %d", p.AddrExactMatchIdx)
		}
	case p.Type == PktTimestamp:
		str += fmt.Sprintf("; TS=0x%X ~[0x%X]", p.Timestamp, p.Timestamp&bitMask(p.TSBitsChanged))
	case p.Type == PktExcept:
		str += fmt.Sprintf("; Type=0x%03X", p.ExceptionInfo.ExceptionType)
	case p.Type == PktEvent:
		str += fmt.Sprintf("; Event=0x%X", p.EventVal)
	case p.Type == PktTraceInfo:
		str += fmt.Sprintf("; INFO=0x%02X; Key=0x%X", p.Info(), p.TraceInfo.P0Key)
	case p.Type >= PktAtomF6 && p.Type <= PktAtomF3:
		str += "; " + p.Atom.String()
	}
	if p.Type.HasContext() && p.Context.Updated {
		str += fmt.Sprintf("; EL%d; NS=%t", p.Context.EL, p.Context.NS)
	}
	return str
}

// Info returns the INFO section of a trace info packet as encoded.
func (p *Packet) Info() uint8 {
	var b uint8
	if p.TraceInfo.CCEnabled {
		b |= 0x01
	}
	b |= (p.TraceInfo.CondEnabled & 0x7) << 1
	if p.TraceInfo.P0Load {
		b |= 0x10
	}
	if p.TraceInfo.P0Store {
		b |= 0x20
	}
	return b
}

// String renders the atoms oldest first, E for executed and N for not.
func (a Atom) String() string {
	var sb strings.Builder
	for i := uint8(0); i < a.Num; i++ {
		if a.Bits&(1<<i) != 0 {
			sb.WriteByte('E')
		} else {
			sb.WriteByte('N')
		}
	}
	return sb.String()
}

func bitMask(bits uint8) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}
	return 1<<bits - 1
}
