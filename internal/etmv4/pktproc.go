package etmv4

import (
	"encoding/binary"

	"cmtrace/internal/common"
	"cmtrace/internal/ocsd"
	"cmtrace/internal/stream"
)

// MaxUnsyncedSpan bounds the bytes of one unsynchronised span kept in the
// span packet. Longer spans are still reported once, with the excess
// counted in Packet.Dropped.
const MaxUnsyncedSpan = stream.MaxSpanRaw

// asyncZeros is the number of zero bytes before the 0x80 of an A-Sync
// packet.
const asyncZeros = 11

type addrVal struct {
	addr uint64
	is   uint8
}

// PktProc converts an incoming byte stream into ETMv4 instruction trace
// packets.
//
// Like the ITM processor it holds bytes until they form a complete packet,
// starts unsynchronised, and reports bytes that are not a packet as one
// span packet before waiting for the next A-Sync. Compressed addresses and
// timestamps are expanded against the running values, which only change
// once a packet is complete.
type PktProc struct {
	cfg *Config
	b   *stream.Buffer

	addrHist [3]addrVal // most recent first
	ts       uint64
	ctx      Context
}

// NewPktProc creates a new ETMv4 packet processor. A nil cfg selects the
// Cortex-M7 ETM with trace ID 1 and nothing optional enabled.
func NewPktProc(cfg *Config) *PktProc {
	if cfg == nil {
		cfg = NewConfig(1, 0)
	}
	return &PktProc{cfg: cfg, b: stream.NewBuffer(asyncZeros, ocsd.CmpnamePrefixPktproc)}
}

// Config returns the processor configuration.
func (p *PktProc) Config() *Config {
	return p.cfg
}

// AddData appends bytes to the pending stream.
func (p *PktProc) AddData(data []byte) {
	p.b.AddData(data)
}

// Close marks the end of the stream.
func (p *PktProc) Close() {
	p.b.Close()
}

// Closed reports whether Close has been called since the last Reset.
func (p *PktProc) Closed() bool {
	return p.b.Closed()
}

// Pending returns the number of bytes held but not yet reported.
func (p *PktProc) Pending() int {
	return p.b.Pending()
}

// Reset discards all state, including pending bytes.
func (p *PktProc) Reset() {
	p.b.Reset()
	p.addrHist = [3]addrVal{}
	p.ts = 0
	p.ctx = Context{}
}

// Next returns the next complete packet, or false when more data is needed.
func (p *PktProc) Next() (Packet, bool) {
	if p.b.Pending() == 0 {
		return Packet{}, false
	}
	if !p.b.Synced() {
		return p.waitForSync()
	}

	pkt, n, err := p.parse()
	switch {
	case err != nil:
		p.b.Desync(err)
		return p.waitForSync()
	case n == 0 && p.b.Closed():
		e := p.b.ErrAt(ocsd.ErrIncompleteFrame, "stream closed inside a packet")
		idx, raw := p.b.Take(len(p.b.Bytes()))
		return Packet{Type: PktIncompleteEOT, Index: idx, Raw: raw, Err: e}, true
	case n == 0:
		return Packet{}, false
	}
	p.commit(&pkt)
	pkt.Index, pkt.Raw = p.b.Take(n)
	return pkt, true
}

func (p *PktProc) waitForSync() (Packet, bool) {
	span, n := p.b.Resync()
	switch {
	case span != nil:
		typ := PktNotSync
		switch span.Err.Code {
		case ocsd.ErrInvalidPcktHdr:
			typ = PktReserved
		case ocsd.ErrBadPacketSeq:
			typ = PktBadSequence
		}
		return Packet{Type: typ, Index: span.Index, Raw: span.Raw, Dropped: span.Dropped, Err: span.Err}, true
	case n > 0:
		pkt := Packet{Type: PktAsync}
		pkt.Index, pkt.Raw = p.b.Take(n)
		return pkt, true
	}
	return Packet{}, false
}

// commit moves the running state on past a complete packet.
func (p *PktProc) commit(pkt *Packet) {
	switch {
	case pkt.Type == PktTraceInfo:
		p.addrHist = [3]addrVal{}
	case pkt.Type == PktTimestamp:
		p.ts = pkt.Timestamp
	}
	if pkt.Type.HasContext() {
		p.ctx = pkt.Context
		p.ctx.Updated, p.ctx.UpdatedC, p.ctx.UpdatedV = false, false, false
	}
	if pkt.Type.IsAddress() && pkt.Type != PktAddrMatch {
		p.addrHist[2] = p.addrHist[1]
		p.addrHist[1] = p.addrHist[0]
		p.addrHist[0] = addrVal{pkt.Addr, pkt.AddrIS}
	}
}

func (p *PktProc) errAt(code ocsd.Err, msg string) *common.Error {
	return p.b.ErrAt(code, msg)
}

// parse decodes the packet at the head of the pending bytes. It returns the
// packet and its length, length 0 if more bytes are needed, or an error if
// the head of the buffer is not a valid packet.
func (p *PktProc) parse() (Packet, int, *common.Error) {
	hdr := p.b.Bytes()[0]

	switch {
	case hdr == 0x00:
		return p.pktExtension()
	case hdr == 0x01:
		return p.pktTraceInfo()
	case hdr == 0x02 || hdr == 0x03:
		return p.pktTimestamp(hdr)
	case hdr == 0x04:
		return Packet{Type: PktTraceOn}, 1, nil
	case hdr == 0x06:
		return p.pktExcept()
	case hdr == 0x07:
		return Packet{Type: PktExceptRtn}, 1, nil
	case hdr >= 0x0C && hdr <= 0x1F:
		return Packet{}, 0, p.errAt(ocsd.ErrInvalidPcktHdr, "cycle count packet: cycle counting not supported")
	case hdr&0xF0 == 0x70:
		return Packet{Type: PktEvent, EventVal: hdr & 0xF}, 1, nil
	case hdr == 0x80 || hdr == 0x81:
		return p.pktContext(hdr)
	case hdr == 0x82 || hdr == 0x83 || hdr == 0x85 || hdr == 0x86:
		return p.pktAddrCtxt(hdr)
	case hdr >= 0x90 && hdr <= 0x92:
		h := p.addrHist[hdr&0x3]
		return Packet{Type: PktAddrMatch, Addr: h.addr, AddrIS: h.is, AddrExactMatchIdx: hdr & 0x3}, 1, nil
	case hdr == 0x95 || hdr == 0x96:
		return p.pktShortAddr(hdr)
	case hdr == 0x9A || hdr == 0x9B || hdr == 0x9D || hdr == 0x9E:
		return p.pktLongAddr(hdr)
	case hdr >= 0xC0:
		return pktAtom(hdr), 1, nil
	}
	return Packet{}, 0, p.errAt(ocsd.ErrInvalidPcktHdr, "reserved packet header")
}

func (p *PktProc) pktExtension() (Packet, int, *common.Error) {
	b := p.b.Bytes()
	if len(b) < 2 {
		return Packet{}, 0, nil
	}
	switch b[1] {
	case 0x03:
		return Packet{Type: PktDiscard}, 2, nil
	case 0x05:
		return Packet{Type: PktOverflow}, 2, nil
	case 0x00:
		z := stream.ZeroRun(b)
		if z == len(b) {
			return Packet{}, 0, nil
		}
		if z < asyncZeros || b[z] != 0x80 {
			return Packet{}, 0, p.errAt(ocsd.ErrBadPacketSeq, "A-Sync packet: unexpected non zero value")
		}
		return Packet{Type: PktAsync}, z + 1, nil
	}
	return Packet{}, 0, p.errAt(ocsd.ErrBadPacketSeq, "Extension packet: reserved extension type")
}

// contField finds the end of a continuation coded field of at most limit
// bytes starting at off. It returns the offset after the field, 0 if more
// data is needed, or -1 if no terminating byte was found within limit.
func (p *PktProc) contField(off, limit int) int {
	b := p.b.Bytes()
	for i := 0; i < limit; i++ {
		if off+i >= len(b) {
			return 0
		}
		if b[off+i]&0x80 == 0 {
			return off + i + 1
		}
	}
	return -1
}

func contVal(payload []byte) uint64 {
	var value uint64
	for i, b := range payload {
		value |= uint64(b&0x7F) << (7 * i)
	}
	return value
}

func (p *PktProc) pktTraceInfo() (Packet, int, *common.Error) {
	b := p.b.Bytes()
	off := p.contField(1, 2)
	switch off {
	case 0:
		return Packet{}, 0, nil
	case -1:
		return Packet{}, 0, p.errAt(ocsd.ErrBadPacketSeq, "Trace Info packet: PLCTL too long")
	}
	plctl := contVal(b[1:off])

	pkt := Packet{Type: PktTraceInfo}
	ti := &pkt.TraceInfo
	// INFO, KEY, SPEC and CYCT sections, each present when its PLCTL bit is set
	for i, limit := range []int{2, 5, 5, 2} {
		if plctl&(1<<i) == 0 {
			continue
		}
		end := p.contField(off, limit)
		switch end {
		case 0:
			return Packet{}, 0, nil
		case -1:
			return Packet{}, 0, p.errAt(ocsd.ErrBadPacketSeq, "Trace Info packet: section too long")
		}
		v := contVal(b[off:end])
		switch i {
		case 0:
			ti.CCEnabled = v&0x1 != 0
			ti.CondEnabled = uint8(v>>1) & 0x7
			ti.P0Load = v&0x10 != 0
			ti.P0Store = v&0x20 != 0
		case 1:
			ti.P0Key = uint32(v)
		case 2:
			ti.SpecDepth = uint32(v)
		case 3:
			ti.CCThreshold = uint32(v)
		}
		off = end
	}
	return pkt, off, nil
}

func (p *PktProc) pktTimestamp(hdr byte) (Packet, int, *common.Error) {
	if hdr&0x1 != 0 {
		return Packet{}, 0, p.errAt(ocsd.ErrBadPacketSeq, "Timestamp packet: cycle count section with cycle counting not supported")
	}
	b := p.b.Bytes()
	var ts uint64
	bits := 0
	off := 1
	for {
		if off >= len(b) {
			return Packet{}, 0, nil
		}
		v := b[off]
		off++
		if off == 10 {
			// the ninth payload byte carries a full 8 bits
			ts |= uint64(v) << 56
			bits = 64
			break
		}
		ts |= uint64(v&0x7F) << (7 * (off - 2))
		bits += 7
		if v&0x80 == 0 {
			break
		}
	}
	mask := bitMask(uint8(bits))
	return Packet{
		Type:          PktTimestamp,
		Timestamp:     p.ts&^mask | ts,
		TSBitsChanged: uint8(bits),
	}, off, nil
}

func (p *PktProc) pktExcept() (Packet, int, *common.Error) {
	b := p.b.Bytes()
	if len(b) < 2 {
		return Packet{}, 0, nil
	}
	b1 := b[1]
	info := ExceptionInfo{
		ExceptionType: uint16(b1>>1) & 0x1F,
		AddrInterp:    b1&0x1 | (b1>>5)&0x2,
	}
	n := 2
	if b1&0x80 != 0 {
		if len(b) < 3 {
			return Packet{}, 0, nil
		}
		info.ExceptionType |= uint16(b[2]&0x1F) << 5
		info.MFaultPending = b[2]&0x20 != 0
		n = 3
	}
	return Packet{Type: PktExcept, ExceptionInfo: info}, n, nil
}

// contextAt reads a context information byte and the VMID and context ID
// fields it announces. It returns the offset after the context, or 0 if more
// data is needed.
func (p *PktProc) contextAt(off int) (Context, int) {
	b := p.b.Bytes()
	if off >= len(b) {
		return Context{}, 0
	}
	info := b[off]
	ctx := p.ctx
	ctx.Updated = true
	ctx.EL = info & 0x3
	ctx.SF = info&0x10 != 0
	ctx.NS = info&0x20 != 0
	end := off + 1

	if info&0x40 != 0 {
		sz := max(int(p.cfg.VmidSize()/8), 1)
		if end+sz > len(b) {
			return Context{}, 0
		}
		ctx.VMID = uint32(leVal(b[end : end+sz]))
		ctx.UpdatedV = true
		end += sz
	}
	if info&0x80 != 0 {
		if end+4 > len(b) {
			return Context{}, 0
		}
		ctx.CtxtID = binary.LittleEndian.Uint32(b[end:])
		ctx.UpdatedC = true
		end += 4
	}
	return ctx, end
}

func (p *PktProc) pktContext(hdr byte) (Packet, int, *common.Error) {
	if hdr == 0x80 {
		return Packet{Type: PktCtxt, Context: p.ctx}, 1, nil
	}
	ctx, end := p.contextAt(1)
	if end == 0 {
		return Packet{}, 0, nil
	}
	return Packet{Type: PktCtxt, Context: ctx}, end, nil
}

func (p *PktProc) pktAddrCtxt(hdr byte) (Packet, int, *common.Error) {
	size := 4
	if hdr == 0x85 || hdr == 0x86 {
		size = 8
	}
	b := p.b.Bytes()
	if len(b) < 1+size {
		return Packet{}, 0, nil
	}
	// 0x8x address with context shares the address layout of 0x9x + 0x18
	addr, is := p.longAddr(hdr+0x18, b[1:1+size])
	ctx, end := p.contextAt(1 + size)
	if end == 0 {
		return Packet{}, 0, nil
	}
	return Packet{Type: PktType(hdr), Addr: addr, AddrIS: is, Context: ctx}, end, nil
}

func (p *PktProc) pktLongAddr(hdr byte) (Packet, int, *common.Error) {
	size := 4
	if hdr == 0x9D || hdr == 0x9E {
		size = 8
	}
	b := p.b.Bytes()
	if len(b) < 1+size {
		return Packet{}, 0, nil
	}
	addr, is := p.longAddr(hdr, b[1:1+size])
	return Packet{Type: PktType(hdr), Addr: addr, AddrIS: is}, 1 + size, nil
}

// longAddr expands the payload of long address header hdr (0x9A, 0x9B,
// 0x9D or 0x9E). A 32 bit address keeps the upper half of the last one.
func (p *PktProc) longAddr(hdr byte, pl []byte) (uint64, uint8) {
	var a uint64
	var is uint8
	if hdr == 0x9A || hdr == 0x9D {
		a = uint64(pl[0]&0x7F)<<2 | uint64(pl[1]&0x7F)<<9
	} else {
		a = uint64(pl[0]&0x7F)<<1 | uint64(pl[1])<<8
		is = 1
	}
	for i := 2; i < len(pl); i++ {
		a |= uint64(pl[i]) << (8 * i)
	}
	if len(pl) == 4 {
		a |= p.addrHist[0].addr &^ 0xFFFFFFFF
	}
	return a, is
}

func (p *PktProc) pktShortAddr(hdr byte) (Packet, int, *common.Error) {
	b := p.b.Bytes()
	if len(b) < 2 {
		return Packet{}, 0, nil
	}
	var a, mask uint64
	var is uint8
	n := 2
	if hdr == 0x95 {
		a, mask = uint64(b[1]&0x7F)<<2, 0x1FF
	} else {
		a, mask, is = uint64(b[1]&0x7F)<<1, 0xFF, 1
	}
	if b[1]&0x80 != 0 {
		if len(b) < 3 {
			return Packet{}, 0, nil
		}
		if is == 0 {
			a |= uint64(b[2]) << 9
			mask = 0x1FFFF
		} else {
			a |= uint64(b[2]) << 8
			mask = 0xFFFF
		}
		n = 3
	}
	return Packet{Type: PktType(hdr), Addr: p.addrHist[0].addr&^mask | a, AddrIS: is}, n, nil
}

var (
	atomF4Patterns = [4]uint32{0xE, 0x0, 0xA, 0x5}
	atomF5Patterns = [8]uint32{1: 0x00, 2: 0x0A, 3: 0x15, 5: 0x1E}
)

// pktAtom decodes the single byte atom packets, 0xC0 to 0xFF.
func pktAtom(hdr byte) Packet {
	var pkt Packet
	switch {
	case hdr >= 0xF8:
		pkt.Type = PktAtomF3
		pkt.Atom = Atom{Bits: uint32(hdr & 0x7), Num: 3}
	case hdr == 0xF6 || hdr == 0xF7:
		pkt.Type = PktAtomF1
		pkt.Atom = Atom{Bits: uint32(hdr & 0x1), Num: 1}
	case hdr >= 0xD8 && hdr <= 0xDB:
		pkt.Type = PktAtomF2
		pkt.Atom = Atom{Bits: uint32(hdr & 0x3), Num: 2}
	case hdr >= 0xDC && hdr <= 0xDF:
		pkt.Type = PktAtomF4
		pkt.Atom = Atom{Bits: atomF4Patterns[hdr&0x3], Num: 4}
	case (hdr >= 0xD5 && hdr <= 0xD7) || hdr == 0xF5:
		pkt.Type = PktAtomF5
		pkt.Atom = Atom{Bits: atomF5Patterns[(hdr>>3)&0x4|hdr&0x3], Num: 5}
	default:
		// F6: a run of E atoms closed by one E or N atom
		n := hdr&0x1F + 3
		bits := uint32(1)<<n - 1
		if hdr&0x20 == 0 {
			bits |= 1 << n
		}
		pkt.Type = PktAtomF6
		pkt.Atom = Atom{Bits: bits, Num: n + 1}
	}
	return pkt
}

func leVal(b []byte) uint64 {
	var v uint64
	for i, x := range b {
		v |= uint64(x) << (8 * i)
	}
	return v
}
