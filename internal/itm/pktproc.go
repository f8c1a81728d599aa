package itm

import (
	"cmtrace/internal/common"
	"cmtrace/internal/ocsd"
	"cmtrace/internal/stream"
)

// MaxUnsyncedSpan bounds the bytes of one unsynchronised span kept in the
// span packet. Longer spans are still reported once, with the excess
// counted in Packet.Dropped.
const MaxUnsyncedSpan = stream.MaxSpanRaw

// minSyncZeros is the number of zero bytes that must precede the 0x80 of a
// synchronisation packet.
const minSyncZeros = 5

// PktProc converts an incoming byte stream into ITM packets.
//
// Bytes are held until they form a complete packet, so the packets produced
// never depend on how the stream was split across AddData calls. The
// processor starts unsynchronised. Any bytes that are not a packet are
// reported as one span packet carrying an error, after which the processor
// waits for the next synchronisation packet.
type PktProc struct {
	cfg *Config
	b   *stream.Buffer
}

// NewPktProc creates a new ITM packet processor.
func NewPktProc(cfg *Config) *PktProc {
	if cfg == nil {
		cfg = NewConfig(0)
	}
	return &PktProc{cfg: cfg, b: stream.NewBuffer(minSyncZeros, ocsd.CmpnamePrefixPktproc)}
}

// Config returns the processor configuration.
func (p *PktProc) Config() *Config {
	return p.cfg
}

// AddData appends bytes to the pending stream.
func (p *PktProc) AddData(data []byte) {
	p.b.AddData(data)
}

// Close marks the end of the stream: pending bytes are flushed by the
// following Next calls instead of waiting for more data.
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
		// the malformed bytes open a new unsynchronised span
		p.b.Desync(err)
		return p.waitForSync()
	case n == 0 && p.b.Closed():
		e := p.b.ErrAt(ocsd.ErrIncompleteFrame, "stream closed inside a packet")
		idx, raw := p.b.Take(len(p.b.Bytes()))
		return Packet{Type: PktIncompleteEOT, Index: idx, Raw: raw, Err: e}, true
	case n == 0:
		return Packet{}, false
	}
	pkt.Index, pkt.Raw = p.b.Take(n)
	return pkt, true
}

// waitForSync reports the unsynchronised span once it ends, then the sync
// packet that ended it.
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

func (p *PktProc) errAt(code ocsd.Err, msg string) *common.Error {
	return p.b.ErrAt(code, msg)
}

// parse decodes the packet at the head of the pending bytes. It returns the
// packet and its length, length 0 if more bytes are needed, or an error if
// the head of the buffer is not a valid packet.
func (p *PktProc) parse() (Packet, int, *common.Error) {
	hdr := p.b.Bytes()[0]

	switch {
	case hdr&0x03 != 0:
		return p.pktStimulus(hdr)
	case hdr == 0x00:
		return p.pktAsync()
	case hdr == 0x70:
		return Packet{Type: PktOverflow}, 1, nil
	case hdr&0x8F == 0x00:
		// single byte local timestamp, value in [6:4]
		var pkt Packet
		pkt.Type = PktTSLocal
		pkt.SetValue(uint32(hdr>>4)&0x7, 1)
		return pkt, 1, nil
	case hdr&0xCF == 0xC0:
		return p.pktLocalTS(hdr)
	case hdr&0x0B == 0x08:
		return p.pktExtension(hdr)
	case hdr == 0x94:
		return p.pktGlobalTS1()
	case hdr == 0xB4:
		return p.pktGlobalTS2()
	}
	return Packet{}, 0, p.errAt(ocsd.ErrInvalidPcktHdr, "reserved packet header")
}

func (p *PktProc) pktStimulus(hdr byte) (Packet, int, *common.Error) {
	size := int(hdr & 0x3)
	if size == 3 {
		size = 4
	}
	if len(p.b.Bytes()) < 1+size {
		return Packet{}, 0, nil
	}

	var pkt Packet
	pkt.Type = PktSWIT
	if hdr&0x04 != 0 {
		pkt.Type = PktDWT
	}
	pkt.SrcID = (hdr >> 3) & 0x1F

	var value uint32
	for i := 0; i < size; i++ {
		value |= uint32(p.b.Bytes()[1+i]) << (8 * i)
	}
	pkt.SetValue(value, uint8(size))
	return pkt, 1 + size, nil
}

func (p *PktProc) pktAsync() (Packet, int, *common.Error) {
	z := stream.ZeroRun(p.b.Bytes())
	if z == len(p.b.Bytes()) {
		return Packet{}, 0, nil
	}
	if z < minSyncZeros || p.b.Bytes()[z] != 0x80 {
		return Packet{}, 0, p.errAt(ocsd.ErrBadPacketSeq, "Async Packet: unexpected none zero value")
	}
	return Packet{Type: PktAsync}, z + 1, nil
}

// readCont finds the end of a continuation payload that starts after the
// header. limit is the maximum packet length including the header. It
// returns the packet length, 0 if more data is needed, or -1 if no
// terminating byte was found within limit.
func (p *PktProc) readCont(limit int) int {
	for i := 1; i < limit; i++ {
		if i >= len(p.b.Bytes()) {
			return 0
		}
		if p.b.Bytes()[i]&0x80 == 0 {
			return i + 1
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

func (p *PktProc) pktLocalTS(hdr byte) (Packet, int, *common.Error) {
	n := p.readCont(5)
	switch n {
	case 0:
		return Packet{}, 0, nil
	case -1:
		return Packet{}, 0, p.errAt(ocsd.ErrBadPacketSeq, "Local TS packet: Payload continuation value too long")
	}
	var pkt Packet
	pkt.Type = PktTSLocal
	pkt.SrcID = (hdr >> 4) & 0x3
	pkt.SetValue(uint32(contVal(p.b.Bytes()[1:n])), uint8(n-1))
	return pkt, n, nil
}

func (p *PktProc) pktGlobalTS1() (Packet, int, *common.Error) {
	n := p.readCont(5)
	switch n {
	case 0:
		return Packet{}, 0, nil
	case -1:
		return Packet{}, 0, p.errAt(ocsd.ErrBadPacketSeq, "GTS1 packet: Payload continuation value too long")
	}
	payload := append([]byte(nil), p.b.Bytes()[1:n]...)
	var pkt Packet
	pkt.Type = PktTSGlobal1
	if len(payload) == 4 {
		// wrap and clock change flags ride in the last byte
		pkt.SrcID = (payload[3] >> 5) & 0x3
		payload[3] &= 0x1F
	}
	pkt.SetValue(uint32(contVal(payload)), uint8(len(payload)))
	return pkt, n, nil
}

func (p *PktProc) pktGlobalTS2() (Packet, int, *common.Error) {
	n := p.readCont(7)
	switch n {
	case 0:
		return Packet{}, 0, nil
	case -1:
		return Packet{}, 0, p.errAt(ocsd.ErrBadPacketSeq, "GTS2 packet: Payload continuation value too long")
	}
	var pkt Packet
	pkt.Type = PktTSGlobal2
	if n <= 5 {
		pkt.SetValue(uint32(contVal(p.b.Bytes()[1:n])), uint8(n-1))
	} else {
		pkt.SetExtValue(contVal(p.b.Bytes()[1:n]))
	}
	return pkt, n, nil
}

func (p *PktProc) pktExtension(hdr byte) (Packet, int, *common.Error) {
	nBitLength := []uint8{2, 9, 16, 23, 31}

	n := 1
	if hdr&0x80 != 0 {
		n = p.readCont(5)
		switch n {
		case 0:
			return Packet{}, 0, nil
		case -1:
			return Packet{}, 0, p.errAt(ocsd.ErrBadPacketSeq, "Extension packet: Payload continuation value too long")
		}
	}

	var pkt Packet
	pkt.Type = PktExtension
	pkt.SrcID = nBitLength[n-1]
	if hdr&0x04 != 0 {
		pkt.SrcID |= 0x80
	}
	value := uint32(contVal(p.b.Bytes()[1:n])) << 3
	value |= uint32(hdr>>4) & 0x7
	pkt.SetValue(value, 4)
	return pkt, n, nil
}
