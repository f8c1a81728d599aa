// Package trace decodes a raw ETMv4 instruction trace or ITM/DWT trace byte
// stream into events.
//
// A Decoder is fed the stream in arbitrary pieces. Feed and Close return lazy
// sequences: bytes are taken into the decoder immediately, but packets are
// only decoded as the sequence is ranged over. Stopping early leaves the
// remaining packets pending for the next sequence. Partial packets at the
// end of a piece wait for the rest of their bytes, so the events produced do
// not depend on how the stream was split.
package trace

import (
	"iter"

	icommon "cmtrace/internal/common"
	"cmtrace/internal/etmv4"
	"cmtrace/internal/itm"
	"cmtrace/internal/ocsd"
)

// Protocol is the trace protocol of the stream.
type Protocol int

const (
	ProtocolITM Protocol = iota
	ProtocolETMv4
)

func (p Protocol) String() string {
	if p == ProtocolETMv4 {
		return "etmv4"
	}
	return "itm"
}

// ETMConfig is the ETMv4 programming the decoder needs: the ID registers
// read from the trace unit and the TRCCONFIGR value written to it. Zero ID
// registers select the Cortex-M7 ETM values.
type ETMConfig struct {
	IDR0, IDR1, IDR2 uint32
	ConfigR          uint32
}

// Config holds the static parameters the decoder needs from the macrocell
// programming.
type Config struct {
	Protocol   Protocol
	TraceID    uint8
	TSPrescale uint32 // ITM: 1, 4, 16 or 64; 0 means 1
	ETM        ETMConfig
}

type pktProc interface {
	AddData(data []byte)
	Close()
	Closed() bool
	Pending() int
	Reset()
}

// Decoder turns ETMv4 or ITM/DWT packets into Events. It is not safe for
// concurrent use.
type Decoder struct {
	cfg  Config
	proc pktProc
	itm  *itm.PktProc
	etm  *etmv4.PktProc

	// ETMv4 exception waiting for its return address packet, and events
	// decoded from one packet but not yet yielded
	pendingExc *Event
	queue      []Event

	localTS   uint64
	globalTS  uint64
	stimPage  uint8
	needGTS2  bool
	gtsFlags  uint8
	prescaler uint64
}

// NewDecoder returns a decoder in its reset state.
func NewDecoder(cfg Config) *Decoder {
	d := &Decoder{cfg: cfg}
	if cfg.Protocol == ProtocolETMv4 {
		ecfg := etmv4.NewConfig(cfg.TraceID, cfg.ETM.ConfigR)
		if cfg.ETM.IDR1 != 0 {
			ecfg.RegIdr0, ecfg.RegIdr1, ecfg.RegIdr2 = cfg.ETM.IDR0, cfg.ETM.IDR1, cfg.ETM.IDR2
		}
		d.etm = etmv4.NewPktProc(ecfg)
		d.proc = d.etm
	} else {
		icfg := itm.NewConfig(0)
		icfg.SetTraceID(cfg.TraceID)
		if cfg.TSPrescale != 0 {
			icfg.SetTSPrescale(cfg.TSPrescale)
		}
		d.itm = itm.NewPktProc(icfg)
		d.proc = d.itm
	}
	d.resetDecoder()
	return d
}

// Config returns the decoder configuration.
func (d *Decoder) Config() Config {
	return d.cfg
}

// Pending returns the number of bytes taken in but not yet decoded.
func (d *Decoder) Pending() int {
	return d.proc.Pending()
}

// Feed appends data to the stream and returns the events that become
// decodable. After Close, Feed yields a single Unknown event for data
// until Reset is called.
func (d *Decoder) Feed(data []byte) iter.Seq[Event] {
	if d.proc.Closed() {
		if len(data) == 0 {
			return func(func(Event) bool) {}
		}
		ev := Event{
			Kind:  Unknown,
			Index: ocsd.BadTrcIndex,
			Raw:   append([]byte(nil), data...),
			Err: icommon.NewComponentError(ocsd.CmpnamePrefixPktdec, ocsd.ErrNotInit,
				"data fed to a closed decoder"),
		}
		return func(yield func(Event) bool) { yield(ev) }
	}
	d.proc.AddData(data)
	return d.events
}

// Close marks the end of the stream. The returned sequence yields the
// remaining events, with any trailing partial packet as Unknown.
func (d *Decoder) Close() iter.Seq[Event] {
	d.proc.Close()
	return d.events
}

// Reset discards all decoder state, including pending bytes.
func (d *Decoder) Reset() {
	d.proc.Reset()
	d.resetDecoder()
}

func (d *Decoder) resetDecoder() {
	d.localTS = 0
	d.globalTS = 0
	d.stimPage = 0
	d.needGTS2 = true
	d.gtsFlags = 0
	d.prescaler = 1
	if d.itm != nil {
		d.prescaler = uint64(d.itm.Config().TSPrescaleValue())
	}
	d.pendingExc = nil
	d.queue = nil
}

func (d *Decoder) events(yield func(Event) bool) {
	if d.etm != nil {
		d.etmEvents(yield)
		return
	}
	for {
		pkt, ok := d.itm.Next()
		if !ok {
			return
		}
		ev, emit := d.decodePacket(&pkt)
		if emit && !yield(ev) {
			return
		}
	}
}

var (
	globalTSLowMask = []uint64{
		0x00000007F, // [ 6:0]
		0x000003FFF, // [13:0]
		0x0001FFFFF, // [20:0]
		0x003FFFFFF, // [25:0]
	}
	globalTSHiMask = ^globalTSLowMask[3]
)

func (d *Decoder) decodePacket(pkt *itm.Packet) (Event, bool) {
	ev := Event{Index: pkt.Index}

	if pkt.IsBadPacket() {
		ev.Kind = Unknown
		ev.Raw = pkt.Raw
		ev.Dropped = pkt.Dropped
		ev.Err = pkt.Err
		return ev, true
	}

	switch pkt.Type {
	case itm.PktAsync:
		ev.Kind = Sync
		return ev, true

	case itm.PktOverflow:
		d.localTS = 0
		ev.Kind = Overflow
		return ev, true

	case itm.PktSWIT:
		ev.Kind = Stimulus
		ev.Port = uint16(pkt.SrcID&0x1F) | uint16(d.stimPage)<<5
		ev.Value = pkt.Value
		ev.Size = pkt.ValSz
		return ev, true

	case itm.PktDWT:
		return d.decodeDWT(pkt, ev)

	case itm.PktExtension:
		// a 2 bit software extension selects the stimulus page
		if pkt.SrcID&0x80 == 0 && pkt.SrcID&0x1F == 2 {
			d.stimPage = uint8(pkt.Value)
		}
		return ev, false

	case itm.PktTSLocal:
		ev.Kind = Timestamp
		ev.TC = pkt.SrcID & 0x3
		ev.Delta = uint64(pkt.Value) * d.prescaler
		d.localTS += ev.Delta
		ev.Time = d.localTS
		return ev, true

	case itm.PktTSGlobal1:
		if !d.needGTS2 {
			d.needGTS2 = pkt.SrcID&0x2 != 0
		}
		d.gtsFlags |= pkt.SrcID & 0x3
		d.globalTS &^= globalTSLowMask[pkt.ValSz-1]
		d.globalTS |= uint64(pkt.Value)
		if d.needGTS2 {
			return ev, false
		}
		return d.globalEvent(ev), true

	case itm.PktTSGlobal2:
		d.globalTS &^= globalTSHiMask
		d.globalTS |= pkt.ExtValue() << 26
		d.needGTS2 = false
		return d.globalEvent(ev), true
	}
	return ev, false
}

func (d *Decoder) globalEvent(ev Event) Event {
	ev.Kind = Timestamp
	ev.Global = true
	ev.Time = d.globalTS
	ev.TC = d.gtsFlags
	d.gtsFlags = 0
	return ev
}

func (d *Decoder) decodeDWT(pkt *itm.Packet, ev Event) (Event, bool) {
	id := pkt.SrcID
	switch {
	case id == 0:
		ev.Kind = CounterWrap
		ev.Flags = uint8(pkt.Value)

	case id == 1:
		ev.Exception = uint16(pkt.Value & 0x1FF)
		switch (pkt.Value >> 12) & 0x3 {
		case 1:
			ev.Kind = ExceptionEntry
		case 2:
			ev.Kind = ExceptionExit
		case 3:
			ev.Kind = ExceptionReturn
		default:
			return d.malformed(pkt, ev, "exception trace packet with reserved function"), true
		}

	case id == 2:
		ev.Kind = InstructionExecuted
		ev.Comparator = -1
		ev.Sampled = true
		if pkt.ValSz == 1 {
			ev.Sleep = true
		} else {
			ev.Address = pkt.Value
		}

	case id >= 8 && id <= 15 && id&1 == 0:
		ev.Kind = InstructionExecuted
		ev.Comparator = int(id-8) / 2
		ev.Address = pkt.Value

	case id >= 8 && id <= 15:
		ev.Kind = DataTrace
		ev.Comparator = int(id-9) / 2
		ev.Address = pkt.Value

	case id >= 16 && id <= 23:
		ev.Kind = DataTrace
		ev.Comparator = int(id>>1) & 0x3
		ev.Write = id&1 != 0
		ev.Value = pkt.Value
		ev.Size = pkt.ValSz

	default:
		return d.malformed(pkt, ev, "reserved DWT discriminator"), true
	}
	return ev, true
}

// malformed reports a well framed packet whose content is reserved. The
// stream stays synchronised.
func (d *Decoder) malformed(pkt *itm.Packet, ev Event, msg string) Event {
	e := icommon.NewErrorWithIdxMsg(ocsd.ErrSevError, ocsd.ErrMalformedFrame, pkt.Index, msg)
	e.Component = ocsd.CmpnamePrefixPktdec
	return Event{Kind: Unknown, Index: ev.Index, Raw: pkt.Raw, Err: e}
}

func (d *Decoder) etmEvents(yield func(Event) bool) {
	for {
		for len(d.queue) > 0 {
			ev := d.queue[0]
			d.queue = d.queue[1:]
			if !yield(ev) {
				return
			}
		}
		pkt, ok := d.etm.Next()
		if !ok {
			if d.etm.Closed() && d.etm.Pending() == 0 && d.pendingExc != nil {
				ev := *d.pendingExc
				d.pendingExc = nil
				yield(ev)
			}
			return
		}
		d.decodeETM(&pkt)
	}
}

func (d *Decoder) emit(ev Event) {
	d.queue = append(d.queue, ev)
}

// flushException emits an exception that no address packet followed.
func (d *Decoder) flushException() {
	if d.pendingExc != nil {
		d.emit(*d.pendingExc)
		d.pendingExc = nil
	}
}

func (d *Decoder) decodeETM(pkt *etmv4.Packet) {
	ev := Event{Index: pkt.Index}

	if pkt.IsBadPacket() {
		d.flushException()
		ev.Kind = Unknown
		ev.Raw = pkt.Raw
		ev.Dropped = pkt.Dropped
		ev.Err = pkt.Err
		d.emit(ev)
		return
	}

	if pkt.Type.IsAddress() {
		if pkt.Type.HasContext() {
			d.emit(contextEvent(pkt))
		}
		if exc := d.pendingExc; exc != nil {
			// the first address after an exception is its return address
			d.pendingExc = nil
			exc.Address = uint32(pkt.Addr)
			d.emit(*exc)
			return
		}
		ev.Kind = InstructionExecuted
		ev.Address = uint32(pkt.Addr)
		ev.Comparator = -1
		d.emit(ev)
		return
	}

	d.flushException()
	switch pkt.Type {
	case etmv4.PktAsync:
		ev.Kind = Sync
	case etmv4.PktTraceInfo:
		ev.Kind = TraceInfo
		ev.Flags = pkt.Info()
		ev.Value = pkt.TraceInfo.P0Key
	case etmv4.PktTraceOn:
		ev.Kind = TraceOn
	case etmv4.PktTimestamp:
		ev.Kind = Timestamp
		ev.Global = true
		ev.Time = pkt.Timestamp
		if pkt.Timestamp >= d.globalTS {
			ev.Delta = pkt.Timestamp - d.globalTS
		}
		d.globalTS = pkt.Timestamp
	case etmv4.PktExcept:
		d.pendingExc = &Event{
			Kind:      ExceptionEntry,
			Index:     pkt.Index,
			Exception: pkt.ExceptionInfo.ExceptionType,
		}
		return
	case etmv4.PktExceptRtn:
		ev.Kind = ExceptionReturn
	case etmv4.PktEvent:
		ev.Kind = ResourceEvent
		ev.Flags = pkt.EventVal
	case etmv4.PktCtxt:
		ev = contextEvent(pkt)
	case etmv4.PktAtomF1, etmv4.PktAtomF2, etmv4.PktAtomF3,
		etmv4.PktAtomF4, etmv4.PktAtomF5, etmv4.PktAtomF6:
		ev.Kind = Atom
		ev.Atoms = pkt.Atom.Bits
		ev.NumAtoms = pkt.Atom.Num
	case etmv4.PktOverflow:
		ev.Kind = Overflow
	case etmv4.PktDiscard:
		ev.Kind = Discard
	default:
		return
	}
	d.emit(ev)
}

func contextEvent(pkt *etmv4.Packet) Event {
	return Event{
		Kind:      Context,
		Index:     pkt.Index,
		EL:        pkt.Context.EL,
		NonSecure: pkt.Context.NS,
		ContextID: pkt.Context.CtxtID,
		VMID:      pkt.Context.VMID,
	}
}

// Collect drains seq into a slice.
func Collect(seq iter.Seq[Event]) []Event {
	var out []Event
	for ev := range seq {
		out = append(out, ev)
	}
	return out
}
