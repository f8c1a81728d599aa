package trace

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"cmtrace/internal/common"
	"cmtrace/internal/ocsd"
)

type streamBuilder struct {
	data []byte
}

func (b *streamBuilder) bytes(v ...byte) *streamBuilder {
	b.data = append(b.data, v...)
	return b
}

func (b *streamBuilder) sync() *streamBuilder {
	return b.bytes(0x00, 0x00, 0x00, 0x00, 0x00, 0x80)
}

// dwt adds a hardware source packet with a 4, 2 or 1 byte payload.
func (b *streamBuilder) dwt(disc uint8, val uint32, size int) *streamBuilder {
	ss := byte(size)
	if size == 4 {
		ss = 3
	}
	b.bytes(disc<<3 | 0x04 | ss)
	for i := 0; i < size; i++ {
		b.bytes(byte(val >> (8 * i)))
	}
	return b
}

func (b *streamBuilder) pcMatch(unit int, pc uint32) *streamBuilder {
	return b.dwt(uint8(8+2*unit), pc, 4)
}

var eventOpts = []cmp.Option{
	cmpopts.EquateErrors(),
	cmpopts.EquateEmpty(),
}

// decodeSplit decodes data fed in pieces cut at splits, then closes.
func decodeSplit(cfg Config, data []byte, splits ...int) []Event {
	d := NewDecoder(cfg)
	var out []Event
	prev := 0
	for _, s := range splits {
		out = append(out, Collect(d.Feed(data[prev:s]))...)
		prev = s
	}
	out = append(out, Collect(d.Feed(data[prev:]))...)
	return append(out, Collect(d.Close())...)
}

func TestDecodeEventKinds(t *testing.T) {
	sb := &streamBuilder{}
	sb.sync()                  // 0
	sb.pcMatch(0, 0x080046B0)  // 6
	sb.dwt(2, 0x08000100, 4)   // 11
	sb.dwt(2, 0, 1)            // 16 sleeping sample
	sb.dwt(1, 0x1010, 2)       // 18 entry exc 16
	sb.dwt(1, 0x2010, 2)       // 21 exit
	sb.dwt(1, 0x3003, 2)       // 24 return to thread
	sb.bytes(0x30)             // 27 local ts 3
	sb.bytes(0xD0, 0x81, 0x01) // 28 local ts 129, tc 1
	sb.bytes(0x70)             // 31 overflow
	sb.bytes(0x19, 0x41)       // 32 stimulus port 3
	sb.dwt(0, 0x20, 1)         // 34 cycle counter wrap
	sb.dwt(9, 0x46B0, 2)       // 36 address offset cmp 0
	sb.dwt(19, 0xDEADBEEF, 4)  // 39 data write cmp 1
	sb.dwt(18, 0x12, 1)        // 44 data read cmp 1
	sb.pcMatch(1, 0x080046C0)  // 46

	want := []Event{
		{Kind: Sync, Index: 0},
		{Kind: InstructionExecuted, Index: 6, Address: 0x080046B0, Comparator: 0},
		{Kind: InstructionExecuted, Index: 11, Address: 0x08000100, Comparator: -1, Sampled: true},
		{Kind: InstructionExecuted, Index: 16, Comparator: -1, Sampled: true, Sleep: true},
		{Kind: ExceptionEntry, Index: 18, Exception: 16},
		{Kind: ExceptionExit, Index: 21, Exception: 16},
		{Kind: ExceptionReturn, Index: 24, Exception: 3},
		{Kind: Timestamp, Index: 27, Delta: 3, Time: 3},
		{Kind: Timestamp, Index: 28, Delta: 129, Time: 132, TC: 1},
		{Kind: Overflow, Index: 31},
		{Kind: Stimulus, Index: 32, Port: 3, Value: 0x41, Size: 1},
		{Kind: CounterWrap, Index: 34, Flags: 0x20},
		{Kind: DataTrace, Index: 36, Comparator: 0, Address: 0x46B0},
		{Kind: DataTrace, Index: 39, Comparator: 1, Write: true, Value: 0xDEADBEEF, Size: 4},
		{Kind: DataTrace, Index: 44, Comparator: 1, Value: 0x12, Size: 1},
		{Kind: InstructionExecuted, Index: 46, Address: 0x080046C0, Comparator: 1},
	}
	got := decodeSplit(Config{TraceID: 1}, sb.data)
	if diff := cmp.Diff(want, got, eventOpts...); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeChunkingInvariance(t *testing.T) {
	sb := &streamBuilder{}
	sb.bytes(0x47, 0x01) // tail of a packet from before the capture
	sb.sync()
	for i := 0; i < 4; i++ {
		sb.pcMatch(i%2, 0x08004600+uint32(i)*4)
		sb.bytes(0xC0, 0x85, 0x02)
	}
	sb.dwt(1, 0x1010, 2)
	sb.bytes(0x04) // reserved
	sb.bytes(0x11, 0x22)
	sb.sync()
	sb.bytes(0x94, 0x85, 0x01)
	sb.bytes(0xB4, 0x03)
	sb.pcMatch(1, 0x080046C0)
	sb.bytes(0x17, 0x00) // truncated

	whole := decodeSplit(Config{}, sb.data)
	if len(whole) == 0 {
		t.Fatal("no events")
	}
	for a := 0; a <= len(sb.data); a++ {
		got := decodeSplit(Config{}, sb.data, a)
		if diff := cmp.Diff(whole, got, eventOpts...); diff != "" {
			t.Fatalf("split at %d (-whole +split):\n%s", a, diff)
		}
		for b := a; b <= len(sb.data); b += 7 {
			got := decodeSplit(Config{}, sb.data, a, b)
			if diff := cmp.Diff(whole, got, eventOpts...); diff != "" {
				t.Fatalf("split at %d,%d (-whole +split):\n%s", a, b, diff)
			}
		}
	}
}

func TestDecodeResync(t *testing.T) {
	sb := &streamBuilder{}
	sb.sync()
	sb.pcMatch(0, 0x080046B0)
	sb.pcMatch(0, 0x080046B4) // header of this frame gets corrupted
	sb.pcMatch(0, 0x080046B8)
	sb.sync()
	sb.pcMatch(1, 0x080046C0)
	sb.pcMatch(1, 0x080046C4)
	clean := decodeSplit(Config{}, sb.data)

	corrupt := append([]byte(nil), sb.data...)
	corrupt[11] = 0x04 // reserved header
	got := decodeSplit(Config{}, corrupt)

	var unknown []Event
	for _, ev := range got {
		if ev.Kind == Unknown {
			unknown = append(unknown, ev)
		}
	}
	if len(unknown) != 1 {
		t.Fatalf("got %d Unknown events, want 1: %v", len(unknown), got)
	}
	if common.CodeOf(unknown[0].Err) != ocsd.ErrInvalidPcktHdr {
		t.Errorf("Unknown error = %v", unknown[0].Err)
	}
	if unknown[0].Index != 11 || len(unknown[0].Raw) != 10 {
		t.Errorf("Unknown span at %d, %d bytes", unknown[0].Index, len(unknown[0].Raw))
	}

	// everything from the second sync on is unaffected
	tail := func(evs []Event) []Event {
		for i := len(evs) - 1; i >= 0; i-- {
			if evs[i].Kind == Sync {
				return evs[i:]
			}
		}
		return nil
	}
	if diff := cmp.Diff(tail(clean), tail(got), eventOpts...); diff != "" {
		t.Errorf("events after resync differ (-clean +corrupt):\n%s", diff)
	}
	if diff := cmp.Diff(clean[:2], got[:2], eventOpts...); diff != "" {
		t.Errorf("events before corruption differ (-clean +corrupt):\n%s", diff)
	}
}

func TestDecodeLazy(t *testing.T) {
	sb := &streamBuilder{}
	sb.sync()
	sb.pcMatch(0, 0x100)
	sb.pcMatch(0, 0x104)
	sb.pcMatch(0, 0x108)

	d := NewDecoder(Config{})
	n := 0
	for ev := range d.Feed(sb.data) {
		n++
		if ev.Kind == InstructionExecuted {
			break
		}
	}
	if n != 2 {
		t.Fatalf("took %d events before stopping", n)
	}
	if d.Pending() != 10 {
		t.Errorf("Pending = %d, want 10", d.Pending())
	}

	rest := Collect(d.Close())
	want := []Event{
		{Kind: InstructionExecuted, Index: 11, Address: 0x104},
		{Kind: InstructionExecuted, Index: 16, Address: 0x108},
	}
	if diff := cmp.Diff(want, rest, eventOpts...); diff != "" {
		t.Errorf("remaining events (-want +got):\n%s", diff)
	}
}

func TestDecodeHoldsPartialFrame(t *testing.T) {
	d := NewDecoder(Config{})
	first := Collect(d.Feed([]byte{0, 0, 0, 0, 0, 0x80, 0x47, 0xB0}))
	if len(first) != 1 || first[0].Kind != Sync {
		t.Fatalf("first feed = %v", first)
	}
	if got := Collect(d.Feed([]byte{0x46})); len(got) != 0 {
		t.Fatalf("partial frame emitted: %v", got)
	}
	got := Collect(d.Feed([]byte{0x00, 0x08, 0x70}))
	want := []Event{
		{Kind: InstructionExecuted, Index: 6, Address: 0x080046B0},
		{Kind: Overflow, Index: 11},
	}
	if diff := cmp.Diff(want, got, eventOpts...); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
}

func TestDecodeClose(t *testing.T) {
	d := NewDecoder(Config{})
	Collect(d.Feed([]byte{0, 0, 0, 0, 0, 0x80, 0x47, 0xB0}))
	got := Collect(d.Close())
	want := []Event{{
		Kind:  Unknown,
		Index: 6,
		Raw:   []byte{0x47, 0xB0},
		Err:   common.Code(ocsd.ErrIncompleteFrame),
	}}
	if diff := cmp.Diff(want, got, eventOpts...); diff != "" {
		t.Errorf("Close (-want +got):\n%s", diff)
	}

	late := Collect(d.Feed([]byte{0x70}))
	if len(late) != 1 || common.CodeOf(late[0].Err) != ocsd.ErrNotInit {
		t.Errorf("feed after close = %v", late)
	}

	d.Reset()
	got = Collect(d.Feed([]byte{0, 0, 0, 0, 0, 0x80, 0x70}))
	if len(got) != 2 || got[0].Index != 0 || got[1].Kind != Overflow {
		t.Errorf("after Reset = %v", got)
	}
}

func TestDecodeTimestamps(t *testing.T) {
	sb := &streamBuilder{}
	sb.sync()
	sb.bytes(0x20)       // local 2
	sb.bytes(0x94, 0x05) // GTS1 low bits, held until GTS2
	sb.bytes(0xB4, 0x01) // GTS2 bits [26+]
	sb.bytes(0x94, 0x06) // GTS1 low bits only
	sb.bytes(0x70)       // overflow resets local time
	sb.bytes(0x10)       // local 1

	got := decodeSplit(Config{TSPrescale: 16}, sb.data)
	want := []Event{
		{Kind: Sync},
		{Kind: Timestamp, Index: 6, Delta: 32, Time: 32},
		{Kind: Timestamp, Index: 9, Global: true, Time: 1<<26 | 5},
		{Kind: Timestamp, Index: 11, Global: true, Time: 1<<26 | 6},
		{Kind: Overflow, Index: 13},
		{Kind: Timestamp, Index: 14, Delta: 16, Time: 16},
	}
	if diff := cmp.Diff(want, got, eventOpts...); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
}

func TestDecodeStimulusPage(t *testing.T) {
	sb := &streamBuilder{}
	sb.sync()
	sb.bytes(0x09, 0xAA) // port 1
	sb.bytes(0x28)       // SW extension, page 2
	sb.bytes(0x09, 0xBB) // port 65

	got := decodeSplit(Config{}, sb.data)
	want := []Event{
		{Kind: Sync},
		{Kind: Stimulus, Index: 6, Port: 1, Value: 0xAA, Size: 1},
		{Kind: Stimulus, Index: 9, Port: 65, Value: 0xBB, Size: 1},
	}
	if diff := cmp.Diff(want, got, eventOpts...); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
}

func TestDecodeReservedDiscriminator(t *testing.T) {
	sb := &streamBuilder{}
	sb.sync()
	sb.dwt(5, 0x1234, 2)
	sb.dwt(1, 0x0003, 2) // exception with no function
	sb.bytes(0x70)

	got := decodeSplit(Config{}, sb.data)
	want := []Event{
		{Kind: Sync},
		{Kind: Unknown, Index: 6, Raw: []byte{0x2E, 0x34, 0x12}, Err: common.Code(ocsd.ErrMalformedFrame)},
		{Kind: Unknown, Index: 9, Raw: []byte{0x0E, 0x03, 0x00}, Err: common.Code(ocsd.ErrMalformedFrame)},
		{Kind: Overflow, Index: 12},
	}
	if diff := cmp.Diff(want, got, eventOpts...); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
}

func TestEventString(t *testing.T) {
	tests := []struct {
		ev   Event
		want string
	}{
		{Event{Kind: Sync}, "Idx:0; SYNC"},
		{Event{Kind: InstructionExecuted, Index: 6, Address: 0x080046B0, Comparator: 0}, "Idx:6; INSTR; PC=0x080046B0; cmp=0"},
		{Event{Kind: InstructionExecuted, Comparator: -1, Sampled: true, Sleep: true}, "Idx:0; INSTR; sample (sleeping)"},
		{Event{Kind: InstructionExecuted, Address: 0x100, Comparator: -1, Sampled: true}, "Idx:0; INSTR; PC=0x00000100; sample"},
		{Event{Kind: InstructionExecuted, Address: 0x100, Comparator: -1}, "Idx:0; INSTR; PC=0x00000100"},
		{Event{Kind: ExceptionEntry, Exception: 3, Address: 0x200}, "Idx:0; EXC_ENTRY; exception=3; ret=0x00000200"},
		{Event{Kind: Atom, Atoms: 0x5, NumAtoms: 3}, "Idx:0; ATOM; ENE"},
		{Event{Kind: Context, EL: 0, NonSecure: true}, "Idx:0; CONTEXT; EL0; NS"},
		{Event{Kind: ResourceEvent, Flags: 0x3}, "Idx:0; EVENT; events=0x3"},
		{Event{Kind: TraceInfo, Flags: 0x0, Value: 0}, "Idx:0; TRACE_INFO; info=0x00; key=0x0"},
		{Event{Kind: Unknown, Raw: []byte{0xF4}, Dropped: 9}, "Idx:0; UNKNOWN; [F4] +9 bytes"},
		{Event{Kind: ExceptionEntry, Exception: 15}, "Idx:0; EXC_ENTRY; exception=15"},
		{Event{Kind: Timestamp, Delta: 3, Time: 10}, "Idx:0; TIMESTAMP; delta=3; time=10"},
		{Event{Kind: Stimulus, Port: 1, Value: 0x41, Size: 1}, "Idx:0; STIMULUS; port=1; value=0x41"},
		{Event{Kind: Unknown, Raw: []byte{0x04}}, "Idx:0; UNKNOWN; [04]"},
		{Event{Kind: EventKind(42)}, "Idx:0; EventKind(42)"},
	}
	for _, tt := range tests {
		if got := tt.ev.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestDecodeLongUnsyncedSpan(t *testing.T) {
	sb := &streamBuilder{}
	sb.sync()
	sb.bytes(0xF4) // reserved header
	for i := 0; i < 100; i++ {
		sb.pcMatch(0, 0x080046B0)
	}
	sb.sync()
	sb.bytes(0x70)

	for _, splits := range [][]int{nil, {100}, {6, 7, 300, 506}} {
		got := decodeSplit(Config{}, sb.data, splits...)
		if len(got) != 4 {
			t.Fatalf("splits %v: got %d events, want 4: %v", splits, len(got), got)
		}
		span := got[1]
		if span.Kind != Unknown || span.Index != 6 || common.CodeOf(span.Err) != ocsd.ErrInvalidPcktHdr {
			t.Errorf("splits %v: span = %v", splits, span)
		}
		if len(span.Raw) != 256 || span.Dropped != 501-256 || span.Raw[0] != 0xF4 {
			t.Errorf("splits %v: span keeps %d bytes, drops %d", splits, len(span.Raw), span.Dropped)
		}
		if got[2].Kind != Sync || got[2].Index != 507 || got[3].Kind != Overflow {
			t.Errorf("splits %v: after span = %v", splits, got[2:])
		}
	}
}

func TestDecodeSyncAfterUnsyncedBytes(t *testing.T) {
	got := decodeSplit(Config{}, []byte{0x01, 0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x80, 0x70})
	want := []Event{
		{Kind: Unknown, Index: 0, Raw: []byte{0x01, 0x02}, Err: common.Code(ocsd.ErrMalformedFrame)},
		{Kind: Sync, Index: 2},
		{Kind: Overflow, Index: 8},
	}
	if diff := cmp.Diff(want, got, eventOpts...); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
}
