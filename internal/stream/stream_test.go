package stream

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"

	"cmtrace/internal/ocsd"
)

func TestResyncFindsSync(t *testing.T) {
	b := NewBuffer(5, "TEST")
	b.AddData([]byte{0x12, 0x34, 0, 0, 0, 0, 0, 0x80, 0x99})

	span, n := b.Resync()
	if span == nil || n != 0 {
		t.Fatalf("Resync = %v, %d; want the leading span", span, n)
	}
	if span.Index != 0 || !bytes.Equal(span.Raw, []byte{0x12, 0x34}) || span.Dropped != 0 {
		t.Errorf("span = %+v", span)
	}
	if span.Err == nil || span.Err.Code != ocsd.ErrMalformedFrame || span.Err.Component != "TEST" {
		t.Errorf("span error = %v", span.Err)
	}

	span, n = b.Resync()
	if span != nil || n != 6 || !b.Synced() {
		t.Fatalf("Resync = %v, %d, synced %v; want a 6 byte sync", span, n, b.Synced())
	}
	idx, raw := b.Take(n)
	if idx != 2 || len(raw) != 6 {
		t.Errorf("Take = %d, % X", idx, raw)
	}
	if b.Pending() != 1 || b.Bytes()[0] != 0x99 {
		t.Errorf("left % X", b.Bytes())
	}
}

func TestResyncWaitsOnZeroTail(t *testing.T) {
	b := NewBuffer(5, "TEST")
	b.AddData([]byte{0x55, 0, 0, 0})
	if span, n := b.Resync(); span != nil || n != 0 {
		t.Fatalf("Resync reported %v, %d before the tail was known", span, n)
	}
	if b.Pending() != 4 || len(b.Bytes()) != 3 {
		t.Errorf("Pending %d, buffered %d", b.Pending(), len(b.Bytes()))
	}
	b.AddData([]byte{0, 0, 0x80})
	span, _ := b.Resync()
	if span == nil || !bytes.Equal(span.Raw, []byte{0x55}) {
		t.Fatalf("span = %+v", span)
	}
	if _, n := b.Resync(); n != 6 {
		t.Errorf("sync length %d, want 6", n)
	}
}

func TestSpanIsReportedOnce(t *testing.T) {
	b := NewBuffer(5, "TEST")
	b.AddData([]byte{0x00}) // synced stream breaks on this byte
	b.Desync(b.ErrAt(ocsd.ErrBadPacketSeq, "bad"))
	b.AddData(bytes.Repeat([]byte{0xA5}, 3*MaxSpanRaw))
	if span, _ := b.Resync(); span != nil {
		t.Fatalf("span reported before its end")
	}
	b.AddData([]byte{0, 0, 0, 0, 0, 0x80})

	span, _ := b.Resync()
	if span == nil {
		t.Fatal("no span")
	}
	if span.Len() != 3*MaxSpanRaw+1 || len(span.Raw) != MaxSpanRaw || span.Raw[0] != 0x00 {
		t.Errorf("span covers %d bytes, keeps %d", span.Len(), len(span.Raw))
	}
	if span.Err.Code != ocsd.ErrBadPacketSeq || span.Err.Idx != 0 {
		t.Errorf("span error = %v", span.Err)
	}
	if _, n := b.Resync(); n != 6 {
		t.Errorf("sync length %d", n)
	}
}

func TestCloseFlushesSpan(t *testing.T) {
	b := NewBuffer(11, "TEST")
	b.AddData([]byte{0x01, 0, 0})
	b.Resync()
	b.Close()
	span, n := b.Resync()
	if span == nil || n != 0 || span.Len() != 3 {
		t.Fatalf("Resync after Close = %+v, %d", span, n)
	}
	if span, n := b.Resync(); span != nil || n != 0 {
		t.Errorf("second Resync = %+v, %d", span, n)
	}

	b.Reset()
	if b.Closed() || b.Pending() != 0 || b.Synced() {
		t.Errorf("Reset left state")
	}
}

func TestZeroRun(t *testing.T) {
	got := []int{ZeroRun(nil), ZeroRun([]byte{1}), ZeroRun([]byte{0, 0, 1, 0})}
	if diff := cmp.Diff([]int{0, 0, 2}, got); diff != "" {
		t.Errorf("ZeroRun (-want +got):\n%s", diff)
	}
}
