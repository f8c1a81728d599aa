package frame

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// single source, ID 1, with the LSB of byte 2 restored from the flag byte
var id1Frame = []byte{
	0x03, 0xAA, 0x02, 0xBB, 0x04, 0x05, 0x06, 0x07,
	0x08, 0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x02,
}

var id1Data = []byte{
	0xAA, 0x03, 0xBB, 0x04, 0x05, 0x06, 0x07,
	0x08, 0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E,
}

func fsyncFrame() []byte {
	var f []byte
	for range 4 {
		f = append(f, fsync...)
	}
	return f
}

func TestDemuxerSingleID(t *testing.T) {
	d := NewDemuxer()
	got := d.Process(id1Frame)
	want := map[uint8][]byte{1: id1Data}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Process (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(id1Data, d.IDData(1)); diff != "" {
		t.Errorf("IDData(1) (-want +got):\n%s", diff)
	}
	if d.IDData(200) != nil {
		t.Errorf("IDData(200) not nil")
	}
}

func TestDemuxerIDChange(t *testing.T) {
	frame := []byte{
		0x03, 0x11, 0x05, 0x22, 0x40, 0x41, 0x42, 0x43,
		0x44, 0x45, 0x46, 0x47, 0x48, 0x49, 0x4A, 0x02,
	}
	got := NewDemuxer().Process(frame)
	want := map[uint8][]byte{
		1: {0x11, 0x22},
		2: {0x40, 0x41, 0x42, 0x43, 0x44, 0x45, 0x46, 0x47, 0x48, 0x49, 0x4A},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Process (-want +got):\n%s", diff)
	}
}

func TestDemuxerIDChangeNoFlag(t *testing.T) {
	frame := []byte{
		0x03, 0x11, 0x05, 0x22, 0x40, 0x41, 0x42, 0x43,
		0x44, 0x45, 0x46, 0x47, 0x48, 0x49, 0x4A, 0x00,
	}
	got := NewDemuxer().Process(frame)
	if diff := cmp.Diff([]byte{0x11}, got[1]); diff != "" {
		t.Errorf("ID 1 (-want +got):\n%s", diff)
	}
	if len(got[2]) != 12 || got[2][0] != 0x22 {
		t.Errorf("ID 2 = % 02X", got[2])
	}
}

func TestDemuxerPartialFrame(t *testing.T) {
	for split := 1; split < FrameSize; split++ {
		d := NewDemuxer()
		if got := d.Process(id1Frame[:split]); got != nil {
			t.Errorf("split %d: first part produced %v", split, got)
		}
		if d.Pending() != split {
			t.Errorf("split %d: Pending = %d", split, d.Pending())
		}
		got := d.Process(id1Frame[split:])
		if diff := cmp.Diff(id1Data, got[1]); diff != "" {
			t.Errorf("split %d (-want +got):\n%s", split, diff)
		}
		if d.Pending() != 0 {
			t.Errorf("split %d: Pending = %d after full frame", split, d.Pending())
		}
	}
}

func TestDemuxerFSyncFrameResetsID(t *testing.T) {
	d := NewDemuxer()
	cont := append([]byte(nil), id1Frame...)
	cont[0] = 0x50 // data byte: no ID in this frame

	data := append(append(append([]byte(nil), id1Frame...), fsyncFrame()...), cont...)
	got := d.Process(data)
	if diff := cmp.Diff(map[uint8][]byte{1: id1Data}, got); diff != "" {
		t.Errorf("Process (-want +got):\n%s", diff)
	}

	d.Reset()
	d.ResetOn4Sync = false
	got = d.Process(data)
	if n := len(got[1]); n != 2*len(id1Data)+1 {
		t.Errorf("without reset on sync ID 1 got %d bytes", n)
	}
}

func TestDemuxerPortSyncs(t *testing.T) {
	stream := []byte{0x12, 0x34, 0xFF}
	stream = append(stream, fsync...)
	stream = append(stream, id1Frame...)
	stream = append(stream, fsync...)
	stream = append(stream, id1Frame...)

	want := append(append([]byte(nil), id1Data...), id1Data...)

	for split := 0; split <= len(stream); split++ {
		d := NewDemuxer()
		d.MemAligned = false
		var got []byte
		got = append(got, d.Process(stream[:split])[1]...)
		got = append(got, d.Process(stream[split:])[1]...)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("split %d (-want +got):\n%s", split, diff)
		}
	}
}

func TestIsFSyncFrame(t *testing.T) {
	if !isFSyncFrame(fsyncFrame()) {
		t.Error("FSYNC frame not recognised")
	}
	if isFSyncFrame(id1Frame) {
		t.Error("data frame taken as FSYNC frame")
	}
}
