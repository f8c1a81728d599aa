// Package frame implements CoreSight trace frame demultiplexing.
// When the trace memory or the TPIU formatter is enabled, trace from every
// source is packed into 16-byte frames with embedded trace source IDs. This
// package extracts the data for each trace ID.
package frame

import (
	"bytes"
)

// FrameSize is the size of a CoreSight trace frame in bytes
const FrameSize = 16

const noID = 0xFF

var fsync = []byte{0xFF, 0xFF, 0xFF, 0x7F}

// Demuxer extracts trace data for specific trace IDs from multiplexed
// CoreSight frames. A frame split across two Process calls is held until
// its remaining bytes arrive.
type Demuxer struct {
	// Configuration
	MemAligned   bool // Data is memory-aligned (always 16-byte frames)
	ResetOn4Sync bool // Drop the current ID on a full frame of FSYNCs

	// State
	synced  bool   // True once synchronized to frame boundary
	currID  uint8  // Current trace source ID
	partial []byte // Bytes of an incomplete frame

	// Output buffers per trace ID (0-127)
	idData [128][]byte
}

// NewDemuxer creates a new frame demuxer with default settings.
func NewDemuxer() *Demuxer {
	return &Demuxer{
		MemAligned:   true, // trace memory read back is always aligned
		ResetOn4Sync: true,
		currID:       noID,
	}
}

// Reset clears demuxer state.
func (d *Demuxer) Reset() {
	d.synced = false
	d.currID = noID
	d.partial = nil
	d.clearOutput()
}

func (d *Demuxer) clearOutput() {
	for i := range d.idData {
		d.idData[i] = nil
	}
}

// Pending returns the number of bytes held from an incomplete frame.
func (d *Demuxer) Pending() int {
	return len(d.partial)
}

// Process processes raw trace data and extracts per-ID data.
// Returns a map of trace ID to extracted data bytes.
func (d *Demuxer) Process(data []byte) map[uint8][]byte {
	d.clearOutput()
	if len(data) == 0 {
		return nil
	}

	buf := data
	if len(d.partial) > 0 {
		buf = append(d.partial, data...)
		d.partial = nil
	}

	var used int
	if d.MemAligned {
		used = d.processAligned(buf)
	} else {
		used = d.processWithSyncs(buf)
	}
	if used < len(buf) {
		d.partial = append([]byte(nil), buf[used:]...)
	}

	// Build result map (only IDs with data)
	var result map[uint8][]byte
	for id, b := range d.idData {
		if len(b) > 0 {
			if result == nil {
				result = make(map[uint8][]byte)
			}
			result[uint8(id)] = b
		}
	}
	return result
}

// IDData returns data extracted for a specific trace ID by the last Process.
func (d *Demuxer) IDData(id uint8) []byte {
	if id > 127 {
		return nil
	}
	return d.idData[id]
}

// processAligned processes memory-aligned 16-byte frames and returns the
// number of bytes consumed.
func (d *Demuxer) processAligned(data []byte) int {
	offset := 0
	for offset+FrameSize <= len(data) {
		frame := data[offset : offset+FrameSize]
		if isFSyncFrame(frame) {
			if d.ResetOn4Sync {
				d.currID = noID
			}
		} else {
			d.unpackFrame(frame)
		}
		offset += FrameSize
	}
	return offset
}

// processWithSyncs processes a continuous port stream that may contain
// FSYNCs between frames and returns the number of bytes consumed.
func (d *Demuxer) processWithSyncs(data []byte) int {
	offset := 0

	if !d.synced {
		syncOffset := findSync(data)
		if syncOffset < 0 {
			// keep a trailing fragment that might be the start of an FSYNC
			return max(0, len(data)-(len(fsync)-1))
		}
		offset = syncOffset
		d.synced = true
	}

	for {
		for offset+len(fsync) <= len(data) && isFSync(data[offset:]) {
			offset += len(fsync)
		}
		if offset+FrameSize > len(data) {
			return offset
		}
		d.unpackFrame(data[offset : offset+FrameSize])
		offset += FrameSize
	}
}

// isFSyncFrame checks if a 16-byte frame is all FSYNCs.
func isFSyncFrame(frame []byte) bool {
	if len(frame) < FrameSize {
		return false
	}
	for i := 0; i < FrameSize; i += len(fsync) {
		if !isFSync(frame[i:]) {
			return false
		}
	}
	return true
}

// isFSync checks for a 4-byte FSYNC pattern (0x7FFFFFFF little-endian).
func isFSync(data []byte) bool {
	return bytes.HasPrefix(data, fsync)
}

// findSync returns the offset just after the first FSYNC in data, or -1.
func findSync(data []byte) int {
	if i := bytes.Index(data, fsync); i >= 0 {
		return i + len(fsync)
	}
	return -1
}

func (d *Demuxer) emit(b byte) {
	if d.currID <= 127 {
		d.idData[d.currID] = append(d.idData[d.currID], b)
	}
}

// unpackFrame extracts data bytes from a 16-byte frame.
// Frame format:
// - Bytes 0-14: Data or ID bytes
// - Byte 15: Flag bits for bytes 0,2,4,6,8,10,12,14
//
// ID byte: LSB=1, bits[7:1] = trace ID
// Data byte: LSB=0, bits[7:1] = data (combined with flag bit)
func (d *Demuxer) unpackFrame(frame []byte) {
	flags := frame[15]
	flagBit := uint8(0x01)

	for i := 0; i < 14; i += 2 {
		b0, b1 := frame[i], frame[i+1]

		if b0&0x01 != 0 {
			newID := (b0 >> 1) & 0x7F
			// a set flag means b1 still belongs to the previous ID
			if newID != d.currID && flags&flagBit != 0 {
				d.emit(b1)
				d.currID = newID
			} else {
				d.currID = newID
				d.emit(b1)
			}
		} else {
			dataByte := b0
			if flags&flagBit != 0 {
				dataByte |= 0x01
			}
			d.emit(dataByte)
			d.emit(b1)
		}
		flagBit <<= 1
	}

	b14 := frame[14]
	if b14&0x01 != 0 {
		d.currID = (b14 >> 1) & 0x7F
	} else {
		if flags&flagBit != 0 {
			b14 |= 0x01
		}
		d.emit(b14)
	}
}
