// Package stream holds the pending bytes of a trace packet stream and finds
// the synchronisation packets the packet processors recover on.
package stream

import (
	"cmtrace/internal/common"
	"cmtrace/internal/ocsd"
)

// MaxSpanRaw bounds the bytes of one unsynchronised span kept for
// reporting. Bytes past it are counted but not kept.
const MaxSpanRaw = 256

// Span is a run of bytes that did not form packets.
type Span struct {
	Index   ocsd.TrcIndex
	Raw     []byte // at most MaxSpanRaw leading bytes
	Dropped int    // span bytes not kept in Raw
	Err     *common.Error
}

// Len is the number of trace bytes the span covers.
func (s *Span) Len() int {
	return len(s.Raw) + s.Dropped
}

// Buffer holds bytes until a packet processor consumes them.
//
// A sync packet is SyncZeros or more zero bytes followed by 0x80. While
// unsynchronised, bytes that cannot start a sync packet are moved out of the
// buffer into the current span, so an unsynchronised stream is held in
// bounded memory however long it runs.
type Buffer struct {
	syncZeros int
	component string

	buf    []byte
	base   ocsd.TrcIndex // trace index of buf[0]
	closed bool
	synced bool

	scanned int           // prefix of buf known to hold no sync start
	cause   *common.Error // why the current span started, nil at stream start
	span    []byte
	spanLen int
	spanIdx ocsd.TrcIndex
}

// NewBuffer creates a buffer for a protocol whose sync packet has syncZeros
// leading zero bytes. component prefixes the errors the buffer raises.
func NewBuffer(syncZeros int, component string) *Buffer {
	return &Buffer{syncZeros: syncZeros, component: component}
}

// AddData appends bytes to the pending stream.
func (b *Buffer) AddData(data []byte) {
	b.buf = append(b.buf, data...)
}

// Close marks the end of the stream.
func (b *Buffer) Close() {
	b.closed = true
}

// Closed reports whether Close has been called since the last Reset.
func (b *Buffer) Closed() bool {
	return b.closed
}

// Synced reports whether the head of the buffer is at a packet boundary.
func (b *Buffer) Synced() bool {
	return b.synced
}

// Pending returns the number of bytes held but not yet reported.
func (b *Buffer) Pending() int {
	return len(b.buf) + b.spanLen
}

// Reset discards all state, including pending bytes.
func (b *Buffer) Reset() {
	*b = Buffer{syncZeros: b.syncZeros, component: b.component}
}

// Bytes returns the pending bytes. The slice is only valid until the next
// call that changes the buffer.
func (b *Buffer) Bytes() []byte {
	return b.buf
}

// Take removes the first n pending bytes and returns the trace index of the
// first of them with a copy of the bytes.
func (b *Buffer) Take(n int) (ocsd.TrcIndex, []byte) {
	idx := b.base
	out := append([]byte(nil), b.buf[:n]...)
	b.drop(n)
	return idx, out
}

func (b *Buffer) drop(n int) {
	b.buf = b.buf[n:]
	if len(b.buf) == 0 {
		b.buf = nil
	}
	b.base += ocsd.TrcIndex(n)
}

// ErrAt builds an error located at the head of the buffer.
func (b *Buffer) ErrAt(code ocsd.Err, msg string) *common.Error {
	e := common.NewErrorWithIdxMsg(ocsd.ErrSevError, code, b.base, msg)
	e.Component = b.component
	return e
}

// Desync opens an unsynchronised span at the head of the buffer.
func (b *Buffer) Desync(cause *common.Error) {
	b.synced = false
	b.scanned = 0
	b.cause = cause
}

// Resync scans for the next sync packet. It returns the span of bytes
// before it once that span is complete, or the length of the sync packet
// now at the head of the buffer, or neither when more data is needed. The
// buffer counts as synchronised once a sync length is returned.
func (b *Buffer) Resync() (*Span, int) {
	i := b.scanned
	for i < len(b.buf) {
		z := ZeroRun(b.buf[i:])
		if i+z == len(b.buf) {
			if b.closed {
				i = len(b.buf)
			}
			break
		}
		if z >= b.syncZeros && b.buf[i+z] == 0x80 {
			if i > 0 || b.spanLen > 0 {
				b.absorb(i)
				return b.flush(), 0
			}
			b.synced = true
			b.cause = nil
			return nil, z + 1
		}
		if z > 0 {
			i += z
		} else {
			i++
		}
	}

	b.absorb(i)
	if b.closed && len(b.buf) == 0 && b.spanLen > 0 {
		return b.flush(), 0
	}
	return nil, 0
}

// absorb moves the first n pending bytes into the current span.
func (b *Buffer) absorb(n int) {
	if n == 0 {
		b.scanned = 0
		return
	}
	if b.spanLen == 0 {
		b.spanIdx = b.base
	}
	keep := min(n, MaxSpanRaw-len(b.span))
	b.span = append(b.span, b.buf[:keep]...)
	b.spanLen += n
	b.drop(n)
	b.scanned = 0
}

func (b *Buffer) flush() *Span {
	s := &Span{
		Index:   b.spanIdx,
		Raw:     b.span,
		Dropped: b.spanLen - len(b.span),
		Err:     b.cause,
	}
	if s.Err == nil {
		s.Err = common.NewErrorWithIdxMsg(ocsd.ErrSevError, ocsd.ErrMalformedFrame, b.spanIdx, "trace bytes not synchronised")
		s.Err.Component = b.component
	}
	b.span, b.spanLen, b.cause = nil, 0, nil
	return s
}

// ZeroRun returns the number of leading zero bytes in p.
func ZeroRun(p []byte) int {
	n := 0
	for n < len(p) && p[n] == 0 {
		n++
	}
	return n
}
