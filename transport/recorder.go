package transport

import (
	"context"
	"fmt"
	"sync"
)

// Op is one recorded register access.
type Op struct {
	Write bool
	Addr  uint64
	Value uint32
}

func (o Op) String() string {
	if o.Write {
		return fmt.Sprintf("W 0x%08X = 0x%08X", o.Addr, o.Value)
	}
	return fmt.Sprintf("R 0x%08X : 0x%08X", o.Addr, o.Value)
}

// Recorder passes accesses through to another RegisterAccess and keeps a log
// of them, in order. Failed accesses are not recorded.
type Recorder struct {
	mu    sync.Mutex
	inner RegisterAccess
	ops   []Op
}

// NewRecorder records accesses made to inner.
func NewRecorder(inner RegisterAccess) *Recorder {
	return &Recorder{inner: inner}
}

func (r *Recorder) ReadReg(ctx context.Context, addr uint64) (uint32, error) {
	val, err := r.inner.ReadReg(ctx, addr)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	r.ops = append(r.ops, Op{Addr: addr, Value: val})
	r.mu.Unlock()
	return val, nil
}

func (r *Recorder) WriteReg(ctx context.Context, addr uint64, value uint32) error {
	if err := r.inner.WriteReg(ctx, addr, value); err != nil {
		return err
	}
	r.mu.Lock()
	r.ops = append(r.ops, Op{Write: true, Addr: addr, Value: value})
	r.mu.Unlock()
	return nil
}

// ReadSWO forwards to the wrapped access when it captures SWO.
func (r *Recorder) ReadSWO(ctx context.Context, maxBytes int) ([]byte, error) {
	if swo, ok := r.inner.(SWOReader); ok {
		return swo.ReadSWO(ctx, maxBytes)
	}
	return nil, fmt.Errorf("probe does not capture SWO")
}

// Ops returns a copy of every recorded access.
func (r *Recorder) Ops() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Op(nil), r.ops...)
}

// Writes returns a copy of the recorded writes only.
func (r *Recorder) Writes() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Op
	for _, op := range r.ops {
		if op.Write {
			out = append(out, op)
		}
	}
	return out
}

// Clear drops the recorded log.
func (r *Recorder) Clear() {
	r.mu.Lock()
	r.ops = nil
	r.mu.Unlock()
}
