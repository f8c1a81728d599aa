// Package transport is the boundary to the debug-probe collaborator.
//
// The core never talks to a probe directly: every register access goes
// through a Session, which serialises calls onto a RegisterAccess that the
// probe driver provides. Retries are the driver's business; a failed access
// is surfaced as ErrTransport and not repeated here.
package transport

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"cmtrace/common"
	icommon "cmtrace/internal/common"
	"cmtrace/internal/ocsd"
)

// RegisterAccess reads and writes 32-bit registers in the debug address space.
type RegisterAccess interface {
	// ReadReg reads a single 32-bit register.
	ReadReg(ctx context.Context, addr uint64) (uint32, error)
	// WriteReg writes a single 32-bit register.
	WriteReg(ctx context.Context, addr uint64, value uint32) error
}

// SWOReader is implemented by probes that capture the serial wire output
// of the trace port themselves.
type SWOReader interface {
	ReadSWO(ctx context.Context, maxBytes int) ([]byte, error)
}

// Session is the single logical handle through which all register accesses
// of a capture workflow are made. It is safe for concurrent use, but the
// underlying RegisterAccess only ever sees one call at a time.
type Session struct {
	mu     sync.Mutex
	access RegisterAccess
	logger common.Logger
}

// NewSession wraps access. A nil logger disables logging.
func NewSession(access RegisterAccess, logger common.Logger) *Session {
	return &Session{
		access: access,
		logger: common.ForComponent(logger, ocsd.CmpnamePrefixTransport),
	}
}

// Access returns the wrapped register access, for capability checks such
// as SWOReader.
func (s *Session) Access() RegisterAccess {
	return s.access
}

// Logger returns the session logger.
func (s *Session) Logger() common.Logger {
	return s.logger
}

// Read reads the register at addr.
func (s *Session) Read(ctx context.Context, addr uint64) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	val, err := s.access.ReadReg(ctx, addr)
	if err != nil {
		return 0, transportError(err, "read 0x%08X", addr)
	}
	s.logger.Logf(common.SeverityDebug, "rd 0x%08X -> 0x%08X", addr, val)
	return val, nil
}

// Write writes value to the register at addr.
func (s *Session) Write(ctx context.Context, addr uint64, value uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Logf(common.SeverityDebug, "wr 0x%08X <- 0x%08X", addr, value)
	if err := s.access.WriteReg(ctx, addr, value); err != nil {
		return transportError(err, "write 0x%08X", addr)
	}
	return nil
}

// Modify clears the clear bits and sets the set bits of the register at
// addr. The read and the write are made under one lock.
func (s *Session) Modify(ctx context.Context, addr uint64, clear, set uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	val, err := s.access.ReadReg(ctx, addr)
	if err != nil {
		return transportError(err, "read 0x%08X", addr)
	}
	val = (val &^ clear) | set
	s.logger.Logf(common.SeverityDebug, "rmw 0x%08X <- 0x%08X", addr, val)
	if err := s.access.WriteReg(ctx, addr, val); err != nil {
		return transportError(err, "write 0x%08X", addr)
	}
	return nil
}

// Poll reads addr until (value & mask) == want, at most attempts times.
// It reports whether the condition was met.
func (s *Session) Poll(ctx context.Context, addr uint64, mask, want uint32, attempts int) (bool, error) {
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		val, err := s.Read(ctx, addr)
		if err != nil {
			return false, err
		}
		if val&mask == want {
			return true, nil
		}
	}
	return false, nil
}

func transportError(cause error, format string, args ...any) error {
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return errors.Wrapf(cause, format, args...)
	}
	e := icommon.NewComponentError(ocsd.CmpnamePrefixTransport, ocsd.ErrTransport, "%v", cause)
	return errors.Wrapf(e, format, args...)
}
