// Package itm controls the Instrumentation Trace Macrocell, the trace source
// that carries DWT hardware packets (PC samples, comparator PC matches,
// exception trace) and software stimulus writes to the trace sink.
package itm

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"cmtrace/common"
	"cmtrace/coresight"
	icommon "cmtrace/internal/common"
	"cmtrace/internal/ocsd"
	"cmtrace/internal/regs"
	"cmtrace/trace"
	"cmtrace/transport"
)

// State of the macrocell.
type State int

const (
	Unloaded State = iota
	Loaded
	TraceEnabled
)

func (s State) String() string {
	switch s {
	case Loaded:
		return "loaded"
	case TraceEnabled:
		return "trace-enabled"
	}
	return "unloaded"
}

// ITM part numbers from PIDR0/PIDR1, by architecture profile.
var knownParts = map[uint16]string{
	0x001: "ARMv7-M ITM",
	0xD21: "ARMv8-M Mainline ITM",
	0xD22: "ARMv8.1-M ITM",
}

// busyPollAttempts bounds the wait for ITM_TCR.BUSY to clear.
const busyPollAttempts = 100

// Macrocell is a loaded ITM with its companion DWT.
type Macrocell struct {
	sess   *transport.Session
	itm    coresight.Component
	dwt    coresight.Component
	logger common.Logger

	part  uint16
	state State
	cfg   Config
}

// Load locates and unlocks the ITM and identifies it from its peripheral ID
// registers.
func Load(ctx context.Context, sess *transport.Session, components []coresight.Component) (*Macrocell, error) {
	itmComp, err := coresight.Find(components, coresight.Itm)
	if err != nil {
		return nil, err
	}
	dwtComp, err := coresight.Find(components, coresight.Dwt)
	if err != nil {
		return nil, err
	}

	m := &Macrocell{
		sess:   sess,
		itm:    itmComp,
		dwt:    dwtComp,
		logger: common.ForComponent(sess.Logger(), ocsd.CmpnamePrefixITM),
		cfg:    DefaultConfig(),
	}

	if err := sess.Write(ctx, itmComp.Reg(regs.LAR), regs.LARUnlockKey); err != nil {
		return nil, errors.Wrap(err, "unlock ITM")
	}
	lsr, err := sess.Read(ctx, itmComp.Reg(regs.LSR))
	if err != nil {
		return nil, errors.Wrap(err, "read ITM_LSR")
	}

	var pidr [3]uint32
	for i, off := range []uint32{regs.PIDR0, regs.PIDR1, regs.PIDR2} {
		if pidr[i], err = sess.Read(ctx, itmComp.Reg(off)); err != nil {
			return nil, errors.Wrapf(err, "read ITM_PIDR%d", i)
		}
	}
	m.part = uint16(pidr[0]&0xFF) | uint16(pidr[1]&0xF)<<8
	designer := (pidr[1]>>4)&0xF | (pidr[2]&0x7)<<4

	name, ok := knownParts[m.part]
	if !ok || designer != regs.DesignerARM {
		return nil, icommon.NewComponentError(ocsd.CmpnamePrefixITM, ocsd.ErrUnsupported,
			"%s: part 0x%03X designer 0x%02X not supported", itmComp, m.part, designer)
	}

	m.state = Loaded
	m.logger.Logf(common.SeverityInfo, "%s: %s, LSR 0x%X", itmComp, name, lsr)
	return m, nil
}

// Part returns the ITM part number read at load time.
func (m *Macrocell) Part() uint16 {
	return m.part
}

// State returns the macrocell state.
func (m *Macrocell) State() State {
	if m == nil {
		return Unloaded
	}
	return m.state
}

// Config returns the configuration last enabled, or the default.
func (m *Macrocell) Config() Config {
	return m.cfg
}

// EnableInstructionTrace programs the ITM and the DWT trace sources. A nil
// cfg selects DefaultConfig.
func (m *Macrocell) EnableInstructionTrace(ctx context.Context, cfg *Config) error {
	if m.State() == Unloaded {
		return icommon.NewComponentError(ocsd.CmpnamePrefixITM, ocsd.ErrNotInit, "macrocell not loaded")
	}
	c := DefaultConfig()
	if cfg != nil {
		c = *cfg
	}
	if err := c.Validate(); err != nil {
		return err
	}

	tcr := m.itm.Reg(regs.ItmTcr)
	if err := m.sess.Write(ctx, tcr, 0); err != nil {
		return errors.Wrap(err, "disable ITM")
	}
	idle, err := m.sess.Poll(ctx, tcr, regs.ItmTcrBusy, 0, busyPollAttempts)
	if err != nil {
		return errors.Wrap(err, "wait ITM idle")
	}
	if !idle {
		return icommon.NewComponentError(ocsd.CmpnamePrefixITM, ocsd.ErrHardware,
			"ITM_TCR.BUSY still set after %d reads", busyPollAttempts)
	}

	// unprivileged access to every enabled port
	if err := m.sess.Write(ctx, m.itm.Reg(regs.ItmTpr), 0xF); err != nil {
		return errors.Wrap(err, "write ITM_TPR")
	}
	if err := m.sess.Write(ctx, m.itm.Reg(regs.ItmTer), c.StimulusPorts); err != nil {
		return errors.Wrap(err, "write ITM_TER")
	}
	clr, set := c.dwtCtrl()
	if err := m.sess.Modify(ctx, m.dwt.Reg(regs.DwtCtrl), clr, set); err != nil {
		return errors.Wrap(err, "write DWT_CTRL")
	}
	if err := m.sess.Write(ctx, tcr, c.TCR()); err != nil {
		return errors.Wrap(err, "enable ITM")
	}

	m.cfg = c
	m.state = TraceEnabled
	m.logger.Logf(common.SeverityInfo, "trace enabled: TCR 0x%08X, trace ID 0x%02X", c.TCR(), c.TraceID)
	return nil
}

// Disable stops the macrocell and the DWT sources. It is safe to call in
// any state.
func (m *Macrocell) Disable(ctx context.Context) error {
	if m.State() == Unloaded {
		return nil
	}
	var first error
	if err := m.sess.Write(ctx, m.itm.Reg(regs.ItmTcr), 0); err != nil {
		first = errors.Wrap(err, "disable ITM")
	}
	clr, _ := m.cfg.dwtCtrl()
	if err := m.sess.Modify(ctx, m.dwt.Reg(regs.DwtCtrl), clr|regs.DwtCtrlCycCntEna, 0); err != nil && first == nil {
		first = errors.Wrap(err, "clear DWT_CTRL")
	}
	m.state = Loaded
	return first
}

// Decoder returns a fresh decoder for the trace this macrocell produces.
func (m *Macrocell) Decoder() (*trace.Decoder, error) {
	if m.State() == Unloaded {
		return nil, icommon.NewComponentError(ocsd.CmpnamePrefixITM, ocsd.ErrNotInit, "macrocell not loaded")
	}
	return trace.NewDecoder(trace.Config{
		TraceID:    m.cfg.TraceID,
		TSPrescale: m.cfg.prescale(),
	}), nil
}

func (m *Macrocell) String() string {
	return fmt.Sprintf("%s [%s]", m.itm, m.State())
}
