// Package etm controls the ETMv4 Embedded Trace Macrocell, the instruction
// trace source of the core. Its trace gives every executed branch target
// and exception, decoded by trace.Decoder with the ETMv4 protocol.
package etm

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

// ETM part numbers from PIDR0/PIDR1.
var knownParts = map[uint16]string{
	regs.EtmPartM7: "Cortex-M7 ETM",
}

// idlePollAttempts bounds the wait for TRCSTATR.IDLE to follow TRCPRGCTLR.EN.
const idlePollAttempts = 100

// syncPeriod is the TRCSYNCPR value: an A-Sync every 2^8 bytes of trace.
const syncPeriod = 0x8

// Macrocell is a loaded ETM.
type Macrocell struct {
	sess   *transport.Session
	etm    coresight.Component
	logger common.Logger

	part  uint16
	idr   [3]uint32 // TRCIDR0..2
	state State
	cfg   Config
}

// Load locates and unlocks the ETM, identifies it from its peripheral ID
// registers and reads the trace ID registers the decoder needs.
func Load(ctx context.Context, sess *transport.Session, components []coresight.Component) (*Macrocell, error) {
	comp, err := coresight.Find(components, coresight.Etm)
	if err != nil {
		return nil, err
	}
	m := &Macrocell{
		sess:   sess,
		etm:    comp,
		logger: common.ForComponent(sess.Logger(), ocsd.CmpnamePrefixETM),
		cfg:    DefaultConfig(),
	}

	if err := sess.Write(ctx, comp.Reg(regs.LAR), regs.LARUnlockKey); err != nil {
		return nil, errors.Wrap(err, "unlock ETM")
	}
	if err := sess.Write(ctx, comp.Reg(regs.EtmOslar), 0); err != nil {
		return nil, errors.Wrap(err, "clear TRCOSLAR")
	}

	var pidr [3]uint32
	for i, off := range []uint32{regs.PIDR0, regs.PIDR1, regs.PIDR2} {
		if pidr[i], err = sess.Read(ctx, comp.Reg(off)); err != nil {
			return nil, errors.Wrapf(err, "read ETM_PIDR%d", i)
		}
	}
	m.part = uint16(pidr[0]&0xFF) | uint16(pidr[1]&0xF)<<8
	designer := (pidr[1]>>4)&0xF | (pidr[2]&0x7)<<4

	name, ok := knownParts[m.part]
	if !ok || designer != regs.DesignerARM {
		return nil, icommon.NewComponentError(ocsd.CmpnamePrefixETM, ocsd.ErrUnsupported,
			"%s: part 0x%03X designer 0x%02X not supported", comp, m.part, designer)
	}

	for i, off := range []uint32{regs.EtmIDR0, regs.EtmIDR1, regs.EtmIDR2} {
		if m.idr[i], err = sess.Read(ctx, comp.Reg(off)); err != nil {
			return nil, errors.Wrapf(err, "read TRCIDR%d", i)
		}
	}
	if v := m.cfg.decoderConfig(m.idr).MajVersion(); v != 4 {
		return nil, icommon.NewComponentError(ocsd.CmpnamePrefixETM, ocsd.ErrUnsupported,
			"%s: ETM architecture v%d, only ETMv4 is decoded", comp, v)
	}

	m.state = Loaded
	m.logger.Logf(common.SeverityInfo, "%s: %s, TRCIDR1 0x%08X", comp, name, m.idr[1])
	return m, nil
}

// Part returns the ETM part number read at load time.
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

// EnableInstructionTrace programs and enables the ETM. A nil cfg selects
// DefaultConfig. The trace unit is only programmed while idle, so it is
// disabled first and the enable is confirmed by TRCSTATR.IDLE clearing.
func (m *Macrocell) EnableInstructionTrace(ctx context.Context, cfg *Config) error {
	if m.State() == Unloaded {
		return icommon.NewComponentError(ocsd.CmpnamePrefixETM, ocsd.ErrNotInit, "macrocell not loaded")
	}
	c := DefaultConfig()
	if cfg != nil {
		c = *cfg
	}
	if err := c.Validate(); err != nil {
		return err
	}

	if err := m.setEnabled(ctx, false); err != nil {
		return err
	}

	writes := []struct {
		name  string
		off   uint32
		value uint32
	}{
		{"TRCCONFIGR", regs.EtmConfigr, c.CONFIGR()},
		{"TRCEVENTCTL0R", regs.EtmEventCtl0r, 0},
		{"TRCEVENTCTL1R", regs.EtmEventCtl1r, 0},
		{"TRCSTALLCTLR", regs.EtmStallCtlr, 0},
		{"TRCTSCTLR", regs.EtmTsCtlr, 0},
		{"TRCSYNCPR", regs.EtmSyncPr, syncPeriod},
		{"TRCCCCTLR", regs.EtmCcCtlr, 0},
		{"TRCBBCTLR", regs.EtmBbCtlr, 0},
		{"TRCTRACEIDR", regs.EtmTraceIDr, uint32(c.TraceID)},
		{"TRCVICTLR", regs.EtmViCtlr, c.VICTLR()},
		{"TRCVIIECTLR", regs.EtmViieCtlr, 0},
		{"TRCVISSCTLR", regs.EtmVissCtlr, 0},
		{"TRCVIPCSSCTLR", regs.EtmVipcssCtlr, c.VIPCSSCTLR()},
	}
	for _, w := range writes {
		if err := m.sess.Write(ctx, m.etm.Reg(w.off), w.value); err != nil {
			return errors.Wrapf(err, "write %s", w.name)
		}
	}

	if err := m.setEnabled(ctx, true); err != nil {
		return err
	}
	m.cfg = c
	m.state = TraceEnabled
	m.logger.Logf(common.SeverityInfo, "trace enabled: CONFIGR 0x%08X, trace ID 0x%02X", c.CONFIGR(), c.TraceID)
	return nil
}

// setEnabled writes TRCPRGCTLR.EN and waits for TRCSTATR.IDLE to follow.
func (m *Macrocell) setEnabled(ctx context.Context, on bool) error {
	var en, idle uint32 = 0, regs.EtmStatrIdle
	action := "disable"
	if on {
		en, idle, action = regs.EtmPrgCtlrEn, 0, "enable"
	}
	if err := m.sess.Write(ctx, m.etm.Reg(regs.EtmPrgCtlr), en); err != nil {
		return errors.Wrapf(err, "%s ETM", action)
	}
	ok, err := m.sess.Poll(ctx, m.etm.Reg(regs.EtmStatr), regs.EtmStatrIdle, idle, idlePollAttempts)
	if err != nil {
		return errors.Wrapf(err, "wait ETM %s", action)
	}
	if !ok {
		return icommon.NewComponentError(ocsd.CmpnamePrefixETM, ocsd.ErrHardware,
			"TRCSTATR.IDLE did not follow %s after %d reads", action, idlePollAttempts)
	}
	return nil
}

// Disable stops the macrocell. It is safe to call in any state.
func (m *Macrocell) Disable(ctx context.Context) error {
	if m.State() == Unloaded {
		return nil
	}
	if err := m.sess.Write(ctx, m.etm.Reg(regs.EtmPrgCtlr), 0); err != nil {
		return errors.Wrap(err, "disable ETM")
	}
	m.state = Loaded
	return nil
}

// Decoder returns a fresh decoder for the trace this macrocell produces.
func (m *Macrocell) Decoder() (*trace.Decoder, error) {
	if m.State() == Unloaded {
		return nil, icommon.NewComponentError(ocsd.CmpnamePrefixETM, ocsd.ErrNotInit, "macrocell not loaded")
	}
	return trace.NewDecoder(trace.Config{
		Protocol: trace.ProtocolETMv4,
		TraceID:  m.cfg.TraceID,
		ETM: trace.ETMConfig{
			IDR0:    m.idr[0],
			IDR1:    m.idr[1],
			IDR2:    m.idr[2],
			ConfigR: m.cfg.CONFIGR(),
		},
	}), nil
}

func (m *Macrocell) String() string {
	return fmt.Sprintf("%s [%s]", m.etm, m.State())
}
