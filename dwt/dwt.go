// Package dwt programs the comparator bank of the Data Watchpoint and Trace
// unit. Armed comparators bound the trace window: a match on the start
// address and on the stop address each produce a PC-match trace packet.
package dwt

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"cmtrace/common"
	"cmtrace/coresight"
	icommon "cmtrace/internal/common"
	"cmtrace/internal/ocsd"
	"cmtrace/internal/regs"
	"cmtrace/transport"
)

// EventKind is what a comparator matches on.
type EventKind int

const (
	InstructionAddress EventKind = iota
	DataAddress
	CycleCount
)

func (k EventKind) String() string {
	switch k {
	case InstructionAddress:
		return "instruction-address"
	case DataAddress:
		return "data-address"
	case CycleCount:
		return "cycle-count"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

func (k EventKind) match() uint32 {
	switch k {
	case DataAddress:
		return regs.DwtMatchDataAddrRW
	case CycleCount:
		return regs.DwtMatchCycleCount
	default:
		return regs.DwtMatchInstrAddr
	}
}

// Action is what a comparator does on a match.
type Action int

const (
	ActionTrace   Action = iota // emit a PC-match packet
	ActionTrigger               // CMPMATCH event only
)

func (a Action) bits() uint32 {
	if a == ActionTrigger {
		return regs.DwtActionTrigger << regs.DwtFuncActionShift
	}
	return regs.DwtActionTrace << regs.DwtFuncActionShift
}

// Comparator is the configuration of one DWT comparator unit.
type Comparator struct {
	Index        int
	CompareValue uint32
	EventKind    EventKind
	Action       Action
}

// Function returns the DWT_FUNCTION value the comparator programs.
func (c Comparator) Function() uint32 {
	return c.EventKind.match() | c.Action.bits()
}

// State of a comparator bank.
type State int

const (
	Disabled State = iota
	Enabled
)

func (s State) String() string {
	if s == Enabled {
		return "enabled"
	}
	return "disabled"
}

// Bank is the DWT comparator bank of one core.
type Bank struct {
	sess   *transport.Session
	comp   coresight.Component
	logger common.Logger

	state   State
	numComp int
	armed   map[int]Comparator
}

// New binds a bank to the DWT component. The hardware is not touched until
// Enable.
func New(sess *transport.Session, comp coresight.Component) (*Bank, error) {
	if comp.Type != coresight.Dwt {
		return nil, icommon.NewComponentError(ocsd.CmpnamePrefixDWT, ocsd.ErrInvalidParamVal,
			"component %s is not a DWT", comp)
	}
	return &Bank{
		sess:   sess,
		comp:   comp,
		logger: common.ForComponent(sess.Logger(), ocsd.CmpnamePrefixDWT),
		armed:  make(map[int]Comparator),
	}, nil
}

// Enable turns on the trace subsystem (DEMCR.TRCENA) and reads the number of
// implemented comparators. Calling it again re-reads the count.
func (b *Bank) Enable(ctx context.Context) error {
	if err := b.sess.Modify(ctx, regs.DEMCR, 0, regs.DEMCRTrcEna); err != nil {
		return errors.Wrap(err, "set DEMCR.TRCENA")
	}
	ctrl, err := b.sess.Read(ctx, b.comp.Reg(regs.DwtCtrl))
	if err != nil {
		return errors.Wrap(err, "read DWT_CTRL")
	}
	b.numComp = int(ctrl >> regs.DwtCtrlNumCompShift)
	b.state = Enabled
	b.logger.Logf(common.SeverityInfo, "%s enabled, %d comparators", b.comp, b.numComp)
	return nil
}

// State returns the bank state.
func (b *Bank) State() State {
	return b.state
}

// NumComparators is the comparator count read by Enable, 0 before it.
func (b *Bank) NumComparators() int {
	return b.numComp
}

// ArmInstructionEvent arms comparator index to emit a trace packet when the
// instruction at address executes.
func (b *Bank) ArmInstructionEvent(ctx context.Context, index int, address uint32) error {
	return b.Arm(ctx, Comparator{
		Index:        index,
		CompareValue: address,
		EventKind:    InstructionAddress,
	})
}

// Arm programs one comparator and verifies that FUNCTION read back as
// written. Arming an already armed index replaces its configuration; if
// arming fails the index is no longer reported as armed.
func (b *Bank) Arm(ctx context.Context, c Comparator) error {
	if err := b.check(c); err != nil {
		return err
	}

	n := c.Index
	fn := c.Function()
	b.logger.Logf(common.SeverityDebug, "arm comparator %d: %s 0x%08X", n, c.EventKind, c.CompareValue)

	// the old configuration is gone once the first register is written
	delete(b.armed, n)

	if err := b.sess.Write(ctx, b.comp.Reg(regs.DwtComp(n)), c.CompareValue); err != nil {
		return errors.Wrapf(err, "write DWT_COMP%d", n)
	}
	if err := b.sess.Write(ctx, b.comp.Reg(regs.DwtMask(n)), 0); err != nil {
		return errors.Wrapf(err, "write DWT_MASK%d", n)
	}
	if err := b.sess.Write(ctx, b.comp.Reg(regs.DwtFunction(n)), fn); err != nil {
		return errors.Wrapf(err, "write DWT_FUNCTION%d", n)
	}

	got, err := b.sess.Read(ctx, b.comp.Reg(regs.DwtFunction(n)))
	if err != nil {
		return errors.Wrapf(err, "read back DWT_FUNCTION%d", n)
	}
	if got&regs.DwtFuncCfgMask != fn {
		return icommon.NewComponentError(ocsd.CmpnamePrefixDWT, ocsd.ErrHardware,
			"DWT_FUNCTION%d reads 0x%08X after writing 0x%08X", n, got, fn)
	}
	b.armed[n] = c
	return nil
}

// check validates c without touching the hardware.
func (b *Bank) check(c Comparator) error {
	if b.state != Enabled {
		return icommon.NewComponentError(ocsd.CmpnamePrefixDWT, ocsd.ErrNotInit,
			"comparator bank not enabled")
	}
	if c.Index < 0 || c.Index >= b.numComp {
		return icommon.NewComponentError(ocsd.CmpnamePrefixDWT, ocsd.ErrInvalidIndex,
			"comparator %d out of range, %d implemented", c.Index, b.numComp)
	}
	if c.EventKind == CycleCount && c.Index != 0 {
		return icommon.NewComponentError(ocsd.CmpnamePrefixDWT, ocsd.ErrInvalidParamVal,
			"cycle count match is only available on comparator 0")
	}
	if c.EventKind < InstructionAddress || c.EventKind > CycleCount {
		return icommon.NewComponentError(ocsd.CmpnamePrefixDWT, ocsd.ErrInvalidParamVal,
			"unknown event kind %d", int(c.EventKind))
	}
	return nil
}

// Disarm turns off a single comparator.
func (b *Bank) Disarm(ctx context.Context, index int) error {
	if b.state != Enabled {
		return icommon.NewComponentError(ocsd.CmpnamePrefixDWT, ocsd.ErrNotInit,
			"comparator bank not enabled")
	}
	if index < 0 || index >= b.numComp {
		return icommon.NewComponentError(ocsd.CmpnamePrefixDWT, ocsd.ErrInvalidIndex,
			"comparator %d out of range, %d implemented", index, b.numComp)
	}
	if err := b.sess.Write(ctx, b.comp.Reg(regs.DwtFunction(index)), regs.DwtMatchDisabled); err != nil {
		return errors.Wrapf(err, "clear DWT_FUNCTION%d", index)
	}
	delete(b.armed, index)
	return nil
}

// Disable clears every comparator and forgets the armed configuration.
// It may be called in any state. All units are cleared even if one write
// fails; the first failure is returned.
func (b *Bank) Disable(ctx context.Context) error {
	var first error
	for n := 0; n < b.numComp; n++ {
		if err := b.sess.Write(ctx, b.comp.Reg(regs.DwtFunction(n)), regs.DwtMatchDisabled); err != nil && first == nil {
			first = errors.Wrapf(err, "clear DWT_FUNCTION%d", n)
		}
	}
	clear(b.armed)
	b.state = Disabled
	b.logger.Logf(common.SeverityDebug, "%s disabled", b.comp)
	return first
}

// Comparators returns the armed comparators ordered by index.
func (b *Bank) Comparators() []Comparator {
	var out []Comparator
	for n := 0; n < b.numComp; n++ {
		if c, ok := b.armed[n]; ok {
			out = append(out, c)
		}
	}
	return out
}
