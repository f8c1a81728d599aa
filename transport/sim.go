package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"cmtrace/coresight"
	"cmtrace/internal/regs"
)

// SimTMCBase is where the simulated target places its trace memory controller.
const SimTMCBase = 0x5C014000

// SimTarget is an in-memory model of a Cortex-M7 debug address space with a
// DWT, an ITM, an ETM, a TPIU and an ETF-style trace memory. It stands in for
// a real probe: trace bytes loaded with SetTrace appear in trace memory once
// a trace source (ITM or ETM) is enabled while the trace memory is
// capturing.
type SimTarget struct {
	mu sync.Mutex

	numComp int
	regs    map[uint64]uint32

	trace    []byte
	swo      []byte
	ram      []uint32
	produced bool

	stuck  map[uint64]bool
	fail   map[uint64]error
	resets int
}

// NewSimTarget creates a simulated target with numComp DWT comparators.
func NewSimTarget(numComp int) *SimTarget {
	s := &SimTarget{
		numComp: numComp,
		regs:    make(map[uint64]uint32),
		stuck:   make(map[uint64]bool),
		fail:    make(map[uint64]error),
	}
	// ARM ITM identification: part 0x001, designer 0x3B.
	s.regs[coresight.ItmBase+regs.PIDR0] = 0x01
	s.regs[coresight.ItmBase+regs.PIDR1] = 0xB0
	s.regs[coresight.ItmBase+regs.PIDR2] = 0x3B
	s.regs[coresight.ItmBase+regs.PIDR4] = 0x04
	// Cortex-M7 ETM: part 0x975, designer 0x3B, ETMv4.0.
	s.regs[coresight.EtmBase+regs.PIDR0] = 0x75
	s.regs[coresight.EtmBase+regs.PIDR1] = 0xB9
	s.regs[coresight.EtmBase+regs.PIDR2] = 0x4B
	s.regs[coresight.EtmBase+regs.PIDR4] = 0x04
	s.regs[coresight.EtmBase+regs.EtmIDR0] = 0x28000EA1
	s.regs[coresight.EtmBase+regs.EtmIDR1] = 0x4100F403
	s.regs[coresight.EtmBase+regs.EtmIDR2] = 0x00000004
	s.regs[SimTMCBase+regs.TmcRsz] = 0x400
	return s
}

// Components returns the components a discovery pass would report.
func (s *SimTarget) Components() []coresight.Component {
	return coresight.DefaultCortexM(
		coresight.Component{Type: coresight.Etm, BaseAddress: coresight.EtmBase, Name: "etm"},
		coresight.Component{Type: coresight.Tmc, BaseAddress: SimTMCBase, Name: "etf"},
	)
}

// SetTrace sets the bytes the target emits into trace memory on its next run.
func (s *SimTarget) SetTrace(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trace = append([]byte(nil), data...)
	s.produced = false
}

// SetSWO sets the bytes returned by ReadSWO.
func (s *SimTarget) SetSWO(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swo = append([]byte(nil), data...)
}

// Stick makes writes to addr silently ignored, as a register that does not
// implement the written bits would.
func (s *SimTarget) Stick(addr uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stuck[addr] = true
}

// FailOn makes every access to addr return err.
func (s *SimTarget) FailOn(addr uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[addr] = err
}

// ResetCount returns the number of system resets requested.
func (s *SimTarget) ResetCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

// Peek returns the raw stored value of a register without side effects.
func (s *SimTarget) Peek(addr uint64) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs[addr]
}

func (s *SimTarget) ReadReg(ctx context.Context, addr uint64) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[addr]; err != nil {
		return 0, err
	}

	switch addr {
	case regs.DHCSR:
		v := s.regs[addr] & 0xFFFF
		if v&regs.DHCSRHalt != 0 {
			v |= regs.DHCSRSHalt
		}
		return v, nil
	case coresight.DwtBase + regs.DwtCtrl:
		return s.regs[addr]&^(0xF<<regs.DwtCtrlNumCompShift) | uint32(s.numComp)<<regs.DwtCtrlNumCompShift, nil
	case coresight.ItmBase + regs.ItmTcr:
		return s.regs[addr] &^ regs.ItmTcrBusy, nil
	case coresight.EtmBase + regs.EtmStatr:
		// the trace unit settles at once: idle exactly when disabled
		sts := uint32(regs.EtmStatrPmStable)
		if s.regs[coresight.EtmBase+regs.EtmPrgCtlr]&regs.EtmPrgCtlrEn == 0 {
			sts |= regs.EtmStatrIdle
		}
		return sts, nil
	case SimTMCBase + regs.TmcSts:
		var sts uint32
		// capture stops once a manual flush completes with stop on flush set
		ffcr := s.regs[SimTMCBase+regs.TmcFfcr]
		flushed := ffcr&regs.TmcFfcrStopOnFl != 0 && ffcr&regs.TmcFfcrFlushMan != 0
		if s.regs[SimTMCBase+regs.TmcCtl]&regs.TmcCtlCaptEn == 0 || flushed {
			sts |= regs.TmcStsReady
		}
		if len(s.ram) == 0 {
			sts |= regs.TmcStsEmpty
		}
		return sts, nil
	case SimTMCBase + regs.TmcRrd:
		if s.regs[SimTMCBase+regs.TmcCtl]&regs.TmcCtlCaptEn != 0 || len(s.ram) == 0 {
			return regs.TmcRrdEmpty, nil
		}
		w := s.ram[0]
		s.ram = s.ram[1:]
		return w, nil
	}
	return s.regs[addr], nil
}

func (s *SimTarget) WriteReg(ctx context.Context, addr uint64, value uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[addr]; err != nil {
		return err
	}
	if s.stuck[addr] {
		return nil
	}

	switch addr {
	case regs.AIRCR:
		if value&0xFFFF0000 == regs.AIRCRKey && value&regs.AIRCRSysResetReq != 0 {
			s.resets++
			s.produced = false
			s.produce()
		}
		return nil
	case coresight.ItmBase + regs.ItmTcr, coresight.EtmBase + regs.EtmPrgCtlr:
		s.regs[addr] = value
		s.produce()
		return nil
	case SimTMCBase + regs.TmcCtl:
		if value&regs.TmcCtlCaptEn != 0 && s.regs[addr]&regs.TmcCtlCaptEn == 0 {
			// a fresh capture starts with an empty buffer
			s.ram = nil
		}
		s.regs[addr] = value
		s.produce()
		return nil
	}
	s.regs[addr] = value
	return nil
}

// ReadSWO returns up to maxBytes of the data set with SetSWO, once a trace
// source has been enabled.
func (s *SimTarget) ReadSWO(ctx context.Context, maxBytes int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sourceEnabled() {
		return nil, nil
	}
	n := min(maxBytes, len(s.swo))
	out := append([]byte(nil), s.swo[:n]...)
	s.swo = s.swo[n:]
	return out, nil
}

// produce moves the pending trace into trace memory when the trace path is
// fully enabled. Callers hold s.mu.
func (s *SimTarget) produce() {
	if s.produced {
		return
	}
	if s.regs[SimTMCBase+regs.TmcCtl]&regs.TmcCtlCaptEn == 0 {
		return
	}
	if !s.sourceEnabled() {
		return
	}
	s.ram = packWords(s.trace)
	s.produced = true
}

// sourceEnabled reports whether the ITM or the ETM is enabled. Callers hold
// s.mu.
func (s *SimTarget) sourceEnabled() bool {
	return s.regs[coresight.ItmBase+regs.ItmTcr]&regs.ItmTcrItmEna != 0 ||
		s.regs[coresight.EtmBase+regs.EtmPrgCtlr]&regs.EtmPrgCtlrEn != 0
}

// packWords packs bytes little-endian into 32-bit RAM words, zero padding
// the final word.
func packWords(data []byte) []uint32 {
	words := make([]uint32, 0, (len(data)+3)/4)
	for i := 0; i < len(data); i += 4 {
		var w [4]byte
		copy(w[:], data[i:])
		words = append(words, binary.LittleEndian.Uint32(w[:]))
	}
	return words
}

func (s *SimTarget) String() string {
	return fmt.Sprintf("sim(cortex-m, %d comparators)", s.numComp)
}
