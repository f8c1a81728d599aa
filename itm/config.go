package itm

import (
	icommon "cmtrace/internal/common"
	iitm "cmtrace/internal/itm"
	"cmtrace/internal/ocsd"
	"cmtrace/internal/regs"
)

// Config is the static programming of the ITM and the DWT trace sources.
type Config struct {
	// TraceID is the CoreSight trace bus ID (1..0x6F) stamped on ITM output
	// when it passes through a formatter.
	TraceID uint8
	// TSPrescale divides the local timestamp clock: 1, 4, 16 or 64.
	TSPrescale uint32
	// Timestamps enables local timestamp packets.
	Timestamps bool

	// PCSampling enables periodic PC sample packets.
	PCSampling bool
	// PCSampleRate is the POSTPRESET reload (0..15). With CycTap the
	// counter decrements every 1024 cycles, otherwise every 64.
	PCSampleRate uint8
	CycTap       bool

	// ExceptionTrace enables exception entry/exit/return packets.
	ExceptionTrace bool
	// StimulusPorts is the ITM_TER mask of software stimulus ports.
	StimulusPorts uint32
	// Formatted is set when the trace passes through a CoreSight formatter
	// on its way to the sink.
	Formatted bool
}

// DefaultConfig is free running PC sampling with exception trace and local
// timestamps, trace ID 1, no prescaling.
func DefaultConfig() Config {
	return Config{
		TraceID:        1,
		TSPrescale:     1,
		Timestamps:     true,
		PCSampling:     true,
		PCSampleRate:   0xF,
		CycTap:         true,
		ExceptionTrace: true,
		StimulusPorts:  0x00000001,
	}
}

// Validate checks the fields that have a restricted range.
func (c Config) Validate() error {
	if !ocsd.IsValidCSSrcID(c.TraceID) {
		return icommon.NewComponentError(ocsd.CmpnamePrefixITM, ocsd.ErrInvalidParamVal,
			"trace ID 0x%02X outside 0x01..0x6F", c.TraceID)
	}
	if c.PCSampleRate > 0xF {
		return icommon.NewComponentError(ocsd.CmpnamePrefixITM, ocsd.ErrInvalidParamVal,
			"PC sample rate %d outside 0..15", c.PCSampleRate)
	}
	probe := iitm.NewConfig(0)
	if !probe.SetTSPrescale(c.prescale()) {
		return icommon.NewComponentError(ocsd.CmpnamePrefixITM, ocsd.ErrInvalidParamVal,
			"timestamp prescaler %d not one of 1, 4, 16, 64", c.TSPrescale)
	}
	return nil
}

func (c Config) prescale() uint32 {
	if c.TSPrescale == 0 {
		return 1
	}
	return c.TSPrescale
}

// TCR returns the ITM_TCR value that enables the macrocell with this
// configuration. Config must be valid.
func (c Config) TCR() uint32 {
	ic := iitm.NewConfig(regs.ItmTcrItmEna | regs.ItmTcrSyncEna | regs.ItmTcrDwtEna)
	ic.SetTraceID(c.TraceID)
	ic.SetTSPrescale(c.prescale())
	if c.Timestamps {
		ic.RegTCR |= regs.ItmTcrTsEna
	}
	return ic.RegTCR
}

// dwtCtrl returns the DWT_CTRL bits to clear and to set.
func (c Config) dwtCtrl() (clear, set uint32) {
	clear = regs.DwtCtrlPCSampleEna | regs.DwtCtrlExcTrcEna | regs.DwtCtrlCycTap |
		regs.DwtCtrlPostPreset | regs.DwtCtrlPostInit | regs.DwtCtrlSyncTap
	// sync packets every 2^24 cycles; the cycle counter drives both the
	// sync tap and the sample timer
	set = 0x1<<10 | regs.DwtCtrlCycCntEna
	if c.PCSampling {
		set |= regs.DwtCtrlPCSampleEna
		set |= uint32(c.PCSampleRate) << 1
		set |= uint32(c.PCSampleRate) << 5
		if c.CycTap {
			set |= regs.DwtCtrlCycTap
		}
	}
	if c.ExceptionTrace {
		set |= regs.DwtCtrlExcTrcEna
	}
	return clear, set
}
