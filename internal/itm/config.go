package itm

import (
	"cmtrace/internal/regs"
)

var prescaleVals = []uint32{1, 4, 16, 64}

// Config is the decoder's view of the ITM programming: the value written to
// ITM_TCR carries the CoreSight trace ID and the local timestamp prescaler.
type Config struct {
	RegTCR uint32
}

// NewConfig creates a configuration from an ITM_TCR value.
func NewConfig(tcr uint32) *Config {
	return &Config{RegTCR: tcr}
}

// SetTraceID sets the CoreSight trace ID.
func (c *Config) SetTraceID(traceID uint8) {
	c.RegTCR &^= regs.ItmTcrBusIDMask
	c.RegTCR |= (uint32(traceID) << regs.ItmTcrBusIDShift) & regs.ItmTcrBusIDMask
}

// TraceID gets the CoreSight trace ID.
func (c *Config) TraceID() uint8 {
	return uint8((c.RegTCR & regs.ItmTcrBusIDMask) >> regs.ItmTcrBusIDShift)
}

// SetTSPrescale selects the local timestamp prescaler. Only 1, 4, 16 and 64
// are valid; anything else reports false and leaves the config unchanged.
// A prescaler other than 1 implies the TPIU clock source (SWOENA).
func (c *Config) SetTSPrescale(div uint32) bool {
	for i, v := range prescaleVals {
		if v != div {
			continue
		}
		c.RegTCR &^= regs.ItmTcrPrescMask | regs.ItmTcrSwoEna
		if i != 0 {
			c.RegTCR |= regs.ItmTcrSwoEna | uint32(i)<<regs.ItmTcrPrescShift
		}
		return true
	}
	return false
}

// TSPrescaleValue gets the prescaler for the local ts clock.
func (c *Config) TSPrescaleValue() uint32 {
	// the prescaler only applies when timestamps are clocked from the TPIU
	if c.RegTCR&regs.ItmTcrSwoEna == 0 {
		return 1
	}
	return prescaleVals[(c.RegTCR&regs.ItmTcrPrescMask)>>regs.ItmTcrPrescShift]
}
