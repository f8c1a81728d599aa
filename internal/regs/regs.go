// Package regs holds the register layout of the ARMv7-M / ARMv8-M debug and
// trace components programmed by the capture pipeline.
package regs

// System Control Space (absolute addresses).
const (
	AIRCR = 0xE000ED0C
	DHCSR = 0xE000EDF0
	DEMCR = 0xE000EDFC

	AIRCRKey         = 0x05FA << 16
	AIRCRSysResetReq = 1 << 2

	DHCSRKey     = 0xA05F << 16
	DHCSRDebugEn = 1 << 0
	DHCSRHalt    = 1 << 1
	DHCSRSHalt   = 1 << 17

	DEMCRVCCoreReset = 1 << 0
	DEMCRTrcEna      = 1 << 24
)

// Common CoreSight management registers (offsets).
const (
	LAR   = 0xFB0
	LSR   = 0xFB4
	PIDR4 = 0xFD0
	PIDR0 = 0xFE0
	PIDR1 = 0xFE4
	PIDR2 = 0xFE8
	PIDR3 = 0xFEC

	LARUnlockKey = 0xC5ACCE55

	// JEP106 identity of ARM Ltd as encoded in PIDR1[7:4] and PIDR2[2:0].
	DesignerARM = 0x3B
)

// DWT (offsets).
const (
	DwtCtrl   = 0x000
	DwtCyccnt = 0x004

	DwtCtrlCycCntEna    = 1 << 0
	DwtCtrlPostPreset   = 0xF << 1
	DwtCtrlPostInit     = 0xF << 5
	DwtCtrlCycTap       = 1 << 9
	DwtCtrlSyncTap      = 0x3 << 10
	DwtCtrlPCSampleEna  = 1 << 12
	DwtCtrlExcTrcEna    = 1 << 16
	DwtCtrlCycEvtEna    = 1 << 22
	DwtCtrlNumCompShift = 28

	// FUNCTION register fields (ARMv8-M MATCH/ACTION layout).
	DwtFuncMatchMask   = 0xF
	DwtFuncActionShift = 4
	DwtFuncActionMask  = 0x3 << 4
	DwtFuncCfgMask     = 0xFFF

	DwtMatchDisabled   = 0x0
	DwtMatchCycleCount = 0x1
	DwtMatchInstrAddr  = 0x2
	DwtMatchDataAddrRW = 0x6

	DwtActionTrigger = 0x0
	DwtActionTrace   = 0x2
)

// DwtComp returns the offset of comparator n's COMP register.
func DwtComp(n int) uint32 { return 0x020 + 16*uint32(n) }

// DwtMask returns the offset of comparator n's MASK register.
func DwtMask(n int) uint32 { return 0x024 + 16*uint32(n) }

// DwtFunction returns the offset of comparator n's FUNCTION register.
func DwtFunction(n int) uint32 { return 0x028 + 16*uint32(n) }

// ITM (offsets).
const (
	ItmStim0 = 0x000
	ItmTer   = 0xE00
	ItmTpr   = 0xE40
	ItmTcr   = 0xE80

	ItmTcrItmEna     = 1 << 0
	ItmTcrTsEna      = 1 << 1
	ItmTcrSyncEna    = 1 << 2
	ItmTcrDwtEna     = 1 << 3
	ItmTcrSwoEna     = 1 << 4
	ItmTcrPrescShift = 8
	ItmTcrPrescMask  = 0x3 << 8
	ItmTcrBusIDShift = 16
	ItmTcrBusIDMask  = 0x7F << 16
	ItmTcrBusy       = 1 << 23
)

// ETMv4 (offsets).
const (
	EtmPrgCtlr    = 0x004
	EtmStatr      = 0x00C
	EtmConfigr    = 0x010
	EtmEventCtl0r = 0x020
	EtmEventCtl1r = 0x024
	EtmStallCtlr  = 0x02C
	EtmTsCtlr     = 0x030
	EtmSyncPr     = 0x034
	EtmCcCtlr     = 0x038
	EtmBbCtlr     = 0x03C
	EtmTraceIDr   = 0x040
	EtmViCtlr     = 0x080
	EtmViieCtlr   = 0x084
	EtmVissCtlr   = 0x088
	EtmVipcssCtlr = 0x08C
	EtmIDR0       = 0x1E0
	EtmIDR1       = 0x1E4
	EtmIDR2       = 0x1E8
	EtmOslar      = 0x300

	EtmPrgCtlrEn      = 1 << 0
	EtmStatrIdle      = 1 << 0
	EtmStatrPmStable  = 1 << 1
	EtmConfigrBB      = 1 << 3
	EtmConfigrCCI     = 1 << 4
	EtmConfigrTS      = 1 << 11
	EtmViCtlrSSStatus = 1 << 9

	// resource 1 is the always-true resource selector
	EtmEventTrue = 0x01

	// PIDR part number of the Cortex-M7 ETM.
	EtmPartM7 = 0x975
)

// TMC in ETF/ETB circular buffer mode (offsets).
const (
	TmcRsz   = 0x004
	TmcSts   = 0x00C
	TmcRrd   = 0x010
	TmcRrp   = 0x014
	TmcRwp   = 0x018
	TmcCtl   = 0x020
	TmcMode  = 0x028
	TmcBufWM = 0x034
	TmcFfsr  = 0x300
	TmcFfcr  = 0x304

	TmcStsFull      = 1 << 0
	TmcStsReady     = 1 << 2
	TmcStsEmpty     = 1 << 4
	TmcCtlCaptEn    = 1 << 0
	TmcModeCB       = 0x0
	TmcFfcrEnFt     = 1 << 0
	TmcFfcrEnTI     = 1 << 1
	TmcFfcrFlushMan = 1 << 6
	TmcFfcrStopOnFl = 1 << 12

	TmcRrdEmpty = 0xFFFFFFFF
)

// TPIU (offsets).
const (
	TpiuCspsr = 0x004
	TpiuAcpr  = 0x010
	TpiuSppr  = 0x0F0
	TpiuFfsr  = 0x300
	TpiuFfcr  = 0x304

	TpiuSpprParallel   = 0
	TpiuSpprManchester = 1
	TpiuSpprNRZ        = 2

	TpiuFfcrEnFCont = 1 << 1
	TpiuFfcrTrigIn  = 1 << 8
)
