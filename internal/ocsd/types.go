package ocsd

// Trace Indexing and Channel IDs

// TrcIndex is the byte offset of a packet in a trace stream, counted from
// the last decoder reset.
type TrcIndex uint64

const (
	// BadTrcIndex is an invalid trace index value
	BadTrcIndex TrcIndex = ^TrcIndex(0)

	// BadCSSrcID is an invalid trace source ID value
	BadCSSrcID uint8 = 0xFF
)

// IsValidCSSrcID returns true if trace source ID is in valid range (0x0 < ID < 0x70)
func IsValidCSSrcID(id uint8) bool {
	return id > 0 && id < 0x70
}

// IsReservedCSSrcID returns true if trace source ID is in reserved range (ID == 0 || 0x70 <= ID <= 0x7F)
func IsReservedCSSrcID(id uint8) bool {
	return id == 0 || (id >= 0x70 && id <= 0x7F)
}

// General Library Return and Error Codes

// Err represents library error return type
type Err uint32

const (
	OK                   Err = 0
	ErrFail              Err = 1
	ErrNotInit           Err = 2
	ErrInvalidParamVal   Err = 3
	ErrProbeNotFound     Err = 4
	ErrAttachFailure     Err = 5
	ErrComponentNotFound Err = 6
	ErrInvalidIndex      Err = 7
	ErrHardware          Err = 8
	ErrTransport         Err = 9
	ErrSinkEmpty         Err = 10
	ErrMalformedFrame    Err = 11
	ErrBadPacketSeq      Err = 12
	ErrInvalidPcktHdr    Err = 13
	ErrIncompleteFrame   Err = 14
	ErrUnsupported       Err = 15
	ErrDfrmtrBadFhsync   Err = 16
	ErrFileError         Err = 17
	ErrLast              Err = 18
)

// IsDecodeErr returns true for codes that describe a local decode problem
// in the trace stream rather than a configuration or transport failure.
func IsDecodeErr(e Err) bool {
	switch e {
	case ErrMalformedFrame, ErrBadPacketSeq, ErrInvalidPcktHdr, ErrIncompleteFrame, ErrDfrmtrBadFhsync:
		return true
	}
	return false
}

// ErrSeverity used to indicate the severity of an error or logger verbosity
type ErrSeverity uint32

const (
	ErrSevNone  ErrSeverity = 0
	ErrSevError ErrSeverity = 1
	ErrSevWarn  ErrSeverity = 2
	ErrSevInfo  ErrSeverity = 3
)

// Component Name Prefixes

const (
	CmpnamePrefixLocator   = "LOC"
	CmpnamePrefixDWT       = "DWT"
	CmpnamePrefixITM       = "ITM"
	CmpnamePrefixETM       = "ETM"
	CmpnamePrefixSink      = "SINK"
	CmpnamePrefixPktproc   = "PKTP"
	CmpnamePrefixPktdec    = "PDEC"
	CmpnamePrefixDeformat  = "DFMT"
	CmpnamePrefixTransport = "XPRT"
	CmpnamePrefixTarget    = "TGT"
	CmpnamePrefixCore      = "CORE"
	CmpnamePrefixPipeline  = "PIPE"
	CmpnamePrefixProfile   = "PROF"
)
