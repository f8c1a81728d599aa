package common

import (
	"errors"
	"fmt"
	"strings"

	"cmtrace/internal/ocsd"
)

// Error represents the library error object.
// Component names the pipeline stage that raised it (e.g. "DWT", "PKTP").
type Error struct {
	Code      ocsd.Err
	Sev       ocsd.ErrSeverity
	Idx       ocsd.TrcIndex
	Component string
	Message   string
}

func NewError(sev ocsd.ErrSeverity, code ocsd.Err) *Error {
	return &Error{
		Code: code,
		Sev:  sev,
		Idx:  ocsd.BadTrcIndex,
	}
}

func NewErrorMsg(sev ocsd.ErrSeverity, code ocsd.Err, msg string) *Error {
	return &Error{
		Code:    code,
		Sev:     sev,
		Idx:     ocsd.BadTrcIndex,
		Message: msg,
	}
}

func NewErrorWithIdxMsg(sev ocsd.ErrSeverity, code ocsd.Err, idx ocsd.TrcIndex, msg string) *Error {
	return &Error{
		Code:    code,
		Sev:     sev,
		Idx:     idx,
		Message: msg,
	}
}

// NewComponentError builds an error-severity Error attributed to a component.
func NewComponentError(component string, code ocsd.Err, format string, args ...any) *Error {
	return &Error{
		Code:      code,
		Sev:       ocsd.ErrSevError,
		Idx:       ocsd.BadTrcIndex,
		Component: component,
		Message:   fmt.Sprintf(format, args...),
	}
}

// Error implements the standard error interface.
func (e *Error) Error() string {
	var sb strings.Builder

	switch e.Sev {
	case ocsd.ErrSevNone:
		return "LIBRARY INTERNAL ERROR: Invalid Error Object"
	case ocsd.ErrSevError:
		sb.WriteString("ERROR:")
	case ocsd.ErrSevWarn:
		sb.WriteString("WARN :")
	case ocsd.ErrSevInfo:
		sb.WriteString("INFO :")
	default:
		return "LIBRARY INTERNAL ERROR: Invalid Error Object"
	}

	sb.WriteString(fmt.Sprintf("0x%04x ", e.Code))

	if desc, ok := errorCodeDesc[e.Code]; ok {
		sb.WriteString(fmt.Sprintf("(%s) [%s]; ", desc.name, desc.msg))
	} else {
		sb.WriteString("(unknown); ")
	}

	if e.Component != "" {
		sb.WriteString(fmt.Sprintf("Comp=%s; ", e.Component))
	}

	if e.Idx != ocsd.BadTrcIndex {
		sb.WriteString(fmt.Sprintf("TrcIdx=%d; ", e.Idx))
	}

	sb.WriteString(e.Message)
	return sb.String()
}

// Is matches any *Error carrying the same code, so callers can test
// errors.Is(err, common.Code(ocsd.ErrInvalidIndex)).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Code returns a match-only sentinel for errors.Is.
func Code(code ocsd.Err) *Error {
	return &Error{Code: code, Sev: ocsd.ErrSevError, Idx: ocsd.BadTrcIndex}
}

// CodeOf extracts the library code from err, looking through any wrapping.
// Errors that did not come from this library report ErrFail; nil reports OK.
func CodeOf(err error) ocsd.Err {
	if err == nil {
		return ocsd.OK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ocsd.ErrFail
}

// CodeName returns the symbolic name of an error code.
func CodeName(code ocsd.Err) string {
	if desc, ok := errorCodeDesc[code]; ok {
		return desc.name
	}
	return "unknown"
}

type errDesc struct {
	name string
	msg  string
}

var errorCodeDesc = map[ocsd.Err]errDesc{
	ocsd.OK:                   {"CMT_OK", "No Error."},
	ocsd.ErrFail:              {"CMT_ERR_FAIL", "General failure."},
	ocsd.ErrNotInit:           {"CMT_ERR_NOT_INIT", "Component not initialised."},
	ocsd.ErrInvalidParamVal:   {"CMT_ERR_INVALID_PARAM_VAL", "Invalid value parameter passed to component."},
	ocsd.ErrProbeNotFound:     {"CMT_ERR_PROBE_NOT_FOUND", "No debug probe available."},
	ocsd.ErrAttachFailure:     {"CMT_ERR_ATTACH_FAILURE", "Target attach failed."},
	ocsd.ErrComponentNotFound: {"CMT_ERR_COMPONENT_NOT_FOUND", "Required on-chip debug component not present."},
	ocsd.ErrInvalidIndex:      {"CMT_ERR_INVALID_INDEX", "Comparator index out of hardware range."},
	ocsd.ErrHardware:          {"CMT_ERR_HARDWARE", "Register write did not take effect."},
	ocsd.ErrTransport:         {"CMT_ERR_TRANSPORT", "Register access failed."},
	ocsd.ErrSinkEmpty:         {"CMT_ERR_SINK_EMPTY", "Trace sink holds no data."},
	ocsd.ErrMalformedFrame:    {"CMT_ERR_MALFORMED_FRAME", "Malformed trace frame."},
	ocsd.ErrBadPacketSeq:      {"CMT_ERR_BAD_PACKET_SEQ", "Bad packet sequence"},
	ocsd.ErrInvalidPcktHdr:    {"CMT_ERR_INVALID_PCKT_HDR", "Invalid packet header"},
	ocsd.ErrIncompleteFrame:   {"CMT_ERR_INCOMPLETE_FRAME", "Incomplete packet at end of trace."},
	ocsd.ErrUnsupported:       {"CMT_ERR_UNSUPPORTED", "Component version or configuration not supported."},
	ocsd.ErrDfrmtrBadFhsync:   {"CMT_ERR_DFMTR_BAD_FHSYNC", "Bad frame or half frame sync in trace deformatter"},
	ocsd.ErrFileError:         {"CMT_ERR_FILE_ERROR", "File access error"},
	ocsd.ErrLast:              {"CMT_ERR_LAST", "No error - error code end marker"},
}
