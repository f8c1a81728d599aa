package common

import (
	"errors"
	"fmt"
	"testing"

	pkgerrors "github.com/pkg/errors"

	"cmtrace/internal/ocsd"
)

func TestErrorStrings(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "Invalid SevNone",
			err:      NewError(ocsd.ErrSevNone, ocsd.OK),
			expected: "LIBRARY INTERNAL ERROR: Invalid Error Object",
		},
		{
			name:     "Invalid Sev Out of Bounds",
			err:      NewError(ocsd.ErrSeverity(99), ocsd.OK),
			expected: "LIBRARY INTERNAL ERROR: Invalid Error Object",
		},
		{
			name:     "Error Basic",
			err:      NewError(ocsd.ErrSevError, ocsd.ErrFail),
			expected: "ERROR:0x0001 (CMT_ERR_FAIL) [General failure.]; ",
		},
		{
			name:     "Warning with index",
			err:      NewErrorWithIdxMsg(ocsd.ErrSevWarn, ocsd.ErrBadPacketSeq, 12345, ""),
			expected: "WARN :0x000c (CMT_ERR_BAD_PACKET_SEQ) [Bad packet sequence]; TrcIdx=12345; ",
		},
		{
			name:     "Error with msg",
			err:      NewErrorMsg(ocsd.ErrSevError, ocsd.ErrNotInit, "Custom message here"),
			expected: "ERROR:0x0002 (CMT_ERR_NOT_INIT) [Component not initialised.]; Custom message here",
		},
		{
			name:     "Component error",
			err:      NewComponentError("DWT", ocsd.ErrInvalidIndex, "comparator %d of %d", 4, 4),
			expected: "ERROR:0x0007 (CMT_ERR_INVALID_INDEX) [Comparator index out of hardware range.]; Comp=DWT; comparator 4 of 4",
		},
		{
			name:     "Unknown error code",
			err:      NewError(ocsd.ErrSevError, 9999),
			expected: "ERROR:0x270f (unknown); ",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.err.Error()
			if got != tc.expected {
				t.Errorf("Expected string: %q, got: %q", tc.expected, got)
			}
		})
	}
}

func TestErrorIsThroughWrapping(t *testing.T) {
	base := NewComponentError("ITM", ocsd.ErrComponentNotFound, "no ITM")
	wrapped := pkgerrors.Wrapf(base, "load macrocell")
	wrapped = fmt.Errorf("pipeline: %w", wrapped)

	if !errors.Is(wrapped, Code(ocsd.ErrComponentNotFound)) {
		t.Errorf("errors.Is did not match code through wrapping: %v", wrapped)
	}
	if errors.Is(wrapped, Code(ocsd.ErrTransport)) {
		t.Errorf("errors.Is matched the wrong code")
	}
	if got := CodeOf(wrapped); got != ocsd.ErrComponentNotFound {
		t.Errorf("CodeOf = %d, want %d", got, ocsd.ErrComponentNotFound)
	}
	if got := CodeOf(errors.New("plain")); got != ocsd.ErrFail {
		t.Errorf("CodeOf(plain) = %d, want ErrFail", got)
	}
	if got := CodeOf(nil); got != ocsd.OK {
		t.Errorf("CodeOf(nil) = %d, want OK", got)
	}
}

func TestCodeName(t *testing.T) {
	if got := CodeName(ocsd.ErrSinkEmpty); got != "CMT_ERR_SINK_EMPTY" {
		t.Errorf("CodeName = %q", got)
	}
	if got := CodeName(ocsd.Err(500)); got != "unknown" {
		t.Errorf("CodeName(500) = %q", got)
	}
	if !ocsd.IsDecodeErr(ocsd.ErrInvalidPcktHdr) || ocsd.IsDecodeErr(ocsd.ErrTransport) {
		t.Errorf("IsDecodeErr classification wrong")
	}
}
