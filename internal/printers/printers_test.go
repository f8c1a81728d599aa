package printers

import (
	"bytes"
	"strings"
	"testing"

	"cmtrace/capture"
	"cmtrace/common"
	"cmtrace/trace"
)

type mockLogger struct {
	common.NoOpLogger
	bytes.Buffer
}

func (m *mockLogger) Info(msg string) {
	m.WriteString(msg)
}

func TestItemPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := NewItemPrinter(&buf)

	p.SetMute(true)
	if !p.IsMuted() {
		t.Error("expected muted")
	}

	p.MuteIDPrint(true)
	if !p.IDPrintMuted() {
		t.Error("expected id print muted")
	}

	ml := &mockLogger{}
	p.SetMessageLogger(ml)

	p.ItemPrintLine("Hello Test\n")
	if buf.String() != "Hello Test\n" {
		t.Errorf("buf string mismatch: %q", buf.String())
	}
	if ml.String() != "Hello Test\n" {
		t.Errorf("logger string mismatch: %q", ml.String())
	}
}

func TestEventPrinter(t *testing.T) {
	var buf bytes.Buffer
	ep := NewEventPrinter(&buf)
	ep.SetCollectStats()

	instr := trace.Event{Kind: trace.InstructionExecuted, Index: 6, Address: 0x080046B0, Comparator: 0}

	ep.SetMute(true)
	ep.EventIn(1, instr)
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
	ep.SetMute(false)

	ep.MuteIDPrint(true)
	ep.EventIn(1, instr)
	if expt := "Idx:6; INSTR; PC=0x080046B0; cmp=0\n"; buf.String() != expt {
		t.Errorf("expected %q, got %q", expt, buf.String())
	}
	ep.MuteIDPrint(false)
	buf.Reset()

	ep.PrintEvents(0x1a, []trace.Event{
		{Kind: trace.Sync, Index: 0},
		instr,
	})
	expt := "Idx:0; ID:1a; SYNC\nIdx:6; ID:1a; INSTR; PC=0x080046B0; cmp=0\n"
	if buf.String() != expt {
		t.Errorf("expected %q, got %q", expt, buf.String())
	}

	// muted events still count
	if got := ep.Count(trace.InstructionExecuted); got != 3 {
		t.Errorf("INSTR count = %d, want 3", got)
	}
	if got := ep.Count(trace.Sync); got != 1 {
		t.Errorf("SYNC count = %d, want 1", got)
	}

	buf.Reset()
	ep.PrintStats()
	out := buf.String()
	if !strings.HasPrefix(out, "Trace events processed:-\n") {
		t.Errorf("stats header missing: %q", out)
	}
	for _, line := range []string{"SYNC : 1\n", "INSTR : 3\n", "UNKNOWN : 0\n"} {
		if !strings.Contains(out, line) {
			t.Errorf("stats lack %q:\n%s", line, out)
		}
	}
}

func TestRawBufferPrinter(t *testing.T) {
	var buf bytes.Buffer
	rp := NewRawBufferPrinter(&buf)

	data := []byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff, 0x12, 0x34}
	raw := capture.RawTraceBuffer{Data: data, Sink: capture.SinkTraceMemory}

	rp.SetMute(true)
	rp.BufferIn(raw, false)
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
	rp.SetMute(false)

	tests := []struct {
		desc      string
		buf       capture.RawTraceBuffer
		formatted bool
		exptStr   string
	}{
		{
			desc:    "empty",
			buf:     capture.RawTraceBuffer{Sink: capture.SinkExternalPort},
			exptStr: "Raw Data; external-port; 0 bytes\n<empty>\n",
		},
		{
			desc: "two lines",
			buf:  raw,
			exptStr: "Raw Data; trace-memory; 18 bytes\n" +
				"Data; Index      0; 00 11 22 33 44 55 66 77 88 99 aa bb cc dd ee ff \n" +
				"Data; Index     16; 12 34 \n",
		},
		{
			desc:      "formatted",
			buf:       capture.RawTraceBuffer{Data: data[:2], Sink: capture.SinkTraceMemory},
			formatted: true,
			exptStr:   "Raw Data; trace-memory; 2 bytes\nFrame; Index      0; 00 11 \n",
		},
	}

	for _, tc := range tests {
		t.Run(tc.desc, func(t *testing.T) {
			buf.Reset()
			rp.BufferIn(tc.buf, tc.formatted)
			if buf.String() != tc.exptStr {
				t.Errorf("\nexpected:\n%q\nactual:\n%q", tc.exptStr, buf.String())
			}
		})
	}
}
