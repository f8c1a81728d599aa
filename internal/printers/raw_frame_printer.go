package printers

import (
	"fmt"
	"io"
	"strings"

	"cmtrace/capture"
)

// RawBufferPrinter prints raw trace read back from a sink as a hex dump,
// 16 bytes per line.
type RawBufferPrinter struct {
	ItemPrinter
}

// NewRawBufferPrinter creates a new printer for raw trace buffers.
func NewRawBufferPrinter(writer io.Writer) *RawBufferPrinter {
	return &RawBufferPrinter{
		ItemPrinter: *NewItemPrinter(writer),
	}
}

// BufferIn prints buf. Formatted trace is printed frame by frame.
func (p *RawBufferPrinter) BufferIn(buf capture.RawTraceBuffer, formatted bool) {
	if p.IsMuted() {
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Raw Data; %s; %d bytes\n", buf.Sink, buf.Len())
	if buf.Empty() {
		sb.WriteString("<empty>\n")
		p.ItemPrintLine(sb.String())
		return
	}

	lineBytes := 0
	for i, b := range buf.Data {
		if lineBytes == 16 {
			sb.WriteString("\n")
			lineBytes = 0
		}
		if lineBytes == 0 {
			label := "Data"
			if formatted {
				label = "Frame"
			}
			fmt.Fprintf(&sb, "%s; Index%7d; ", label, i)
		}
		fmt.Fprintf(&sb, "%02x ", b)
		lineBytes++
	}
	sb.WriteString("\n")
	p.ItemPrintLine(sb.String())
}
