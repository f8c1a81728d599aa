package printers

import (
	"fmt"
	"io"

	"cmtrace/common"
)

// ItemPrinter is the shared base of the trace printers: it writes lines to
// an io.Writer and optionally copies them to a logger.
type ItemPrinter struct {
	writer      io.Writer
	logger      common.Logger
	muted       bool
	idPrintMute bool
}

// NewItemPrinter constructs an ItemPrinter using the given io.Writer.
func NewItemPrinter(writer io.Writer) *ItemPrinter {
	return &ItemPrinter{
		writer: writer,
	}
}

// SetMessageLogger sets the optional logger that receives every line.
func (p *ItemPrinter) SetMessageLogger(logger common.Logger) {
	p.logger = logger
}

// ItemPrintLine writes the given message to the writer and optionally logs it.
func (p *ItemPrinter) ItemPrintLine(msg string) {
	if p.writer != nil {
		fmt.Fprint(p.writer, msg)
	}
	if p.logger != nil {
		p.logger.Info(msg)
	}
}

// SetMute sets the trace printer to mute (avoids output).
func (p *ItemPrinter) SetMute(mute bool) { p.muted = mute }

// IsMuted returns true if the trace printer is muted.
func (p *ItemPrinter) IsMuted() bool { return p.muted }

// MuteIDPrint mutes or unmutes printing the trace ID in the output lines.
func (p *ItemPrinter) MuteIDPrint(mute bool) { p.idPrintMute = mute }

// IDPrintMuted returns whether trace ID printing is muted.
func (p *ItemPrinter) IDPrintMuted() bool { return p.idPrintMute }
