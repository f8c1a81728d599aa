// Package lister drives the command line tools: it runs a capture or an
// offline decode and prints the raw trace and the decoded events.
package lister

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"

	"cmtrace/capture"
	"cmtrace/common"
	"cmtrace/etm"
	"cmtrace/frame"
	icommon "cmtrace/internal/common"
	"cmtrace/internal/ocsd"
	"cmtrace/internal/pipeline"
	"cmtrace/internal/printers"
	"cmtrace/target"
	"cmtrace/trace"
)

// simComparators is the comparator count of the simulated DWT.
const simComparators = 4

// Config mirrors the command line arguments of trace_capture.
type Config struct {
	Pipeline pipeline.Config
	// SimTrace is the trace the simulated target emits. Nil emits the
	// start and stop markers once.
	SimTrace []byte

	Stats        bool
	NoRawPrint   bool
	NoTimePrint  bool
	OutputWriter io.Writer
	Logger       common.Logger
}

// MarkerTrace returns the trace a source emits when it passes the start
// and stop markers once: for the ETM an A-Sync and two address packets, for
// the ITM a synchronisation packet and one PC match packet from each of the
// start and stop comparators.
func MarkerTrace(src pipeline.Source, start, stop uint32, startIndex, stopIndex int) []byte {
	if src == pipeline.SourceITM {
		out := []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x80}
		out = append(out, pcPacket(startIndex, start)...)
		return append(out, pcPacket(stopIndex, stop)...)
	}
	out := append(make([]byte, 11), 0x80)
	out = append(out, etmAddress(start)...)
	return append(out, etmAddress(stop)...)
}

// pcPacket is a DWT data trace PC value packet for comparator n.
func pcPacket(n int, pc uint32) []byte {
	hdr := byte(8+2*n)<<3 | 0x07
	return []byte{hdr, byte(pc), byte(pc >> 8), byte(pc >> 16), byte(pc >> 24)}
}

// etmAddress is an ETMv4 long Thumb address packet with a 32 bit address.
func etmAddress(pc uint32) []byte {
	return []byte{0x9B, byte(pc>>1) & 0x7F, byte(pc >> 8), byte(pc >> 16), byte(pc >> 24)}
}

// Run captures trace from the simulated probe and prints it.
func Run(ctx context.Context, cfg Config) error {
	w := cfg.OutputWriter
	if w == nil {
		w = os.Stdout
	}
	pc := cfg.Pipeline

	fmt.Fprintf(w, "Trace Capture: Cortex-M %s instruction trace\n", strings.ToUpper(pc.Source.String()))
	fmt.Fprintln(w, "---------------------------------------------")

	trc := cfg.SimTrace
	if trc == nil {
		trc = MarkerTrace(pc.Source, uint32(pc.Start), uint32(pc.Stop), pc.StartIndex, pc.StopIndex)
		if pc.Formatted() {
			trc = frame.Pack(pc.TraceID(), trc)
		}
	}
	probe := target.NewSimProbe(simComparators, cfg.Logger)
	if pc.Sink.Kind == capture.SinkExternalPort {
		probe.Target.SetSWO(trc)
	} else {
		probe.Target.SetTrace(trc)
	}

	fmt.Fprintf(w, "Trace Capture : attaching to %s\n", pc.Target)
	sess, p, err := target.Open(ctx, probe, pc.Target, target.Permissions{AllowEraseAll: true})
	if err != nil {
		return err
	}
	defer p.Close()

	fmt.Fprintf(w, "Trace Capture : start 0x%08X (comparator %d), stop 0x%08X (comparator %d)\n",
		pc.Start, pc.StartIndex, pc.Stop, pc.StopIndex)
	fmt.Fprintf(w, "Trace Capture : sink %s, window %v\n", pc.Sink, pc.Window)

	begin := time.Now()
	res, err := pipeline.Run(ctx, sess, pc)
	if err != nil {
		return err
	}
	if res.TraceEnableErr != nil {
		fmt.Fprintf(w, "Trace Capture : trace enable failed: %v\n", res.TraceEnableErr)
	}

	if !cfg.NoRawPrint {
		rp := printers.NewRawBufferPrinter(w)
		rp.BufferIn(res.Raw, pc.Formatted())
	}
	printEvents(w, pc.TraceID(), res.Events, cfg.Stats)

	if !cfg.NoTimePrint {
		fmt.Fprintf(w, "Trace Capture : elapsed %v\n", time.Since(begin).Round(time.Millisecond))
	}
	return nil
}

func printEvents(w io.Writer, traceID uint8, evs []trace.Event, stats bool) {
	ep := printers.NewEventPrinter(w)
	if stats {
		ep.SetCollectStats()
	}
	ep.PrintEvents(traceID, evs)
	if stats {
		ep.PrintStats()
	}
}

// DecodeConfig mirrors the command line arguments of trc_decode.
type DecodeConfig struct {
	Input      string
	Source     pipeline.Source
	Formatted  bool
	TraceID    uint8
	TSPrescale uint32

	Stats        bool
	OutputWriter io.Writer
	Logger       common.Logger
}

// Decode decodes a raw trace dump file.
func Decode(cfg DecodeConfig) error {
	w := cfg.OutputWriter
	if w == nil {
		w = os.Stdout
	}
	logger := common.ForComponent(cfg.Logger, ocsd.CmpnamePrefixPktdec)

	data, err := os.ReadFile(cfg.Input)
	if err != nil {
		return icommon.NewComponentError(ocsd.CmpnamePrefixPktdec, ocsd.ErrFileError, "%v", err)
	}
	fmt.Fprintf(w, "Trace Decode : reading %d bytes from %s\n", len(data), cfg.Input)

	buf := capture.RawTraceBuffer{Data: data, Sink: capture.SinkTraceMemory}
	if cfg.Formatted {
		if buf, err = capture.Deformat(buf, cfg.TraceID); err != nil {
			return errors.Wrap(err, "deformat trace")
		}
		logger.Logf(common.SeverityInfo, "trace ID 0x%x: %d bytes after deformatting", cfg.TraceID, buf.Len())
	}

	dec := trace.NewDecoder(decoderConfig(cfg))
	evs := trace.Collect(dec.Feed(buf.Data))
	evs = append(evs, trace.Collect(dec.Close())...)
	logger.Logf(common.SeverityInfo, "decoded %d events", len(evs))

	printEvents(w, cfg.TraceID, evs, cfg.Stats)
	return nil
}

// decoderConfig is the decoder setup for an offline decode. The ETM
// registers cannot be read offline: the ID registers are left zero, which
// selects the Cortex-M7 values, and TRCCONFIGR is the default programming.
func decoderConfig(cfg DecodeConfig) trace.Config {
	tc := trace.Config{TraceID: cfg.TraceID, TSPrescale: cfg.TSPrescale}
	if cfg.Source == pipeline.SourceETM {
		tc.Protocol = trace.ProtocolETMv4
		tc.ETM.ConfigR = etm.DefaultConfig().CONFIGR()
	}
	return tc
}
