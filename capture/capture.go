// Package capture selects the trace sink, runs the capture window and reads
// the raw trace back.
package capture

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/pkg/errors"

	"cmtrace/common"
	"cmtrace/coresight"
	"cmtrace/frame"
	icommon "cmtrace/internal/common"
	"cmtrace/internal/ocsd"
	"cmtrace/internal/regs"
	"cmtrace/target"
	"cmtrace/transport"
)

const readyPollAttempts = 100

// Capture owns the trace sink of one target session. Only one sink is
// active at a time.
type Capture struct {
	sess       *transport.Session
	components []coresight.Component
	logger     common.Logger

	sink     Sink
	selected bool
	comp     coresight.Component
}

// New returns a capture with no sink selected.
func New(sess *transport.Session, components []coresight.Component, logger common.Logger) *Capture {
	return &Capture{
		sess:       sess,
		components: components,
		logger:     common.ForComponent(logger, ocsd.CmpnamePrefixSink),
	}
}

// Sink returns the selected sink.
func (c *Capture) Sink() Sink {
	return c.sink
}

// Ready reports that a sink has been selected and is collecting.
func (c *Capture) Ready() bool {
	return c.selected && c.sink.Kind != SinkDisabled
}

func sinkError(code ocsd.Err, format string, args ...any) error {
	return icommon.NewComponentError(ocsd.CmpnamePrefixSink, code, format, args...)
}

func (s Sink) validate() error {
	switch s.Kind {
	case SinkDisabled:
	case SinkTraceMemory:
		if s.Capacity <= 0 {
			return sinkError(ocsd.ErrInvalidParamVal, "trace memory capacity %d", s.Capacity)
		}
	case SinkExternalPort:
		if s.PortProtocol != PortManchester && s.PortProtocol != PortNRZ {
			return sinkError(ocsd.ErrUnsupported, "%s trace port not supported", s.PortProtocol)
		}
		if s.SWOPrescaler == 0 || s.SWOPrescaler > 0x2000 {
			return sinkError(ocsd.ErrInvalidParamVal, "SWO prescaler %d outside 1..8192", s.SWOPrescaler)
		}
	default:
		return sinkError(ocsd.ErrInvalidParamVal, "unknown sink kind %d", int(s.Kind))
	}
	return nil
}

// SelectSink makes sink the active sink, stopping the previous one.
func (c *Capture) SelectSink(ctx context.Context, sink Sink) error {
	if err := sink.validate(); err != nil {
		return err
	}

	var comp coresight.Component
	var err error
	switch sink.Kind {
	case SinkTraceMemory:
		comp, err = coresight.Find(c.components, coresight.Tmc)
	case SinkExternalPort:
		comp, err = coresight.Find(c.components, coresight.Tpiu)
	}
	if err != nil {
		return err
	}

	if err := c.Disable(ctx); err != nil {
		return errors.Wrap(err, "stop previous sink")
	}

	switch sink.Kind {
	case SinkTraceMemory:
		err = c.programTMC(ctx, comp, sink)
	case SinkExternalPort:
		err = c.programTPIU(ctx, comp, sink)
	}
	if err != nil {
		return err
	}

	c.sink = sink
	c.comp = comp
	c.selected = true
	c.logger.Logf(common.SeverityInfo, "sink %s on %s", sink, comp)
	return nil
}

func (c *Capture) programTMC(ctx context.Context, tmc coresight.Component, sink Sink) error {
	var ffcr uint32
	if sink.Formatted {
		ffcr = regs.TmcFfcrEnFt | regs.TmcFfcrEnTI
	}
	seq := []struct {
		name string
		off  uint32
		val  uint32
	}{
		{"TMC_CTL", regs.TmcCtl, 0},
		{"TMC_MODE", regs.TmcMode, regs.TmcModeCB},
		{"TMC_FFCR", regs.TmcFfcr, ffcr},
		{"TMC_BUFWM", regs.TmcBufWM, uint32(sink.Capacity+3) / 4},
		{"TMC_CTL", regs.TmcCtl, regs.TmcCtlCaptEn},
	}
	for _, w := range seq {
		if err := c.sess.Write(ctx, tmc.Reg(w.off), w.val); err != nil {
			return errors.Wrapf(err, "write %s", w.name)
		}
	}
	return nil
}

func (c *Capture) programTPIU(ctx context.Context, tpiu coresight.Component, sink Sink) error {
	var ffcr uint32
	if sink.Formatted {
		ffcr = regs.TpiuFfcrEnFCont | regs.TpiuFfcrTrigIn
	}
	seq := []struct {
		name string
		off  uint32
		val  uint32
	}{
		{"TPIU_CSPSR", regs.TpiuCspsr, 1},
		{"TPIU_SPPR", regs.TpiuSppr, uint32(sink.PortProtocol)},
		{"TPIU_ACPR", regs.TpiuAcpr, sink.SWOPrescaler - 1},
		{"TPIU_FFCR", regs.TpiuFfcr, ffcr},
	}
	for _, w := range seq {
		if err := c.sess.Write(ctx, tpiu.Reg(w.off), w.val); err != nil {
			return errors.Wrapf(err, "write %s", w.name)
		}
	}
	return nil
}

// Disable stops the active sink. It is safe to call in any state.
func (c *Capture) Disable(ctx context.Context) error {
	if !c.selected {
		return nil
	}
	var err error
	switch c.sink.Kind {
	case SinkTraceMemory:
		err = c.sess.Write(ctx, c.comp.Reg(regs.TmcCtl), 0)
	case SinkExternalPort:
		err = c.sess.Write(ctx, c.comp.Reg(regs.TpiuFfcr), 0)
	}
	if err != nil {
		return errors.Wrapf(err, "stop %s", c.sink.Kind)
	}
	c.sink = Disabled()
	c.selected = false
	return nil
}

// RunCaptureWindow optionally resets the target through core, then waits
// for window while trace collects. Cancelling ctx ends the wait at once
// with ctx.Err() and leaves the hardware as it is.
func (c *Capture) RunCaptureWindow(ctx context.Context, core target.Core, resetTarget bool, window time.Duration) error {
	if !c.Ready() {
		return sinkError(ocsd.ErrNotInit, "no trace sink selected")
	}
	if resetTarget {
		if core == nil {
			return sinkError(ocsd.ErrInvalidParamVal, "reset requested without a core")
		}
		if err := core.Reset(ctx); err != nil {
			return errors.Wrap(err, "reset target")
		}
	}

	c.logger.Logf(common.SeverityDebug, "capturing for %s", window)
	t := time.NewTimer(window)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ReadRawBuffer stops collection and reads back at most maxBytes of trace.
// A maxBytes of zero or less means the sink's own limit. An empty sink
// gives an empty buffer and no error.
func (c *Capture) ReadRawBuffer(ctx context.Context, maxBytes int) (RawTraceBuffer, error) {
	if !c.Ready() {
		return RawTraceBuffer{}, sinkError(ocsd.ErrNotInit, "no trace sink selected")
	}

	var data []byte
	var err error
	switch c.sink.Kind {
	case SinkTraceMemory:
		limit := c.sink.Capacity
		if maxBytes > 0 && maxBytes < limit {
			limit = maxBytes
		}
		data, err = c.drainTMC(ctx, limit)
	case SinkExternalPort:
		limit := DefaultSWOBuffer
		if maxBytes > 0 {
			limit = maxBytes
		}
		data, err = c.readSWO(ctx, limit)
	}
	if err != nil {
		return RawTraceBuffer{}, err
	}

	buf := RawTraceBuffer{Data: data, Sink: c.sink.Kind}
	if buf.Empty() {
		c.logger.Warning(icommon.NewComponentError(ocsd.CmpnamePrefixSink, ocsd.ErrSinkEmpty,
			"%s returned no trace", c.sink.Kind).Error())
	} else {
		c.logger.Logf(common.SeverityInfo, "read %d bytes from %s", buf.Len(), c.sink.Kind)
	}
	return buf, nil
}

func (c *Capture) drainTMC(ctx context.Context, limit int) ([]byte, error) {
	if err := c.sess.Modify(ctx, c.comp.Reg(regs.TmcFfcr), 0, regs.TmcFfcrStopOnFl|regs.TmcFfcrFlushMan); err != nil {
		return nil, errors.Wrap(err, "flush TMC")
	}
	ready, err := c.sess.Poll(ctx, c.comp.Reg(regs.TmcSts), regs.TmcStsReady, regs.TmcStsReady, readyPollAttempts)
	if err != nil {
		return nil, errors.Wrap(err, "wait TMC ready")
	}
	if !ready {
		return nil, sinkError(ocsd.ErrHardware, "TMC_STS.TMCReady not set after %d reads", readyPollAttempts)
	}
	if err := c.sess.Write(ctx, c.comp.Reg(regs.TmcCtl), 0); err != nil {
		return nil, errors.Wrap(err, "stop TMC")
	}

	data := make([]byte, 0, limit+3)
	for len(data) < limit {
		w, err := c.sess.Read(ctx, c.comp.Reg(regs.TmcRrd))
		if err != nil {
			return nil, errors.Wrap(err, "read TMC_RRD")
		}
		if w == regs.TmcRrdEmpty {
			break
		}
		data = binary.LittleEndian.AppendUint32(data, w)
	}
	if len(data) > limit {
		data = data[:limit]
	}
	return data, nil
}

func (c *Capture) readSWO(ctx context.Context, limit int) ([]byte, error) {
	swo, ok := c.sess.Access().(transport.SWOReader)
	if !ok {
		return nil, sinkError(ocsd.ErrUnsupported, "probe does not capture the serial wire output")
	}
	data, err := swo.ReadSWO(ctx, limit)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, errors.Wrap(icommon.NewComponentError(ocsd.CmpnamePrefixSink, ocsd.ErrTransport, "%v", err), "read SWO")
	}
	return data, nil
}

// Deformat extracts the stream of traceID from formatted trace. A trailing
// partial frame is dropped.
func Deformat(buf RawTraceBuffer, traceID uint8) (RawTraceBuffer, error) {
	if !ocsd.IsValidCSSrcID(traceID) {
		return RawTraceBuffer{}, icommon.NewComponentError(ocsd.CmpnamePrefixDeformat, ocsd.ErrInvalidParamVal,
			"trace ID 0x%02X outside 0x01..0x6F", traceID)
	}
	d := frame.NewDemuxer()
	d.MemAligned = buf.Sink != SinkExternalPort
	d.Process(buf.Data)
	return RawTraceBuffer{Data: append([]byte(nil), d.IDData(traceID)...), Sink: buf.Sink}, nil
}
