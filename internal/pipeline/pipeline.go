// Package pipeline runs a complete capture: flash, arm the DWT start and
// stop comparators, select the sink, enable the macrocell (the ETM, or the
// ITM as a secondary source), run the target for the capture window, read
// the trace back and decode it.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"cmtrace/capture"
	"cmtrace/common"
	"cmtrace/coresight"
	"cmtrace/dwt"
	"cmtrace/etm"
	"cmtrace/image"
	icommon "cmtrace/internal/common"
	"cmtrace/internal/ocsd"
	"cmtrace/itm"
	"cmtrace/target"
	"cmtrace/trace"
)

// Source is the trace macrocell a run captures from.
type Source int

const (
	SourceETM Source = iota // ETMv4 instruction trace
	SourceITM               // ITM/DWT PC samples, comparator matches and exceptions
)

func (s Source) String() string {
	if s == SourceITM {
		return "itm"
	}
	return "etm"
}

// ParseSource parses a source name as printed by String.
func ParseSource(name string) (Source, error) {
	switch strings.ToLower(name) {
	case "etm", "etmv4":
		return SourceETM, nil
	case "itm", "dwt":
		return SourceITM, nil
	}
	return SourceETM, pipeError(ocsd.ErrInvalidParamVal, "unknown trace source %q, want etm or itm", name)
}

// Config is one capture run.
type Config struct {
	Target   string
	Firmware string // empty skips the download

	// PC addresses of the start and stop markers and the comparators that
	// watch them.
	Start, Stop           uint64
	StartIndex, StopIndex int

	Sink        capture.Sink
	Window      time.Duration
	ResetTarget bool
	MaxBytes    int

	Source Source
	// ETM is the ETM programming; nil selects etm.DefaultConfig.
	ETM *etm.Config
	// ITM is the ITM and DWT programming used with SourceITM; nil selects
	// itm.DefaultConfig.
	ITM *itm.Config
}

// DefaultConfig is the reference deployment: start marker 0x080046B0 on
// comparator 0, stop marker 0x080046C0 on comparator 1, 0x3E bytes of
// trace memory after a 5 second window following a reset.
func DefaultConfig() Config {
	return Config{
		Target:      "STM32H7B0VB",
		Firmware:    "../dma_test/main.elf",
		Start:       0x080046B0,
		Stop:        0x080046C0,
		StartIndex:  0,
		StopIndex:   1,
		Sink:        capture.TraceMemory(capture.DefaultCapacity),
		Window:      5 * time.Second,
		ResetTarget: true,
		MaxBytes:    capture.DefaultCapacity,
	}
}

// ETMConfig returns the ETM programming of the run.
func (c Config) ETMConfig() etm.Config {
	if c.ETM != nil {
		return *c.ETM
	}
	return etm.DefaultConfig()
}

// ITMConfig returns the ITM programming of the run.
func (c Config) ITMConfig() itm.Config {
	if c.ITM != nil {
		return *c.ITM
	}
	return itm.DefaultConfig()
}

// TraceID is the trace bus ID of the selected source.
func (c Config) TraceID() uint8 {
	if c.Source == SourceITM {
		return c.ITMConfig().TraceID
	}
	return c.ETMConfig().TraceID
}

// Formatted reports whether the trace reaches the sink through a formatter.
func (c Config) Formatted() bool {
	if c.Sink.Formatted {
		return true
	}
	if c.Source == SourceITM {
		return c.ITMConfig().Formatted
	}
	return c.ETMConfig().Formatted
}

// Result of a capture run.
type Result struct {
	Raw    capture.RawTraceBuffer
	Events []trace.Event
	// TraceEnableErr is the macrocell enable failure the run continued
	// past.
	TraceEnableErr error
}

// Window returns the events from the first start marker up to and
// including the following stop marker. Markers are instruction events at
// the given PC: ETM addresses or ITM comparator matches, never PC samples.
// Without a stop marker the window runs to the end; without a start marker
// it is empty.
func (r *Result) Window(start, stop uint32) []trace.Event {
	marker := func(ev trace.Event, pc uint32) bool {
		return ev.Kind == trace.InstructionExecuted && !ev.Sampled && ev.Address == pc
	}
	from := -1
	for i, ev := range r.Events {
		if from < 0 {
			if marker(ev, start) {
				from = i
			}
			continue
		}
		if marker(ev, stop) {
			return r.Events[from : i+1]
		}
	}
	if from < 0 {
		return nil
	}
	return r.Events[from:]
}

func pipeError(code ocsd.Err, format string, args ...any) error {
	return icommon.NewComponentError(ocsd.CmpnamePrefixPipeline, code, format, args...)
}

// Run performs one capture on sess. A missing or unsupported macrocell ends
// the run; a macrocell that fails to enable is reported in
// Result.TraceEnableErr and the run continues. Trace, comparators and the
// sink are switched off again before Run returns, even when ctx has been
// cancelled.
func Run(ctx context.Context, sess *target.Session, cfg Config) (res *Result, err error) {
	if sess == nil || sess.Transport == nil {
		return nil, pipeError(ocsd.ErrNotInit, "no target session")
	}
	if cfg.Start > 0xFFFFFFFF || cfg.Stop > 0xFFFFFFFF {
		return nil, pipeError(ocsd.ErrInvalidParamVal, "marker address beyond 32 bits")
	}
	logger := common.ForComponent(sess.Logger(), ocsd.CmpnamePrefixPipeline)

	if cfg.Firmware != "" {
		if sess.Flasher == nil {
			return nil, pipeError(ocsd.ErrNotInit, "no flasher for %s", cfg.Firmware)
		}
		f := image.FormatForPath(cfg.Firmware)
		logger.Logf(common.SeverityInfo, "downloading %s as %s", cfg.Firmware, f.Kind)
		if err := sess.Flasher.Download(ctx, cfg.Firmware, f); err != nil {
			return nil, errors.Wrapf(err, "download %s", cfg.Firmware)
		}
	}

	dwtComp, err := coresight.Find(sess.Components, coresight.Dwt)
	if err != nil {
		return nil, errors.Wrap(err, "locate DWT")
	}
	bank, err := dwt.New(sess.Transport, dwtComp)
	if err != nil {
		return nil, err
	}

	capt := capture.New(sess.Transport, sess.Components, sess.Logger())
	var macro macrocell
	defer func() {
		// teardown must reach the hardware even after cancellation
		tctx := context.WithoutCancel(ctx)
		if macro != nil {
			if derr := macro.Disable(tctx); derr != nil {
				logger.Warning(errors.Wrap(derr, "disable trace").Error())
			}
		}
		if derr := bank.Disable(tctx); derr != nil {
			logger.Warning(errors.Wrap(derr, "disable comparators").Error())
		}
		if derr := capt.Disable(tctx); derr != nil {
			logger.Warning(errors.Wrap(derr, "disable sink").Error())
		}
	}()

	if err := bank.Enable(ctx); err != nil {
		return nil, errors.Wrap(err, "enable DWT")
	}
	if err := bank.ArmInstructionEvent(ctx, cfg.StartIndex, uint32(cfg.Start)); err != nil {
		return nil, errors.Wrapf(err, "arm start comparator %d", cfg.StartIndex)
	}
	if err := bank.ArmInstructionEvent(ctx, cfg.StopIndex, uint32(cfg.Stop)); err != nil {
		return nil, errors.Wrapf(err, "arm stop comparator %d", cfg.StopIndex)
	}

	sink := cfg.Sink
	sink.Formatted = cfg.Formatted()
	if err := capt.SelectSink(ctx, sink); err != nil {
		return nil, errors.Wrap(err, "select sink")
	}

	if macro, err = loadTrace(ctx, sess, cfg); err != nil {
		return nil, errors.Wrap(err, "load trace macrocell")
	}
	res = &Result{}
	if res.TraceEnableErr = macro.enable(ctx); res.TraceEnableErr != nil {
		res.TraceEnableErr = errors.Wrap(res.TraceEnableErr, "enable instruction trace")
		logger.Warning(res.TraceEnableErr.Error())
	}
	dec, err := macro.Decoder()
	if err != nil {
		return nil, err
	}

	if err := capt.RunCaptureWindow(ctx, sess.Core, cfg.ResetTarget, cfg.Window); err != nil {
		return nil, errors.Wrap(err, "capture window")
	}

	res.Raw, err = capt.ReadRawBuffer(ctx, cfg.MaxBytes)
	if err != nil {
		return nil, errors.Wrap(err, "read trace")
	}
	stream := res.Raw
	if sink.Formatted {
		if stream, err = capture.Deformat(res.Raw, cfg.TraceID()); err != nil {
			return nil, errors.Wrap(err, "deformat trace")
		}
	}

	res.Events = trace.Collect(dec.Feed(stream.Data))
	res.Events = append(res.Events, trace.Collect(dec.Close())...)
	logger.Logf(common.SeverityInfo, "decoded %d events from %d bytes", len(res.Events), res.Raw.Len())
	return res, nil
}

// macrocell is a loaded trace source with its programming.
type macrocell interface {
	enable(ctx context.Context) error
	Disable(ctx context.Context) error
	Decoder() (*trace.Decoder, error)
}

type etmSource struct {
	*etm.Macrocell
	cfg etm.Config
}

func (s etmSource) enable(ctx context.Context) error {
	return s.EnableInstructionTrace(ctx, &s.cfg)
}

type itmSource struct {
	*itm.Macrocell
	cfg itm.Config
}

func (s itmSource) enable(ctx context.Context) error {
	return s.EnableInstructionTrace(ctx, &s.cfg)
}

// loadTrace loads the macrocell of the configured source. Without it there
// is no trace to capture, so a failure here ends the run; only a failure
// to enable it is tolerated.
func loadTrace(ctx context.Context, sess *target.Session, cfg Config) (macrocell, error) {
	if cfg.Source == SourceITM {
		m, err := itm.Load(ctx, sess.Transport, sess.Components)
		if err != nil {
			return nil, err
		}
		return itmSource{m, cfg.ITMConfig()}, nil
	}
	m, err := etm.Load(ctx, sess.Transport, sess.Components)
	if err != nil {
		return nil, err
	}
	return etmSource{m, cfg.ETMConfig()}, nil
}
