// Package profile loads capture profiles: INI files that fill in a
// pipeline.Config.
//
//	[target]
//	name = STM32H7B0VB
//	firmware = ../dma_test/main.elf
//
//	[trigger]
//	start = 0x080046B0
//	stop = 0x080046C0
//	start_index = 0
//	stop_index = 1
//
//	[sink]
//	type = memory          ; memory, port or disabled
//	capacity = 0x3E
//	formatted = false
//	protocol = nrz         ; port only: manchester or nrz
//	prescaler = 1          ; port only
//
//	[capture]
//	window = 5s
//	reset = true
//	max_bytes = 0x3E
//
//	[trace]
//	source = etm           ; etm or itm
//	trace_id = 1
//	timestamps = true
//	branch_broadcast = true ; etm only
//	start_comparator = -1  ; etm only, -1 traces from enable
//	stop_comparator = -1   ; etm only
//	ts_prescale = 1        ; itm only
//	pc_sampling = true     ; itm only
//	exceptions = true      ; itm only
//
// Keys that are absent keep their value from pipeline.DefaultConfig.
package profile

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"cmtrace/capture"
	"cmtrace/etm"
	icommon "cmtrace/internal/common"
	"cmtrace/internal/ocsd"
	"cmtrace/internal/pipeline"
	"cmtrace/itm"
)

// Section names
const (
	TargetSection  = "target"
	TriggerSection = "trigger"
	SinkSection    = "sink"
	CaptureSection = "capture"
	TraceSection   = "trace"
)

// LoadFile reads the profile at path.
func LoadFile(path string) (pipeline.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return pipeline.Config{}, icommon.NewComponentError(ocsd.CmpnamePrefixProfile, ocsd.ErrFileError, "%v", err)
	}
	defer f.Close()

	cfg, err := Load(f)
	if err != nil {
		return cfg, errors.Wrap(err, path)
	}
	return cfg, nil
}

// Load reads a profile from r on top of the default configuration.
func Load(r io.Reader) (pipeline.Config, error) {
	cfg := pipeline.DefaultConfig()
	ini, err := ParseIni(r)
	if err != nil {
		return cfg, icommon.NewComponentError(ocsd.CmpnamePrefixProfile, ocsd.ErrFileError, "%v", err)
	}
	p := parser{ini: ini}

	p.readString(TargetSection, "name", &cfg.Target)
	p.readString(TargetSection, "firmware", &cfg.Firmware)

	p.readUint(TriggerSection, "start", 32, &cfg.Start)
	p.readUint(TriggerSection, "stop", 32, &cfg.Stop)
	p.readInt(TriggerSection, "start_index", &cfg.StartIndex)
	p.readInt(TriggerSection, "stop_index", &cfg.StopIndex)

	p.sink(&cfg.Sink)

	p.readDuration(CaptureSection, "window", &cfg.Window)
	p.readBool(CaptureSection, "reset", &cfg.ResetTarget)
	p.readInt(CaptureSection, "max_bytes", &cfg.MaxBytes)

	if p.has(TraceSection) {
		p.source(&cfg.Source)

		tc := itm.DefaultConfig()
		var id, prescale uint64 = uint64(tc.TraceID), uint64(tc.TSPrescale)
		p.readUint(TraceSection, "trace_id", 7, &id)
		p.readUint(TraceSection, "ts_prescale", 32, &prescale)
		tc.TraceID = uint8(id)
		tc.TSPrescale = uint32(prescale)
		p.readBool(TraceSection, "pc_sampling", &tc.PCSampling)
		p.readBool(TraceSection, "exceptions", &tc.ExceptionTrace)
		p.readBool(TraceSection, "timestamps", &tc.Timestamps)
		tc.Formatted = cfg.Sink.Formatted
		cfg.ITM = &tc

		ec := etm.DefaultConfig()
		ec.TraceID = tc.TraceID
		ec.Timestamps = tc.Timestamps
		p.readBool(TraceSection, "branch_broadcast", &ec.BranchBroadcast)
		p.readInt(TraceSection, "start_comparator", &ec.StartComparator)
		p.readInt(TraceSection, "stop_comparator", &ec.StopComparator)
		ec.Formatted = cfg.Sink.Formatted
		cfg.ETM = &ec
	}

	return cfg, p.err
}

// parser records the first bad value; later lookups are skipped.
type parser struct {
	ini *IniFile
	err error
}

func (p *parser) has(section string) bool {
	return p.ini.GetSection(section) != nil
}

func (p *parser) lookup(section, key string) (string, bool) {
	if p.err != nil {
		return "", false
	}
	v, ok := p.ini.GetSection(section)[key]
	return v, ok
}

func (p *parser) fail(section, key, val string, cause error) {
	p.err = icommon.NewComponentError(ocsd.CmpnamePrefixProfile, ocsd.ErrInvalidParamVal,
		"[%s] %s = %q: %v", section, key, val, cause)
}

func (p *parser) readString(section, key string, dst *string) {
	if v, ok := p.lookup(section, key); ok {
		*dst = v
	}
}

func (p *parser) readUint(section, key string, bits int, dst *uint64) {
	v, ok := p.lookup(section, key)
	if !ok {
		return
	}
	n, err := strconv.ParseUint(v, 0, bits)
	if err != nil {
		p.fail(section, key, v, err)
		return
	}
	*dst = n
}

func (p *parser) readInt(section, key string, dst *int) {
	v, ok := p.lookup(section, key)
	if !ok {
		return
	}
	n, err := strconv.ParseInt(v, 0, 32)
	if err != nil {
		p.fail(section, key, v, err)
		return
	}
	*dst = int(n)
}

func (p *parser) readBool(section, key string, dst *bool) {
	v, ok := p.lookup(section, key)
	if !ok {
		return
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	default:
		p.fail(section, key, v, errors.New("not a boolean"))
	}
}

func (p *parser) readDuration(section, key string, dst *time.Duration) {
	v, ok := p.lookup(section, key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// bare numbers are seconds
		secs, ferr := strconv.ParseFloat(v, 64)
		if ferr != nil {
			p.fail(section, key, v, err)
			return
		}
		d = time.Duration(secs * float64(time.Second))
	}
	if d < 0 {
		p.fail(section, key, v, errors.New("negative duration"))
		return
	}
	*dst = d
}

func (p *parser) source(dst *pipeline.Source) {
	v, ok := p.lookup(TraceSection, "source")
	if !ok {
		return
	}
	src, err := pipeline.ParseSource(v)
	if err != nil {
		p.fail(TraceSection, "source", v, errors.New("want etm or itm"))
		return
	}
	*dst = src
}

func (p *parser) sink(dst *capture.Sink) {
	if !p.has(SinkSection) {
		return
	}
	kind := "memory"
	p.readString(SinkSection, "type", &kind)

	var s capture.Sink
	switch strings.ToLower(kind) {
	case "memory", "trace_memory", "tmc", "etf":
		capacity := dst.Capacity
		if capacity == 0 {
			capacity = capture.DefaultCapacity
		}
		p.readInt(SinkSection, "capacity", &capacity)
		s = capture.TraceMemory(capacity)
	case "port", "swo", "tpiu":
		proto := "nrz"
		p.readString(SinkSection, "protocol", &proto)
		var prescaler uint64 = 1
		p.readUint(SinkSection, "prescaler", 32, &prescaler)
		switch strings.ToLower(proto) {
		case "nrz", "uart":
			s = capture.ExternalPort(capture.PortNRZ, uint32(prescaler))
		case "manchester":
			s = capture.ExternalPort(capture.PortManchester, uint32(prescaler))
		default:
			p.fail(SinkSection, "protocol", proto, errors.New("want manchester or nrz"))
			return
		}
	case "disabled", "none", "off":
		s = capture.Disabled()
	default:
		p.fail(SinkSection, "type", kind, errors.New("want memory, port or disabled"))
		return
	}
	p.readBool(SinkSection, "formatted", &s.Formatted)
	if p.err == nil {
		*dst = s
	}
}
