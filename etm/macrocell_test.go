package etm

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"cmtrace/coresight"
	"cmtrace/internal/common"
	"cmtrace/internal/ocsd"
	"cmtrace/internal/regs"
	"cmtrace/trace"
	"cmtrace/transport"
)

func load(t *testing.T) (*Macrocell, *transport.SimTarget, *transport.Recorder) {
	t.Helper()
	sim := transport.NewSimTarget(4)
	rec := transport.NewRecorder(sim)
	m, err := Load(context.Background(), transport.NewSession(rec, nil), sim.Components())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return m, sim, rec
}

func etmReg(off uint32) uint64 { return coresight.EtmBase + uint64(off) }

func TestLoad(t *testing.T) {
	m, sim, _ := load(t)
	if m.State() != Loaded || m.Part() != regs.EtmPartM7 {
		t.Errorf("State = %v, Part = 0x%03X", m.State(), m.Part())
	}
	if got := sim.Peek(etmReg(regs.LAR)); got != regs.LARUnlockKey {
		t.Errorf("ETM LAR = 0x%08X, want unlock key", got)
	}
	if m.String() != "ETM(etm)@0xE0041000 [loaded]" {
		t.Errorf("String = %q", m.String())
	}
}

func TestLoadErrors(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		setup func(*transport.SimTarget)
		comps func(*transport.SimTarget) []coresight.Component
		want  ocsd.Err
	}{
		{
			name: "no ETM",
			comps: func(*transport.SimTarget) []coresight.Component {
				return coresight.DefaultCortexM()
			},
			want: ocsd.ErrComponentNotFound,
		},
		{
			name: "foreign part",
			setup: func(s *transport.SimTarget) {
				_ = s.WriteReg(ctx, etmReg(regs.PIDR0), 0x21)
			},
			want: ocsd.ErrUnsupported,
		},
		{
			name: "ETMv3",
			setup: func(s *transport.SimTarget) {
				_ = s.WriteReg(ctx, etmReg(regs.EtmIDR1), 0x4100F320)
			},
			want: ocsd.ErrUnsupported,
		},
		{
			name: "failing OSLAR",
			setup: func(s *transport.SimTarget) {
				s.FailOn(etmReg(regs.EtmOslar), errors.New("wire fault"))
			},
			want: ocsd.ErrTransport,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := transport.NewSimTarget(4)
			if tt.setup != nil {
				tt.setup(sim)
			}
			comps := sim.Components()
			if tt.comps != nil {
				comps = tt.comps(sim)
			}
			m, err := Load(ctx, transport.NewSession(sim, nil), comps)
			if common.CodeOf(err) != tt.want || m != nil {
				t.Errorf("Load = %v, %v; want code %v", m, err, tt.want)
			}
		})
	}
}

func TestEnableInstructionTraceDefault(t *testing.T) {
	ctx := context.Background()
	m, _, rec := load(t)
	rec.Clear()

	if err := m.EnableInstructionTrace(ctx, nil); err != nil {
		t.Fatalf("EnableInstructionTrace: %v", err)
	}
	if m.State() != TraceEnabled {
		t.Errorf("State = %v", m.State())
	}
	w := func(off uint32, v uint32) transport.Op {
		return transport.Op{Write: true, Addr: etmReg(off), Value: v}
	}
	want := []transport.Op{
		w(regs.EtmPrgCtlr, 0),
		w(regs.EtmConfigr, 0x808),
		w(regs.EtmEventCtl0r, 0),
		w(regs.EtmEventCtl1r, 0),
		w(regs.EtmStallCtlr, 0),
		w(regs.EtmTsCtlr, 0),
		w(regs.EtmSyncPr, 0x8),
		w(regs.EtmCcCtlr, 0),
		w(regs.EtmBbCtlr, 0),
		w(regs.EtmTraceIDr, 1),
		w(regs.EtmViCtlr, 0x201),
		w(regs.EtmViieCtlr, 0),
		w(regs.EtmVissCtlr, 0),
		w(regs.EtmVipcssCtlr, 0),
		w(regs.EtmPrgCtlr, 1),
	}
	if diff := cmp.Diff(want, rec.Writes()); diff != "" {
		t.Errorf("ETM writes (-want +got):\n%s", diff)
	}
}

func TestConfigRegisters(t *testing.T) {
	tests := []struct {
		name                string
		cfg                 func(*Config)
		configr, vi, vipcss uint32
	}{
		{"default", func(*Config) {}, 0x808, 0x201, 0},
		{"no timestamps", func(c *Config) { c.Timestamps = false }, 0x008, 0x201, 0},
		{"no branch broadcast", func(c *Config) { c.BranchBroadcast = false }, 0x800, 0x201, 0},
		{"start and stop", func(c *Config) { c.StartComparator, c.StopComparator = 0, 1 }, 0x808, 0x001, 0x00020001},
		{"stop only", func(c *Config) { c.StopComparator = 3 }, 0x808, 0x201, 0x00080000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.cfg(&c)
			if err := c.Validate(); err != nil {
				t.Fatalf("Validate: %v", err)
			}
			got := []uint32{c.CONFIGR(), c.VICTLR(), c.VIPCSSCTLR()}
			if diff := cmp.Diff([]uint32{tt.configr, tt.vi, tt.vipcss}, got); diff != "" {
				t.Errorf("CONFIGR, VICTLR, VIPCSSCTLR (-want +got):\n%s", diff)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  func(*Config)
		want ocsd.Err
	}{
		{"trace id zero", func(c *Config) { c.TraceID = 0 }, ocsd.ErrInvalidParamVal},
		{"trace id reserved", func(c *Config) { c.TraceID = 0x70 }, ocsd.ErrInvalidParamVal},
		{"start comparator", func(c *Config) { c.StartComparator = 8 }, ocsd.ErrInvalidIndex},
		{"stop comparator", func(c *Config) { c.StopComparator = -2 }, ocsd.ErrInvalidIndex},
	}
	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, rec := load(t)
			rec.Clear()
			c := DefaultConfig()
			tt.cfg(&c)
			if err := m.EnableInstructionTrace(ctx, &c); common.CodeOf(err) != tt.want {
				t.Errorf("EnableInstructionTrace error = %v", err)
			}
			if n := len(rec.Writes()); n != 0 {
				t.Errorf("%d registers written for an invalid config", n)
			}
			if m.State() != Loaded {
				t.Errorf("State = %v", m.State())
			}
		})
	}
}

func TestEnableStuck(t *testing.T) {
	ctx := context.Background()
	m, sim, _ := load(t)
	sim.Stick(etmReg(regs.EtmPrgCtlr))

	err := m.EnableInstructionTrace(ctx, nil)
	if common.CodeOf(err) != ocsd.ErrHardware {
		t.Fatalf("EnableInstructionTrace with stuck TRCPRGCTLR = %v, want ErrHardware", err)
	}
	if m.State() != Loaded {
		t.Errorf("State = %v", m.State())
	}
}

func TestEnableNotLoaded(t *testing.T) {
	var m *Macrocell
	if err := m.EnableInstructionTrace(context.Background(), nil); common.CodeOf(err) != ocsd.ErrNotInit {
		t.Errorf("EnableInstructionTrace on nil: %v", err)
	}
	if _, err := m.Decoder(); common.CodeOf(err) != ocsd.ErrNotInit {
		t.Errorf("Decoder on nil: %v", err)
	}
	if err := m.Disable(context.Background()); err != nil {
		t.Errorf("Disable on nil: %v", err)
	}
}

func TestDisable(t *testing.T) {
	ctx := context.Background()
	m, sim, _ := load(t)
	if err := m.EnableInstructionTrace(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if err := m.Disable(ctx); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if got := sim.Peek(etmReg(regs.EtmPrgCtlr)); got != 0 {
		t.Errorf("TRCPRGCTLR = 0x%08X after Disable", got)
	}
	if m.State() != Loaded {
		t.Errorf("State = %v", m.State())
	}
	if err := m.Disable(ctx); err != nil {
		t.Errorf("second Disable: %v", err)
	}
}

func TestDecoderConfig(t *testing.T) {
	ctx := context.Background()
	m, _, _ := load(t)
	c := DefaultConfig()
	c.TraceID = 0x10
	c.Timestamps = false
	if err := m.EnableInstructionTrace(ctx, &c); err != nil {
		t.Fatal(err)
	}
	d, err := m.Decoder()
	if err != nil {
		t.Fatalf("Decoder: %v", err)
	}
	want := trace.Config{
		Protocol: trace.ProtocolETMv4,
		TraceID:  0x10,
		ETM:      trace.ETMConfig{IDR0: 0x28000EA1, IDR1: 0x4100F403, IDR2: 0x4, ConfigR: 0x8},
	}
	if diff := cmp.Diff(want, d.Config()); diff != "" {
		t.Errorf("decoder config (-want +got):\n%s", diff)
	}
}
