package etmv4

// Config is the decoder's view of the ETMv4 programming: the ID registers
// describe what the trace unit can emit, TRCCONFIGR what it was told to.
type Config struct {
	RegIdr0     uint32
	RegIdr1     uint32
	RegIdr2     uint32
	RegConfigr  uint32
	RegTraceidr uint32
}

// ID register values of the Cortex-M7 ETM: ETMv4.0, 64 bit timestamps,
// 32 bit addresses, no context ID or VMID.
const (
	DefaultIdr0 = 0x28000EA1
	DefaultIdr1 = 0x4100F403
	DefaultIdr2 = 0x00000004
)

// NewConfig returns the Cortex-M7 ETM configuration with the given trace
// ID and TRCCONFIGR.
func NewConfig(traceID uint8, configr uint32) *Config {
	return &Config{
		RegIdr0:     DefaultIdr0,
		RegIdr1:     DefaultIdr1,
		RegIdr2:     DefaultIdr2,
		RegConfigr:  configr,
		RegTraceidr: uint32(traceID),
	}
}

func (c *Config) HasBranchBroadcast() bool {
	return (c.RegIdr0 & 0x20) == 0x20
}

func (c *Config) HasCondTrace() bool {
	return (c.RegIdr0 & 0x40) == 0x40
}

func (c *Config) HasCycleCountI() bool {
	return (c.RegIdr0 & 0x80) == 0x80
}

func (c *Config) NumEvents() uint8 {
	return uint8(((c.RegIdr0 >> 10) & 0x3) + 1)
}

// TimeStampSize is the timestamp width in bits, 0 without timestamps.
func (c *Config) TimeStampSize() uint32 {
	tsSizeF := (c.RegIdr0 >> 24) & 0x1F
	if tsSizeF == 0x6 {
		return 48
	}
	if tsSizeF == 0x8 {
		return 64
	}
	return 0
}

func (c *Config) MajVersion() uint8 {
	return uint8((c.RegIdr1 >> 8) & 0xF)
}

func (c *Config) MinVersion() uint8 {
	return uint8((c.RegIdr1 >> 4) & 0xF)
}

func (c *Config) FullVersion() uint8 {
	return (c.MajVersion() << 4) | c.MinVersion()
}

func (c *Config) IaSizeMax() uint32 {
	if (c.RegIdr2 & 0x1F) == 0x8 {
		return 64
	}
	return 32
}

func (c *Config) CidSize() uint32 {
	if ((c.RegIdr2 >> 5) & 0x1F) == 0x4 {
		return 32
	}
	return 0
}

func (c *Config) VmidSize() uint32 {
	vmidszF := (c.RegIdr2 >> 10) & 0x1F
	if vmidszF == 1 {
		return 8
	} else if c.FullVersion() > 0x40 {
		if vmidszF == 2 {
			return 16
		} else if vmidszF == 4 {
			return 32
		}
	}
	return 0
}

func (c *Config) TraceID() uint8 {
	return uint8(c.RegTraceidr & 0x7F)
}

func (c *Config) EnabledBrBroad() bool {
	return (c.RegConfigr & (1 << 3)) != 0
}

func (c *Config) EnabledCCI() bool {
	return (c.RegConfigr & (1 << 4)) != 0
}

func (c *Config) EnabledCID() bool {
	return (c.RegConfigr & (1 << 6)) != 0
}

func (c *Config) EnabledVMID() bool {
	return (c.RegConfigr & (1 << 7)) != 0
}

func (c *Config) EnabledTS() bool {
	return (c.RegConfigr & (1 << 11)) != 0
}

func (c *Config) EnabledRetStack() bool {
	return (c.RegConfigr & (1 << 12)) != 0
}
