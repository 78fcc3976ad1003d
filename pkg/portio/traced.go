package portio

import "github.com/q35smm/smm-go/pkg/log"

// Traced wraps a Port and emits one access event per operation.
type Traced struct {
	port  Port
	emit  *log.Emitter
	phase func() log.Phase
}

// NewTraced wraps port. The phase function is consulted on each access so a
// single wrapper can be shared across init and runtime; nil means PhaseInit.
func NewTraced(port Port, emit *log.Emitter, phase func() log.Phase) *Traced {
	if phase == nil {
		phase = func() log.Phase { return log.PhaseInit }
	}
	return &Traced{port: port, emit: emit, phase: phase}
}

func (t *Traced) record(dir log.Direction, width uint8, port uint16, val uint32) {
	t.emit.Access(t.phase(), log.AccessEvent{
		Space:     log.SpaceIO,
		Direction: dir,
		Width:     width,
		Address:   uint32(port),
		Value:     val,
	})
}

// In8 reads a byte and records the access.
func (t *Traced) In8(port uint16) uint8 {
	v := t.port.In8(port)
	t.record(log.DirectionRead, 1, port, uint32(v))
	return v
}

// In16 reads a word and records the access.
func (t *Traced) In16(port uint16) uint16 {
	v := t.port.In16(port)
	t.record(log.DirectionRead, 2, port, uint32(v))
	return v
}

// In32 reads a dword and records the access.
func (t *Traced) In32(port uint16) uint32 {
	v := t.port.In32(port)
	t.record(log.DirectionRead, 4, port, v)
	return v
}

// Out8 records the access and writes a byte.
func (t *Traced) Out8(port uint16, val uint8) {
	t.port.Out8(port, val)
	t.record(log.DirectionWrite, 1, port, uint32(val))
}

// Out16 records the access and writes a word.
func (t *Traced) Out16(port uint16, val uint16) {
	t.port.Out16(port, val)
	t.record(log.DirectionWrite, 2, port, uint32(val))
}

// Out32 records the access and writes a dword.
func (t *Traced) Out32(port uint16, val uint32) {
	t.port.Out32(port, val)
	t.record(log.DirectionWrite, 4, port, val)
}

// TracedPCI wraps a PCIConfig and emits one access event per operation.
type TracedPCI struct {
	cfg   PCIConfig
	emit  *log.Emitter
	phase func() log.Phase
}

// NewTracedPCI wraps cfg; see NewTraced for the phase function.
func NewTracedPCI(cfg PCIConfig, emit *log.Emitter, phase func() log.Phase) *TracedPCI {
	if phase == nil {
		phase = func() log.Phase { return log.PhaseInit }
	}
	return &TracedPCI{cfg: cfg, emit: emit, phase: phase}
}

func (t *TracedPCI) record(dir log.Direction, width uint8, addr PCIAddress, val uint32) {
	t.emit.Access(t.phase(), log.AccessEvent{
		Space:     log.SpacePCIConfig,
		Direction: dir,
		Width:     width,
		Address:   addr.Encode(),
		Value:     val,
	})
}

// Read16 reads a config word and records the access.
func (t *TracedPCI) Read16(addr PCIAddress) uint16 {
	v := t.cfg.Read16(addr)
	t.record(log.DirectionRead, 2, addr, uint32(v))
	return v
}

// Read32 reads a config dword and records the access.
func (t *TracedPCI) Read32(addr PCIAddress) uint32 {
	v := t.cfg.Read32(addr)
	t.record(log.DirectionRead, 4, addr, v)
	return v
}

// Write16 records the access and writes a config word.
func (t *TracedPCI) Write16(addr PCIAddress, val uint16) {
	t.cfg.Write16(addr, val)
	t.record(log.DirectionWrite, 2, addr, uint32(val))
}

var (
	_ Port      = (*Traced)(nil)
	_ PCIConfig = (*TracedPCI)(nil)
)
