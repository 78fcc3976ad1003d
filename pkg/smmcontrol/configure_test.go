package smmcontrol

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/q35smm/smm-go/pkg/fwcfg"
	"github.com/q35smm/smm-go/pkg/ich9"
	"github.com/q35smm/smm-go/pkg/log"
	"github.com/q35smm/smm-go/pkg/portio"
	"github.com/q35smm/smm-go/pkg/protocol"
	"github.com/q35smm/smm-go/pkg/smifeatures"
)

// portOp is one recorded port access.
type portOp struct {
	write bool
	width int
	port  uint16
	value uint32
}

func (o portOp) String() string {
	dir := "in"
	if o.write {
		dir = "out"
	}
	return fmt.Sprintf("%s%d %#04x=%#x", dir, o.width*8, o.port, o.value)
}

// recordingPort forwards to a Port and records every access.
type recordingPort struct {
	mu   sync.Mutex
	port portio.Port
	ops  []portOp
}

func (r *recordingPort) add(op portOp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
}

func (r *recordingPort) writes() []portOp {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []portOp
	for _, op := range r.ops {
		if op.write {
			out = append(out, op)
		}
	}
	return out
}

func (r *recordingPort) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = nil
}

func (r *recordingPort) In8(port uint16) uint8 {
	v := r.port.In8(port)
	r.add(portOp{width: 1, port: port, value: uint32(v)})
	return v
}

func (r *recordingPort) In16(port uint16) uint16 {
	v := r.port.In16(port)
	r.add(portOp{width: 2, port: port, value: uint32(v)})
	return v
}

func (r *recordingPort) In32(port uint16) uint32 {
	v := r.port.In32(port)
	r.add(portOp{width: 4, port: port, value: v})
	return v
}

func (r *recordingPort) Out8(port uint16, val uint8) {
	r.add(portOp{write: true, width: 1, port: port, value: uint32(val)})
	r.port.Out8(port, val)
}

func (r *recordingPort) Out16(port uint16, val uint16) {
	r.add(portOp{write: true, width: 2, port: port, value: uint32(val)})
	r.port.Out16(port, val)
}

func (r *recordingPort) Out32(port uint16, val uint32) {
	r.add(portOp{write: true, width: 4, port: port, value: val})
	r.port.Out32(port, val)
}

// MockNegotiator is a testify mock for Negotiator.
type MockNegotiator struct {
	mock.Mock
}

func (m *MockNegotiator) Negotiate() (bool, error) {
	args := m.Called()
	return args.Bool(0), args.Error(1)
}

// MockPublisher is a testify mock for protocol.Publisher.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) InstallProtocol(guid uuid.UUID, iface any) error {
	args := m.Called(guid, iface)
	return args.Error(0)
}

// memLogger collects trace events.
type memLogger struct {
	mu     sync.Mutex
	events []log.Event
}

func (l *memLogger) Log(e log.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *memLogger) stages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.events {
		if e.StateChange != nil {
			out = append(out, e.StateChange.Stage)
		}
	}
	return out
}

func (l *memLogger) byCategory(c log.Category) []log.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []log.Event
	for _, e := range l.events {
		if e.Category == c {
			out = append(out, e)
		}
	}
	return out
}

type platform struct {
	chipset *ich9.Chipset
	fwcfg   *fwcfg.Device
	bus     *portio.Bus
	ports   *recordingPort
	db      *protocol.Database
}

func newPlatform(t *testing.T, opts ich9.Options) *platform {
	t.Helper()
	p := &platform{
		chipset: ich9.NewChipset(opts),
		fwcfg:   fwcfg.NewDevice(),
		bus:     portio.NewBus(),
		db:      protocol.NewDatabase(),
	}
	require.NoError(t, p.chipset.AttachFwCfg(p.fwcfg))
	require.NoError(t, p.bus.Register(p.chipset))
	require.NoError(t, p.bus.Register(p.fwcfg))
	p.ports = &recordingPort{port: p.bus}
	return p
}

func (p *platform) config() Config {
	return Config{
		PCI:        p.chipset,
		Ports:      p.ports,
		Negotiator: &smifeatures.Negotiator{FwCfg: fwcfg.NewClient(p.bus)},
		Publisher:  p.db,
	}
}

func (p *platform) smiEnPort() uint16 {
	return p.chipset.PMBaseAddress() + ich9.PMBaseOfsSMIEn
}

func TestConfigureLocksAndPublishes(t *testing.T) {
	p := newPlatform(t, ich9.Options{SMIFeatures: ich9.SMIFeatureBroadcast})

	d, err := Configure(p.config())
	require.NoError(t, err)
	require.NotNil(t, d)

	assert.Equal(t, uint32(ich9.SMIEnAPMCEn|ich9.SMIEnGblSMIEn), p.chipset.SMIEnable()&(ich9.SMIEnAPMCEn|ich9.SMIEnGblSMIEn))
	assert.True(t, p.chipset.SMILocked())
	assert.True(t, d.FeatureNegotiation())

	got, err := p.db.LocateProtocol(protocol.SMMControl2GUID)
	require.NoError(t, err)
	assert.Same(t, d, got)
}

func TestConfigureSMIEnableWrites(t *testing.T) {
	p := newPlatform(t, ich9.Options{PMBase: 0xb000, SMIEn: 0x2})

	_, err := Configure(p.config())
	require.NoError(t, err)

	var smiEnWrites []portOp
	for _, op := range p.ports.writes() {
		if op.port == 0xb030 {
			smiEnWrites = append(smiEnWrites, op)
		}
	}
	want := uint32(0x2 | ich9.SMIEnAPMCEn | ich9.SMIEnGblSMIEn)
	require.Len(t, smiEnWrites, 2)
	assert.Equal(t, want, smiEnWrites[0].value, "enable write keeps other bits")
	assert.Equal(t, want&^ich9.SMIEnGblSMIEn, smiEnWrites[1].value, "verification write clears GBL_SMI_EN")
	assert.Equal(t, want, p.chipset.SMIEnable())
}

func TestConfigureIgnoresPMBaseIndicatorBits(t *testing.T) {
	pci := &fakePCI{pmBase: 0x0601 | 0x7e}
	ports := &recordingPort{port: portio.NewBus()}
	neg := &MockNegotiator{}
	neg.On("Negotiate").Return(false, nil)

	_, err := Configure(Config{PCI: pci, Ports: ports, Negotiator: neg, Publisher: protocol.NewDatabase()})
	require.NoError(t, err)

	require.NotEmpty(t, ports.ops)
	assert.Equal(t, uint16(0x630), ports.ops[0].port)
	for _, op := range ports.ops {
		assert.Equal(t, uint16(0x630), op.port, op.String())
	}
}

func TestConfigureStrictRejectsPartialEnable(t *testing.T) {
	p := newPlatform(t, ich9.Options{SMIEn: ich9.SMIEnAPMCEn})
	pub := &MockPublisher{}
	neg := &MockNegotiator{}
	trace := &memLogger{}

	cfg := p.config()
	cfg.StrictSMIEnable = true
	cfg.Publisher = pub
	cfg.Negotiator = neg
	cfg.Trace = trace

	d, err := Configure(cfg)
	assert.Nil(t, d)
	assert.True(t, errors.Is(err, ErrHardwareInconsistency))

	assert.Empty(t, p.ports.writes(), "no register may be written")
	assert.False(t, p.chipset.SMILocked())
	pub.AssertNotCalled(t, "InstallProtocol", mock.Anything, mock.Anything)
	neg.AssertNotCalled(t, "Negotiate")

	errs := trace.byCategory(log.CategoryError)
	require.Len(t, errs, 1)
	assert.True(t, errs[0].Error.Fatal)
}

func TestConfigureTraditionalToleratesPartialEnable(t *testing.T) {
	p := newPlatform(t, ich9.Options{SMIEn: ich9.SMIEnAPMCEn})

	_, err := Configure(p.config())
	require.NoError(t, err)
	assert.Equal(t, uint32(ich9.SMIEnAPMCEn|ich9.SMIEnGblSMIEn), p.chipset.SMIEnable())
}

func TestConfigureStrictAcceptsConsistentStates(t *testing.T) {
	for _, en := range []uint32{0, ich9.SMIEnGblSMIEn, ich9.SMIEnGblSMIEn | ich9.SMIEnAPMCEn} {
		t.Run(fmt.Sprintf("%#x", en), func(t *testing.T) {
			p := newPlatform(t, ich9.Options{SMIEn: en})
			cfg := p.config()
			cfg.StrictSMIEnable = true

			_, err := Configure(cfg)
			require.NoError(t, err)
		})
	}
}

func TestConfigurePreEnabled(t *testing.T) {
	initial := uint32(ich9.SMIEnAPMCEn | ich9.SMIEnGblSMIEn | 0x4)
	p := newPlatform(t, ich9.Options{SMIEn: initial})
	neg := &MockNegotiator{}
	neg.On("Negotiate").Return(true, nil).Once()

	cfg := p.config()
	cfg.StrictSMIEnable = true
	cfg.Negotiator = neg

	d, err := Configure(cfg)
	require.NoError(t, err)

	var smiEnWrites []portOp
	for _, op := range p.ports.writes() {
		if op.port == p.smiEnPort() {
			smiEnWrites = append(smiEnWrites, op)
		}
	}
	require.Len(t, smiEnWrites, 2)
	assert.Equal(t, initial, smiEnWrites[0].value, "enable write carries the same bits")
	assert.Equal(t, initial&^ich9.SMIEnGblSMIEn, smiEnWrites[1].value)
	assert.Equal(t, initial, p.chipset.SMIEnable())

	neg.AssertNumberOfCalls(t, "Negotiate", 1)
	assert.True(t, d.FeatureNegotiation())

	got, err := p.db.LocateProtocol(protocol.SMMControl2GUID)
	require.NoError(t, err)
	assert.Same(t, d, got)
}

func TestConfigureBrokenLock(t *testing.T) {
	p := newPlatform(t, ich9.Options{BrokenSMILock: true})
	pub := &MockPublisher{}
	neg := &MockNegotiator{}

	cfg := p.config()
	cfg.Publisher = pub
	cfg.Negotiator = neg

	_, err := Configure(cfg)
	assert.True(t, errors.Is(err, ErrLockVerificationFailed))
	neg.AssertNotCalled(t, "Negotiate")
	pub.AssertNotCalled(t, "InstallProtocol", mock.Anything, mock.Anything)
}

func TestConfigureNegotiationOutcome(t *testing.T) {
	tests := []struct {
		name       string
		negotiated bool
	}{
		{"negotiated", true},
		{"not offered", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPlatform(t, ich9.Options{})
			neg := &MockNegotiator{}
			neg.On("Negotiate").Return(tt.negotiated, nil).Once()

			cfg := p.config()
			cfg.Negotiator = neg

			d, err := Configure(cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.negotiated, d.FeatureNegotiation())
			neg.AssertNumberOfCalls(t, "Negotiate", 1)
		})
	}
}

func TestConfigureNegotiationError(t *testing.T) {
	p := newPlatform(t, ich9.Options{})
	neg := &MockNegotiator{}
	neg.On("Negotiate").Return(false, smifeatures.ErrFeaturesRejected)

	cfg := p.config()
	cfg.Negotiator = neg

	_, err := Configure(cfg)
	assert.True(t, errors.Is(err, ErrNegotiationFailed))
	assert.True(t, errors.Is(err, smifeatures.ErrFeaturesRejected))
	assert.True(t, p.chipset.SMILocked(), "lock is already in place")
	assert.Empty(t, p.db.Installed())
}

func TestConfigurePublicationFailure(t *testing.T) {
	p := newPlatform(t, ich9.Options{})
	require.NoError(t, p.db.InstallProtocol(protocol.SMMControl2GUID, "earlier"))

	_, err := Configure(p.config())
	assert.True(t, errors.Is(err, ErrPublicationFailed))
	assert.True(t, errors.Is(err, protocol.ErrAlreadyStarted))
}

func TestConfigurePublishesDriver(t *testing.T) {
	p := newPlatform(t, ich9.Options{})
	pub := &MockPublisher{}
	pub.On("InstallProtocol", protocol.SMMControl2GUID, mock.AnythingOfType("*smmcontrol.Driver")).Return(nil).Once()

	cfg := p.config()
	cfg.Publisher = pub

	_, err := Configure(cfg)
	require.NoError(t, err)
	pub.AssertExpectations(t)
}

func TestConfigureInvalidConfig(t *testing.T) {
	p := newPlatform(t, ich9.Options{})
	full := p.config()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no pci", func(c *Config) { c.PCI = nil }},
		{"no ports", func(c *Config) { c.Ports = nil }},
		{"no negotiator", func(c *Config) { c.Negotiator = nil }},
		{"no publisher", func(c *Config) { c.Publisher = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := full
			tt.mutate(&cfg)
			_, err := Configure(cfg)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}
	assert.Empty(t, p.ports.ops)
}

func TestConfigureTracesStages(t *testing.T) {
	p := newPlatform(t, ich9.Options{})
	trace := &memLogger{}

	cfg := p.config()
	cfg.Trace = trace
	cfg.SessionID = "boot-1"

	_, err := Configure(cfg)
	require.NoError(t, err)

	assert.Equal(t, []string{StageLocate, StageEnable, StageLock, StageVerify, StageNegotiate, StagePublish, StageReady}, trace.stages())

	accesses := trace.byCategory(log.CategoryAccess)
	require.NotEmpty(t, accesses)
	assert.Equal(t, log.SpacePCIConfig, accesses[0].Access.Space)
	assert.Equal(t, ich9.PMBase.Encode(), accesses[0].Access.Address)
	for _, e := range trace.events {
		assert.Equal(t, "boot-1", e.SessionID)
	}
}

func TestInitReturnsDriver(t *testing.T) {
	p := newPlatform(t, ich9.Options{})
	cfg := p.config()
	cfg.Halt = func(err error) { t.Fatalf("unexpected halt: %v", err) }

	d := Init(cfg)
	assert.NotNil(t, d)
}

func TestInitHalts(t *testing.T) {
	p := newPlatform(t, ich9.Options{BrokenSMILock: true})

	var halted error
	cfg := p.config()
	cfg.Halt = func(err error) {
		halted = err
		panic("halted")
	}

	assert.PanicsWithValue(t, "halted", func() { Init(cfg) })
	assert.True(t, errors.Is(halted, ErrLockVerificationFailed))

	_, err := p.db.LocateProtocol(protocol.SMMControl2GUID)
	assert.True(t, errors.Is(err, protocol.ErrNotFound))
}

func TestInitPanicsWhenHaltReturns(t *testing.T) {
	p := newPlatform(t, ich9.Options{BrokenSMILock: true})
	cfg := p.config()
	cfg.Halt = func(error) {}

	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(error)
		require.True(t, ok)
		assert.True(t, errors.Is(err, ErrHaltReturned))
		assert.True(t, errors.Is(err, ErrLockVerificationFailed))
	}()
	Init(cfg)
}

func TestHaltProcess(t *testing.T) {
	var code int
	orig := osExit
	osExit = func(c int) { code = c }
	defer func() { osExit = orig }()

	HaltProcess(ErrLockVerificationFailed)
	assert.Equal(t, ExitHalted, code)
}

// fakePCI serves a fixed PMBASE and drops writes.
type fakePCI struct {
	pmBase uint32
}

func (f *fakePCI) Read32(addr portio.PCIAddress) uint32 {
	if addr == ich9.PMBase {
		return f.pmBase
	}
	return 0
}

func (f *fakePCI) Read16(addr portio.PCIAddress) uint16 { return uint16(f.Read32(addr)) }

func (f *fakePCI) Write16(portio.PCIAddress, uint16) {}
