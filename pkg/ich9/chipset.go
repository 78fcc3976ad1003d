package ich9

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/q35smm/smm-go/pkg/fwcfg"
	"github.com/q35smm/smm-go/pkg/portio"
)

// Options configures the power-on state of an emulated chipset.
type Options struct {
	// PMBase is the PM I/O base programmed by platform initialization.
	// Zero means DefaultPMBase.
	PMBase uint16

	// SMIEn is the SMI_EN value after reset.
	SMIEn uint32

	// BrokenSMILock makes SMI_LOCK accepted but ineffective.
	BrokenSMILock bool

	// SMIFeatures is the feature set offered through fw_cfg.
	SMIFeatures uint64
}

// SMI describes one raised SMI.
type SMI struct {
	// Seq numbers SMIs from 1 since the chipset was created.
	Seq uint64

	// Command is the byte written to APM_CNT.
	Command uint8

	// Data is the APM_STS scratchpad content at the time of the trigger.
	Data uint8

	// Broadcast is set when the broadcast feature was negotiated.
	Broadcast bool
}

// Chipset emulates the ICH9 LPC bridge registers involved in software SMIs.
// It implements portio.Device for the PM block and APM ports, and
// portio.PCIConfig for the LPC configuration space. It is safe for
// concurrent use.
type Chipset struct {
	mu   sync.Mutex
	opts Options

	pmBase     uint16
	genPMCon1  uint16
	smiEn      uint32
	smiEnWMask uint32
	smiSts     uint32
	apmCnt     uint8
	apmSts     uint8

	// SMI feature negotiation state.
	guestFeatures      uint64
	negotiatedFeatures uint64
	featuresOK         bool

	seq      uint64
	smis     []SMI
	handlers []func(SMI)
}

// NewChipset creates a chipset in its power-on state.
func NewChipset(opts Options) *Chipset {
	if opts.PMBase == 0 {
		opts.PMBase = DefaultPMBase
	}
	c := &Chipset{opts: opts}
	c.resetLocked()
	return c
}

// Reset returns the chipset to its power-on state, as a platform reset does.
// The SMI history and handlers are kept.
func (c *Chipset) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

func (c *Chipset) resetLocked() {
	c.pmBase = c.opts.PMBase & PMBaseMask
	c.genPMCon1 = 0
	c.smiEn = c.opts.SMIEn
	c.smiEnWMask = 0xffffffff
	c.smiSts = 0
	c.apmCnt = 0
	c.apmSts = 0
	c.guestFeatures = 0
	c.negotiatedFeatures = 0
	c.featuresOK = false
}

// OnSMI registers a handler called for every raised SMI. Handlers run
// without the chipset lock held.
func (c *Chipset) OnSMI(fn func(SMI)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, fn)
}

// SMIs returns the SMIs raised so far.
func (c *Chipset) SMIs() []SMI {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SMI(nil), c.smis...)
}

// SMIEnable returns the current SMI_EN value.
func (c *Chipset) SMIEnable() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.smiEn
}

// SMILocked reports whether SMI_LOCK is set.
func (c *Chipset) SMILocked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.genPMCon1&GenPMCon1SMILock != 0
}

// NegotiatedFeatures returns the locked SMI feature set and whether
// negotiation completed.
func (c *Chipset) NegotiatedFeatures() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.negotiatedFeatures, c.featuresOK
}

// PMBaseAddress returns the decoded PM I/O base.
func (c *Chipset) PMBaseAddress() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pmBase
}

// IOPorts implements portio.Device. The chipset decodes the APM ports and the
// SMI_EN / SMI_STS registers of the PM block.
func (c *Chipset) IOPorts() []uint16 {
	base := c.PMBaseAddress()
	ports := []uint16{APMCnt, APMSts}
	for off := uint16(PMBaseOfsSMIEn); off < PMBaseOfsSMISts+4; off++ {
		ports = append(ports, base+off)
	}
	return ports
}

// ReadPort implements portio.Device.
func (c *Chipset) ReadPort(port uint16, width int) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var v uint32
	for i := 0; i < width; i++ {
		v |= uint32(c.readByteLocked(port+uint16(i))) << (8 * i)
	}
	return v
}

func (c *Chipset) readByteLocked(port uint16) uint8 {
	switch port {
	case APMCnt:
		return c.apmCnt
	case APMSts:
		return c.apmSts
	}

	off := port - c.pmBase
	switch {
	case off >= PMBaseOfsSMIEn && off < PMBaseOfsSMIEn+4:
		return uint8(c.smiEn >> (8 * (off - PMBaseOfsSMIEn)))
	case off >= PMBaseOfsSMISts && off < PMBaseOfsSMISts+4:
		return uint8(c.smiSts >> (8 * (off - PMBaseOfsSMISts)))
	}
	return 0xff
}

// WritePort implements portio.Device.
func (c *Chipset) WritePort(port uint16, width int, val uint32) {
	var raised []SMI
	var handlers []func(SMI)

	c.mu.Lock()
	for i := 0; i < width; i++ {
		if smi, ok := c.writeByteLocked(port+uint16(i), uint8(val>>(8*i))); ok {
			raised = append(raised, smi)
		}
	}
	if len(raised) > 0 {
		handlers = append(handlers, c.handlers...)
	}
	c.mu.Unlock()

	for _, smi := range raised {
		for _, h := range handlers {
			h(smi)
		}
	}
}

func (c *Chipset) writeByteLocked(port uint16, b uint8) (SMI, bool) {
	switch port {
	case APMSts:
		c.apmSts = b
		return SMI{}, false
	case APMCnt:
		c.apmCnt = b
		return c.raiseLocked()
	}

	off := port - c.pmBase
	switch {
	case off >= PMBaseOfsSMIEn && off < PMBaseOfsSMIEn+4:
		shift := 8 * (off - PMBaseOfsSMIEn)
		req := c.smiEn&^(0xff<<shift) | uint32(b)<<shift
		c.smiEn = c.smiEn&^c.smiEnWMask | req&c.smiEnWMask
	case off >= PMBaseOfsSMISts && off < PMBaseOfsSMISts+4:
		shift := 8 * (off - PMBaseOfsSMISts)
		c.smiSts &^= uint32(b) << shift
	}
	return SMI{}, false
}

func (c *Chipset) raiseLocked() (SMI, bool) {
	if c.smiEn&SMIEnAPMCEn == 0 || c.smiEn&SMIEnGblSMIEn == 0 {
		return SMI{}, false
	}
	c.smiSts |= SMIStsAPM
	c.seq++
	smi := SMI{
		Seq:       c.seq,
		Command:   c.apmCnt,
		Data:      c.apmSts,
		Broadcast: c.featuresOK && c.negotiatedFeatures&SMIFeatureBroadcast != 0,
	}
	c.smis = append(c.smis, smi)
	return smi, true
}

func (c *Chipset) isLPC(addr portio.PCIAddress) bool {
	return addr.Bus == LPCBus && addr.Device == LPCDevice && addr.Function == LPCFunction
}

// Read32 implements portio.PCIConfig. Functions other than the LPC bridge
// read as absent.
func (c *Chipset) Read32(addr portio.PCIAddress) uint32 {
	if !c.isLPC(addr) {
		return 0xffffffff
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch addr.Offset {
	case RegVendorID:
		return VendorIntel | DeviceICH9LPC<<16
	case RegPMBase:
		return uint32(c.pmBase) | PMBaseIOSpace
	case RegGenPMCon1:
		return uint32(c.genPMCon1)
	}
	return 0
}

// Read16 implements portio.PCIConfig.
func (c *Chipset) Read16(addr portio.PCIAddress) uint16 {
	if addr.Offset&3 == 2 {
		return uint16(c.Read32(addr.WithOffset(addr.Offset&^3)) >> 16)
	}
	return uint16(c.Read32(addr))
}

// Write16 implements portio.PCIConfig. Only GEN_PMCON_1 is writable; its
// SMI_LOCK bit is write-once.
func (c *Chipset) Write16(addr portio.PCIAddress, val uint16) {
	if !c.isLPC(addr) || addr.Offset != RegGenPMCon1 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.genPMCon1 = val | c.genPMCon1&GenPMCon1SMILock
	if c.genPMCon1&GenPMCon1SMILock != 0 && !c.opts.BrokenSMILock {
		c.smiEnWMask &^= SMIEnGblSMIEn
	}
}

// AttachFwCfg publishes the SMI feature negotiation files on dev.
func (c *Chipset) AttachFwCfg(dev *fwcfg.Device) error {
	var supported [8]byte
	binary.LittleEndian.PutUint64(supported[:], c.opts.SMIFeatures)

	if _, err := dev.AddFile(FileSMISupportedFeatures, supported[:]); err != nil {
		return fmt.Errorf("attach fw_cfg: %w", err)
	}
	if _, err := dev.AddFile(FileSMIRequestedFeatures, make([]byte, 8), fwcfg.Writable(c.setGuestFeatures)); err != nil {
		return fmt.Errorf("attach fw_cfg: %w", err)
	}
	if _, err := dev.AddFile(FileSMIFeaturesOK, []byte{0}, fwcfg.OnSelect(c.featuresOKSelected)); err != nil {
		return fmt.Errorf("attach fw_cfg: %w", err)
	}
	return nil
}

func (c *Chipset) setGuestFeatures(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.guestFeatures = binary.LittleEndian.Uint64(data)
}

// featuresOKSelected validates the requested features against the offered
// set; a valid request is locked for the rest of this boot.
func (c *Chipset) featuresOKSelected() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.featuresOK && c.guestFeatures&^c.opts.SMIFeatures == 0 {
		c.negotiatedFeatures = c.guestFeatures
		c.featuresOK = true
	}
	if c.featuresOK {
		return []byte{1}
	}
	return []byte{0}
}

var (
	_ portio.Device    = (*Chipset)(nil)
	_ portio.PCIConfig = (*Chipset)(nil)
)
