package ich9

import "github.com/q35smm/smm-go/pkg/portio"

// LPC bridge (PCI 00:1f.0) configuration registers.
const (
	LPCBus      = 0
	LPCDevice   = 0x1f
	LPCFunction = 0

	RegVendorID  = 0x00
	RegPMBase    = 0x40
	RegGenPMCon1 = 0xa0

	VendorIntel   = 0x8086
	DeviceICH9LPC = 0x2918

	// PMBaseMask selects the valid address bits (15:7) of PMBASE.
	PMBaseMask = 0xff80

	// PMBaseIOSpace is the read-only resource type indicator in PMBASE.
	PMBaseIOSpace = 1 << 0

	// GenPMCon1SMILock freezes GBL_SMI_EN until platform reset.
	GenPMCon1SMILock = 1 << 4
)

// Power management I/O block, relative to PMBASE.
const (
	PMBaseOfsSMIEn  = 0x30
	PMBaseOfsSMISts = 0x34

	// PMIOSize is the size of the PM I/O block.
	PMIOSize = 0x80
)

// SMI_EN bits.
const (
	SMIEnGblSMIEn = 1 << 0
	SMIEnAPMCEn   = 1 << 5
)

// SMI_STS bits.
const (
	SMIStsAPM = 1 << 5
)

// Advanced Power Management ports. Writing APMCnt raises an SMI when APMC_EN
// is set; APMSts is a scratchpad passed to the SMI handler.
const (
	APMCnt uint16 = 0xb2
	APMSts uint16 = 0xb3
)

// DefaultPMBase is where the Q35 platform initialization leaves the PM block.
const DefaultPMBase = 0x600

// SMI feature bits negotiated through fw_cfg.
const (
	SMIFeatureBroadcast    uint64 = 1 << 0
	SMIFeatureCPUHotplug   uint64 = 1 << 1
	SMIFeatureCPUHotUnplug uint64 = 1 << 2
)

// fw_cfg files carrying SMI feature negotiation.
const (
	FileSMISupportedFeatures = "etc/smi/supported-features"
	FileSMIRequestedFeatures = "etc/smi/requested-features"
	FileSMIFeaturesOK        = "etc/smi/features-ok"
)

// LPC is the address of the LPC bridge function.
var LPC = portio.PCIAddress{Bus: LPCBus, Device: LPCDevice, Function: LPCFunction}

// Configuration register addresses on the LPC bridge.
var (
	PMBase    = LPC.WithOffset(RegPMBase)
	GenPMCon1 = LPC.WithOffset(RegGenPMCon1)
)
