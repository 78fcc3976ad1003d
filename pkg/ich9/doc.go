// Package ich9 describes the Q35/ICH9 registers used for software SMIs and
// provides an emulated chipset implementing them.
//
// # Registers
//
//   - PMBASE (LPC config 0x40): base of the 128-byte PM I/O block.
//   - GEN_PMCON_1 (LPC config 0xa0): bit 4 SMI_LOCK freezes GBL_SMI_EN.
//   - SMI_EN (PMBASE+0x30): bit 0 GBL_SMI_EN, bit 5 APMC_EN.
//   - SMI_STS (PMBASE+0x34): bit 5 APM_STS, write one to clear.
//   - APM_CNT (0xb2) / APM_STS (0xb3): control and scratchpad ports.
//
// # Emulation
//
// Chipset follows the behaviour of the QEMU Q35 LPC bridge: SMI_LOCK is
// write-once and removes GBL_SMI_EN from the SMI_EN write mask, and a write
// to APM_CNT with APMC_EN and GBL_SMI_EN set raises an SMI carrying the
// command byte and the scratchpad byte. Options.BrokenSMILock produces a
// substrate that accepts SMI_LOCK but keeps GBL_SMI_EN writable.
//
// When attached to an fw_cfg device, the chipset also serves the SMI feature
// negotiation files and locks the negotiated set on the first successful
// features-ok selection.
package ich9
