// Package smmcontrol provides synchronous software SMI activation on the
// Q35/ICH9 platform.
//
// # Configuration
//
// Configure brings the SMI generation hardware into a locked state exactly
// once and returns the Driver implementing Control:
//
//  1. locate SMI_EN from PMBASE (set up by an earlier boot stage)
//  2. read SMI_EN; under StrictSMIEnable, APMC_EN without GBL_SMI_EN is a
//     hardware inconsistency
//  3. set APMC_EN and GBL_SMI_EN
//  4. set SMI_LOCK in GEN_PMCON_1
//  5. probe the lock by trying to clear GBL_SMI_EN; the read-back must be
//     unchanged
//  6. negotiate SMI features once
//  7. publish the Driver under protocol.SMMControl2GUID
//
// Every failure of this sequence is fatal. Init wraps Configure and halts
// the process instead of returning a partially configured Driver.
//
// # Runtime
//
// Trigger writes the data byte to APM_STS and then the command byte to
// APM_CNT, which raises the SMI. Periodic and delayed activations are not
// supported by the hardware and are rejected with ErrUnsupportedMode. Clear
// only validates its argument: the SMI is deasserted on SMM entry, and
// clearing status here could hide an SMI raised after the handler returned.
//
// The Driver holds no mutable state and takes no locks; callers that may
// trigger concurrently must serialize themselves.
package smmcontrol
