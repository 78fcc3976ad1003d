// Package portio abstracts x86 I/O port and PCI configuration space access.
//
// Drivers program hardware through the Port and PCIConfig interfaces so the
// same code runs against real hardware (DevPort, SysfsPCI on Linux) or
// against an emulated platform assembled on a Bus.
//
// # Port Bus
//
// A Bus dispatches accesses to registered Devices by port number, the way a
// chipset decodes the legacy I/O space:
//
//	bus := portio.NewBus()
//	bus.Register(chipset)
//	bus.Register(fwcfgDevice)
//	v := bus.In32(0x630)
//
// Reads from unclaimed ports float high (all ones); writes are dropped.
//
// # Tracing
//
// Traced and TracedPCI wrap any backend and emit one log.AccessEvent per
// access, which makes lock-down sequences reviewable after the fact.
package portio
