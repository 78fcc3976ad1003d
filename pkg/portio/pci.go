package portio

import "fmt"

// PCIAddress identifies a register in PCI configuration space.
type PCIAddress struct {
	Bus      uint8
	Device   uint8
	Function uint8
	Offset   uint16
}

// Encode packs the address in the PCI Express ECAM layout
// (bus<<20 | device<<15 | function<<12 | offset).
func (a PCIAddress) Encode() uint32 {
	return uint32(a.Bus)<<20 | uint32(a.Device&0x1f)<<15 |
		uint32(a.Function&0x7)<<12 | uint32(a.Offset&0xfff)
}

// WithOffset returns the address of another register of the same function.
func (a PCIAddress) WithOffset(off uint16) PCIAddress {
	a.Offset = off
	return a
}

// String returns the address as "BB:DD.F+0xOFF".
func (a PCIAddress) String() string {
	return fmt.Sprintf("%02x:%02x.%x+%#x", a.Bus, a.Device, a.Function, a.Offset)
}

// PCIConfig provides access to PCI configuration space.
type PCIConfig interface {
	Read16(addr PCIAddress) uint16
	Read32(addr PCIAddress) uint32
	Write16(addr PCIAddress, val uint16)
}

// Or16 performs a read-modify-write that sets bits in a 16-bit register and
// returns the value written.
func Or16(cfg PCIConfig, addr PCIAddress, bits uint16) uint16 {
	v := cfg.Read16(addr) | bits
	cfg.Write16(addr, v)
	return v
}
