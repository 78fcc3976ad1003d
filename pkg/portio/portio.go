package portio

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Errors.
var (
	ErrPortInUse           = errors.New("I/O port already claimed")
	ErrUnsupportedPlatform = errors.New("raw hardware access not supported on this platform")
	ErrBadWidth            = errors.New("unsupported access width")
)

// Port provides access to the x86 I/O port space.
type Port interface {
	In8(port uint16) uint8
	In16(port uint16) uint16
	In32(port uint16) uint32
	Out8(port uint16, val uint8)
	Out16(port uint16, val uint16)
	Out32(port uint16, val uint32)
}

// Device is an emulated device that decodes a set of I/O ports.
// Width is 1, 2 or 4; values are passed zero-extended.
type Device interface {
	// IOPorts returns every port number the device decodes.
	IOPorts() []uint16

	// ReadPort returns the value read from port.
	ReadPort(port uint16, width int) uint32

	// WritePort handles a write of val to port.
	WritePort(port uint16, width int, val uint32)
}

// Bus dispatches port accesses to registered devices.
// It is safe for concurrent use; devices are called without the bus lock held.
type Bus struct {
	mu      sync.RWMutex
	devices map[uint16]Device
}

// NewBus creates an empty port bus.
func NewBus() *Bus {
	return &Bus{devices: make(map[uint16]Device)}
}

// Register claims all ports of dev. Registration is all-or-nothing.
func (b *Bus) Register(dev Device) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ports := dev.IOPorts()
	for _, p := range ports {
		if _, ok := b.devices[p]; ok {
			return fmt.Errorf("%w: %#04x", ErrPortInUse, p)
		}
	}
	for _, p := range ports {
		b.devices[p] = dev
	}
	return nil
}

// Ports returns the claimed port numbers in ascending order.
func (b *Bus) Ports() []uint16 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ports := make([]uint16, 0, len(b.devices))
	for p := range b.devices {
		ports = append(ports, p)
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })
	return ports
}

func (b *Bus) lookup(port uint16) Device {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.devices[port]
}

func (b *Bus) read(port uint16, width int) uint32 {
	dev := b.lookup(port)
	if dev == nil {
		return widthMask(width)
	}
	return dev.ReadPort(port, width) & widthMask(width)
}

func (b *Bus) write(port uint16, width int, val uint32) {
	if dev := b.lookup(port); dev != nil {
		dev.WritePort(port, width, val&widthMask(width))
	}
}

// In8 reads a byte from port.
func (b *Bus) In8(port uint16) uint8 { return uint8(b.read(port, 1)) }

// In16 reads a word from port.
func (b *Bus) In16(port uint16) uint16 { return uint16(b.read(port, 2)) }

// In32 reads a dword from port.
func (b *Bus) In32(port uint16) uint32 { return b.read(port, 4) }

// Out8 writes a byte to port.
func (b *Bus) Out8(port uint16, val uint8) { b.write(port, 1, uint32(val)) }

// Out16 writes a word to port.
func (b *Bus) Out16(port uint16, val uint16) { b.write(port, 2, uint32(val)) }

// Out32 writes a dword to port.
func (b *Bus) Out32(port uint16, val uint32) { b.write(port, 4, val) }

func widthMask(width int) uint32 {
	switch width {
	case 1:
		return 0xff
	case 2:
		return 0xffff
	default:
		return 0xffffffff
	}
}

// Compile-time interface satisfaction check.
var _ Port = (*Bus)(nil)
