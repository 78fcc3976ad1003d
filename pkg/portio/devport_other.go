//go:build !linux

package portio

// DefaultDevPortPath is the Linux character device exposing the I/O port space.
const DefaultDevPortPath = "/dev/port"

// DevPort is a placeholder for platforms without /dev/port.
type DevPort struct{}

// OpenDevPort returns ErrUnsupportedPlatform on non-Linux systems.
func OpenDevPort(path string) (*DevPort, error) {
	return nil, ErrUnsupportedPlatform
}

// The accessors read as an absent device and drop writes.
func (d *DevPort) In8(uint16) uint8     { return 0xff }
func (d *DevPort) In16(uint16) uint16   { return 0xffff }
func (d *DevPort) In32(uint16) uint32   { return 0xffffffff }
func (d *DevPort) Out8(uint16, uint8)   {}
func (d *DevPort) Out16(uint16, uint16) {}
func (d *DevPort) Out32(uint16, uint32) {}

// Err always reports ErrUnsupportedPlatform.
func (d *DevPort) Err() error { return ErrUnsupportedPlatform }

// Close is a no-op.
func (d *DevPort) Close() error { return nil }

// DevPortAvailable always reports false on non-Linux systems.
func DevPortAvailable(string) bool { return false }

var _ Port = (*DevPort)(nil)
