//go:build linux

package portio

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// DefaultDevPortPath is the Linux character device exposing the I/O port space.
const DefaultDevPortPath = "/dev/port"

// DevPort accesses I/O ports through /dev/port.
//
// The kernel performs multi-byte accesses as consecutive byte accesses to
// adjacent ports, which is equivalent for byte-enabled chipset registers
// such as the ICH9 PM block. Access failures are sticky and reported by Err,
// since the Port interface has no error returns.
type DevPort struct {
	mu  sync.Mutex
	fd  int
	err error
}

// OpenDevPort opens the port device at path (DefaultDevPortPath if empty).
// It requires CAP_SYS_RAWIO.
func OpenDevPort(path string) (*DevPort, error) {
	if path == "" {
		path = DefaultDevPortPath
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &DevPort{fd: fd}, nil
}

func (d *DevPort) read(port uint16, buf []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := unix.Pread(d.fd, buf, int64(port)); err != nil && d.err == nil {
		d.err = fmt.Errorf("read port %#04x: %w", port, err)
	}
}

func (d *DevPort) write(port uint16, buf []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := unix.Pwrite(d.fd, buf, int64(port)); err != nil && d.err == nil {
		d.err = fmt.Errorf("write port %#04x: %w", port, err)
	}
}

// In8 implements Port.
func (d *DevPort) In8(port uint16) uint8 {
	var b [1]byte
	d.read(port, b[:])
	return b[0]
}

// In16 implements Port.
func (d *DevPort) In16(port uint16) uint16 {
	var b [2]byte
	d.read(port, b[:])
	return binary.LittleEndian.Uint16(b[:])
}

// In32 implements Port.
func (d *DevPort) In32(port uint16) uint32 {
	var b [4]byte
	d.read(port, b[:])
	return binary.LittleEndian.Uint32(b[:])
}

// Out8 implements Port.
func (d *DevPort) Out8(port uint16, val uint8) {
	d.write(port, []byte{val})
}

// Out16 implements Port.
func (d *DevPort) Out16(port uint16, val uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], val)
	d.write(port, b[:])
}

// Out32 implements Port.
func (d *DevPort) Out32(port uint16, val uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], val)
	d.write(port, b[:])
}

// Err returns the first access error, if any.
func (d *DevPort) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Close releases the device.
func (d *DevPort) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.fd < 0 {
		return nil
	}
	err := unix.Close(d.fd)
	d.fd = -1
	return err
}

var _ Port = (*DevPort)(nil)

// DevPortAvailable reports whether the port device exists at path.
func DevPortAvailable(path string) bool {
	if path == "" {
		path = DefaultDevPortPath
	}
	_, err := os.Stat(path)
	return err == nil
}
