package portio

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DefaultSysfsPCIRoot is where Linux exposes per-function config space files.
const DefaultSysfsPCIRoot = "/sys/bus/pci/devices"

// SysfsPCI accesses PCI configuration space through sysfs config files
// (segment 0). Files are opened lazily per function and kept open.
// Access failures are sticky and reported by Err.
type SysfsPCI struct {
	mu    sync.Mutex
	root  string
	files map[PCIAddress]*os.File
	err   error
}

// NewSysfsPCI creates a sysfs-backed PCIConfig rooted at root
// (DefaultSysfsPCIRoot if empty).
func NewSysfsPCI(root string) *SysfsPCI {
	if root == "" {
		root = DefaultSysfsPCIRoot
	}
	return &SysfsPCI{root: root, files: make(map[PCIAddress]*os.File)}
}

// ConfigPath returns the sysfs config file for the function of addr.
func (s *SysfsPCI) ConfigPath(addr PCIAddress) string {
	return filepath.Join(s.root,
		fmt.Sprintf("0000:%02x:%02x.%x", addr.Bus, addr.Device, addr.Function), "config")
}

func (s *SysfsPCI) file(addr PCIAddress) (*os.File, error) {
	key := addr.WithOffset(0)
	if f, ok := s.files[key]; ok {
		return f, nil
	}
	f, err := os.OpenFile(s.ConfigPath(addr), os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	s.files[key] = f
	return f, nil
}

func (s *SysfsPCI) readAt(addr PCIAddress, buf []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.file(addr)
	if err == nil {
		_, err = f.ReadAt(buf, int64(addr.Offset))
	}
	if err != nil {
		for i := range buf {
			buf[i] = 0xff
		}
		if s.err == nil {
			s.err = fmt.Errorf("read config %s: %w", addr, err)
		}
	}
}

func (s *SysfsPCI) writeAt(addr PCIAddress, buf []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.file(addr)
	if err == nil {
		_, err = f.WriteAt(buf, int64(addr.Offset))
	}
	if err != nil && s.err == nil {
		s.err = fmt.Errorf("write config %s: %w", addr, err)
	}
}

// Read16 implements PCIConfig. Failed reads return all-ones.
func (s *SysfsPCI) Read16(addr PCIAddress) uint16 {
	var b [2]byte
	s.readAt(addr, b[:])
	return binary.LittleEndian.Uint16(b[:])
}

// Read32 implements PCIConfig. Failed reads return all-ones.
func (s *SysfsPCI) Read32(addr PCIAddress) uint32 {
	var b [4]byte
	s.readAt(addr, b[:])
	return binary.LittleEndian.Uint32(b[:])
}

// Write16 implements PCIConfig.
func (s *SysfsPCI) Write16(addr PCIAddress, val uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], val)
	s.writeAt(addr, b[:])
}

// Err returns the first access error, if any.
func (s *SysfsPCI) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close closes all open config files.
func (s *SysfsPCI) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var first error
	for k, f := range s.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
		delete(s.files, k)
	}
	return first
}

var _ PCIConfig = (*SysfsPCI)(nil)
