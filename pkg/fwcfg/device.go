package fwcfg

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/q35smm/smm-go/pkg/portio"
)

// FileOption configures an emulated file.
type FileOption func(*item)

// Writable makes a file writable through the data port. onWrite, if not nil,
// is called with a copy of the content each time the last byte is written.
func Writable(onWrite func(data []byte)) FileOption {
	return func(it *item) {
		it.writable = true
		it.onWrite = onWrite
	}
}

// OnSelect registers a function that recomputes the file content each time
// the file is selected.
func OnSelect(fn func() []byte) FileOption {
	return func(it *item) { it.onSelect = fn }
}

type item struct {
	name     string
	data     []byte
	writable bool
	onWrite  func([]byte)
	onSelect func() []byte
}

// Device is an emulated fw_cfg device exposing the legacy port interface.
// It is safe for concurrent use. Callbacks run with the device lock held and
// must not access the device.
type Device struct {
	mu       sync.Mutex
	items    map[uint16]*item
	files    []uint16
	nextKey  uint16
	selected uint16
	offset   int
}

// NewDevice creates a device exposing the signature and ID items.
func NewDevice() *Device {
	d := &Device{
		items:   make(map[uint16]*item),
		nextKey: KeyFileFirst,
	}
	d.items[KeySignature] = &item{data: []byte(Signature)}
	// Bit 0: traditional (port) interface.
	d.items[KeyID] = &item{data: []byte{1, 0, 0, 0}}
	d.items[KeyFileDir] = &item{onSelect: d.directory}
	return d
}

// AddFile adds a named file and returns its selector key.
func (d *Device) AddFile(name string, data []byte, opts ...FileOption) (uint16, error) {
	if len(name) >= fileNameSize {
		return 0, fmt.Errorf("%w: %q", ErrNameTooLong, name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, k := range d.files {
		if d.items[k].name == name {
			return 0, fmt.Errorf("%w: %s", ErrFileExists, name)
		}
	}

	it := &item{name: name, data: append([]byte(nil), data...)}
	for _, opt := range opts {
		opt(it)
	}

	key := d.nextKey
	d.nextKey++
	d.items[key] = it
	d.files = append(d.files, key)
	return key, nil
}

// SetFile replaces the content of an existing file.
func (d *Device) SetFile(name string, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, k := range d.files {
		if it := d.items[k]; it.name == name {
			it.data = append([]byte(nil), data...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrFileNotFound, name)
}

// File returns a copy of the current content of a named file.
func (d *Device) File(name string) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, k := range d.files {
		if it := d.items[k]; it.name == name {
			return append([]byte(nil), it.data...), true
		}
	}
	return nil, false
}

// directory builds the file directory; called with d.mu held.
func (d *Device) directory() []byte {
	buf := make([]byte, 4, 4+len(d.files)*fileEntrySize)
	binary.BigEndian.PutUint32(buf, uint32(len(d.files)))
	for _, k := range d.files {
		it := d.items[k]
		var entry [fileEntrySize]byte
		binary.BigEndian.PutUint32(entry[0:4], uint32(len(it.data)))
		binary.BigEndian.PutUint16(entry[4:6], k)
		copy(entry[8:], it.name)
		buf = append(buf, entry[:]...)
	}
	return buf
}

// IOPorts implements portio.Device.
func (d *Device) IOPorts() []uint16 { return []uint16{SelectorPort, DataPort} }

// ReadPort implements portio.Device. Each data port access yields one byte;
// reads past the end of an item return zero.
func (d *Device) ReadPort(port uint16, width int) uint32 {
	if port != DataPort {
		return 0
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	it := d.items[d.selected]
	if it == nil || d.offset >= len(it.data) {
		return 0
	}
	v := it.data[d.offset]
	d.offset++
	return uint32(v)
}

// WritePort implements portio.Device.
func (d *Device) WritePort(port uint16, width int, val uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch port {
	case SelectorPort:
		d.selected = uint16(val)
		d.offset = 0
		if it := d.items[d.selected]; it != nil && it.onSelect != nil {
			it.data = it.onSelect()
		}

	case DataPort:
		it := d.items[d.selected]
		if it == nil || !it.writable || d.offset >= len(it.data) {
			return
		}
		it.data[d.offset] = uint8(val)
		d.offset++
		if d.offset == len(it.data) && it.onWrite != nil {
			it.onWrite(append([]byte(nil), it.data...))
		}
	}
}

var _ portio.Device = (*Device)(nil)
