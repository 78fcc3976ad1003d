package fwcfg

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/q35smm/smm-go/pkg/portio"
)

// I/O ports of the fw_cfg device on x86.
const (
	SelectorPort uint16 = 0x510
	DataPort     uint16 = 0x511
)

// Well-known item keys.
const (
	KeySignature uint16 = 0x0000
	KeyID        uint16 = 0x0001
	KeyFileDir   uint16 = 0x0019
	KeyFileFirst uint16 = 0x0020
)

// Signature is the content of KeySignature.
const Signature = "QEMU"

// fileNameSize is the fixed size of the name field in a directory entry.
const fileNameSize = 56

// fileEntrySize is size(4) + select(2) + reserved(2) + name(56).
const fileEntrySize = 8 + fileNameSize

// Errors.
var (
	ErrNotPresent   = errors.New("fw_cfg interface not present")
	ErrFileNotFound = errors.New("fw_cfg file not found")
	ErrSizeMismatch = errors.New("fw_cfg file size mismatch")
	ErrNameTooLong  = errors.New("fw_cfg file name too long")
	ErrFileExists   = errors.New("fw_cfg file already exists")
	ErrBadDirectory = errors.New("malformed fw_cfg file directory")
)

// File describes a named fw_cfg item.
type File struct {
	Name   string
	Size   uint32
	Select uint16
}

// Client accesses fw_cfg through I/O ports.
type Client struct {
	port portio.Port
}

// NewClient creates a client using port for register access.
func NewClient(port portio.Port) *Client {
	return &Client{port: port}
}

// Select chooses the item read and written by subsequent data accesses.
func (c *Client) Select(key uint16) {
	c.port.Out16(SelectorPort, key)
}

// Read fills buf from the selected item.
func (c *Client) Read(buf []byte) {
	for i := range buf {
		buf[i] = c.port.In8(DataPort)
	}
}

// Write writes b to the selected item.
func (c *Client) Write(b []byte) {
	for _, v := range b {
		c.port.Out8(DataPort, v)
	}
}

// Present reports whether the fw_cfg signature is visible.
func (c *Client) Present() bool {
	c.Select(KeySignature)
	var sig [4]byte
	c.Read(sig[:])
	return string(sig[:]) == Signature
}

// Files reads the file directory.
func (c *Client) Files() ([]File, error) {
	if !c.Present() {
		return nil, ErrNotPresent
	}

	c.Select(KeyFileDir)
	var hdr [4]byte
	c.Read(hdr[:])
	count := binary.BigEndian.Uint32(hdr[:])
	if count > 0xffff-uint32(KeyFileFirst) {
		return nil, fmt.Errorf("%w: %d entries", ErrBadDirectory, count)
	}

	files := make([]File, 0, count)
	var entry [fileEntrySize]byte
	for i := uint32(0); i < count; i++ {
		c.Read(entry[:])
		name := entry[8:]
		if n := bytes.IndexByte(name, 0); n >= 0 {
			name = name[:n]
		}
		files = append(files, File{
			Size:   binary.BigEndian.Uint32(entry[0:4]),
			Select: binary.BigEndian.Uint16(entry[4:6]),
			Name:   string(name),
		})
	}
	return files, nil
}

// FindFile looks a file up by name.
func (c *Client) FindFile(name string) (File, error) {
	files, err := c.Files()
	if err != nil {
		return File{}, err
	}
	for _, f := range files {
		if f.Name == name {
			return f, nil
		}
	}
	return File{}, fmt.Errorf("%w: %s", ErrFileNotFound, name)
}

// ReadFile returns the full content of the named file.
func (c *Client) ReadFile(name string) ([]byte, error) {
	f, err := c.FindFile(name)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, f.Size)
	c.Select(f.Select)
	c.Read(buf)
	return buf, nil
}

// WriteFile overwrites the named file. The length of data must match the
// file size.
func (c *Client) WriteFile(name string, data []byte) error {
	f, err := c.FindFile(name)
	if err != nil {
		return err
	}
	if uint32(len(data)) != f.Size {
		return fmt.Errorf("%w: %s is %d bytes, got %d", ErrSizeMismatch, name, f.Size, len(data))
	}
	c.Select(f.Select)
	c.Write(data)
	return nil
}
