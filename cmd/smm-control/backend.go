package main

import (
	"errors"
	"fmt"

	"github.com/q35smm/smm-go/pkg/fwcfg"
	"github.com/q35smm/smm-go/pkg/ich9"
	"github.com/q35smm/smm-go/pkg/portio"
	"github.com/q35smm/smm-go/pkg/profile"
	"github.com/q35smm/smm-go/pkg/protocol"
)

// ErrNotICH9 is returned when 00:1f.0 is not an ICH9 LPC bridge.
var ErrNotICH9 = errors.New("no ICH9 LPC bridge at 00:1f.0")

// Backend bundles the platform services the configurator runs against.
type Backend struct {
	Name      string
	PCI       portio.PCIConfig
	Ports     portio.Port
	FwCfg     *fwcfg.Client
	Publisher protocol.Publisher

	// Platform is set for the emulated backend only.
	Platform *profile.Platform

	// Strict and Requested come from the profile, or flags on hardware.
	Strict    bool
	Requested uint64

	closers    []func() error
	accessErrs []func() error
}

// Err reports a failed register access on the hardware backend. Device
// file errors are sticky, so a non-nil result covers every access made so
// far.
func (b *Backend) Err() error {
	var errs []error
	for _, fn := range b.accessErrs {
		errs = append(errs, fn())
	}
	return errors.Join(errs...)
}

// Close releases device handles.
func (b *Backend) Close() error {
	var errs []error
	for _, c := range b.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// NewEmulatedBackend builds the platform described by ref, a builtin
// profile name or a YAML file path. Empty ref selects the default Q35
// profile.
func NewEmulatedBackend(ref string) (*Backend, error) {
	p, err := profile.Resolve(ref)
	if err != nil {
		return nil, err
	}
	pl, err := p.Build()
	if err != nil {
		return nil, err
	}

	b := &Backend{
		Name:      "emulated",
		PCI:       pl.Chipset,
		Ports:     pl.Bus,
		FwCfg:     pl.FwCfgClient(),
		Publisher: pl.Database,
		Platform:  pl,
		Strict:    p.StrictSMIEnable,
		Requested: uint64(p.SMIFeatures.Requested),
	}
	if err := probeLPC(b.PCI); err != nil {
		return nil, err
	}
	return b, nil
}

// NewHardwareBackend opens the I/O port device and the sysfs PCI tree of
// the running machine. The protocol database is process-local.
func NewHardwareBackend(devPort, sysfsRoot string) (*Backend, error) {
	port, err := portio.OpenDevPort(devPort)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", devPort, err)
	}
	pci := portio.NewSysfsPCI(sysfsRoot)

	b := &Backend{
		Name:      "hardware",
		PCI:       pci,
		Ports:     port,
		FwCfg:     fwcfg.NewClient(port),
		Publisher: protocol.NewDatabase(),
		closers:    []func() error{port.Close, pci.Close},
		accessErrs: []func() error{port.Err, pci.Err},
	}
	if err := probeLPC(pci); err != nil {
		b.Close()
		return nil, err
	}
	if err := pci.Err(); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

// probeLPC checks the vendor and device ID of the LPC bridge.
func probeLPC(pci portio.PCIConfig) error {
	id := pci.Read32(ich9.LPC.WithOffset(ich9.RegVendorID))
	vendor, device := uint16(id), uint16(id>>16)
	if vendor != ich9.VendorIntel || device != ich9.DeviceICH9LPC {
		return fmt.Errorf("%w: found %04x:%04x", ErrNotICH9, vendor, device)
	}
	return nil
}
