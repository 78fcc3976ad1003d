package profile

import (
	"fmt"

	"github.com/q35smm/smm-go/pkg/fwcfg"
	"github.com/q35smm/smm-go/pkg/ich9"
	"github.com/q35smm/smm-go/pkg/portio"
	"github.com/q35smm/smm-go/pkg/protocol"
)

// Platform is an assembled emulated machine.
type Platform struct {
	Profile *Profile
	Chipset *ich9.Chipset

	// FwCfg is nil when the profile disables fw_cfg.
	FwCfg *fwcfg.Device

	Bus      *portio.Bus
	Database *protocol.Database
}

// competingControl stands in for an SMM control protocol installed by
// another driver.
type competingControl struct{}

// Build assembles the platform described by p.
func (p *Profile) Build() (*Platform, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	pl := &Platform{
		Profile:  p,
		Chipset:  ich9.NewChipset(p.ChipsetOptions()),
		Bus:      portio.NewBus(),
		Database: protocol.NewDatabase(),
	}
	if err := pl.Bus.Register(pl.Chipset); err != nil {
		return nil, fmt.Errorf("register chipset: %w", err)
	}

	if p.FwCfgEnabled() {
		pl.FwCfg = fwcfg.NewDevice()
		if p.SMIFeatures.Supported != 0 {
			if err := pl.Chipset.AttachFwCfg(pl.FwCfg); err != nil {
				return nil, err
			}
		}
		if err := pl.Bus.Register(pl.FwCfg); err != nil {
			return nil, fmt.Errorf("register fw_cfg: %w", err)
		}
	}

	if err := pl.installCompeting(); err != nil {
		return nil, err
	}
	return pl, nil
}

// FwCfgClient returns a fw_cfg client on the platform bus. It reports the
// device as absent when fw_cfg is disabled.
func (pl *Platform) FwCfgClient() *fwcfg.Client {
	return fwcfg.NewClient(pl.Bus)
}

// Reset performs a platform reset: the chipset returns to its power-on
// state, SMI_LOCK is released and the protocol database starts empty, as
// on a fresh boot.
func (pl *Platform) Reset() error {
	pl.Chipset.Reset()
	pl.Database = protocol.NewDatabase()
	return pl.installCompeting()
}

func (pl *Platform) installCompeting() error {
	if !pl.Profile.DuplicateProtocol {
		return nil
	}
	return pl.Database.InstallProtocol(protocol.SMMControl2GUID, &competingControl{})
}
