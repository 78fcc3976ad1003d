// Package profile describes an emulated Q35 platform in YAML and assembles
// it from the chipset, fw_cfg and protocol database emulations.
//
// Example:
//
//	pm_base: 0x600
//	smi_en: 0x0
//	strict_smi_enable: false
//	smi_features:
//	  supported: [broadcast, cpu-hotplug]
//	  requested: [broadcast]
package profile

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/q35smm/smm-go/pkg/ich9"
)

// ErrInvalidProfile is returned for profiles that fail validation.
var ErrInvalidProfile = errors.New("invalid platform profile")

// Profile is an emulated platform description.
type Profile struct {
	// PMBase is the PM I/O base left by platform initialization.
	PMBase uint16 `yaml:"pm_base"`

	// SMIEn is SMI_EN after reset.
	SMIEn uint32 `yaml:"smi_en"`

	// BrokenSMILock makes SMI_LOCK ineffective, so lock verification fails.
	BrokenSMILock bool `yaml:"broken_smi_lock"`

	// StrictSMIEnable selects the standalone MM variant of the configurator.
	StrictSMIEnable bool `yaml:"strict_smi_enable"`

	SMIFeatures SMIFeatures `yaml:"smi_features"`

	// FwCfg attaches the fw_cfg device. Nil means true.
	FwCfg *bool `yaml:"fw_cfg"`

	// DuplicateProtocol pre-installs another SMM control protocol, so
	// publication fails.
	DuplicateProtocol bool `yaml:"duplicate_protocol"`
}

// SMIFeatures holds the negotiable feature sets.
type SMIFeatures struct {
	// Supported is what the platform offers. Empty means negotiation is
	// not offered. Ignored without fw_cfg.
	Supported FeatureSet `yaml:"supported"`

	// Requested is what firmware asks for. Zero means the default request.
	Requested FeatureSet `yaml:"requested"`
}

// FeatureSet is a bitmask of ich9.SMIFeature* values. In YAML it is either
// an integer or a list of feature names.
type FeatureSet uint64

var featureNames = map[string]uint64{
	"broadcast":      ich9.SMIFeatureBroadcast,
	"cpu-hotplug":    ich9.SMIFeatureCPUHotplug,
	"cpu-hot-unplug": ich9.SMIFeatureCPUHotUnplug,
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (f *FeatureSet) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var v uint64
		if err := node.Decode(&v); err != nil {
			return fmt.Errorf("line %d: feature set: %w", node.Line, err)
		}
		*f = FeatureSet(v)
		return nil
	case yaml.SequenceNode:
		var names []string
		if err := node.Decode(&names); err != nil {
			return fmt.Errorf("line %d: feature set: %w", node.Line, err)
		}
		var v uint64
		for _, name := range names {
			bit, ok := featureNames[strings.ToLower(name)]
			if !ok {
				return fmt.Errorf("line %d: unknown SMI feature %q", node.Line, name)
			}
			v |= bit
		}
		*f = FeatureSet(v)
		return nil
	}
	return fmt.Errorf("line %d: feature set must be an integer or a list", node.Line)
}

// MarshalYAML implements yaml.Marshaler, emitting known bits by name.
func (f FeatureSet) MarshalYAML() (any, error) {
	if uint64(f)&^(ich9.SMIFeatureBroadcast|ich9.SMIFeatureCPUHotplug|ich9.SMIFeatureCPUHotUnplug) != 0 {
		return uint64(f), nil
	}
	return f.Names(), nil
}

// Names returns the names of the set bits in sorted order.
func (f FeatureSet) Names() []string {
	names := []string{}
	for name, bit := range featureNames {
		if uint64(f)&bit != 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Default returns the profile of a stock QEMU Q35 machine.
func Default() *Profile {
	return &Profile{
		PMBase: ich9.DefaultPMBase,
		SMIFeatures: SMIFeatures{
			Supported: FeatureSet(ich9.SMIFeatureBroadcast | ich9.SMIFeatureCPUHotplug | ich9.SMIFeatureCPUHotUnplug),
		},
	}
}

// Parse parses a profile from YAML bytes. Unset fields keep their
// Default values.
func Parse(data []byte) (*Profile, error) {
	p := Default()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parsing profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Load reads and parses a profile file.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Validate checks the profile for values the hardware cannot hold.
func (p *Profile) Validate() error {
	if p.PMBase == 0 {
		return fmt.Errorf("%w: pm_base must be set", ErrInvalidProfile)
	}
	if p.PMBase&^ich9.PMBaseMask != 0 {
		return fmt.Errorf("%w: pm_base %#04x is not 128-byte aligned", ErrInvalidProfile, p.PMBase)
	}
	return nil
}

// FwCfgEnabled reports whether the fw_cfg device is attached.
func (p *Profile) FwCfgEnabled() bool {
	return p.FwCfg == nil || *p.FwCfg
}

// ChipsetOptions returns the chipset power-on state described by p.
func (p *Profile) ChipsetOptions() ich9.Options {
	return ich9.Options{
		PMBase:        p.PMBase,
		SMIEn:         p.SMIEn,
		BrokenSMILock: p.BrokenSMILock,
		SMIFeatures:   uint64(p.SMIFeatures.Supported),
	}
}

// Marshal encodes p as YAML.
func (p *Profile) Marshal() ([]byte, error) {
	return yaml.Marshal(p)
}
