// Package smifeatures negotiates how QEMU delivers SMIs to the guest.
//
// QEMU offers its SMI features in the fw_cfg file etc/smi/supported-features.
// Firmware writes the subset it wants to etc/smi/requested-features and then
// selects etc/smi/features-ok; a value of 1 means the request was accepted
// and the feature set is locked until reset. Platforms without these files
// do not support negotiation, which is not an error.
package smifeatures

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/q35smm/smm-go/pkg/fwcfg"
	"github.com/q35smm/smm-go/pkg/ich9"
)

// DefaultRequested is the feature set firmware asks for when not configured.
const DefaultRequested = ich9.SMIFeatureBroadcast

// Errors.
var (
	ErrFeaturesRejected = errors.New("SMI feature negotiation rejected")
	ErrMalformedFile    = errors.New("malformed SMI feature file")
)

// Negotiator performs SMI feature negotiation over fw_cfg.
type Negotiator struct {
	FwCfg *fwcfg.Client

	// Requested is the set of features firmware wants; it is intersected
	// with the supported set. Zero means DefaultRequested.
	Requested uint64

	// Logger receives diagnostics. Nil means slog.Default().
	Logger *slog.Logger

	// Negotiated holds the accepted feature set after a successful call.
	Negotiated uint64
}

// Negotiate runs the negotiation. It returns false with a nil error when the
// platform offers no negotiation files, and true once QEMU accepted the
// requested set.
func (n *Negotiator) Negotiate() (bool, error) {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if n.FwCfg == nil || !n.FwCfg.Present() {
		logger.Debug("smi features: fw_cfg not present")
		return false, nil
	}

	var files [3]fwcfg.File
	for i, name := range []string{
		ich9.FileSMISupportedFeatures,
		ich9.FileSMIRequestedFeatures,
		ich9.FileSMIFeaturesOK,
	} {
		f, err := n.FwCfg.FindFile(name)
		if errors.Is(err, fwcfg.ErrFileNotFound) {
			logger.Debug("smi features: negotiation not offered", slog.String("missing", name))
			return false, nil
		}
		if err != nil {
			return false, err
		}
		files[i] = f
	}
	supportedFile, requestedFile, okFile := files[0], files[1], files[2]
	if supportedFile.Size != 8 || requestedFile.Size != 8 || okFile.Size != 1 {
		return false, fmt.Errorf("%w: sizes %d/%d/%d", ErrMalformedFile,
			supportedFile.Size, requestedFile.Size, okFile.Size)
	}

	var buf [8]byte
	n.FwCfg.Select(supportedFile.Select)
	n.FwCfg.Read(buf[:])
	supported := binary.LittleEndian.Uint64(buf[:])

	want := n.Requested
	if want == 0 {
		want = DefaultRequested
	}
	requested := supported & want

	binary.LittleEndian.PutUint64(buf[:], requested)
	n.FwCfg.Select(requestedFile.Select)
	n.FwCfg.Write(buf[:])

	var ok [1]byte
	n.FwCfg.Select(okFile.Select)
	n.FwCfg.Read(ok[:])
	if ok[0] != 1 {
		return false, fmt.Errorf("%w: requested %#x of supported %#x", ErrFeaturesRejected, requested, supported)
	}

	n.Negotiated = requested
	logger.Info("smi features negotiated",
		slog.String("supported", fmt.Sprintf("%#x", supported)),
		slog.String("requested", fmt.Sprintf("%#x", requested)),
		slog.Bool("broadcast", requested&ich9.SMIFeatureBroadcast != 0))
	return true, nil
}
