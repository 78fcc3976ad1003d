package protocol

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Well-known protocol GUIDs.
var (
	// SMMControl2GUID identifies the SMM Control2 protocol.
	SMMControl2GUID = uuid.MustParse("843dc720-ab1e-42cb-9357-8a0078f3561b")
)

// Database errors.
var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrAlreadyStarted   = errors.New("protocol already installed")
	ErrNotFound         = errors.New("protocol not found")
)

// Publisher is the sink a driver hands its interface to.
type Publisher interface {
	InstallProtocol(guid uuid.UUID, iface any) error
}

// Database is an in-memory protocol database. It is safe for concurrent use.
type Database struct {
	mu        sync.RWMutex
	protocols map[uuid.UUID]any
}

// NewDatabase creates an empty protocol database.
func NewDatabase() *Database {
	return &Database{protocols: make(map[uuid.UUID]any)}
}

// InstallProtocol publishes iface under guid.
func (d *Database) InstallProtocol(guid uuid.UUID, iface any) error {
	if guid == uuid.Nil || iface == nil {
		return ErrInvalidParameter
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.protocols[guid]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyStarted, guid)
	}
	d.protocols[guid] = iface
	return nil
}

// LocateProtocol returns the interface published under guid.
func (d *Database) LocateProtocol(guid uuid.UUID) (any, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	iface, ok := d.protocols[guid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, guid)
	}
	return iface, nil
}

// Installed returns the GUIDs of all installed protocols, sorted.
func (d *Database) Installed() []uuid.UUID {
	d.mu.RLock()
	defer d.mu.RUnlock()

	guids := make([]uuid.UUID, 0, len(d.protocols))
	for g := range d.protocols {
		guids = append(guids, g)
	}
	sort.Slice(guids, func(i, j int) bool { return guids[i].String() < guids[j].String() })
	return guids
}

var _ Publisher = (*Database)(nil)
