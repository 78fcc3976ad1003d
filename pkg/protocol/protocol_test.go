package protocol

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatabaseInstallAndLocate(t *testing.T) {
	db := NewDatabase()
	iface := &struct{ name string }{"control"}

	require.NoError(t, db.InstallProtocol(SMMControl2GUID, iface))

	got, err := db.LocateProtocol(SMMControl2GUID)
	require.NoError(t, err)
	assert.Same(t, iface, got)
	assert.Equal(t, []uuid.UUID{SMMControl2GUID}, db.Installed())
}

func TestDatabaseRejectsDuplicate(t *testing.T) {
	db := NewDatabase()
	require.NoError(t, db.InstallProtocol(SMMControl2GUID, 1))

	err := db.InstallProtocol(SMMControl2GUID, 2)
	assert.True(t, errors.Is(err, ErrAlreadyStarted))

	got, _ := db.LocateProtocol(SMMControl2GUID)
	assert.Equal(t, 1, got, "first installation must be kept")
}

func TestDatabaseInvalidParameter(t *testing.T) {
	db := NewDatabase()
	assert.True(t, errors.Is(db.InstallProtocol(uuid.Nil, 1), ErrInvalidParameter))
	assert.True(t, errors.Is(db.InstallProtocol(SMMControl2GUID, nil), ErrInvalidParameter))
	assert.Empty(t, db.Installed())
}

func TestDatabaseLocateMissing(t *testing.T) {
	_, err := NewDatabase().LocateProtocol(uuid.New())
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSMMControl2GUID(t *testing.T) {
	assert.Equal(t, "843dc720-ab1e-42cb-9357-8a0078f3561b", SMMControl2GUID.String())
}

func TestStatus(t *testing.T) {
	tests := []struct {
		s     Status
		name  string
		isErr bool
	}{
		{StatusSuccess, "Success", false},
		{StatusInvalidParameter, "Invalid Parameter", true},
		{StatusDeviceError, "Device Error", true},
		{StatusAlreadyStarted, "Already started", true},
		{Status(42), "Status(0x2a)", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.s.String())
			assert.Equal(t, tt.isErr, tt.s.IsError())
		})
	}
	assert.Equal(t, Status(0x8000000000000007), StatusDeviceError)
}
