package interactive

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/q35smm/smm-go/pkg/profile"
	"github.com/q35smm/smm-go/pkg/smifeatures"
	"github.com/q35smm/smm-go/pkg/smmcontrol"
)

// MockControl is a testify mock for smmcontrol.Control.
type MockControl struct {
	mock.Mock
}

func (m *MockControl) Trigger(command, data smmcontrol.OptionalByte, periodic bool, interval uint64) error {
	return m.Called(command, data, periodic, interval).Error(0)
}

func (m *MockControl) Clear(periodic bool) error {
	return m.Called(periodic).Error(0)
}

func (m *MockControl) MinimumTriggerPeriod() uint64 {
	return m.Called().Get(0).(uint64)
}

func configure(t *testing.T, pl *profile.Platform) *smmcontrol.Driver {
	t.Helper()
	d, err := smmcontrol.Configure(smmcontrol.Config{
		PCI:        pl.Chipset,
		Ports:      pl.Bus,
		Negotiator: &smifeatures.Negotiator{FwCfg: pl.FwCfgClient()},
		Publisher:  pl.Database,
	})
	require.NoError(t, err)
	return d
}

func emulatedShell(t *testing.T) (*Shell, *bytes.Buffer, *profile.Platform) {
	t.Helper()
	pl, err := profile.Default().Build()
	require.NoError(t, err)

	var out bytes.Buffer
	s := newShell(Config{
		Control:  configure(t, pl),
		Platform: pl,
		Reboot: func() (smmcontrol.Control, error) {
			if err := pl.Reset(); err != nil {
				return nil, err
			}
			return configure(t, pl), nil
		},
	}, &out)
	return s, &out, pl
}

func TestShellTrigger(t *testing.T) {
	s, out, pl := emulatedShell(t)

	quit, err := s.Execute("trigger 42 0x17")
	require.NoError(t, err)
	assert.False(t, quit)

	smis := pl.Chipset.SMIs()
	require.Len(t, smis, 1)
	assert.Equal(t, uint8(0x42), smis[0].Command)
	assert.Equal(t, uint8(0x17), smis[0].Data)

	output := out.String()
	assert.Contains(t, output, "[SMI] #1 command=0x42 data=0x17 broadcast")
	assert.Contains(t, output, "trigger: Success")
}

func TestShellPeriodicRejected(t *testing.T) {
	s, out, pl := emulatedShell(t)

	_, err := s.Execute("periodic ef 100")
	require.NoError(t, err)

	assert.Empty(t, pl.Chipset.SMIs())
	assert.Contains(t, out.String(), "unsupported operation mode")
	assert.Contains(t, out.String(), "[Device Error]")
}

func TestShellClear(t *testing.T) {
	ctl := &MockControl{}
	ctl.On("Clear", false).Return(nil).Once()
	ctl.On("Clear", true).Return(&smmcontrol.ModeError{Op: "clear", Status: 0x8000000000000002}).Once()

	var out bytes.Buffer
	s := newShell(Config{Control: ctl}, &out)

	_, _ = s.Execute("clear")
	_, _ = s.Execute("clear periodic")

	ctl.AssertExpectations(t)
	assert.Contains(t, out.String(), "clear: Success")
	assert.Contains(t, out.String(), "[Invalid Parameter]")
}

func TestShellTriggerArguments(t *testing.T) {
	ctl := &MockControl{}
	var out bytes.Buffer
	s := newShell(Config{Control: ctl}, &out)

	for _, line := range []string{"trigger", "trigger zz", "trigger 1 2 3", "trigger 1 100", "periodic 1 -5"} {
		_, err := s.Execute(line)
		require.NoError(t, err)
	}
	ctl.AssertNotCalled(t, "Trigger", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Contains(t, out.String(), "Usage: trigger <cmd> [data]")
	assert.Contains(t, out.String(), "Invalid command")
	assert.Contains(t, out.String(), "Invalid data")
	assert.Contains(t, out.String(), "Invalid interval")
}

func TestShellStatus(t *testing.T) {
	s, out, _ := emulatedShell(t)

	_, err := s.Execute("status")
	require.NoError(t, err)

	output := out.String()
	for _, want := range []string{
		"Minimum trigger period: none",
		"Feature negotiation:    true",
		"PMBASE:    0x0600",
		"APMC_EN=true GBL_SMI_EN=true",
		"SMI_LOCK:  true",
		"Features:  broadcast",
	} {
		assert.Contains(t, output, want)
	}
}

func TestShellStatusWithoutPlatform(t *testing.T) {
	ctl := &MockControl{}
	ctl.On("MinimumTriggerPeriod").Return(uint64(100))
	var out bytes.Buffer
	s := newShell(Config{Control: ctl}, &out)

	_, _ = s.Execute("status")
	_, _ = s.Execute("smis")
	_, _ = s.Execute("reset")

	output := out.String()
	assert.Contains(t, output, "Minimum trigger period: 100")
	assert.NotContains(t, output, "Chipset:")
	assert.Contains(t, output, "only available on the emulated platform")
}

func TestShellSMIs(t *testing.T) {
	s, out, _ := emulatedShell(t)

	_, _ = s.Execute("smis")
	assert.Contains(t, out.String(), "No SMIs raised")

	_, _ = s.Execute("t 10")
	_, _ = s.Execute("t 11 ff")
	out.Reset()

	_, _ = s.Execute("smis")
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "#1 command=0x10 data=0x00"))
	assert.True(t, strings.HasPrefix(lines[1], "#2 command=0x11 data=0xff"))
}

func TestShellReset(t *testing.T) {
	s, out, pl := emulatedShell(t)

	_, err := s.Execute("reset")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "reconfigured")
	assert.True(t, pl.Chipset.SMILocked())

	_, _ = s.Execute("trigger 5")
	assert.Len(t, pl.Chipset.SMIs(), 1)
}

func TestShellResetHalts(t *testing.T) {
	var out bytes.Buffer
	bootErr := smmcontrol.ErrLockVerificationFailed
	s := newShell(Config{
		Control: &MockControl{},
		Reboot:  func() (smmcontrol.Control, error) { return nil, bootErr },
	}, &out)

	_, err := s.Execute("reset")
	assert.True(t, errors.Is(err, ErrHalted))
	assert.True(t, errors.Is(err, bootErr))
}

func TestShellQuitAndUnknown(t *testing.T) {
	var out bytes.Buffer
	s := newShell(Config{Control: &MockControl{}}, &out)

	quit, err := s.Execute("   ")
	assert.False(t, quit)
	assert.NoError(t, err)

	quit, _ = s.Execute("frobnicate")
	assert.False(t, quit)
	assert.Contains(t, out.String(), "Unknown command: frobnicate")

	quit, _ = s.Execute("QUIT")
	assert.True(t, quit)
}
