package hardware_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pankha-project/pankha-agent/internal/errors"
	"github.com/pankha-project/pankha-agent/internal/hardware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChip builds one hwmon chip directory with a single pwm-controlled fan.
func fakeChip(t *testing.T, root, dir, name string, withEnable bool) string {
	t.Helper()

	chipPath := filepath.Join(root, dir)
	require.NoError(t, os.MkdirAll(chipPath, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(chipPath, "name"), []byte(name+"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(chipPath, "pwm1"), []byte("128\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(chipPath, "fan1_input"), []byte("1200\n"), 0o644))
	if withEnable {
		require.NoError(t, os.WriteFile(filepath.Join(chipPath, "pwm1_enable"), []byte("2\n"), 0o644))
	}

	return chipPath
}

func TestDiscoverFans(t *testing.T) {
	root := t.TempDir()
	fakeChip(t, root, "hwmon0", "nct6775", true)
	fakeChip(t, root, "hwmon1", "amdgpu", false)

	port := hardware.NewHwmonPortAt(root)
	fans, err := port.DiscoverFans(context.Background())
	require.NoError(t, err)
	require.Len(t, fans, 2)

	byID := make(map[string]hardware.Fan, len(fans))
	for _, f := range fans {
		byID[f.ID] = f
	}

	mb, ok := byID["nct6775_fan_1"]
	require.True(t, ok, "expected fan id derived from chip name")
	assert.Equal(t, 1200, mb.RPM)
	assert.Equal(t, 50, mb.Speed, "128/255 rounds to 50%")
	assert.Equal(t, "ok", mb.Status)
	assert.True(t, mb.SupportsAuto)

	gpu, ok := byID["amdgpu_fan_1"]
	require.True(t, ok)
	assert.False(t, gpu.SupportsAuto)
}

func TestSetFanSpeed(t *testing.T) {
	root := t.TempDir()
	chipPath := fakeChip(t, root, "hwmon0", "nct6775", true)

	port := hardware.NewHwmonPortAt(root)
	_, err := port.DiscoverFans(context.Background())
	require.NoError(t, err)

	require.NoError(t, port.SetFanSpeed(context.Background(), "nct6775_fan_1", 50))

	pwm, err := os.ReadFile(filepath.Join(chipPath, "pwm1"))
	require.NoError(t, err)
	assert.Equal(t, "127", string(pwm), "50% of 255")

	enable, err := os.ReadFile(filepath.Join(chipPath, "pwm1_enable"))
	require.NoError(t, err)
	assert.Equal(t, "1", string(enable), "manual mode engaged before the write")

	// The reported speed reflects the commanded percentage, not the rounded
	// pwm value read back from the file.
	fans, err := port.DiscoverFans(context.Background())
	require.NoError(t, err)
	require.Len(t, fans, 1)
	assert.Equal(t, 50, fans[0].Speed)
}

func TestSetFanSpeedClampsPercent(t *testing.T) {
	root := t.TempDir()
	chipPath := fakeChip(t, root, "hwmon0", "nct6775", true)

	port := hardware.NewHwmonPortAt(root)
	_, err := port.DiscoverFans(context.Background())
	require.NoError(t, err)

	require.NoError(t, port.SetFanSpeed(context.Background(), "nct6775_fan_1", 150))

	pwm, err := os.ReadFile(filepath.Join(chipPath, "pwm1"))
	require.NoError(t, err)
	assert.Equal(t, "255", string(pwm))
}

func TestSetFanSpeedUnknownFan(t *testing.T) {
	root := t.TempDir()
	fakeChip(t, root, "hwmon0", "nct6775", true)

	port := hardware.NewHwmonPortAt(root)
	_, err := port.DiscoverFans(context.Background())
	require.NoError(t, err)

	err = port.SetFanSpeed(context.Background(), "nope", 50)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, hardware.ErrFanNotFound))
}

func TestEmergencyStop(t *testing.T) {
	root := t.TempDir()
	chip0 := fakeChip(t, root, "hwmon0", "nct6775", true)
	chip1 := fakeChip(t, root, "hwmon1", "amdgpu", false)

	port := hardware.NewHwmonPortAt(root)
	_, err := port.DiscoverFans(context.Background())
	require.NoError(t, err)

	require.NoError(t, port.EmergencyStop(context.Background()))

	for _, chipPath := range []string{chip0, chip1} {
		pwm, err := os.ReadFile(filepath.Join(chipPath, "pwm1"))
		require.NoError(t, err)
		assert.Equal(t, "255", string(pwm))
	}
}

func TestResetToAutomatic(t *testing.T) {
	root := t.TempDir()
	chipPath := fakeChip(t, root, "hwmon0", "nct6775", true)

	port := hardware.NewHwmonPortAt(root)
	_, err := port.DiscoverFans(context.Background())
	require.NoError(t, err)

	require.NoError(t, port.SetFanSpeed(context.Background(), "nct6775_fan_1", 50))
	require.NoError(t, port.ResetToAutomatic(context.Background()))

	enable, err := os.ReadFile(filepath.Join(chipPath, "pwm1_enable"))
	require.NoError(t, err)
	assert.Equal(t, "2", string(enable), "original automatic mode restored")
}

func TestResetToAutomaticUnsupported(t *testing.T) {
	root := t.TempDir()
	fakeChip(t, root, "hwmon0", "amdgpu", false)

	port := hardware.NewHwmonPortAt(root)
	_, err := port.DiscoverFans(context.Background())
	require.NoError(t, err)

	err = port.ResetToAutomatic(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, hardware.ErrAutoUnsupported))
}
