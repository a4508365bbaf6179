package config

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pankha-project/pankha-agent/internal/errors"
	"github.com/spf13/viper"
)

// Manager owns the live configuration. Remote configuration commands mutate it
// through the typed setters and then call Save to make the change durable; a
// failed save leaves the in-memory value applied.
type Manager struct {
	mu  sync.RWMutex
	cfg Config
	v   *viper.Viper
}

func newManager(cfg *Config, v *viper.Viper) *Manager {
	return &Manager{
		cfg: *cfg,
		v:   v,
	}
}

// NewManagerForTest builds a Manager around an in-memory config, saving to a
// throwaway file. Used by package tests; production code goes through Load.
func NewManagerForTest(cfg Config) *Manager {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(filepath.Join(os.TempDir(), "pankha-agent-test.toml"))

	return &Manager{cfg: cfg, v: v}
}

// Snapshot returns a copy of the current configuration.
func (m *Manager) Snapshot() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.cfg
}

// Save writes the current configuration back to the loaded config file.
func (m *Manager) Save() error {
	errFactory := errors.New()

	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.v.ConfigFileUsed()
	if path == "" {
		path = filepath.Join("/etc", defaultConfigName+"."+defaultConfigType)
	}

	if err := m.v.WriteConfigAs(path); err != nil {
		return errFactory.Wrap(errors.ErrSaveConfig, err)
	}

	return nil
}

func (m *Manager) SetUpdateInterval(seconds float64) error {
	if err := ValidateUpdateInterval(seconds); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Agent.UpdateInterval = seconds
	m.v.Set("agent.update_interval", seconds)

	return nil
}

func (m *Manager) SetFanStep(step int) error {
	if err := ValidateFanStep(step); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Hardware.FanStepPercent = step
	m.v.Set("hardware.fan_step_percent", step)

	return nil
}

func (m *Manager) SetHysteresis(hysteresis float64) error {
	if err := ValidateHysteresis(hysteresis); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Hardware.HysteresisTemp = hysteresis
	m.v.Set("hardware.hysteresis_temp", hysteresis)

	return nil
}

func (m *Manager) SetEmergencyTemp(temp float64) error {
	if err := ValidateEmergencyTemp(temp); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Hardware.EmergencyTemp = temp
	m.v.Set("hardware.emergency_temp", temp)

	return nil
}

func (m *Manager) SetLogLevel(level string) error {
	if err := ValidateLogLevel(level); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Agent.LogLevel = level
	m.v.Set("agent.log_level", level)

	return nil
}
