package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/pankha-project/pankha-agent/internal/errors"
	"github.com/spf13/viper"
)

const (
	defaultConfigName = "pankha-agent"
	defaultConfigType = "toml"
	configEnvVar      = "PANKHA_AGENT_CONFIG"

	shortIDLength = 8
)

type AgentSettings struct {
	ID             string  `mapstructure:"id"`
	Name           string  `mapstructure:"name"`
	UpdateInterval float64 `mapstructure:"update_interval"`
	LogLevel       string  `mapstructure:"log_level"`
}

type BackendSettings struct {
	ServerURL            string  `mapstructure:"server_url"`
	ReconnectInterval    float64 `mapstructure:"reconnect_interval"`
	MaxReconnectInterval float64 `mapstructure:"max_reconnect_interval"`
	MaxReconnectAttempts int     `mapstructure:"max_reconnect_attempts"`
	ConnectionTimeout    float64 `mapstructure:"connection_timeout"`
}

type HardwareSettings struct {
	EnableFanControl   bool    `mapstructure:"enable_fan_control"`
	MinFanSpeed        int     `mapstructure:"min_fan_speed"`
	FanStepPercent     int     `mapstructure:"fan_step_percent"`
	HysteresisTemp     float64 `mapstructure:"hysteresis_temp"`
	EmergencyTemp      float64 `mapstructure:"emergency_temp"`
	FailsafeSpeed      int     `mapstructure:"failsafe_speed"`
	MinWriteIntervalMs int     `mapstructure:"min_write_interval_ms"`
}

type WatchdogSettings struct {
	TickInterval      float64 `mapstructure:"tick_interval"`
	FailsafeThreshold float64 `mapstructure:"failsafe_threshold"`
}

type TelemetrySettings struct {
	Enabled  bool   `mapstructure:"enabled"`
	Database string `mapstructure:"database"`
}

type Config struct {
	Debug     bool              `mapstructure:"debug"`
	Verbose   bool              `mapstructure:"verbose"`
	Agent     AgentSettings     `mapstructure:"agent"`
	Backend   BackendSettings   `mapstructure:"backend"`
	Hardware  HardwareSettings  `mapstructure:"hardware"`
	Watchdog  WatchdogSettings  `mapstructure:"watchdog"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
}

func (s BackendSettings) ReconnectDelay() time.Duration {
	return secondsToDuration(s.ReconnectInterval)
}

func (s BackendSettings) MaxReconnectDelay() time.Duration {
	return secondsToDuration(s.MaxReconnectInterval)
}

func (s BackendSettings) ConnectTimeout() time.Duration {
	return secondsToDuration(s.ConnectionTimeout)
}

func (s AgentSettings) PushInterval() time.Duration {
	return secondsToDuration(s.UpdateInterval)
}

func (s WatchdogSettings) Tick() time.Duration {
	return secondsToDuration(s.TickInterval)
}

func (s WatchdogSettings) Threshold() time.Duration {
	return secondsToDuration(s.FailsafeThreshold)
}

func (s HardwareSettings) MinWriteInterval() time.Duration {
	return time.Duration(s.MinWriteIntervalMs) * time.Millisecond
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("verbose", false)

	v.SetDefault("agent.id", "")
	v.SetDefault("agent.name", "")
	v.SetDefault("agent.update_interval", 3.0)
	v.SetDefault("agent.log_level", "info")

	v.SetDefault("backend.server_url", "ws://127.0.0.1:3002")
	v.SetDefault("backend.reconnect_interval", 5.0)
	v.SetDefault("backend.max_reconnect_interval", 30.0)
	v.SetDefault("backend.max_reconnect_attempts", -1)
	v.SetDefault("backend.connection_timeout", 10.0)

	v.SetDefault("hardware.enable_fan_control", true)
	v.SetDefault("hardware.min_fan_speed", 30)
	v.SetDefault("hardware.fan_step_percent", 5)
	v.SetDefault("hardware.hysteresis_temp", 3.0)
	v.SetDefault("hardware.emergency_temp", 85.0)
	v.SetDefault("hardware.failsafe_speed", 80)
	v.SetDefault("hardware.min_write_interval_ms", 100)

	v.SetDefault("watchdog.tick_interval", 10.0)
	v.SetDefault("watchdog.failsafe_threshold", 60.0)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.database", "/var/lib/pankha-agent/telemetry.db")
}

// Load reads configuration from the file pointed at by PANKHA_AGENT_CONFIG,
// or from pankha-agent.toml in /etc or the working directory. A missing file
// is not an error; defaults apply. A stable agent id is generated on first
// run and persisted back to the config file when one exists.
func Load() (*Manager, error) {
	errFactory := errors.New()

	v := viper.New()
	setDefaults(v)

	if path := os.Getenv(configEnvVar); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(defaultConfigName)
		v.SetConfigType(defaultConfigType)
		v.AddConfigPath("/etc")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	if cfg.Agent.Name == "" {
		cfg.Agent.Name = hostname
	}

	// The id must be assigned before the Manager copies the config, or the
	// live snapshot would register with an empty identity until a restart.
	persistID := false
	if cfg.Agent.ID == "" {
		cfg.Agent.ID = generateAgentID(hostname)
		v.Set("agent.id", cfg.Agent.ID)
		persistID = true
	}

	m := newManager(cfg, v)

	if persistID {
		// Best effort: a read-only config location must not prevent startup.
		_ = m.Save()
	}

	return m, nil
}

// Validate checks every configured value against its documented range.
func Validate(cfg *Config) error {
	if err := ValidateUpdateInterval(cfg.Agent.UpdateInterval); err != nil {
		return err
	}
	if err := ValidateLogLevel(cfg.Agent.LogLevel); err != nil {
		return err
	}
	if err := ValidateFanStep(cfg.Hardware.FanStepPercent); err != nil {
		return err
	}
	if err := ValidateHysteresis(cfg.Hardware.HysteresisTemp); err != nil {
		return err
	}
	if err := ValidateEmergencyTemp(cfg.Hardware.EmergencyTemp); err != nil {
		return err
	}
	if err := ValidateFanSpeed(cfg.Hardware.MinFanSpeed); err != nil {
		return err
	}
	if err := ValidateFanSpeed(cfg.Hardware.FailsafeSpeed); err != nil {
		return err
	}

	errFactory := errors.New()
	if cfg.Backend.ReconnectInterval <= 0 || cfg.Backend.MaxReconnectInterval < cfg.Backend.ReconnectInterval {
		return errFactory.WithMessage(errors.ErrInvalidConfig,
			"backend.max_reconnect_interval must be >= backend.reconnect_interval > 0")
	}
	if cfg.Watchdog.TickInterval <= 0 || cfg.Watchdog.FailsafeThreshold <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig,
			"watchdog.tick_interval and watchdog.failsafe_threshold must be > 0")
	}

	return nil
}

func generateAgentID(hostname string) string {
	short := uuid.NewString()[:shortIDLength]

	return fmt.Sprintf("%s-%s-%s", runtime.GOOS, hostname, short)
}
