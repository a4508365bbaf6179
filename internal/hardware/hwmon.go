package hardware

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pankha-project/pankha-agent/internal/errors"
	"github.com/pankha-project/pankha-agent/internal/logger"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/sensors"
)

const (
	defaultHwmonRoot = "/sys/class/hwmon"
	pwmMax           = 255

	pwmManualMode = "1"
	pwmAutoMode   = "2"
)

var pwmFilePattern = regexp.MustCompile(`^pwm([0-9]+)$`)

type hwmonFan struct {
	pwmPath      string
	rpmPath      string
	enablePath   string
	autoValue    string
	supportsAuto bool
}

// HwmonPort implements Port against the Linux hwmon sysfs tree, with system
// health and sensor temperatures read through gopsutil.
type HwmonPort struct {
	root      string
	startedAt time.Time

	// writeMu serializes all pwm writes; the executor and the watchdog may
	// call into the port concurrently.
	writeMu sync.Mutex

	mu        sync.RWMutex
	fans      map[string]*hwmonFan
	commanded map[string]int
}

// NewHwmonPort creates a port rooted at the standard hwmon sysfs location.
func NewHwmonPort() *HwmonPort {
	return NewHwmonPortAt(defaultHwmonRoot)
}

// NewHwmonPortAt creates a port rooted at an explicit hwmon directory.
func NewHwmonPortAt(root string) *HwmonPort {
	return &HwmonPort{
		root:      root,
		startedAt: time.Now(),
		fans:      make(map[string]*hwmonFan),
		commanded: make(map[string]int),
	}
}

func (p *HwmonPort) DiscoverSensors(ctx context.Context) ([]Sensor, error) {
	errFactory := errors.New()

	stats, err := sensors.TemperaturesWithContext(ctx)
	if err != nil && len(stats) == 0 {
		return nil, errFactory.Wrap(ErrDiscoveryFailed, err)
	}

	result := make([]Sensor, 0, len(stats))
	for _, stat := range stats {
		if stat.SensorKey == "" {
			continue
		}
		result = append(result, Sensor{
			ID:          strings.ToLower(strings.ReplaceAll(stat.SensorKey, " ", "_")),
			Temperature: stat.Temperature,
			Type:        sensorType(stat.SensorKey),
			Status:      "ok",
		})
	}

	return result, nil
}

func (p *HwmonPort) DiscoverFans(ctx context.Context) ([]Fan, error) {
	errFactory := errors.New()

	if err := ctx.Err(); err != nil {
		return nil, errFactory.Wrap(ErrDiscoveryFailed, err)
	}

	entries, err := os.ReadDir(p.root)
	if err != nil {
		return nil, errFactory.Wrap(ErrDiscoveryFailed, err)
	}

	discovered := make(map[string]*hwmonFan)
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), "hwmon") {
			continue
		}

		chipPath := filepath.Join(p.root, entry.Name())
		chip := readString(filepath.Join(chipPath, "name"), "unknown")

		files, err := os.ReadDir(chipPath)
		if err != nil {
			continue
		}

		for _, file := range files {
			match := pwmFilePattern.FindStringSubmatch(file.Name())
			if match == nil {
				continue
			}
			num := match[1]

			fan := &hwmonFan{
				pwmPath: filepath.Join(chipPath, file.Name()),
				rpmPath: filepath.Join(chipPath, "fan"+num+"_input"),
			}

			enablePath := filepath.Join(chipPath, file.Name()+"_enable")
			if _, err := os.Stat(enablePath); err == nil {
				fan.enablePath = enablePath
				fan.supportsAuto = true
				fan.autoValue = pwmAutoMode
				if v := readString(enablePath, ""); v != "" && v != pwmManualMode {
					fan.autoValue = v
				}
			}

			id := strings.ToLower(strings.ReplaceAll(chip+"_fan_"+num, " ", "_"))
			discovered[id] = fan
		}
	}

	p.mu.Lock()
	p.fans = discovered
	p.mu.Unlock()

	return p.snapshotFans(), nil
}

func (p *HwmonPort) snapshotFans() []Fan {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]Fan, 0, len(p.fans))
	for id, fan := range p.fans {
		rpm := readInt(fan.rpmPath, 0)
		speed, ok := p.commanded[id]
		if !ok {
			speed = pwmToPercent(readInt(fan.pwmPath, 0))
		}

		status := "ok"
		if rpm == 0 {
			status = "stopped"
		}

		result = append(result, Fan{
			ID:           id,
			RPM:          rpm,
			Speed:        speed,
			Status:       status,
			SupportsAuto: fan.supportsAuto,
		})
	}

	return result
}

func (p *HwmonPort) ReadSystemHealth(ctx context.Context) (Health, error) {
	errFactory := errors.New()

	cpuUsage := 0.0
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err == nil && len(percents) > 0 {
		cpuUsage = percents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Health{}, errFactory.Wrap(ErrHealthUnavailable, err)
	}

	return Health{
		CPUUsage:    cpuUsage,
		MemoryUsage: vm.UsedPercent,
		AgentUptime: time.Since(p.startedAt).Seconds(),
	}, nil
}

func (p *HwmonPort) SetFanSpeed(ctx context.Context, fanID string, percent int) error {
	errFactory := errors.New()

	if err := ctx.Err(); err != nil {
		return errFactory.Wrap(ErrWriteFailed, err)
	}

	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}

	p.mu.RLock()
	fan, ok := p.fans[fanID]
	p.mu.RUnlock()
	if !ok {
		return errFactory.WithData(ErrFanNotFound, fanID)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if fan.enablePath != "" {
		if current := readString(fan.enablePath, ""); current != pwmManualMode {
			if err := os.WriteFile(fan.enablePath, []byte(pwmManualMode), 0o644); err != nil {
				return errFactory.Wrap(ErrWriteFailed, err)
			}
		}
	}

	pwm := percentToPWM(percent)
	if err := os.WriteFile(fan.pwmPath, []byte(strconv.Itoa(pwm)), 0o644); err != nil {
		return errFactory.Wrap(ErrWriteFailed, err)
	}

	p.mu.Lock()
	p.commanded[fanID] = percent
	p.mu.Unlock()

	logger.Debug().Str("fan", fanID).Int("percent", percent).Int("pwm", pwm).Msg("Fan speed written")

	return nil
}

func (p *HwmonPort) EmergencyStop(ctx context.Context) error {
	errFactory := errors.New()

	p.mu.RLock()
	ids := make([]string, 0, len(p.fans))
	for id := range p.fans {
		ids = append(ids, id)
	}
	p.mu.RUnlock()

	var lastErr error
	for _, id := range ids {
		if err := p.SetFanSpeed(ctx, id, 100); err != nil {
			logger.Error().Err(err).Str("fan", id).Msg("Emergency stop write failed")
			lastErr = err
		}
	}

	if lastErr != nil {
		return errFactory.Wrap(ErrWriteFailed, lastErr)
	}

	logger.Warn().Msg("EMERGENCY STOP: all fans set to 100%")

	return nil
}

func (p *HwmonPort) ResetToAutomatic(ctx context.Context) error {
	errFactory := errors.New()

	if err := ctx.Err(); err != nil {
		return errFactory.Wrap(ErrWriteFailed, err)
	}

	p.mu.RLock()
	type target struct {
		id  string
		fan *hwmonFan
	}
	targets := make([]target, 0, len(p.fans))
	for id, fan := range p.fans {
		if fan.supportsAuto {
			targets = append(targets, target{id: id, fan: fan})
		}
	}
	p.mu.RUnlock()

	if len(targets) == 0 {
		return errFactory.New(ErrAutoUnsupported)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	var lastErr error
	for _, t := range targets {
		if err := os.WriteFile(t.fan.enablePath, []byte(t.fan.autoValue), 0o644); err != nil {
			logger.Error().Err(err).Str("fan", t.id).Msg("Failed to restore automatic fan control")
			lastErr = err
			continue
		}
		p.mu.Lock()
		delete(p.commanded, t.id)
		p.mu.Unlock()
	}

	if lastErr != nil {
		return errFactory.Wrap(ErrWriteFailed, lastErr)
	}

	logger.Info().Int("fans", len(targets)).Msg("Fans returned to automatic control")

	return nil
}

func percentToPWM(percent int) int {
	return percent * pwmMax / 100
}

func pwmToPercent(pwm int) int {
	return (pwm*100 + pwmMax/2) / pwmMax
}

func sensorType(key string) string {
	key = strings.ToLower(key)
	switch {
	case strings.Contains(key, "coretemp"), strings.Contains(key, "k10temp"), strings.Contains(key, "cpu"):
		return "cpu"
	case strings.Contains(key, "nvidia"), strings.Contains(key, "gpu"), strings.Contains(key, "amdgpu"):
		return "gpu"
	case strings.Contains(key, "nvme"):
		return "nvme"
	case strings.Contains(key, "acpi"), strings.Contains(key, "thermal"):
		return "acpi"
	case strings.Contains(key, "it86"), strings.Contains(key, "it87"), strings.Contains(key, "nct"), strings.Contains(key, "w83"):
		return "motherboard"
	default:
		return "other"
	}
}

func readString(path, fallback string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return fallback
	}

	return strings.TrimSpace(string(data))
}

func readInt(path string, fallback int) int {
	v, err := strconv.Atoi(readString(path, ""))
	if err != nil {
		return fallback
	}

	return v
}
