package hardware

import "context"

// Sensor is a single temperature reading point.
type Sensor struct {
	ID          string  `json:"id"`
	Temperature float64 `json:"temperature"`
	Type        string  `json:"type"`
	Status      string  `json:"status"`
}

// Fan describes one controllable fan and its current state.
type Fan struct {
	ID           string `json:"id"`
	RPM          int    `json:"rpm"`
	Speed        int    `json:"speed"`
	Status       string `json:"status"`
	SupportsAuto bool   `json:"supportsAuto"`
}

// Health is a point-in-time system health reading.
type Health struct {
	CPUUsage    float64 `json:"cpuUsage"`
	MemoryUsage float64 `json:"memoryUsage"`
	AgentUptime float64 `json:"agentUptime"`
}

// Port is the hardware capability boundary. All cooling hardware access in the
// agent goes through this interface; implementations must be safe for
// concurrent use by the command executor and the watchdog.
type Port interface {
	// DiscoverSensors returns all available temperature sensors.
	DiscoverSensors(ctx context.Context) ([]Sensor, error)

	// DiscoverFans returns all controllable fans.
	DiscoverFans(ctx context.Context) ([]Fan, error)

	// ReadSystemHealth returns current CPU, memory and uptime figures.
	ReadSystemHealth(ctx context.Context) (Health, error)

	// SetFanSpeed sets a single fan to the given percentage (0-100).
	SetFanSpeed(ctx context.Context, fanID string, percent int) error

	// EmergencyStop sets every known fan to full speed.
	EmergencyStop(ctx context.Context) error

	// ResetToAutomatic returns fans to hardware-managed automatic control.
	// Fans without automatic support are left untouched; if no fan supports
	// automatic control, ErrAutoUnsupported is returned.
	ResetToAutomatic(ctx context.Context) error
}
