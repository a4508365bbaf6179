package watchdog_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pankha-project/pankha-agent/internal/config"
	"github.com/pankha-project/pankha-agent/internal/hardware"
	"github.com/pankha-project/pankha-agent/internal/watchdog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePort struct {
	mu          sync.Mutex
	sensors     []hardware.Sensor
	fans        []hardware.Fan
	fansErr     error
	resetErr    error
	resets      int
	stops       int
	speedWrites map[string]int
}

func newFakePort() *fakePort {
	return &fakePort{
		speedWrites: make(map[string]int),
	}
}

func (p *fakePort) DiscoverSensors(context.Context) ([]hardware.Sensor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.sensors, nil
}

func (p *fakePort) DiscoverFans(context.Context) ([]hardware.Fan, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.fans, p.fansErr
}

func (p *fakePort) ReadSystemHealth(context.Context) (hardware.Health, error) {
	return hardware.Health{}, nil
}

func (p *fakePort) SetFanSpeed(_ context.Context, fanID string, percent int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.speedWrites[fanID] = percent

	return nil
}

func (p *fakePort) EmergencyStop(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++

	return nil
}

func (p *fakePort) ResetToAutomatic(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets++

	return p.resetErr
}

func (p *fakePort) resetCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.resets
}

func (p *fakePort) stopCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.stops
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []bool
}

func (r *fakeRecorder) RecordFailsafeEvent(_ context.Context, entered bool, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, entered)

	return nil
}

func (r *fakeRecorder) recorded() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]bool(nil), r.events...)
}

func testManager(tick, threshold float64) *config.Manager {
	return config.NewManagerForTest(config.Config{
		Agent: config.AgentSettings{UpdateInterval: 3, LogLevel: "info"},
		Hardware: config.HardwareSettings{
			EnableFanControl: true,
			MinFanSpeed:      30,
			EmergencyTemp:    85,
			FailsafeSpeed:    80,
		},
		Watchdog: config.WatchdogSettings{
			TickInterval:      tick,
			FailsafeThreshold: threshold,
		},
	})
}

func TestFailsafeActivatesAfterThreshold(t *testing.T) {
	hw := newFakePort()
	rec := &fakeRecorder{}
	dog := watchdog.New(hw, testManager(0.01, 0.05), rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dog.Run(ctx)

	require.Eventually(t, dog.FailsafeActive, time.Second, 5*time.Millisecond)

	// Failsafe must be entered exactly once, not on every subsequent tick.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, hw.resetCount())
	assert.Equal(t, []bool{true}, rec.recorded())
}

func TestContactWithinThresholdPreventsFailsafe(t *testing.T) {
	hw := newFakePort()
	dog := watchdog.New(hw, testManager(0.01, 0.05), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dog.Run(ctx)

	for i := 0; i < 10; i++ {
		dog.NotifyContact()
		time.Sleep(20 * time.Millisecond)
	}

	assert.False(t, dog.FailsafeActive())
	assert.Equal(t, 0, hw.resetCount())
}

func TestContactClearsFailsafe(t *testing.T) {
	hw := newFakePort()
	rec := &fakeRecorder{}
	dog := watchdog.New(hw, testManager(0.01, 0.05), rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dog.Run(ctx)

	require.Eventually(t, dog.FailsafeActive, time.Second, 5*time.Millisecond)

	dog.NotifyContact()
	assert.False(t, dog.FailsafeActive())
	assert.Equal(t, []bool{true, false}, rec.recorded())
}

func TestFailsafeFallsBackToFixedSpeed(t *testing.T) {
	hw := newFakePort()
	hw.resetErr = assert.AnError
	hw.fans = []hardware.Fan{{ID: "fan1"}, {ID: "fan2"}}
	dog := watchdog.New(hw, testManager(0.01, 0.05), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dog.Run(ctx)

	require.Eventually(t, dog.FailsafeActive, time.Second, 5*time.Millisecond)

	hw.mu.Lock()
	defer hw.mu.Unlock()
	assert.Equal(t, 80, hw.speedWrites["fan1"])
	assert.Equal(t, 80, hw.speedWrites["fan2"])
}

func TestFailsafeEntryRetriedUntilHardwareRecovers(t *testing.T) {
	hw := newFakePort()
	hw.resetErr = assert.AnError
	hw.fansErr = assert.AnError
	hw.fans = []hardware.Fan{{ID: "fan1"}}
	dog := watchdog.New(hw, testManager(0.01, 0.05), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dog.Run(ctx)

	require.Eventually(t, dog.FailsafeActive, time.Second, 5*time.Millisecond)

	// Every hardware call fails; the watchdog must keep retrying instead of
	// giving up or crashing.
	require.Eventually(t, func() bool { return hw.resetCount() >= 3 }, time.Second, 5*time.Millisecond)

	// Once the hardware recovers the safe state sticks and retries stop.
	hw.mu.Lock()
	hw.fansErr = nil
	hw.mu.Unlock()

	require.Eventually(t, func() bool {
		hw.mu.Lock()
		defer hw.mu.Unlock()

		return hw.speedWrites["fan1"] == 80
	}, time.Second, 5*time.Millisecond)
}

func TestEmergencyTempDuringFailsafe(t *testing.T) {
	hw := newFakePort()
	hw.sensors = []hardware.Sensor{
		{ID: "cpu", Temperature: 60},
		{ID: "board", Temperature: 92},
	}
	dog := watchdog.New(hw, testManager(0.01, 0.05), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dog.Run(ctx)

	require.Eventually(t, dog.FailsafeActive, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return hw.stopCount() > 0 }, time.Second, 5*time.Millisecond)
}

func TestNoEmergencyStopBelowThreshold(t *testing.T) {
	hw := newFakePort()
	hw.sensors = []hardware.Sensor{{ID: "cpu", Temperature: 60}}
	dog := watchdog.New(hw, testManager(0.01, 0.05), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dog.Run(ctx)

	require.Eventually(t, dog.FailsafeActive, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 0, hw.stopCount())
}
