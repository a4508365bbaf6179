package watchdog

import (
	"context"
	"sync"
	"time"

	"github.com/pankha-project/pankha-agent/internal/config"
	"github.com/pankha-project/pankha-agent/internal/hardware"
	"github.com/pankha-project/pankha-agent/internal/logger"
)

// EventRecorder receives failsafe transitions for local archival. May be nil.
type EventRecorder interface {
	RecordFailsafeEvent(ctx context.Context, entered bool, reason string) error
}

// Watchdog is the single authority deciding when loss of server contact is
// dangerous enough to force the hardware into a safe state. It runs a tick
// loop fully independent of the session manager so that a dead connection can
// never block its timing.
type Watchdog struct {
	hw       hardware.Port
	cfg      *config.Manager
	recorder EventRecorder

	mu             sync.Mutex
	lastContact    time.Time
	failsafeActive bool
	// safeStateApplied is false while failsafe is active but the hardware
	// calls that enforce it have not yet succeeded; each tick retries.
	safeStateApplied bool
}

func New(hw hardware.Port, cfg *config.Manager, recorder EventRecorder) *Watchdog {
	return &Watchdog{
		hw:          hw,
		cfg:         cfg,
		recorder:    recorder,
		lastContact: time.Now(),
	}
}

// NotifyContact records a successful server contact. If failsafe is active it
// stands down immediately; remote fan control resumes with the next command.
func (w *Watchdog) NotifyContact() {
	w.mu.Lock()
	w.lastContact = time.Now()
	wasActive := w.failsafeActive
	w.failsafeActive = false
	w.safeStateApplied = false
	w.mu.Unlock()

	if wasActive {
		logger.Warn().Msg("EXITING FAILSAFE MODE: server connection restored")
		w.recordEvent(false, "connection restored")
	}
}

// NotifyDisconnect records a lost connection. The failsafe decision stays
// with the tick loop; a brief disconnect covered by reconnect backoff must
// not trigger it.
func (w *Watchdog) NotifyDisconnect() {
	w.mu.Lock()
	elapsed := time.Since(w.lastContact)
	w.mu.Unlock()

	logger.Debug().Dur("since_last_contact", elapsed).Msg("Watchdog notified of disconnect")
}

// FailsafeActive reports whether the hardware is currently held in its safe
// state.
func (w *Watchdog) FailsafeActive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.failsafeActive
}

// Run executes the tick loop until the context is cancelled. It must never
// return early on hardware errors: a crashed watchdog removes all safety
// oversight of the fans.
func (w *Watchdog) Run(ctx context.Context) error {
	tick := w.cfg.Snapshot().Watchdog.Tick()
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	logger.Info().
		Dur("tick", tick).
		Dur("threshold", w.cfg.Snapshot().Watchdog.Threshold()).
		Msg("Watchdog started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.onTick(ctx)
		}
	}
}

func (w *Watchdog) onTick(ctx context.Context) {
	threshold := w.cfg.Snapshot().Watchdog.Threshold()

	w.mu.Lock()
	elapsed := time.Since(w.lastContact)
	active := w.failsafeActive
	settled := w.safeStateApplied
	w.mu.Unlock()

	if active {
		if !settled {
			logger.Warn().Msg("Failsafe safe-state not yet applied, retrying hardware calls")
			w.markApplied(w.applySafeState(ctx))
		} else {
			logger.Debug().Dur("since_last_contact", elapsed).Msg("Watchdog tick: failsafe already active")
		}
		w.checkEmergencyTemp(ctx)

		return
	}

	if elapsed <= threshold {
		return
	}

	w.enterFailsafe(ctx, elapsed)
}

func (w *Watchdog) enterFailsafe(ctx context.Context, elapsed time.Duration) {
	logger.Warn().
		Dur("since_last_contact", elapsed).
		Dur("threshold", w.cfg.Snapshot().Watchdog.Threshold()).
		Msg("ENTERING FAILSAFE MODE: server contact lost")

	applied := w.applySafeState(ctx)

	// Recorded as active even if the hardware calls failed; entering
	// failsafe must never crash the agent, and the failed calls are
	// retried on subsequent ticks.
	w.mu.Lock()
	w.failsafeActive = true
	w.safeStateApplied = applied
	w.mu.Unlock()

	w.recordEvent(true, "server contact lost")
}

func (w *Watchdog) markApplied(applied bool) {
	w.mu.Lock()
	w.safeStateApplied = applied
	w.mu.Unlock()
}

// applySafeState puts the fans into their safe state: hardware-automatic
// control when available, the configured fixed speed otherwise. Reports
// whether the state was fully applied.
func (w *Watchdog) applySafeState(ctx context.Context) bool {
	cfg := w.cfg.Snapshot()

	if err := w.hw.ResetToAutomatic(ctx); err != nil {
		logger.Warn().Err(err).
			Int("failsafe_speed", cfg.Hardware.FailsafeSpeed).
			Msg("Automatic fan control unavailable, forcing failsafe speed")

		return w.forceFailsafeSpeed(ctx, cfg.Hardware.FailsafeSpeed)
	}

	return true
}

func (w *Watchdog) forceFailsafeSpeed(ctx context.Context, speed int) bool {
	fans, err := w.hw.DiscoverFans(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Failsafe fan discovery failed")

		return false
	}

	ok := true
	for _, fan := range fans {
		if err := w.hw.SetFanSpeed(ctx, fan.ID, speed); err != nil {
			logger.Error().Err(err).Str("fan", fan.ID).Msg("Failsafe fan write failed")
			ok = false
		}
	}

	return ok
}

// checkEmergencyTemp guards against overheating while disconnected: if any
// sensor reaches the emergency temperature, every fan goes to full speed.
func (w *Watchdog) checkEmergencyTemp(ctx context.Context) {
	emergencyTemp := w.cfg.Snapshot().Hardware.EmergencyTemp

	readings, err := w.hw.DiscoverSensors(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Failsafe temperature check failed")

		return
	}

	maxTemp := 0.0
	for _, s := range readings {
		if s.Temperature > maxTemp {
			maxTemp = s.Temperature
		}
	}

	if maxTemp < emergencyTemp {
		return
	}

	logger.Warn().
		Float64("max_temp", maxTemp).
		Float64("emergency_temp", emergencyTemp).
		Msg("FAILSAFE EMERGENCY: temperature threshold reached, all fans to 100%")

	if err := w.hw.EmergencyStop(ctx); err != nil {
		logger.Error().Err(err).Msg("Emergency stop failed during failsafe")
	}
}

func (w *Watchdog) recordEvent(entered bool, reason string) {
	if w.recorder == nil {
		return
	}

	if err := w.recorder.RecordFailsafeEvent(context.Background(), entered, reason); err != nil {
		logger.Warn().Err(err).Msg("Failed to record failsafe event")
	}
}
