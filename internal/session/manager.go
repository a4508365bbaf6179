package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pankha-project/pankha-agent/internal/command"
	"github.com/pankha-project/pankha-agent/internal/config"
	"github.com/pankha-project/pankha-agent/internal/errors"
	"github.com/pankha-project/pankha-agent/internal/hardware"
	"github.com/pankha-project/pankha-agent/internal/logger"
	"github.com/pankha-project/pankha-agent/internal/protocol"
	"github.com/pankha-project/pankha-agent/internal/telemetry"
	"github.com/pankha-project/pankha-agent/internal/watchdog"
)

const (
	// idleTimeout bounds how long the read loop tolerates a silent peer.
	// The backend pings well inside this window.
	idleTimeout = 90 * time.Second

	writeWait = 10 * time.Second
)

type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateFaulted
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Manager owns the websocket session with the backend: registration on every
// connect, the telemetry push loop, inbound command dispatch and reconnection
// with exponential backoff.
type Manager struct {
	cfg       *config.Manager
	hw        hardware.Port
	executor  *command.Executor
	dog       *watchdog.Watchdog
	collector telemetry.Collector // may be nil
	version   string

	mu    sync.RWMutex
	state ConnectionState

	// writeMu serializes all frame writes. The push loop and the read loop
	// (command responses, pongs) share the connection.
	writeMu sync.Mutex
}

func NewManager(
	cfg *config.Manager,
	hw hardware.Port,
	executor *command.Executor,
	dog *watchdog.Watchdog,
	collector telemetry.Collector,
	version string,
) *Manager {
	return &Manager{
		cfg:       cfg,
		hw:        hw,
		executor:  executor,
		dog:       dog,
		collector: collector,
		version:   version,
	}
}

func (m *Manager) State() ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.state
}

func (m *Manager) setState(state ConnectionState) {
	m.mu.Lock()
	if m.state != state {
		logger.Debug().Msgf("Session state: %s -> %s", m.state, state)
		m.state = state
	}
	m.mu.Unlock()
}

// Run connects to the backend and keeps the session alive until ctx is
// cancelled. Every connection attempt re-registers with freshly discovered
// capabilities. Run returns an error only when the configured maximum number
// of reconnect attempts is exhausted.
func (m *Manager) Run(ctx context.Context) error {
	errFactory := errors.New()

	snap := m.cfg.Snapshot()
	delays := newBackoff(snap.Backend.ReconnectDelay(), snap.Backend.MaxReconnectDelay())
	failures := 0

	defer m.setState(StateDisconnected)

	for {
		if ctx.Err() != nil {
			return nil
		}

		m.setState(StateConnecting)

		err := m.runOnce(ctx, delays, &failures)
		if ctx.Err() != nil {
			return nil
		}

		m.setState(StateFaulted)
		m.dog.NotifyDisconnect()

		failures++
		maxAttempts := m.cfg.Snapshot().Backend.MaxReconnectAttempts
		if maxAttempts >= 0 && failures > maxAttempts {
			return errFactory.Wrap(ErrMaxAttempts, err)
		}

		delay := delays.Next()
		logger.Warn().Msgf("Connection to backend lost: %v. Reconnecting in %s (attempt %d)",
			err, delay, failures)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// runOnce performs a single connect/register/serve cycle. The backoff and
// failure counter reset once registration is acknowledged, so a session that
// registered and later dropped starts its reconnects back at the floor delay.
func (m *Manager) runOnce(ctx context.Context, delays *backoff, failures *int) error {
	conn, err := m.connect(ctx)
	if err != nil {
		return err
	}

	reg, err := m.register(ctx, conn)
	if err != nil {
		conn.Close()
		return err
	}

	m.setState(StateConnected)
	delays.Reset()
	*failures = 0
	m.dog.NotifyContact()
	logger.Info().Msgf("Registered with backend as %s (%d sensors, %d fans)",
		reg.AgentID, len(reg.Capabilities.Sensors), len(reg.Capabilities.Fans))

	return m.serve(ctx, conn)
}

func (m *Manager) connect(ctx context.Context) (*websocket.Conn, error) {
	errFactory := errors.New()
	snap := m.cfg.Snapshot()

	logger.Debug().Msgf("Dialing backend at %s", snap.Backend.ServerURL)

	dialer := websocket.Dialer{
		HandshakeTimeout: snap.Backend.ConnectTimeout(),
	}

	dialCtx, cancel := context.WithTimeout(ctx, snap.Backend.ConnectTimeout())
	defer cancel()

	conn, resp, err := dialer.DialContext(dialCtx, snap.Backend.ServerURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, errFactory.Wrap(ErrDialFailed, err)
	}

	return conn, nil
}

// register sends a fresh registration and blocks until the backend
// acknowledges it or the connection timeout elapses.
func (m *Manager) register(ctx context.Context, conn *websocket.Conn) (*protocol.Registration, error) {
	errFactory := errors.New()
	snap := m.cfg.Snapshot()

	reg, err := m.buildRegistration(ctx)
	if err != nil {
		return nil, err
	}

	if err := m.writeJSON(conn, protocol.Message{Type: protocol.TypeRegister, Data: reg}); err != nil {
		return nil, errFactory.Wrap(ErrRegistrationFailed, err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(snap.Backend.ConnectTimeout())); err != nil {
		return nil, errFactory.Wrap(ErrRegistrationFailed, err)
	}

	for {
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return nil, errFactory.Wrap(ErrRegistrationTimeout, err)
		}
		if env.Type == protocol.TypeRegistered {
			return reg, nil
		}
		logger.Debug().Msgf("Ignoring %q frame before registration ack", env.Type)
	}
}

func (m *Manager) buildRegistration(ctx context.Context) (*protocol.Registration, error) {
	errFactory := errors.New()
	snap := m.cfg.Snapshot()

	sensors, err := m.hw.DiscoverSensors(ctx)
	if err != nil {
		return nil, errFactory.Wrap(ErrRegistrationFailed, err)
	}

	fans, err := m.hw.DiscoverFans(ctx)
	if err != nil {
		return nil, errFactory.Wrap(ErrRegistrationFailed, err)
	}

	return &protocol.Registration{
		AgentID:        snap.Agent.ID,
		Name:           snap.Agent.Name,
		Version:        m.version,
		UpdateInterval: snap.Agent.UpdateInterval,
		FanStepPercent: snap.Hardware.FanStepPercent,
		Hysteresis:     snap.Hardware.HysteresisTemp,
		EmergencyTemp:  snap.Hardware.EmergencyTemp,
		LogLevel:       snap.Agent.LogLevel,
		Capabilities: protocol.Capabilities{
			Sensors:    sensors,
			Fans:       fans,
			FanControl: snap.Hardware.EnableFanControl,
		},
	}, nil
}

// serve runs the push loop and the read loop until either fails or ctx is
// cancelled. On cancellation an orderly close frame is sent before the
// transport is torn down.
func (m *Manager) serve(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		errCh <- m.pushLoop(sessionCtx, conn)
	}()
	go func() {
		defer wg.Done()
		errCh <- m.readLoop(sessionCtx, conn)
	}()

	var err error
	select {
	case <-ctx.Done():
		m.sendClose(conn)
	case err = <-errCh:
	}

	cancel()
	conn.Close()
	wg.Wait()

	return err
}

func (m *Manager) sendClose(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "agent shutting down")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// pushLoop sends one telemetry snapshot per update interval. The interval is
// re-read from config after every push, so a setUpdateInterval command takes
// effect on the next cycle. Sends are strictly sequential.
func (m *Manager) pushLoop(ctx context.Context, conn *websocket.Conn) error {
	timer := time.NewTimer(m.cfg.Snapshot().Agent.PushInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		if err := m.pushSnapshot(ctx, conn); err != nil {
			return err
		}

		timer.Reset(m.cfg.Snapshot().Agent.PushInterval())
	}
}

func (m *Manager) pushSnapshot(ctx context.Context, conn *websocket.Conn) error {
	errFactory := errors.New()
	snap := m.cfg.Snapshot()

	sensors, err := m.hw.DiscoverSensors(ctx)
	if err != nil {
		logger.Warn().Msgf("Sensor read failed, pushing without sensors: %v", err)
	}

	fans, err := m.hw.DiscoverFans(ctx)
	if err != nil {
		logger.Warn().Msgf("Fan read failed, pushing without fans: %v", err)
	}

	health, err := m.hw.ReadSystemHealth(ctx)
	if err != nil {
		logger.Debug().Msgf("System health read failed: %v", err)
	}

	snapshot := &protocol.TelemetrySnapshot{
		AgentID:      snap.Agent.ID,
		Timestamp:    protocol.NowMillis(),
		Sensors:      sensors,
		Fans:         fans,
		SystemHealth: health,
	}

	if err := m.writeJSON(conn, protocol.Message{Type: protocol.TypeData, Data: snapshot}); err != nil {
		return errFactory.Wrap(ErrPushFailed, err)
	}

	m.dog.NotifyContact()

	if m.collector != nil {
		if err := m.collector.RecordSnapshot(ctx, snapshot); err != nil {
			logger.Debug().Msgf("Telemetry archive write failed: %v", err)
		}
	}

	return nil
}

// readLoop handles inbound frames until the connection drops or the peer
// stays silent past the idle timeout.
func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) error {
	errFactory := errors.New()

	resetDeadline := func() {
		_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
	}

	conn.SetPingHandler(func(appData string) error {
		resetDeadline()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})
	resetDeadline()

	for {
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errFactory.Wrap(ErrConnectionLost, err)
		}
		resetDeadline()

		if err := m.handleFrame(ctx, conn, env); err != nil {
			return err
		}
	}
}

func (m *Manager) handleFrame(ctx context.Context, conn *websocket.Conn, env protocol.Envelope) error {
	errFactory := errors.New()

	switch env.Type {
	case protocol.TypeCommand:
		var cmd protocol.Command
		if err := json.Unmarshal(env.Data, &cmd); err != nil {
			logger.Warn().Msgf("Dropping malformed command frame: %v", err)
			return nil
		}

		resp := m.executor.Execute(ctx, cmd)
		if err := m.writeJSON(conn, resp); err != nil {
			return errFactory.Wrap(ErrConnectionLost, err)
		}

	case protocol.TypePing:
		pong := protocol.Pong{Type: protocol.TypePong, Timestamp: protocol.NowMillis()}
		if err := m.writeJSON(conn, pong); err != nil {
			return errFactory.Wrap(ErrConnectionLost, err)
		}

	case protocol.TypeRegistered:
		// Duplicate ack after registration already completed.
		logger.Debug().Msg("Ignoring duplicate registration ack")

	default:
		logger.Debug().Msgf("Ignoring unknown frame type %q", env.Type)
	}

	return nil
}

func (m *Manager) writeJSON(conn *websocket.Conn, v any) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))

	return conn.WriteJSON(v)
}
