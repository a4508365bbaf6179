package command

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pankha-project/pankha-agent/internal/config"
	"github.com/pankha-project/pankha-agent/internal/errors"
	"github.com/pankha-project/pankha-agent/internal/hardware"
	"github.com/pankha-project/pankha-agent/internal/logger"
	"github.com/pankha-project/pankha-agent/internal/protocol"
)

// Executor turns each inbound command into exactly one correlated response,
// applying the safety clamps before any fan-speed hardware call. A failing
// command never affects any other in-flight or future command.
type Executor struct {
	hw    hardware.Port
	cfg   *config.Manager
	clamp *clampLayer
}

func NewExecutor(hw hardware.Port, cfg *config.Manager) *Executor {
	return &Executor{
		hw:    hw,
		cfg:   cfg,
		clamp: newClampLayer(cfg.Snapshot().Hardware.MinWriteInterval()),
	}
}

// Execute runs one command to completion. It never panics and never returns
// without a response carrying the command's correlation id.
func (e *Executor) Execute(ctx context.Context, cmd protocol.Command) protocol.CommandResponse {
	logger.Debug().Str("command_id", cmd.ID).Str("kind", cmd.Kind).Msg("Processing command")

	switch cmd.Kind {
	case protocol.KindSetFanSpeed:
		return e.setFanSpeed(ctx, cmd)
	case protocol.KindEmergencyStop:
		return e.emergencyStop(ctx, cmd)
	case protocol.KindSetUpdateInterval:
		return e.setUpdateInterval(cmd)
	case protocol.KindSetFanStep:
		return e.setFanStep(cmd)
	case protocol.KindSetHysteresis:
		return e.setHysteresis(cmd)
	case protocol.KindSetEmergencyTemp:
		return e.setEmergencyTemp(cmd)
	case protocol.KindSetLogLevel:
		return e.setLogLevel(cmd)
	case protocol.KindPing:
		return protocol.NewResponse(cmd.ID, map[string]any{"pong": true})
	default:
		logger.Warn().Str("kind", cmd.Kind).Msg("Unknown command")

		return protocol.NewErrorResponse(cmd.ID, fmt.Sprintf("unknown command: %s", cmd.Kind))
	}
}

func (e *Executor) setFanSpeed(ctx context.Context, cmd protocol.Command) protocol.CommandResponse {
	var payload protocol.SetFanSpeedPayload
	if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
		return protocol.NewErrorResponse(cmd.ID, "missing fanId or speed in setFanSpeed command")
	}
	if payload.FanID == "" {
		return protocol.NewErrorResponse(cmd.ID, "fan ID cannot be empty")
	}
	if payload.Speed == nil {
		return protocol.NewErrorResponse(cmd.ID, "missing speed in setFanSpeed command")
	}

	cfg := e.cfg.Snapshot()
	if !cfg.Hardware.EnableFanControl {
		logger.Debug().Str("fan", payload.FanID).Msg("Ignoring setFanSpeed command (fan control disabled)")

		return protocol.NewResponse(cmd.ID, map[string]any{"message": "Fan control is disabled"})
	}

	applied := clampSpeed(*payload.Speed, cfg.Hardware.MinFanSpeed)
	st := e.clamp.state(payload.FanID)

	if st.isDuplicate(applied) {
		logger.Debug().Str("fan", payload.FanID).Int("speed", applied).Msg("Fan already at requested speed, write skipped")

		return protocol.NewResponse(cmd.ID, map[string]any{
			"fanId": payload.FanID,
			"speed": applied,
		})
	}

	if !st.tryReserve() {
		logger.Debug().Str("fan", payload.FanID).Msg("Fan write rate limited")
		resp := protocol.NewErrorResponse(cmd.ID,
			fmt.Sprintf("rate limited: fan %s was written less than %s ago", payload.FanID, cfg.Hardware.MinWriteInterval()))
		resp.Data = map[string]any{"rateLimited": true}

		return resp
	}

	if err := e.hw.SetFanSpeed(ctx, payload.FanID, applied); err != nil {
		var hwErr errors.Error
		if errors.As(err, &hwErr) {
			logger.ErrorWithCode(hwErr).Str("fan", payload.FanID).Msg("Hardware fan write failed")
		} else {
			logger.Error().Err(err).Str("fan", payload.FanID).Msg("Hardware fan write failed")
		}

		return protocol.NewErrorResponse(cmd.ID, err.Error())
	}

	st.recordWrite(applied)
	logger.Info().Str("fan", payload.FanID).Int("requested", *payload.Speed).Int("applied", applied).Msg("Fan speed set")

	return protocol.NewResponse(cmd.ID, map[string]any{
		"fanId": payload.FanID,
		"speed": applied,
	})
}

func (e *Executor) emergencyStop(ctx context.Context, cmd protocol.Command) protocol.CommandResponse {
	if err := e.hw.EmergencyStop(ctx); err != nil {
		logger.Error().Err(err).Msg("Emergency stop failed")

		return protocol.NewErrorResponse(cmd.ID, err.Error())
	}

	// Hardware was written outside the clamp path; dedup state is stale.
	e.clamp.forgetLastSpeeds()

	return protocol.NewResponse(cmd.ID, map[string]any{"message": "Emergency stop executed"})
}

func (e *Executor) setUpdateInterval(cmd protocol.Command) protocol.CommandResponse {
	var payload protocol.SetUpdateIntervalPayload
	if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
		return protocol.NewErrorResponse(cmd.ID, "missing or invalid interval")
	}

	if err := e.cfg.SetUpdateInterval(payload.Interval); err != nil {
		return protocol.NewErrorResponse(cmd.ID, err.Error())
	}

	logger.Info().Float64("interval", payload.Interval).Msg("Update interval changed")

	return e.persisted(cmd.ID, map[string]any{"interval": payload.Interval})
}

func (e *Executor) setFanStep(cmd protocol.Command) protocol.CommandResponse {
	var payload protocol.SetFanStepPayload
	if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
		return protocol.NewErrorResponse(cmd.ID, "missing or invalid step")
	}

	if err := e.cfg.SetFanStep(payload.Step); err != nil {
		return protocol.NewErrorResponse(cmd.ID, err.Error())
	}

	logger.Info().Int("step", payload.Step).Msg("Fan step changed")

	return e.persisted(cmd.ID, map[string]any{"step": payload.Step})
}

func (e *Executor) setHysteresis(cmd protocol.Command) protocol.CommandResponse {
	var payload protocol.SetHysteresisPayload
	if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
		return protocol.NewErrorResponse(cmd.ID, "missing or invalid hysteresis")
	}

	if err := e.cfg.SetHysteresis(payload.Hysteresis); err != nil {
		return protocol.NewErrorResponse(cmd.ID, err.Error())
	}

	logger.Info().Float64("hysteresis", payload.Hysteresis).Msg("Hysteresis changed")

	return e.persisted(cmd.ID, map[string]any{"hysteresis": payload.Hysteresis})
}

func (e *Executor) setEmergencyTemp(cmd protocol.Command) protocol.CommandResponse {
	var payload protocol.SetEmergencyTempPayload
	if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
		return protocol.NewErrorResponse(cmd.ID, "missing or invalid temp")
	}

	if err := e.cfg.SetEmergencyTemp(payload.Temp); err != nil {
		return protocol.NewErrorResponse(cmd.ID, err.Error())
	}

	logger.Info().Float64("temp", payload.Temp).Msg("Emergency temperature changed")

	return e.persisted(cmd.ID, map[string]any{"temp": payload.Temp})
}

func (e *Executor) setLogLevel(cmd protocol.Command) protocol.CommandResponse {
	var payload protocol.SetLogLevelPayload
	if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
		return protocol.NewErrorResponse(cmd.ID, "missing or invalid log level")
	}

	if err := e.cfg.SetLogLevel(payload.Level); err != nil {
		return protocol.NewErrorResponse(cmd.ID, err.Error())
	}

	if err := logger.SetLevel(payload.Level); err != nil {
		return protocol.NewErrorResponse(cmd.ID, err.Error())
	}

	logger.Info().Str("level", payload.Level).Msg("Log level changed")

	return e.persisted(cmd.ID, map[string]any{"level": payload.Level})
}

// persisted saves the configuration and builds the success response. A save
// failure is reported in the response but the in-memory setting stays applied.
func (e *Executor) persisted(commandID string, result map[string]any) protocol.CommandResponse {
	result["persisted"] = true
	if err := e.cfg.Save(); err != nil {
		logger.Warn().Err(err).Msg("Failed to persist configuration change")
		result["persisted"] = false
		result["message"] = fmt.Sprintf("applied but not persisted: %v", err)
	}

	return protocol.NewResponse(commandID, result)
}
