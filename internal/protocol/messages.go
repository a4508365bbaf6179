package protocol

import (
	"encoding/json"
	"time"

	"github.com/pankha-project/pankha-agent/internal/hardware"
)

// Envelope message types exchanged with the backend.
const (
	TypeRegister        = "register"
	TypeRegistered      = "registered"
	TypeData            = "data"
	TypeCommand         = "command"
	TypeCommandResponse = "commandResponse"
	TypePing            = "ping"
	TypePong            = "pong"
)

// Command kinds accepted by the agent.
const (
	KindSetFanSpeed       = "setFanSpeed"
	KindEmergencyStop     = "emergencyStop"
	KindSetUpdateInterval = "setUpdateInterval"
	KindSetFanStep        = "setFanStep"
	KindSetHysteresis     = "setHysteresis"
	KindSetEmergencyTemp  = "setEmergencyTemp"
	KindSetLogLevel       = "setLogLevel"
	KindPing              = "ping"
)

// Envelope is the tagged wrapper around every inbound frame.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Message is the outbound counterpart of Envelope.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Capabilities declares what the agent's hardware can do.
type Capabilities struct {
	Sensors    []hardware.Sensor `json:"sensors"`
	Fans       []hardware.Fan    `json:"fans"`
	FanControl bool              `json:"fanControl"`
}

// Registration is sent once per connection, immediately after the transport
// comes up. It is rebuilt fresh on every reconnect since hardware capabilities
// may have changed.
type Registration struct {
	AgentID        string       `json:"agentId"`
	Name           string       `json:"name"`
	Version        string       `json:"version"`
	UpdateInterval float64      `json:"updateInterval"`
	FanStepPercent int          `json:"fanStepPercent"`
	Hysteresis     float64      `json:"hysteresis"`
	EmergencyTemp  float64      `json:"emergencyTemp"`
	LogLevel       string       `json:"logLevel"`
	Capabilities   Capabilities `json:"capabilities"`
}

// TelemetrySnapshot is one periodic data push.
type TelemetrySnapshot struct {
	AgentID      string            `json:"agentId"`
	Timestamp    int64             `json:"timestamp"`
	Sensors      []hardware.Sensor `json:"sensors"`
	Fans         []hardware.Fan    `json:"fans"`
	SystemHealth hardware.Health   `json:"systemHealth"`
}

// Command is an inbound remote request. Payload is kind-specific.
type Command struct {
	ID      string          `json:"commandId"`
	Kind    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// CommandResponse correlates back to a Command by id. Exactly one response is
// produced per command.
type CommandResponse struct {
	Type      string `json:"type"`
	CommandID string `json:"commandId"`
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Pong answers a server keep-alive ping.
type Pong struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// Kind-specific command payloads.
type (
	// Speed is a pointer so a payload that omits the field can be rejected
	// instead of decoding as a 0% request.
	SetFanSpeedPayload struct {
		FanID string `json:"fanId"`
		Speed *int   `json:"speed"`
	}

	SetUpdateIntervalPayload struct {
		Interval float64 `json:"interval"`
	}

	SetFanStepPayload struct {
		Step int `json:"step"`
	}

	SetHysteresisPayload struct {
		Hysteresis float64 `json:"hysteresis"`
	}

	SetEmergencyTempPayload struct {
		Temp float64 `json:"temp"`
	}

	SetLogLevelPayload struct {
		Level string `json:"level"`
	}
)

// NowMillis returns the current time as milliseconds since epoch, the
// timestamp convention of the wire protocol.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// NewResponse builds a success response for the given correlation id.
func NewResponse(commandID string, result any) CommandResponse {
	return CommandResponse{
		Type:      TypeCommandResponse,
		CommandID: commandID,
		Success:   true,
		Data:      result,
		Timestamp: NowMillis(),
	}
}

// NewErrorResponse builds a failure response for the given correlation id.
func NewErrorResponse(commandID, errMsg string) CommandResponse {
	return CommandResponse{
		Type:      TypeCommandResponse,
		CommandID: commandID,
		Success:   false,
		Error:     errMsg,
		Timestamp: NowMillis(),
	}
}
