package config

import (
	"fmt"

	"github.com/pankha-project/pankha-agent/internal/errors"
)

// Documented parameter ranges. Configuration commands carrying values outside
// these ranges are rejected with an error naming the range; they are never
// silently clamped.
const (
	MinUpdateInterval = 0.5
	MaxUpdateInterval = 30.0

	MinFanStep = 1
	MaxFanStep = 100

	MinHysteresis = 0.0
	MaxHysteresis = 10.0

	MinEmergencyTemp = 70.0
	MaxEmergencyTemp = 100.0

	MinFanSpeedPercent = 0
	MaxFanSpeedPercent = 100
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func ValidateUpdateInterval(seconds float64) error {
	if seconds < MinUpdateInterval || seconds > MaxUpdateInterval {
		return rangeError(fmt.Sprintf("invalid interval: %g. Must be between %g and %g seconds",
			seconds, MinUpdateInterval, MaxUpdateInterval))
	}

	return nil
}

func ValidateFanStep(step int) error {
	if step < MinFanStep || step > MaxFanStep {
		return rangeError(fmt.Sprintf("invalid fan step: %d. Must be between %d and %d percent",
			step, MinFanStep, MaxFanStep))
	}

	return nil
}

func ValidateHysteresis(hysteresis float64) error {
	if hysteresis < MinHysteresis || hysteresis > MaxHysteresis {
		return rangeError(fmt.Sprintf("invalid hysteresis: %g. Must be between %g and %g °C",
			hysteresis, MinHysteresis, MaxHysteresis))
	}

	return nil
}

func ValidateEmergencyTemp(temp float64) error {
	if temp < MinEmergencyTemp || temp > MaxEmergencyTemp {
		return rangeError(fmt.Sprintf("invalid emergency temperature: %g. Must be between %g and %g °C",
			temp, MinEmergencyTemp, MaxEmergencyTemp))
	}

	return nil
}

func ValidateFanSpeed(percent int) error {
	if percent < MinFanSpeedPercent || percent > MaxFanSpeedPercent {
		return rangeError(fmt.Sprintf("invalid fan speed: %d. Must be between %d and %d percent",
			percent, MinFanSpeedPercent, MaxFanSpeedPercent))
	}

	return nil
}

func ValidateLogLevel(level string) error {
	if !validLogLevels[level] {
		return rangeError(fmt.Sprintf("invalid log level: %q. Must be one of: debug, info, warn, error", level))
	}

	return nil
}

func rangeError(msg string) error {
	return errors.New().WithMessage(errors.ErrOutOfRange, msg)
}
