package hardware

import "github.com/pankha-project/pankha-agent/internal/errors"

const (
	ErrDiscoveryFailed   = errors.ErrorCode("hardware_discovery_failed")
	ErrFanNotFound       = errors.ErrorCode("hardware_fan_not_found")
	ErrWriteFailed       = errors.ErrorCode("hardware_write_failed")
	ErrAutoUnsupported   = errors.ErrorCode("hardware_auto_unsupported")
	ErrHealthUnavailable = errors.ErrorCode("hardware_health_unavailable")
)
