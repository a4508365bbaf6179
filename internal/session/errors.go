package session

import "github.com/pankha-project/pankha-agent/internal/errors"

const (
	// Connection Errors
	ErrDialFailed     = errors.ErrorCode("session_dial_failed")
	ErrConnectionLost = errors.ErrorCode("session_connection_lost")
	ErrMaxAttempts    = errors.ErrorCode("session_max_attempts_exceeded")

	// Registration Errors
	ErrRegistrationFailed  = errors.ErrorCode("session_registration_failed")
	ErrRegistrationTimeout = errors.ErrorCode("session_registration_timeout")

	// Push Errors
	ErrPushFailed = errors.ErrorCode("session_push_failed")
)
