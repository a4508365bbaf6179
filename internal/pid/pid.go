package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/pankha-project/pankha-agent/internal/errors"
	"github.com/pankha-project/pankha-agent/internal/logger"
)

const (
	pidFile = "pankha-agent.pid"
)

// Write claims the agent's PID file. A leftover file whose owner is no longer
// running (or whose content is unreadable) is treated as stale and replaced;
// a live owner aborts startup with ErrAlreadyRunning.
func Write() error {
	errFactory := errors.New()
	path := filepath.Join(os.TempDir(), pidFile)

	if raw, err := os.ReadFile(path); err == nil {
		owner, convErr := strconv.Atoi(strings.TrimSpace(string(raw)))
		if convErr == nil && processAlive(owner) {
			return errFactory.WithData(errors.ErrAlreadyRunning, owner)
		}
		logger.Warn().Str("path", path).Msg("Removing stale PID file")
	} else if !os.IsNotExist(err) {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Remove removes the PID file.
func Remove() error {
	errFactory := errors.New()
	path := filepath.Join(os.TempDir(), pidFile)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	if err := os.Remove(path); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	return process.Signal(syscall.Signal(0)) == nil
}
