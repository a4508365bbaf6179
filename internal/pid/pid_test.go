package pid_test

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/pankha-project/pankha-agent/internal/errors"
	"github.com/pankha-project/pankha-agent/internal/logger"
	"github.com/pankha-project/pankha-agent/internal/pid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pidPath(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("TMPDIR", dir)

	return filepath.Join(dir, "pankha-agent.pid")
}

func TestWriteAndRemove(t *testing.T) {
	logger.Init(false, false, true)
	path := pidPath(t)

	require.NoError(t, pid.Write())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(raw))

	require.NoError(t, pid.Remove())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestWriteReplacesStalePIDFile(t *testing.T) {
	logger.Init(false, false, true)
	path := pidPath(t)

	// Far beyond any real pid_max, so no such process exists.
	require.NoError(t, os.WriteFile(path, []byte("999999999"), 0o600))

	require.NoError(t, pid.Write())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(raw))
}

func TestWriteReplacesGarbagePIDFile(t *testing.T) {
	logger.Init(false, false, true)
	path := pidPath(t)

	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0o600))

	require.NoError(t, pid.Write())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(raw))
}

func TestWriteRejectsLiveOwner(t *testing.T) {
	logger.Init(false, false, true)
	path := pidPath(t)

	// Our own pid is guaranteed alive.
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600))

	err := pid.Write()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrAlreadyRunning))
}

func TestRemoveMissingFileIsNoError(t *testing.T) {
	pidPath(t)

	require.NoError(t, pid.Remove())
}
