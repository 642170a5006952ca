package logging

import (
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexuslink.log")

	logger, restore, err := New(false, path)
	require.NoError(t, err)

	logger.Infow("Connected to IRC server", "network", "testnet")
	logger.Debugw("not at info level")
	log.Print("from the standard logger")
	restore()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "INFO")
	assert.Contains(t, out, "Connected to IRC server")
	assert.Contains(t, out, `"network": "testnet"`)
	assert.Contains(t, out, "from the standard logger")
	assert.NotContains(t, out, "not at info level")
	assert.NotContains(t, out, "\x1b[")
}

func TestVerboseLogsDebug(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.log")

	logger, restore, err := New(true, path)
	require.NoError(t, err)
	logger.Debugw("WHO reply", "channel", "#chan")
	restore()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "WHO reply")
}
