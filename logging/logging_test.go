package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	c := DefaultConfig()
	c.Level = "loud"
	assert.Error(t, c.Validate())

	c = DefaultConfig()
	c.Format = "xml"
	assert.Error(t, c.Validate())

	c = DefaultConfig()
	c.NoStderr = true
	assert.Error(t, c.Validate())
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mvm.log")

	c := DefaultConfig()
	c.Level = "debug"
	c.File = path
	c.NoStderr = true

	logger, err := New(c)
	require.NoError(t, err)
	logger.Named("vm").Debug("module published", zap.String("module", "0x1::coin"), zap.Uint64("gas", 42))
	logger.Named("ledger").Debug("effect set committed", zap.Int("writes", 1))
	require.NoError(t, logger.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "module published", entry["msg"])
	assert.Equal(t, "vm", entry["logger"])
	assert.Equal(t, "0x1::coin", entry["module"])
	assert.Equal(t, float64(42), entry["gas"])
}

func TestLevelFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mvm.log")

	c := DefaultConfig()
	c.Level = "warn"
	c.File = path
	c.NoStderr = true

	logger, err := New(c)
	require.NoError(t, err)
	logger.Info("dropped")
	logger.Warn("kept")
	require.NoError(t, logger.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "dropped")
	assert.Contains(t, string(raw), "kept")
}
