package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "engine.log")
	log, err := New("debug", path)
	require.NoError(t, err)

	log.Info("started")
	_ = log.Sync()

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"msg":"started"`)
	assert.Contains(t, string(b), `"level":"INFO"`)
}

func TestNewBadLevel(t *testing.T) {
	_, err := New("loud", "")
	assert.Error(t, err)
}
