package startup

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoveStaleRingBuffers(t *testing.T) {
	dir := t.TempDir()

	stale := filepath.Join(dir, "robotv-ringbuffer-00003.data")
	require.NoError(t, os.WriteFile(stale, []byte("stale"), 0o644))

	other := filepath.Join(dir, "recording.ts")
	require.NoError(t, os.WriteFile(other, []byte("keep"), 0o644))

	removed, err := RemoveStaleRingBuffers(slog.Default(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(other)
	assert.NoError(t, err)
}

func TestRemoveStaleRingBuffersMissingDir(t *testing.T) {
	removed, err := RemoveStaleRingBuffers(slog.Default(), filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}
