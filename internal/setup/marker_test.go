package setup

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkerWrite(t *testing.T) {
	dir := t.TempDir()
	flusher := &fakeFlusher{}
	w := NewMarkerWriter(flusher, "persistence.conf")

	require.NoError(t, w.Write(dir))

	content, err := os.ReadFile(filepath.Join(dir, "persistence.conf"))
	require.NoError(t, err)
	assert.Equal(t, "/ union\n", string(content))
	assert.Equal(t, 1, flusher.flushes, "flush must happen before Write returns")
}

func TestMarkerWriteIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w := NewMarkerWriter(&fakeFlusher{}, "persistence.conf")

	require.NoError(t, w.Write(dir))
	first, err := os.ReadFile(filepath.Join(dir, "persistence.conf"))
	require.NoError(t, err)

	require.NoError(t, w.Write(dir))
	second, err := os.ReadFile(filepath.Join(dir, "persistence.conf"))
	require.NoError(t, err)

	assert.Equal(t, first, second, "writing twice yields a byte-identical file")
}

func TestMarkerWriteOverwritesStaleContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "persistence.conf")
	require.NoError(t, os.WriteFile(path, []byte("/home union\nsome leftover\n"), 0644))

	w := NewMarkerWriter(&fakeFlusher{}, "persistence.conf")
	require.NoError(t, w.Write(dir))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, MarkerContent, string(content))
}

func TestMarkerWriteUnwritableMountpoint(t *testing.T) {
	w := NewMarkerWriter(&fakeFlusher{}, "persistence.conf")

	err := w.Write(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.True(t, errors.Is(err, ErrWrite))
}

func TestMarkerWriteFlushFailure(t *testing.T) {
	w := NewMarkerWriter(&fakeFlusher{err: errors.New("sync failed")}, "persistence.conf")

	err := w.Write(t.TempDir())
	assert.True(t, errors.Is(err, ErrWrite))
}
