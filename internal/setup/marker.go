package setup

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kalitools/persistence-setup/internal/disktool"
	"github.com/kalitools/persistence-setup/internal/log"
)

// MarkerContent is the union-mount directive the live-boot process reads
// from the persistence partition
const MarkerContent = "/ union\n"

// ErrWrite is returned when the marker file cannot be written
var ErrWrite = fmt.Errorf("marker write failed")

// MarkerWriter writes the persistence configuration file to the root of
// the mounted target partition
type MarkerWriter struct {
	flusher disktool.Flusher
	name    string
}

// NewMarkerWriter creates a marker writer producing files with the given name
func NewMarkerWriter(flusher disktool.Flusher, name string) *MarkerWriter {
	return &MarkerWriter{flusher: flusher, name: name}
}

// Write writes the marker file under mountpoint, overwriting any previous
// content, and flushes it to stable storage before returning. Writing the
// same content twice yields a byte-identical file.
func (w *MarkerWriter) Write(mountpoint string) error {
	path := filepath.Join(mountpoint, w.name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("open %s: %w: %w", path, ErrWrite, err)
	}

	if _, err := f.WriteString(MarkerContent); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w: %w", path, ErrWrite, err)
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync %s: %w: %w", path, ErrWrite, err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w: %w", path, ErrWrite, err)
	}

	if err := w.flusher.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w: %w", path, ErrWrite, err)
	}

	log.Info("wrote marker file", "path", path)
	return nil
}
