package disktool

import (
	"golang.org/x/sys/unix"

	"github.com/kalitools/persistence-setup/internal/log"
)

// UnixFlusher implements Flusher with the sync(2) syscall
type UnixFlusher struct{}

// NewUnixFlusher creates a new syscall-based flusher
func NewUnixFlusher() *UnixFlusher {
	return &UnixFlusher{}
}

// Flush commits all pending filesystem writes to stable storage
func (f *UnixFlusher) Flush() error {
	log.Debug("flushing filesystem buffers")
	unix.Sync()
	return nil
}
