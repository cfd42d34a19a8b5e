package mount

import (
	"fmt"
	"path/filepath"

	"github.com/moby/sys/mountinfo"
	"golang.org/x/sys/unix"

	"github.com/kalitools/persistence-setup/internal/log"
)

// SyscallMounter implements Mounter using Linux syscalls and the kernel
// mount table
type SyscallMounter struct{}

// NewSyscallMounter creates a new syscall-based mounter
func NewSyscallMounter() *SyscallMounter {
	return &SyscallMounter{}
}

// Mount mounts the source device to the target directory
func (m *SyscallMounter) Mount(source, target, fsType string) error {
	log.Debug("mounting filesystem", "source", source, "target", target, "type", fsType)

	// Mount with no special flags
	if err := unix.Mount(source, target, fsType, 0, ""); err != nil {
		return fmt.Errorf("mount %s to %s: %w", source, target, err)
	}

	log.Debug("mounted successfully", "source", source, "target", target)
	return nil
}

// Unmount unmounts the target directory
func (m *SyscallMounter) Unmount(target string) error {
	log.Debug("unmounting", "target", target)

	if err := unix.Unmount(target, 0); err != nil {
		return fmt.Errorf("unmount %s: %w", target, err)
	}

	log.Debug("unmounted successfully", "target", target)
	return nil
}

// IsMounted checks if the target is mounted
func (m *SyscallMounter) IsMounted(target string) (bool, error) {
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return false, fmt.Errorf("get absolute path: %w", err)
	}

	mounted, err := mountinfo.Mounted(absTarget)
	if err != nil {
		return false, fmt.Errorf("check mount table: %w", err)
	}
	return mounted, nil
}

// GetMountPoint returns the mount point for a source device
func (m *SyscallMounter) GetMountPoint(source string) (string, error) {
	// Resolve source to its canonical path
	absSource, err := filepath.EvalSymlinks(source)
	if err != nil {
		// If we can't resolve, try with original path
		absSource = source
	}

	mounts, err := mountinfo.GetMounts(nil)
	if err != nil {
		return "", fmt.Errorf("read mount table: %w", err)
	}

	for _, entry := range mounts {
		// Check both the original path and resolved path
		if entry.Source == source || entry.Source == absSource {
			return entry.Mountpoint, nil
		}
	}

	return "", nil
}
