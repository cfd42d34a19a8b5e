package mount

import (
	"fmt"
	"os"

	"github.com/kalitools/persistence-setup/internal/log"
)

// State records how a device came to be mounted during this run.
// Owned is true only when Acquire performed the mount itself, and it is
// the sole fact deciding whether Release unmounts anything.
type State struct {
	// Device is the mounted device path
	Device string
	// Mountpoint is where the device is mounted
	Mountpoint string
	// Owned reports whether this run performed the mount
	Owned bool

	released bool
}

// Lifecycle mounts the target device at most once per run and guarantees
// that only mounts it established itself are ever unmounted
type Lifecycle struct {
	mounter Mounter
}

// NewLifecycle creates a new mount lifecycle manager
func NewLifecycle(mounter Mounter) *Lifecycle {
	return &Lifecycle{mounter: mounter}
}

// Acquire makes the device available at a mountpoint. If the device is
// already mounted anywhere, the existing mountpoint is returned untouched
// with Owned=false. Otherwise the device is mounted at preferred and the
// returned state carries Owned=true.
func (l *Lifecycle) Acquire(device, preferred, fsType string) (*State, error) {
	existing, err := l.mounter.GetMountPoint(device)
	if err != nil {
		return nil, fmt.Errorf("query mount target of %s: %w: %w", device, ErrMount, err)
	}

	if existing != "" {
		log.Info("device already mounted, leaving it in place", "device", device, "mountpoint", existing)
		return &State{Device: device, Mountpoint: existing, Owned: false}, nil
	}

	if err := os.MkdirAll(preferred, 0755); err != nil {
		return nil, fmt.Errorf("create mountpoint %s: %w: %w", preferred, ErrMount, err)
	}

	if err := l.mounter.Mount(device, preferred, fsType); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMount, err)
	}

	log.Info("mounted device", "device", device, "mountpoint", preferred)
	return &State{Device: device, Mountpoint: preferred, Owned: true}, nil
}

// Release undoes an Acquire. It unmounts only when the state is owned,
// and consumes the state so a second call observes nothing to do.
func (l *Lifecycle) Release(st *State) error {
	if st == nil || st.released {
		return nil
	}
	st.released = true

	if !st.Owned {
		log.Debug("mount not owned by this run, leaving it mounted",
			"device", st.Device, "mountpoint", st.Mountpoint)
		return nil
	}

	if err := l.mounter.Unmount(st.Mountpoint); err != nil {
		return fmt.Errorf("%w: %w", ErrUnmount, err)
	}

	log.Info("unmounted device", "device", st.Device, "mountpoint", st.Mountpoint)
	return nil
}
