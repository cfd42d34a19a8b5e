package setup

import (
	"fmt"
	"os"

	"github.com/kalitools/persistence-setup/internal/blockdev"
	"github.com/kalitools/persistence-setup/internal/disktool"
	"github.com/kalitools/persistence-setup/internal/log"
	"github.com/kalitools/persistence-setup/internal/mount"
)

// ErrPrivilege is returned when the tool is not running as root
var ErrPrivilege = fmt.Errorf("root privilege required")

// Options describes one provisioning run
type Options struct {
	// Device is an explicit target partition, bypassing label search
	Device string
	// Disk selects creation mode: the whole disk to create the partition on
	Disk string
	// Label is the filesystem label to search for and to assign
	Label string
	// MountPoint is the preferred mountpoint when the target is unmounted
	MountPoint string
}

// Runner drives a full provisioning run: resolve, provision if needed,
// mount, write the marker, and return the system to its prior state.
type Runner struct {
	inventory   blockdev.Inventory
	partitioner disktool.Partitioner
	mounter     mount.Mounter
	mounts      *mount.Lifecycle
	resolver    *Resolver
	marker      *MarkerWriter

	// privileged reports whether the process may touch block devices,
	// overridable in tests
	privileged func() bool
}

// NewRunner wires a runner from its collaborators
func NewRunner(inventory blockdev.Inventory, partitioner disktool.Partitioner,
	flusher disktool.Flusher, mounter mount.Mounter, markerName string) *Runner {
	return &Runner{
		inventory:   inventory,
		partitioner: partitioner,
		mounter:     mounter,
		mounts:      mount.NewLifecycle(mounter),
		resolver:    NewResolver(inventory, partitioner),
		marker:      NewMarkerWriter(flusher, markerName),
		privileged:  hasRootPrivilege,
	}
}

// Run executes one provisioning run. Every error aborts immediately, with
// one exception: an unmount failure after the marker was written is
// reported as a warning and does not fail the run.
func (r *Runner) Run(opts Options) error {
	if !r.privileged() {
		return fmt.Errorf("this tool partitions and mounts disks: %w (re-run with sudo)", ErrPrivilege)
	}

	target, err := r.resolver.Resolve(opts.Device, opts.Label, opts.Disk)
	if err != nil {
		return err
	}

	if target.Provenance == NewlyCreated {
		if err := r.provision(target, opts.Label); err != nil {
			return err
		}
	}

	state, err := r.mounts.Acquire(target.Path, opts.MountPoint, RequiredFSType)
	if err != nil {
		return err
	}

	if err := r.marker.Write(state.Mountpoint); err != nil {
		if rerr := r.mounts.Release(state); rerr != nil {
			log.Warn("could not unmount after failed marker write",
				"mountpoint", state.Mountpoint, "error", rerr)
		}
		return err
	}

	if err := r.mounts.Release(state); err != nil {
		// The partition is correctly set up at this point; it merely
		// remains mounted.
		log.Warn("partition is ready but could not be unmounted",
			"mountpoint", state.Mountpoint, "error", err)
	}

	log.Info("persistence partition ready", "device", target.Path,
		"provenance", target.Provenance.String())
	return nil
}

// provision creates and formats the new partition and re-verifies it
// through the inventory before the caller mounts it. A failure here is
// fatal and leaves the disk as the failed step left it.
func (r *Runner) provision(target *Target, label string) error {
	r.unmountDiskPartitions(target.Disk)

	partition, err := r.partitioner.CreatePartition(target.Disk)
	if err != nil {
		return err
	}

	if err := r.partitioner.Format(partition, label); err != nil {
		return fmt.Errorf("%w (the disk may hold a half-provisioned partition %s)", err, partition)
	}

	attrs, err := r.inventory.Attributes(partition)
	if err != nil {
		return err
	}
	if attrs.FSType != RequiredFSType {
		return fmt.Errorf("freshly formatted %s reports filesystem %q, need %q: %w",
			partition, attrs.FSType, RequiredFSType, ErrWrongFilesystem)
	}

	target.Path = partition
	return nil
}

// unmountDiskPartitions unmounts whatever is mounted from the disk so
// the partition-table edit and the kernel re-read can proceed. Best
// effort: a partition that refuses to unmount surfaces shortly after as
// a parted failure.
func (r *Runner) unmountDiskPartitions(disk string) {
	attrs, err := r.inventory.Attributes(disk)
	if err != nil {
		log.Debug("could not inspect disk before partitioning", "disk", disk, "error", err)
		return
	}

	for _, part := range attrs.Children {
		for _, mp := range part.Mountpoints {
			mounted, err := r.mounter.IsMounted(mp)
			if err != nil || !mounted {
				continue
			}
			log.Info("unmounting partition before editing the partition table",
				"partition", part.Path, "mountpoint", mp)
			if err := r.mounter.Unmount(mp); err != nil {
				log.Warn("could not unmount partition, partitioning may fail",
					"partition", part.Path, "mountpoint", mp, "error", err)
			}
		}
	}
}

// hasRootPrivilege reports whether the process runs with an effective
// uid of root
func hasRootPrivilege() bool {
	return os.Geteuid() == 0
}
