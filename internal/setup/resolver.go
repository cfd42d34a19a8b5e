package setup

import (
	"errors"
	"fmt"
	"strings"

	"github.com/moby/sys/mountinfo"

	"github.com/kalitools/persistence-setup/internal/blockdev"
	"github.com/kalitools/persistence-setup/internal/disktool"
	"github.com/kalitools/persistence-setup/internal/log"
)

// RequiredFSType is the only filesystem type the tool accepts and creates
const RequiredFSType = "ext4"

// ErrWrongFilesystem is returned when a candidate device does not carry
// the required filesystem type
var ErrWrongFilesystem = fmt.Errorf("wrong filesystem type")

// Provenance records how the target device was chosen
type Provenance int

const (
	// FoundByLabel means the target was resolved by filesystem label
	FoundByLabel Provenance = iota
	// ExplicitDevice means the operator named the target directly
	ExplicitDevice
	// NewlyCreated means the target partition is yet to be created on a disk
	NewlyCreated
)

func (p Provenance) String() string {
	switch p {
	case FoundByLabel:
		return "found-by-label"
	case ExplicitDevice:
		return "explicit-device"
	case NewlyCreated:
		return "newly-created"
	default:
		return "unknown"
	}
}

// Target is the resolved operation target. In creation mode Path is empty
// until the provisioner has created the partition; Disk names the whole
// disk it will be created on.
type Target struct {
	Path       string
	Disk       string
	Provenance Provenance
}

// Resolver decides which device the run operates on. It only inspects
// host state and never mutates it.
type Resolver struct {
	inventory   blockdev.Inventory
	partitioner disktool.Partitioner

	// rootSource reports the device backing the root filesystem,
	// overridable in tests
	rootSource func() (string, error)
}

// NewResolver creates a resolver over the given inventory and partitioner
func NewResolver(inventory blockdev.Inventory, partitioner disktool.Partitioner) *Resolver {
	return &Resolver{
		inventory:   inventory,
		partitioner: partitioner,
		rootSource:  rootFilesystemSource,
	}
}

// Resolve picks the target device: an explicit device, creation mode on
// a named whole disk, or a label search. When neither a device nor a
// disk is given and no partition carries the label, it falls back to
// detecting the flashed live USB and enters creation mode on it.
func (r *Resolver) Resolve(device, label, disk string) (*Target, error) {
	if device != "" {
		return r.resolveExplicit(device, label)
	}
	if disk != "" {
		return r.resolveCreation(disk, label)
	}

	target, err := r.resolveByLabel(label)
	if err == nil || !errors.Is(err, blockdev.ErrNotFound) {
		return target, err
	}

	devices, lerr := r.inventory.List()
	if lerr != nil {
		return nil, lerr
	}
	detected, derr := detectLiveUSB(devices)
	if derr != nil {
		if errors.Is(derr, errNoCandidate) {
			return nil, fmt.Errorf("no device labeled %q and %v (pass --device or --disk): %w",
				label, derr, blockdev.ErrNotFound)
		}
		return nil, derr
	}

	log.Info("auto-detected flashed live USB", "disk", detected)
	return r.resolveCreation(detected, label)
}

// resolveExplicit validates an operator-named device. A label mismatch is
// only a warning: the explicit choice wins over label matching.
func (r *Resolver) resolveExplicit(device, label string) (*Target, error) {
	attrs, err := r.inventory.Attributes(device)
	if err != nil {
		return nil, err
	}

	if attrs.FSType != RequiredFSType {
		return nil, fmt.Errorf("device %s has filesystem %q, need %q: %w",
			device, attrs.FSType, RequiredFSType, ErrWrongFilesystem)
	}

	if attrs.Label != label {
		log.Warn("device label differs from the expected label, proceeding anyway",
			"device", device, "label", attrs.Label, "expected", label)
	}

	return &Target{Path: device, Provenance: ExplicitDevice}, nil
}

func (r *Resolver) resolveByLabel(label string) (*Target, error) {
	dev, err := r.inventory.FindByLabel(label)
	if err != nil {
		return nil, err
	}

	if dev.FSType != RequiredFSType {
		return nil, fmt.Errorf("device %s labeled %q has filesystem %q, need %q: %w",
			dev.Path, label, dev.FSType, RequiredFSType, ErrWrongFilesystem)
	}

	log.Info("resolved target by label", "label", label, "device", dev.Path)
	return &Target{Path: dev.Path, Provenance: FoundByLabel}, nil
}

// resolveCreation checks that a new partition can be created on the disk.
// Nothing is mutated here; the free-space inspection is read-only.
func (r *Resolver) resolveCreation(disk, label string) (*Target, error) {
	attrs, err := r.inventory.Attributes(disk)
	if err != nil {
		return nil, err
	}
	if attrs.Type != blockdev.TypeDisk {
		return nil, fmt.Errorf("%s is not a whole disk: %w", disk, blockdev.ErrDeviceUnavailable)
	}

	if err := r.refuseRootDisk(disk); err != nil {
		return nil, err
	}

	// If a matching partition already exists anywhere, reuse it instead
	// of creating a second one
	if dev, err := r.inventory.FindByLabel(label); err == nil && dev.FSType == RequiredFSType {
		log.Info("matching partition already exists, reusing it", "label", label, "device", dev.Path)
		return &Target{Path: dev.Path, Provenance: FoundByLabel}, nil
	}

	region, err := r.partitioner.FreeRegion(disk)
	if err != nil {
		return nil, err
	}

	log.Info("disk has room for the new partition", "disk", disk, "freeMiB", region.SizeMiB())
	return &Target{Disk: disk, Provenance: NewlyCreated}, nil
}

// refuseRootDisk rejects a disk that backs the running root filesystem
func (r *Resolver) refuseRootDisk(disk string) error {
	source, err := r.rootSource()
	if err != nil {
		return fmt.Errorf("determine root filesystem device: %w", err)
	}
	if source != "" && strings.HasPrefix(source, disk) {
		return fmt.Errorf("refusing to partition %s: it contains the root filesystem (%s)", disk, source)
	}
	return nil
}

// rootFilesystemSource returns the device mounted at /
func rootFilesystemSource() (string, error) {
	mounts, err := mountinfo.GetMounts(mountinfo.SingleEntryFilter("/"))
	if err != nil {
		return "", fmt.Errorf("read mount table: %w", err)
	}
	if len(mounts) == 0 {
		return "", nil
	}
	return mounts[0].Source, nil
}
