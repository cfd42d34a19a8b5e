package blockdev

import (
	"fmt"
	"sort"

	"github.com/kalitools/persistence-setup/internal/log"
)

// Device type values as reported by the inventory
const (
	TypeDisk      = "disk"
	TypePartition = "part"
)

// Device is a read-only snapshot of a block device at inventory time
type Device struct {
	// Path is the device node path (e.g. /dev/sdb3)
	Path string
	// Type is "disk" for whole disks, "part" for partitions
	Type string
	// Label is the filesystem label, empty if unset
	Label string
	// FSType is the filesystem type (e.g. "ext4"), empty if unformatted
	FSType string
	// Size is the device size in bytes
	Size uint64
	// Removable reports whether the kernel considers the device removable
	Removable bool
	// Mountpoints lists where the device is currently mounted
	Mountpoints []string
	// Children holds the partitions of a whole disk
	Children []Device
}

// Inventory enumerates block devices on the host. Every call queries the
// host again; results are never cached across calls.
type Inventory interface {
	// List returns a snapshot of all block devices
	List() ([]Device, error)

	// FindByLabel returns the device carrying the given filesystem label.
	// Returns ErrNotFound when no device matches. When several devices
	// share the label, the lexicographically smallest device path wins.
	FindByLabel(label string) (*Device, error)

	// Attributes returns the current attributes of a single device path.
	// Returns ErrDeviceUnavailable when the path does not exist or cannot
	// be queried.
	Attributes(path string) (*Device, error)
}

// ErrNotFound is returned when no device matches a label lookup
var ErrNotFound = fmt.Errorf("no matching device found")

// ErrDeviceUnavailable is returned when a device path does not exist or
// cannot be queried
var ErrDeviceUnavailable = fmt.Errorf("device unavailable")

// New creates an Inventory based on the specified backend
func New(backend string) (Inventory, error) {
	switch backend {
	case "lsblk":
		return NewLsblkInventory(), nil
	case "udisks":
		return NewUDisksInventory()
	default:
		return nil, fmt.Errorf("unknown inventory backend: %s (use 'lsblk' or 'udisks')", backend)
	}
}

// flatten expands disks and their partitions into a single list
func flatten(devices []Device) []Device {
	var out []Device
	for _, dev := range devices {
		out = append(out, dev)
		out = append(out, flatten(dev.Children)...)
	}
	return out
}

// findByLabel implements the shared label lookup over a snapshot. Matches
// are ordered by device path so that repeated runs against the same host
// state resolve to the same device.
func findByLabel(devices []Device, label string) (*Device, error) {
	var matches []Device
	for _, dev := range flatten(devices) {
		if dev.Label == label {
			matches = append(matches, dev)
		}
	}

	if len(matches) == 0 {
		return nil, fmt.Errorf("label %q: %w", label, ErrNotFound)
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Path < matches[j].Path
	})

	if len(matches) > 1 {
		paths := make([]string, len(matches))
		for i, m := range matches {
			paths[i] = m.Path
		}
		log.Warn("multiple devices share the label, using the first by path", "label", label, "devices", paths)
	}

	return &matches[0], nil
}

// findByPath locates a single device in a snapshot
func findByPath(devices []Device, path string) *Device {
	for _, dev := range flatten(devices) {
		if dev.Path == path {
			d := dev
			return &d
		}
	}
	return nil
}
