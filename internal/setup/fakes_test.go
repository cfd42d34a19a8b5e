package setup

import (
	"fmt"
	"sort"

	"github.com/kalitools/persistence-setup/internal/blockdev"
	"github.com/kalitools/persistence-setup/internal/disktool"
)

// fakeInventory implements blockdev.Inventory over a fixed snapshot
type fakeInventory struct {
	devices []blockdev.Device
	attrs   map[string]*blockdev.Device
}

func (f *fakeInventory) List() ([]blockdev.Device, error) {
	return f.devices, nil
}

func (f *fakeInventory) FindByLabel(label string) (*blockdev.Device, error) {
	var matches []*blockdev.Device
	var walk func(devs []blockdev.Device)
	walk = func(devs []blockdev.Device) {
		for i := range devs {
			if devs[i].Label == label {
				matches = append(matches, &devs[i])
			}
			walk(devs[i].Children)
		}
	}
	walk(f.devices)

	if len(matches) == 0 {
		return nil, fmt.Errorf("label %q: %w", label, blockdev.ErrNotFound)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Path < matches[j].Path })
	return matches[0], nil
}

func (f *fakeInventory) Attributes(path string) (*blockdev.Device, error) {
	if dev, ok := f.attrs[path]; ok {
		return dev, nil
	}
	return nil, fmt.Errorf("query %s: %w", path, blockdev.ErrDeviceUnavailable)
}

// fakePartitioner implements disktool.Partitioner without touching disks
type fakePartitioner struct {
	region    *disktool.Region
	regionErr error

	created   string
	createErr error
	formatErr error

	createCalls    int
	formatCalls    int
	formattedLabel string
}

func (f *fakePartitioner) FreeRegion(disk string) (*disktool.Region, error) {
	if f.regionErr != nil {
		return nil, f.regionErr
	}
	if f.region == nil {
		return nil, fmt.Errorf("inspect %s: %w", disk, disktool.ErrInsufficientSpace)
	}
	return f.region, nil
}

func (f *fakePartitioner) CreatePartition(disk string) (string, error) {
	f.createCalls++
	if f.createErr != nil {
		return "", f.createErr
	}
	return f.created, nil
}

func (f *fakePartitioner) Format(partition, label string) error {
	f.formatCalls++
	f.formattedLabel = label
	return f.formatErr
}

// fakeFlusher implements disktool.Flusher
type fakeFlusher struct {
	flushes int
	err     error
}

func (f *fakeFlusher) Flush() error {
	f.flushes++
	return f.err
}

// fakeMounter implements mount.Mounter over an in-memory mount table
type fakeMounter struct {
	mounts map[string]string // device -> mountpoint

	mountErr   error
	unmountErr error

	mountCalls   int
	unmountCalls int
}

func newFakeMounter() *fakeMounter {
	return &fakeMounter{mounts: make(map[string]string)}
}

func (f *fakeMounter) Mount(source, target, fsType string) error {
	f.mountCalls++
	if f.mountErr != nil {
		return f.mountErr
	}
	f.mounts[source] = target
	return nil
}

func (f *fakeMounter) Unmount(target string) error {
	f.unmountCalls++
	if f.unmountErr != nil {
		return f.unmountErr
	}
	for dev, mp := range f.mounts {
		if mp == target {
			delete(f.mounts, dev)
		}
	}
	return nil
}

func (f *fakeMounter) IsMounted(target string) (bool, error) {
	for _, mp := range f.mounts {
		if mp == target {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeMounter) GetMountPoint(source string) (string, error) {
	return f.mounts[source], nil
}
