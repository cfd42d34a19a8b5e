package blockdev

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/godbus/dbus/v5"

	"github.com/kalitools/persistence-setup/internal/log"
)

const (
	// DBus service and interface constants
	udisksService     = "org.freedesktop.UDisks2"
	udisksRootPath    = "/org/freedesktop/UDisks2"
	dbusObjectManager = "org.freedesktop.DBus.ObjectManager"

	udisksBlockInterface      = "org.freedesktop.UDisks2.Block"
	udisksPartitionInterface  = "org.freedesktop.UDisks2.Partition"
	udisksTableInterface      = "org.freedesktop.UDisks2.PartitionTable"
	udisksFilesystemInterface = "org.freedesktop.UDisks2.Filesystem"
	udisksDriveInterface      = "org.freedesktop.UDisks2.Drive"
)

// UDisksInventory implements Inventory using the UDisks2 DBus API
type UDisksInventory struct {
	conn      DBusConnection
	connectFn func() (DBusConnection, error) // for reconnection
}

// UDisksOption is a functional option for UDisksInventory
type UDisksOption func(*UDisksInventory)

// WithConnection sets a custom DBus connection (for testing)
func WithConnection(conn DBusConnection) UDisksOption {
	return func(i *UDisksInventory) {
		i.conn = conn
		i.connectFn = nil
	}
}

// NewUDisksInventory creates a new UDisks2-backed inventory
func NewUDisksInventory(opts ...UDisksOption) (*UDisksInventory, error) {
	i := &UDisksInventory{
		connectFn: ConnectSystemBus,
	}

	for _, opt := range opts {
		opt(i)
	}

	if i.conn == nil {
		conn, err := i.connectFn()
		if err != nil {
			return nil, fmt.Errorf("connect to system bus: %w", err)
		}
		i.conn = conn
	}

	return i, nil
}

// Close closes the DBus connection
func (i *UDisksInventory) Close() error {
	if i.conn != nil {
		return i.conn.Close()
	}
	return nil
}

// getManagedObjects calls GetManagedObjects on the ObjectManager interface
// Returns: map[ObjectPath]map[InterfaceName]map[PropertyName]Variant
func (i *UDisksInventory) getManagedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, error) {
	obj := i.conn.Object(udisksService, dbus.ObjectPath(udisksRootPath))

	var result map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	call := obj.Call(dbusObjectManager+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("GetManagedObjects: %w", call.Err)
	}

	if err := call.Store(&result); err != nil {
		return nil, fmt.Errorf("store GetManagedObjects result: %w", err)
	}

	return result, nil
}

// List returns a fresh snapshot of all block devices
func (i *UDisksInventory) List() ([]Device, error) {
	log.Debug("enumerating block devices", "backend", "udisks")

	objects, err := i.getManagedObjects()
	if err != nil {
		return nil, fmt.Errorf("list block devices: %w", err)
	}

	// Drive removability is a property of the drive object, not the block
	removableDrives := make(map[dbus.ObjectPath]bool)
	for path, interfaces := range objects {
		driveProps, ok := interfaces[udisksDriveInterface]
		if !ok {
			continue
		}
		removableDrives[path] = boolProp(driveProps, "Removable")
	}

	// First pass: one Device per block object, partitions grouped by the
	// partition table object they belong to
	disks := make(map[dbus.ObjectPath]*Device)
	children := make(map[dbus.ObjectPath][]Device)

	for path, interfaces := range objects {
		blockProps, ok := interfaces[udisksBlockInterface]
		if !ok {
			continue
		}

		devPath := bytesProp(blockProps, "Device")
		if devPath == "" {
			continue
		}

		dev := Device{
			Path:      devPath,
			Label:     stringProp(blockProps, "IdLabel"),
			FSType:    stringProp(blockProps, "IdType"),
			Size:      uint64Prop(blockProps, "Size"),
			Removable: removableDrives[objectPathProp(blockProps, "Drive")],
		}

		if fsProps, ok := interfaces[udisksFilesystemInterface]; ok {
			dev.Mountpoints = mountPointsProp(fsProps)
		}

		if partProps, ok := interfaces[udisksPartitionInterface]; ok {
			dev.Type = TypePartition
			table := objectPathProp(partProps, "Table")
			children[table] = append(children[table], dev)
			continue
		}

		dev.Type = TypeDisk
		d := dev
		disks[path] = &d
	}

	// Second pass: attach partitions to their disks
	var devices []Device
	for path, disk := range disks {
		parts := children[path]
		sort.Slice(parts, func(a, b int) bool { return parts[a].Path < parts[b].Path })
		disk.Children = parts
		devices = append(devices, *disk)
	}
	sort.Slice(devices, func(a, b int) bool { return devices[a].Path < devices[b].Path })

	return devices, nil
}

// FindByLabel returns the device with the given filesystem label
func (i *UDisksInventory) FindByLabel(label string) (*Device, error) {
	devices, err := i.List()
	if err != nil {
		return nil, err
	}
	return findByLabel(devices, label)
}

// Attributes returns the current attributes of a single device path
func (i *UDisksInventory) Attributes(path string) (*Device, error) {
	log.Debug("querying device attributes", "backend", "udisks", "device", path)

	devices, err := i.List()
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", path, err)
	}

	dev := findByPath(devices, path)
	if dev == nil {
		return nil, fmt.Errorf("query %s: %w", path, ErrDeviceUnavailable)
	}
	return dev, nil
}

func stringProp(props map[string]dbus.Variant, name string) string {
	if v, ok := props[name]; ok {
		if s, ok := v.Value().(string); ok {
			return s
		}
	}
	return ""
}

func uint64Prop(props map[string]dbus.Variant, name string) uint64 {
	if v, ok := props[name]; ok {
		if n, ok := v.Value().(uint64); ok {
			return n
		}
	}
	return 0
}

func boolProp(props map[string]dbus.Variant, name string) bool {
	if v, ok := props[name]; ok {
		if b, ok := v.Value().(bool); ok {
			return b
		}
	}
	return false
}

func objectPathProp(props map[string]dbus.Variant, name string) dbus.ObjectPath {
	if v, ok := props[name]; ok {
		if p, ok := v.Value().(dbus.ObjectPath); ok {
			return p
		}
	}
	return ""
}

// bytesProp decodes a NUL-terminated byte-array property such as Block.Device
func bytesProp(props map[string]dbus.Variant, name string) string {
	if v, ok := props[name]; ok {
		if b, ok := v.Value().([]byte); ok {
			return string(bytes.TrimRight(b, "\x00"))
		}
	}
	return ""
}

// mountPointsProp decodes Filesystem.MountPoints (an array of
// NUL-terminated byte arrays)
func mountPointsProp(props map[string]dbus.Variant) []string {
	v, ok := props["MountPoints"]
	if !ok {
		return nil
	}
	raw, ok := v.Value().([][]byte)
	if !ok {
		return nil
	}
	var out []string
	for _, mp := range raw {
		if s := string(bytes.TrimRight(mp, "\x00")); s != "" {
			out = append(out, s)
		}
	}
	return out
}
