package blockdev

import (
	"context"
	"errors"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockBusObject implements dbus.BusObject for testing
type mockBusObject struct {
	callResults map[string]*dbus.Call
}

func (m *mockBusObject) Call(method string, flags dbus.Flags, args ...any) *dbus.Call {
	if call, ok := m.callResults[method]; ok {
		return call
	}
	return &dbus.Call{Err: dbus.ErrMsgNoObject}
}

func (m *mockBusObject) CallWithContext(_ context.Context, method string, flags dbus.Flags, args ...any) *dbus.Call {
	return m.Call(method, flags, args...)
}

func (m *mockBusObject) Go(method string, flags dbus.Flags, ch chan *dbus.Call, args ...any) *dbus.Call {
	return m.Call(method, flags, args...)
}

func (m *mockBusObject) GoWithContext(_ context.Context, method string, flags dbus.Flags, ch chan *dbus.Call, args ...any) *dbus.Call {
	return m.Call(method, flags, args...)
}

func (m *mockBusObject) AddMatchSignal(iface, member string, options ...dbus.MatchOption) *dbus.Call {
	return &dbus.Call{}
}

func (m *mockBusObject) RemoveMatchSignal(iface, member string, options ...dbus.MatchOption) *dbus.Call {
	return &dbus.Call{}
}

func (m *mockBusObject) GetProperty(p string) (dbus.Variant, error) {
	return dbus.Variant{}, nil
}

func (m *mockBusObject) StoreProperty(p string, value any) error {
	return nil
}

func (m *mockBusObject) SetProperty(p string, v any) error {
	return nil
}

func (m *mockBusObject) Destination() string {
	return udisksService
}

func (m *mockBusObject) Path() dbus.ObjectPath {
	return dbus.ObjectPath(udisksRootPath)
}

// mockDBusConnection implements DBusConnection for testing
type mockDBusConnection struct {
	root *mockBusObject
}

func (m *mockDBusConnection) Object(dest string, path dbus.ObjectPath) dbus.BusObject {
	return m.root
}

func (m *mockDBusConnection) Close() error {
	return nil
}

// nulTerminated mimics how UDisks2 reports device paths
func nulTerminated(s string) []byte {
	return append([]byte(s), 0)
}

// sampleManagedObjects builds a UDisks2 object tree with a fixed system
// disk and a removable USB disk carrying a labeled ext4 partition
func sampleManagedObjects() map[dbus.ObjectPath]map[string]map[string]dbus.Variant {
	const (
		fixedDrive  = dbus.ObjectPath("/org/freedesktop/UDisks2/drives/fixed")
		usbDrive    = dbus.ObjectPath("/org/freedesktop/UDisks2/drives/usb")
		sdaPath     = dbus.ObjectPath("/org/freedesktop/UDisks2/block_devices/sda")
		sdbPath     = dbus.ObjectPath("/org/freedesktop/UDisks2/block_devices/sdb")
		sdb3Path    = dbus.ObjectPath("/org/freedesktop/UDisks2/block_devices/sdb3")
		loop0Path   = dbus.ObjectPath("/org/freedesktop/UDisks2/block_devices/loop0")
		loop0Device = "/dev/loop0"
	)

	return map[dbus.ObjectPath]map[string]map[string]dbus.Variant{
		fixedDrive: {
			udisksDriveInterface: {
				"Removable": dbus.MakeVariant(false),
			},
		},
		usbDrive: {
			udisksDriveInterface: {
				"Removable": dbus.MakeVariant(true),
			},
		},
		sdaPath: {
			udisksBlockInterface: {
				"Device":  dbus.MakeVariant(nulTerminated("/dev/sda")),
				"IdLabel": dbus.MakeVariant(""),
				"IdType":  dbus.MakeVariant(""),
				"Size":    dbus.MakeVariant(uint64(512110190592)),
				"Drive":   dbus.MakeVariant(fixedDrive),
			},
			udisksTableInterface: {
				"Type": dbus.MakeVariant("gpt"),
			},
		},
		sdbPath: {
			udisksBlockInterface: {
				"Device":  dbus.MakeVariant(nulTerminated("/dev/sdb")),
				"IdLabel": dbus.MakeVariant(""),
				"IdType":  dbus.MakeVariant(""),
				"Size":    dbus.MakeVariant(uint64(62109253632)),
				"Drive":   dbus.MakeVariant(usbDrive),
			},
			udisksTableInterface: {
				"Type": dbus.MakeVariant("dos"),
			},
		},
		sdb3Path: {
			udisksBlockInterface: {
				"Device":  dbus.MakeVariant(nulTerminated("/dev/sdb3")),
				"IdLabel": dbus.MakeVariant("persistence"),
				"IdType":  dbus.MakeVariant("ext4"),
				"Size":    dbus.MakeVariant(uint64(57168986112)),
				"Drive":   dbus.MakeVariant(usbDrive),
			},
			udisksPartitionInterface: {
				"Table":  dbus.MakeVariant(sdbPath),
				"Number": dbus.MakeVariant(uint32(3)),
			},
			udisksFilesystemInterface: {
				"MountPoints": dbus.MakeVariant([][]byte{nulTerminated("/media/usb")}),
			},
		},
		loop0Path: {
			udisksBlockInterface: {
				"Device":  dbus.MakeVariant(nulTerminated(loop0Device)),
				"IdLabel": dbus.MakeVariant(""),
				"IdType":  dbus.MakeVariant("squashfs"),
				"Size":    dbus.MakeVariant(uint64(4096)),
			},
		},
	}
}

func newMockedInventory(t *testing.T, objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant) *UDisksInventory {
	t.Helper()

	conn := &mockDBusConnection{
		root: &mockBusObject{
			callResults: map[string]*dbus.Call{
				dbusObjectManager + ".GetManagedObjects": {
					Body: []any{objects},
				},
			},
		},
	}

	inv, err := NewUDisksInventory(WithConnection(conn))
	require.NoError(t, err)
	return inv
}

func TestUDisksList(t *testing.T) {
	inv := newMockedInventory(t, sampleManagedObjects())

	devices, err := inv.List()
	require.NoError(t, err)
	require.Len(t, devices, 3)

	// Sorted by path: /dev/loop0, /dev/sda, /dev/sdb
	assert.Equal(t, "/dev/loop0", devices[0].Path)
	assert.Equal(t, TypeDisk, devices[0].Type)

	sda := devices[1]
	assert.Equal(t, "/dev/sda", sda.Path)
	assert.False(t, sda.Removable)
	assert.Empty(t, sda.Children)

	sdb := devices[2]
	assert.Equal(t, "/dev/sdb", sdb.Path)
	assert.True(t, sdb.Removable)
	require.Len(t, sdb.Children, 1)

	p3 := sdb.Children[0]
	assert.Equal(t, "/dev/sdb3", p3.Path)
	assert.Equal(t, TypePartition, p3.Type)
	assert.Equal(t, "ext4", p3.FSType)
	assert.Equal(t, "persistence", p3.Label)
	assert.True(t, p3.Removable)
	assert.Equal(t, []string{"/media/usb"}, p3.Mountpoints)
}

func TestUDisksFindByLabel(t *testing.T) {
	inv := newMockedInventory(t, sampleManagedObjects())

	dev, err := inv.FindByLabel("persistence")
	require.NoError(t, err)
	assert.Equal(t, "/dev/sdb3", dev.Path)

	_, err = inv.FindByLabel("nosuchlabel")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestUDisksAttributes(t *testing.T) {
	inv := newMockedInventory(t, sampleManagedObjects())

	dev, err := inv.Attributes("/dev/sdb3")
	require.NoError(t, err)
	assert.Equal(t, "ext4", dev.FSType)

	_, err = inv.Attributes("/dev/nope")
	assert.True(t, errors.Is(err, ErrDeviceUnavailable))
}

func TestUDisksListCallFailure(t *testing.T) {
	conn := &mockDBusConnection{
		root: &mockBusObject{callResults: map[string]*dbus.Call{}},
	}
	inv, err := NewUDisksInventory(WithConnection(conn))
	require.NoError(t, err)

	_, err = inv.List()
	assert.Error(t, err)
}
