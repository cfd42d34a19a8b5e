package setup

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalitools/persistence-setup/internal/blockdev"
)

// flashedDisk builds a disk that looks like a freshly flashed live USB:
// an image-sized iso9660 partition followed by a tiny EFI partition
func flashedDisk(path string, removable bool) blockdev.Device {
	return blockdev.Device{
		Path: path, Type: blockdev.TypeDisk, Size: 62109253632, Removable: removable,
		Children: []blockdev.Device{
			{Path: path + "1", Type: blockdev.TypePartition, FSType: "iso9660", Label: "Kali Live", Size: 4928307200},
			{Path: path + "2", Type: blockdev.TypePartition, FSType: "vfat", Size: 4194304},
		},
	}
}

// internalDisk builds a fixed system disk that must never be detected
func internalDisk(path string) blockdev.Device {
	return blockdev.Device{
		Path: path, Type: blockdev.TypeDisk, Size: 512110190592,
		Children: []blockdev.Device{
			{Path: path + "1", Type: blockdev.TypePartition, FSType: "vfat", Size: 536870912},
			{Path: path + "2", Type: blockdev.TypePartition, FSType: "ext4", Size: 511562809344},
		},
	}
}

func TestDetectLiveUSB(t *testing.T) {
	disk, err := detectLiveUSB([]blockdev.Device{
		internalDisk("/dev/sda"),
		flashedDisk("/dev/sdb", true),
	})
	require.NoError(t, err)
	assert.Equal(t, "/dev/sdb", disk)
}

func TestDetectLiveUSBNoCandidate(t *testing.T) {
	_, err := detectLiveUSB([]blockdev.Device{internalDisk("/dev/sda")})
	assert.True(t, errors.Is(err, errNoCandidate))
}

func TestDetectLiveUSBEmptySnapshot(t *testing.T) {
	_, err := detectLiveUSB(nil)
	assert.True(t, errors.Is(err, errNoCandidate))
}

func TestDetectLiveUSBRemovableOutranksFixed(t *testing.T) {
	fixed := flashedDisk("/dev/sda", false)
	disk, err := detectLiveUSB([]blockdev.Device{fixed, flashedDisk("/dev/sdb", true)})
	require.NoError(t, err)
	assert.Equal(t, "/dev/sdb", disk)
}

func TestDetectLiveUSBRefusesTie(t *testing.T) {
	// Two equally plausible sticks: guessing could wipe the wrong one
	_, err := detectLiveUSB([]blockdev.Device{
		flashedDisk("/dev/sdb", true),
		flashedDisk("/dev/sdc", true),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multiple possible live USB disks")
	assert.Contains(t, err.Error(), "/dev/sdb")
	assert.Contains(t, err.Error(), "/dev/sdc")
}

func TestDetectLiveUSBIgnoresSmallDisks(t *testing.T) {
	small := flashedDisk("/dev/sdb", true)
	small.Size = 4 << 30
	_, err := detectLiveUSB([]blockdev.Device{small})
	assert.True(t, errors.Is(err, errNoCandidate))
}

func TestDetectLiveUSBRequiresBootPartition(t *testing.T) {
	disk := flashedDisk("/dev/sdb", true)
	disk.Children = disk.Children[:1]
	_, err := detectLiveUSB([]blockdev.Device{disk})
	assert.True(t, errors.Is(err, errNoCandidate))
}

func TestDetectLiveUSBKaliLabelCountsAsImage(t *testing.T) {
	// dd onto some sticks reports the image partition with an odd fstype
	disk := flashedDisk("/dev/sdb", true)
	disk.Children[0].FSType = "udf"
	disk.Children[0].Label = "Kali Live"

	got, err := detectLiveUSB([]blockdev.Device{disk})
	require.NoError(t, err)
	assert.Equal(t, "/dev/sdb", got)
}
