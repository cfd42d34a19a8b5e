package disktool

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"

	"github.com/kalitools/persistence-setup/internal/blockdev"
	"github.com/kalitools/persistence-setup/internal/log"
)

const (
	// requiredFSType is the only filesystem this tool provisions
	requiredFSType = "ext4"

	// minRegionMiB is the smallest unallocated region worth partitioning
	minRegionMiB = 32

	// alignMiB is added to the region start before mkpart so the new
	// partition never overlaps the previous one
	alignMiB = 1

	visibilityAttempts = 5
	visibilityDelay    = 500 * time.Millisecond
)

// PartedPartitioner implements Partitioner by shelling out to parted,
// mkfs and blkid
type PartedPartitioner struct{}

// NewPartedPartitioner creates a new parted-backed partitioner
func NewPartedPartitioner() *PartedPartitioner {
	return &PartedPartitioner{}
}

// run executes a disk utility and returns the combined output
func (p *PartedPartitioner) run(name string, args ...string) ([]byte, error) {
	cmd := exec.Command(name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("%s %s: %w (output: %q)", name, strings.Join(args, " "), err, string(output))
	}
	return output, nil
}

// FreeRegion returns the unallocated region a new partition would occupy
func (p *PartedPartitioner) FreeRegion(disk string) (*Region, error) {
	region, _, err := p.layout(disk)
	if err != nil {
		return nil, err
	}
	return region, nil
}

// layout parses the disk and returns the usable free region plus the
// partition numbers currently in the table
func (p *PartedPartitioner) layout(disk string) (*Region, []int, error) {
	output, err := p.run("parted", "-sm", disk, "unit", "MiB", "print", "free")
	if err != nil {
		return nil, nil, fmt.Errorf("inspect %s: %w: %w", disk, ErrPartitionTable, err)
	}

	regions, numbers := parsePartedFree(string(output))

	region := pickRegion(regions)
	if region == nil {
		return nil, numbers, fmt.Errorf("inspect %s: %w", disk, ErrInsufficientSpace)
	}

	return region, numbers, nil
}

// CreatePartition appends a new partition spanning the free region. The
// number parted assigns is not predictable from the table alone (it hands
// out the lowest free number, so gaps get filled first), so the disk is
// re-read after mkpart and the new number is whichever one appeared.
func (p *PartedPartitioner) CreatePartition(disk string) (string, error) {
	region, before, err := p.layout(disk)
	if err != nil {
		return "", err
	}

	start := region.StartMiB + alignMiB
	if region.EndMiB-start < minRegionMiB {
		return "", fmt.Errorf("create partition on %s: %w", disk, ErrInsufficientSpace)
	}

	log.Info("creating partition", "disk", disk,
		"startMiB", start, "endMiB", region.EndMiB)

	_, err = p.run("parted", "-s", disk, "mkpart", "primary", requiredFSType,
		fmt.Sprintf("%.2fMiB", start), fmt.Sprintf("%.2fMiB", region.EndMiB))
	if err != nil {
		return "", fmt.Errorf("create partition on %s: %w: %w", disk, ErrPartitionTable, err)
	}

	p.settle()

	output, err := p.run("parted", "-sm", disk, "unit", "MiB", "print", "free")
	if err != nil {
		return "", fmt.Errorf("re-read %s after mkpart: %w: %w", disk, ErrPartitionTable, err)
	}
	_, after := parsePartedFree(string(output))

	num := newPartitionNumber(before, after)
	if num == 0 {
		return "", fmt.Errorf("no new partition appeared on %s after mkpart: %w",
			disk, blockdev.ErrDeviceUnavailable)
	}

	partition := PartitionPath(disk, num)
	if err := p.waitVisible(partition); err != nil {
		return "", err
	}

	return partition, nil
}

// Format formats the partition as ext4 with the given label, unless it
// already carries both
func (p *PartedPartitioner) Format(partition, label string) error {
	if p.alreadyFormatted(partition, label) {
		log.Info("partition already formatted, keeping it", "partition", partition, "label", label)
		return nil
	}

	log.Info("formatting partition", "partition", partition, "fstype", requiredFSType, "label", label)

	if _, err := p.run("mkfs.ext4", "-F", "-L", label, partition); err != nil {
		return fmt.Errorf("format %s: %w: %w", partition, ErrFormat, err)
	}

	p.settle()
	return p.waitVisible(partition)
}

// alreadyFormatted checks blkid for the required type and label
func (p *PartedPartitioner) alreadyFormatted(partition, label string) bool {
	output, err := exec.Command("blkid", partition).CombinedOutput()
	if err != nil {
		return false
	}
	s := string(output)
	return strings.Contains(s, fmt.Sprintf("TYPE=%q", requiredFSType)) &&
		strings.Contains(s, fmt.Sprintf("LABEL=%q", label))
}

// settle gives udev a chance to create the new device nodes. Best effort:
// the visibility check below is what actually gates progress.
func (p *PartedPartitioner) settle() {
	if _, err := p.run("udevadm", "settle"); err != nil {
		log.Debug("udevadm settle failed", "error", err)
	}
}

// waitVisible polls until the kernel exposes the partition device node
func (p *PartedPartitioner) waitVisible(partition string) error {
	err := retry.Do(
		func() error {
			_, err := os.Stat(partition)
			return err
		},
		retry.Attempts(visibilityAttempts),
		retry.Delay(visibilityDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("partition %s not visible after %d attempts: %w",
			partition, visibilityAttempts, blockdev.ErrDeviceUnavailable)
	}
	return nil
}

// parsePartedFree parses `parted -sm <disk> unit MiB print free` output.
// Example:
//
//	BYT;
//	/dev/sdb:59668MiB:scsi:512:512:msdos:Flash Disk:;
//	1:0.03MiB:4700MiB:4700MiB:primary:iso9660:boot;
//	2:4700MiB:4704MiB:4.00MiB:primary::;
//	1:4704MiB:59668MiB:54964MiB:free;
//
// Returns the free regions and the sorted partition numbers in the table.
func parsePartedFree(output string) ([]Region, []int) {
	var regions []Region
	var numbers []int

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSuffix(strings.TrimSpace(line), ";")
		fields := strings.Split(line, ":")
		if len(fields) < 5 {
			continue
		}

		if fields[4] == "free" {
			start, err1 := parseMiB(fields[1])
			end, err2 := parseMiB(fields[2])
			if err1 == nil && err2 == nil {
				regions = append(regions, Region{StartMiB: start, EndMiB: end})
			}
			continue
		}

		if num, err := strconv.Atoi(fields[0]); err == nil {
			numbers = append(numbers, num)
		}
	}

	sort.Ints(numbers)
	return regions, numbers
}

// newPartitionNumber returns the smallest partition number present in
// after but not in before, or 0 when nothing new appeared
func newPartitionNumber(before, after []int) int {
	known := make(map[int]bool, len(before))
	for _, n := range before {
		known[n] = true
	}
	for _, n := range after {
		if !known[n] {
			return n
		}
	}
	return 0
}

func parseMiB(s string) (float64, error) {
	if !strings.HasSuffix(s, "MiB") {
		return 0, fmt.Errorf("not a MiB value: %q", s)
	}
	return strconv.ParseFloat(strings.TrimSuffix(s, "MiB"), 64)
}

// pickRegion selects the usable free region closest to the end of the
// disk, or nil when none is large enough
func pickRegion(regions []Region) *Region {
	var best *Region
	for i := range regions {
		r := regions[i]
		if r.SizeMiB() < minRegionMiB {
			continue
		}
		if best == nil || r.EndMiB > best.EndMiB {
			best = &r
		}
	}
	return best
}

// PartitionPath returns the device path of partition n on a disk:
// /dev/sdb + 3 -> /dev/sdb3, /dev/nvme0n1 + 3 -> /dev/nvme0n1p3
func PartitionPath(disk string, n int) string {
	base := filepath.Base(disk)
	if strings.HasPrefix(base, "nvme") || strings.HasPrefix(base, "mmcblk") || strings.HasPrefix(base, "loop") {
		return fmt.Sprintf("%sp%d", disk, n)
	}
	return fmt.Sprintf("%s%d", disk, n)
}
