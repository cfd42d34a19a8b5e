package disktool

import "fmt"

// Partitioner creates and formats the persistence partition using the
// host's disk utilities. All operations are destructive and non-retryable:
// a failure leaves the disk in whatever state the failed step produced.
type Partitioner interface {
	// FreeRegion inspects the disk and returns the unallocated region the
	// new partition would occupy, without mutating anything. Returns
	// ErrInsufficientSpace when no usable region remains.
	FreeRegion(disk string) (*Region, error)

	// CreatePartition appends a new partition spanning the free region and
	// returns its device path once the kernel can see it
	CreatePartition(disk string) (string, error)

	// Format formats the partition with the required filesystem and label.
	// It is a no-op when the partition already carries both.
	Format(partition, label string) error
}

// Flusher flushes pending writes to stable storage
type Flusher interface {
	Flush() error
}

// Region is an unallocated span on a disk, in MiB from the disk start
type Region struct {
	StartMiB float64
	EndMiB   float64
}

// SizeMiB returns the size of the region
func (r Region) SizeMiB() float64 {
	return r.EndMiB - r.StartMiB
}

// ErrInsufficientSpace is returned when a disk has no usable unallocated
// space left for a new partition
var ErrInsufficientSpace = fmt.Errorf("no usable unallocated space")

// ErrPartitionTable is returned when editing the partition table fails
var ErrPartitionTable = fmt.Errorf("partition table edit failed")

// ErrFormat is returned when formatting the new partition fails
var ErrFormat = fmt.Errorf("format failed")
