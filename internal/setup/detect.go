package setup

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kalitools/persistence-setup/internal/blockdev"
)

const (
	// minCandidateDiskSize is the smallest disk a flashed live image
	// plausibly lives on
	minCandidateDiskSize = 8 << 30

	// A hybrid live ISO shows up as an iso9660/vfat partition in this
	// size range, accompanied by a tiny EFI boot partition
	minImagePartSize = 4 << 30
	maxImagePartSize = 8 << 30
	minBootPartSize  = 1 << 20
	maxBootPartSize  = 8 << 20
)

var errNoCandidate = fmt.Errorf("no flashed live USB disk found")

// imageFSTypes are the filesystem types a hybrid live ISO partition
// reports, depending on how it was flashed
var imageFSTypes = map[string]bool{
	"iso9660": true,
	"vfat":    true,
	"fat":     true,
	"fat32":   true,
}

type usbCandidate struct {
	path  string
	score int
}

// detectLiveUSB picks the flashed live USB among all disks in the
// snapshot. A candidate disk is at least 8GiB, holds an image-sized
// iso9660/vfat (or kali-labeled) partition plus a tiny boot partition;
// removable disks outrank fixed ones. When several candidates tie, the
// choice is too risky to guess and the operator must name the disk.
func detectLiveUSB(devices []blockdev.Device) (string, error) {
	var candidates []usbCandidate

	for _, disk := range devices {
		if disk.Type != blockdev.TypeDisk || disk.Size < minCandidateDiskSize || len(disk.Children) < 2 {
			continue
		}

		imagePart := false
		bootPart := false
		for _, part := range disk.Children {
			isImageFS := imageFSTypes[strings.ToLower(part.FSType)] ||
				strings.Contains(strings.ToLower(part.Label), "kali")
			if part.Size >= minImagePartSize && part.Size <= maxImagePartSize && isImageFS {
				imagePart = true
			}
			if part.Size >= minBootPartSize && part.Size <= maxBootPartSize {
				bootPart = true
			}
		}
		if !imagePart || !bootPart {
			continue
		}

		score := 2
		if disk.Removable {
			score++
		}
		candidates = append(candidates, usbCandidate{path: disk.Path, score: score})
	}

	if len(candidates) == 0 {
		return "", errNoCandidate
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].path < candidates[j].path
	})

	var tied []string
	for _, c := range candidates {
		if c.score == candidates[0].score {
			tied = append(tied, c.path)
		}
	}
	if len(tied) > 1 {
		return "", fmt.Errorf("multiple possible live USB disks found (%s), pass --disk to choose one",
			strings.Join(tied, ", "))
	}

	return candidates[0].path, nil
}
