package blockdev

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/kalitools/persistence-setup/internal/log"
)

// lsblkColumns is the column set requested from lsblk. -b reports sizes in
// bytes, -J selects JSON output.
const lsblkColumns = "NAME,PATH,TYPE,SIZE,RM,RO,FSTYPE,LABEL,MOUNTPOINTS"

// LsblkInventory implements Inventory by shelling out to lsblk
type LsblkInventory struct{}

// NewLsblkInventory creates a new lsblk-backed inventory
func NewLsblkInventory() *LsblkInventory {
	return &LsblkInventory{}
}

// lsblk runs an lsblk command and returns the output
func (i *LsblkInventory) lsblk(args ...string) ([]byte, error) {
	cmd := exec.Command("lsblk", args...)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("lsblk %s: %w", strings.Join(args, " "), err)
	}
	return output, nil
}

// List returns a fresh snapshot of all block devices
func (i *LsblkInventory) List() ([]Device, error) {
	log.Debug("enumerating block devices", "backend", "lsblk")

	output, err := i.lsblk("-bJ", "-o", lsblkColumns)
	if err != nil {
		return nil, fmt.Errorf("list block devices: %w", err)
	}

	return parseLsblkOutput(output)
}

// FindByLabel returns the device with the given filesystem label
func (i *LsblkInventory) FindByLabel(label string) (*Device, error) {
	devices, err := i.List()
	if err != nil {
		return nil, err
	}
	return findByLabel(devices, label)
}

// Attributes returns the current attributes of a single device path
func (i *LsblkInventory) Attributes(path string) (*Device, error) {
	log.Debug("querying device attributes", "backend", "lsblk", "device", path)

	output, err := i.lsblk("-bJ", "-o", lsblkColumns, path)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", path, ErrDeviceUnavailable)
	}

	devices, err := parseLsblkOutput(output)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", path, err)
	}

	dev := findByPath(devices, path)
	if dev == nil {
		return nil, fmt.Errorf("query %s: %w", path, ErrDeviceUnavailable)
	}
	return dev, nil
}

// lsblkNode mirrors one entry of the lsblk JSON tree
type lsblkNode struct {
	Name        string      `json:"name"`
	Path        string      `json:"path"`
	Type        string      `json:"type"`
	Size        uint64      `json:"size"`
	Rm          boolish     `json:"rm"`
	FSType      *string     `json:"fstype"`
	Label       *string     `json:"label"`
	Mountpoints []*string   `json:"mountpoints"`
	Children    []lsblkNode `json:"children"`
}

// boolish decodes the RM column, which older lsblk versions emit as the
// strings "0"/"1" instead of JSON booleans
type boolish bool

func (b *boolish) UnmarshalJSON(data []byte) error {
	switch strings.Trim(string(data), `"`) {
	case "true", "1":
		*b = true
	default:
		*b = false
	}
	return nil
}

// parseLsblkOutput converts the lsblk JSON tree into Devices
func parseLsblkOutput(output []byte) ([]Device, error) {
	var tree struct {
		BlockDevices []lsblkNode `json:"blockdevices"`
	}
	if err := json.Unmarshal(output, &tree); err != nil {
		return nil, fmt.Errorf("parse lsblk output: %w", err)
	}

	devices := make([]Device, 0, len(tree.BlockDevices))
	for _, node := range tree.BlockDevices {
		devices = append(devices, nodeToDevice(node))
	}
	return devices, nil
}

func nodeToDevice(node lsblkNode) Device {
	dev := Device{
		Path:      node.Path,
		Type:      node.Type,
		Size:      node.Size,
		Removable: bool(node.Rm),
	}
	if dev.Path == "" {
		dev.Path = "/dev/" + node.Name
	}
	if node.FSType != nil {
		dev.FSType = *node.FSType
	}
	if node.Label != nil {
		dev.Label = *node.Label
	}
	for _, mp := range node.Mountpoints {
		if mp != nil && *mp != "" {
			dev.Mountpoints = append(dev.Mountpoints, *mp)
		}
	}
	for _, child := range node.Children {
		dev.Children = append(dev.Children, nodeToDevice(child))
	}
	return dev
}
