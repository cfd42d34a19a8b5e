package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/kalitools/persistence-setup/internal/validation"
)

const (
	// DefaultConfigPath is the default location for the config file
	DefaultConfigPath = "/etc/persistence-setup.conf"
	// DefaultLabel is the filesystem label the tool searches for and assigns
	DefaultLabel = "persistence"
	// DefaultMountPoint is where the target partition is mounted when it is
	// not already mounted elsewhere
	DefaultMountPoint = "/mnt/kali_persistence"
	// DefaultInventory is the default block-device inventory backend
	DefaultInventory = "lsblk"
	// DefaultMarkerName is the configuration file written to the root of the
	// persistence partition
	DefaultMarkerName = "persistence.conf"
)

// Config holds the tool configuration
type Config struct {
	// Label is the filesystem label used for device lookup and formatting
	Label string `toml:"label"`
	// MountPoint is the preferred mountpoint for the target partition
	MountPoint string `toml:"mount_point"`
	// Inventory selects the block-device inventory backend: "lsblk" or "udisks"
	Inventory string `toml:"inventory"`
	// MarkerName is the name of the marker file written to the partition root
	MarkerName string `toml:"marker"`
}

// Load loads configuration from a TOML file
// Returns an empty config if the file doesn't exist
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return cfg, nil
}

// Merge merges CLI flags into the config, with CLI flags taking precedence
// over config file values. Empty CLI values are ignored.
func (c *Config) Merge(label, mountPoint, inventory string) {
	if label != "" {
		c.Label = label
	}
	if mountPoint != "" {
		c.MountPoint = mountPoint
	}
	if inventory != "" {
		c.Inventory = inventory
	}
}

// ApplyDefaults applies default values for any unset fields
func (c *Config) ApplyDefaults() {
	if c.Label == "" {
		c.Label = DefaultLabel
	}
	if c.MountPoint == "" {
		c.MountPoint = DefaultMountPoint
	}
	if c.Inventory == "" {
		c.Inventory = DefaultInventory
	}
	if c.MarkerName == "" {
		c.MarkerName = DefaultMarkerName
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := validation.ValidateLabel(c.Label); err != nil {
		return fmt.Errorf("invalid label: %w", err)
	}

	if !filepath.IsAbs(c.MountPoint) {
		return fmt.Errorf("mount point must be an absolute path, got %q", c.MountPoint)
	}

	if c.Inventory != "lsblk" && c.Inventory != "udisks" {
		return fmt.Errorf("inventory must be 'lsblk' or 'udisks', got %q", c.Inventory)
	}

	if c.MarkerName == "" || filepath.Base(c.MarkerName) != c.MarkerName {
		return fmt.Errorf("marker name must be a bare filename, got %q", c.MarkerName)
	}

	return nil
}
