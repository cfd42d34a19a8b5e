package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/kalitools/persistence-setup/internal/blockdev"
	"github.com/kalitools/persistence-setup/internal/config"
	"github.com/kalitools/persistence-setup/internal/disktool"
	"github.com/kalitools/persistence-setup/internal/log"
	"github.com/kalitools/persistence-setup/internal/mount"
	"github.com/kalitools/persistence-setup/internal/setup"
	"github.com/kalitools/persistence-setup/internal/version"
)

func main() {
	cmd := &cli.Command{
		Name:  "persistence-setup",
		Usage: "Provision a labeled persistence partition on a live USB drive",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "device",
				Aliases: []string{"d"},
				Usage:   "Explicit target partition (e.g. /dev/sdb3), bypasses label search",
			},
			&cli.StringFlag{
				Name:    "label",
				Aliases: []string{"l"},
				Usage:   "Filesystem label to search for and to assign",
			},
			&cli.StringFlag{
				Name:    "mount",
				Aliases: []string{"m"},
				Usage:   "Mountpoint to use when the target is not already mounted",
			},
			&cli.StringFlag{
				Name:  "disk",
				Usage: "Whole disk (e.g. /dev/sdb) to create the persistence partition on",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Configuration file path",
				Value:   config.DefaultConfigPath,
			},
			&cli.StringFlag{
				Name:    "inventory",
				Aliases: []string{"i"},
				Usage:   "Block-device inventory backend: lsblk or udisks",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging",
			},
			&cli.BoolFlag{
				Name:    "version",
				Aliases: []string{"V"},
				Usage:   "Print version information",
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	// Handle version flag
	if cmd.Bool("version") {
		fmt.Println(version.String())
		return nil
	}

	// Setup logging
	log.Setup(cmd.Bool("verbose"))

	// Load config file
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Merge CLI flags (CLI takes precedence)
	cfg.Merge(
		cmd.String("label"),
		cmd.String("mount"),
		cmd.String("inventory"),
	)

	// Apply defaults
	cfg.ApplyDefaults()

	// Validate config
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	device := cmd.String("device")
	disk := cmd.String("disk")
	if device != "" && disk != "" {
		return fmt.Errorf("--device and --disk are mutually exclusive")
	}

	log.Info("starting persistence setup",
		"label", cfg.Label,
		"mount_point", cfg.MountPoint,
		"inventory", cfg.Inventory,
	)

	// Create components
	inventory, err := blockdev.New(cfg.Inventory)
	if err != nil {
		return fmt.Errorf("create device inventory: %w", err)
	}
	if closer, ok := inventory.(interface{ Close() error }); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				log.Warn("failed to close inventory backend", "error", err)
			}
		}()
	}

	runner := setup.NewRunner(
		inventory,
		disktool.NewPartedPartitioner(),
		disktool.NewUnixFlusher(),
		mount.NewSyscallMounter(),
		cfg.MarkerName,
	)

	return runner.Run(setup.Options{
		Device:     device,
		Disk:       disk,
		Label:      cfg.Label,
		MountPoint: cfg.MountPoint,
	})
}
