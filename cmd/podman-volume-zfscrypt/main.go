package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/docker/go-plugins-helpers/volume"
	"github.com/urfave/cli/v3"

	"github.com/kriansa/podman-volume-zfscrypt/internal/config"
	"github.com/kriansa/podman-volume-zfscrypt/internal/driver"
	"github.com/kriansa/podman-volume-zfscrypt/internal/execute"
	"github.com/kriansa/podman-volume-zfscrypt/internal/keeper"
	"github.com/kriansa/podman-volume-zfscrypt/internal/log"
	"github.com/kriansa/podman-volume-zfscrypt/internal/validation"
	"github.com/kriansa/podman-volume-zfscrypt/internal/version"
	"github.com/kriansa/podman-volume-zfscrypt/internal/zfs"
)

func main() {
	cmd := &cli.Command{
		Name:  "podman-volume-zfscrypt",
		Usage: "A volume plugin that serves pre-provisioned encrypted ZFS datasets",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "parent",
				Aliases: []string{"p"},
				Usage:   "ZFS dataset under which volume datasets live",
			},
			&cli.StringFlag{
				Name:    "key-dir",
				Aliases: []string{"k"},
				Usage:   "Directory with one passphrase file per volume",
				Value:   config.DefaultKeyDir,
			},
			&cli.StringFlag{
				Name:    "socket",
				Aliases: []string{"s"},
				Usage:   "Unix socket path for the plugin",
				Value:   config.DefaultSocketPath,
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Configuration file path",
				Value:   config.DefaultConfigPath,
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
		cmd.String("parent"),
		cmd.String("socket"),
		cmd.String("key-dir"),
	)

	// Apply defaults
	cfg.ApplyDefaults()

	// Validate config
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// The parent dataset name ends up in every zfs invocation
	parent, err := validation.ValidateDatasetName(cfg.Parent)
	if err != nil {
		return fmt.Errorf("invalid parent dataset: %w", err)
	}

	log.Info("starting volume plugin",
		"parent", parent,
		"key_dir", cfg.KeyDir,
		"socket", cfg.SocketPath,
		"use_sudo", *cfg.UseSudo,
	)

	// Create components
	manager := zfs.NewCLIManager(execute.NewExecRunner(), zfs.Options{
		ZFSPath:  cfg.ZFSPath,
		SudoPath: cfg.SudoPath,
		UseSudo:  *cfg.UseSudo,
	})
	k := keeper.New(manager)

	// Check the parent dataset exists
	if _, err := k.Status(parent); err != nil {
		return fmt.Errorf("check parent dataset: %w", err)
	}

	log.Debug("parent dataset verified", "parent", parent)

	// Create driver
	d := driver.NewDriver(
		parent,
		cfg.KeyDir,
		k,
		manager,
		driver.KernelResolver{},
	)

	// Create handler
	h := volume.NewHandler(d)

	// Ensure socket directory exists
	socketDir := filepath.Dir(cfg.SocketPath)
	if err := os.MkdirAll(socketDir, 0755); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}

	// Remove existing socket if present (stale from previous run)
	if err := os.Remove(cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	// Clean up socket on exit
	defer func() {
		if err := os.Remove(cfg.SocketPath); err != nil && !os.IsNotExist(err) {
			log.Warn("failed to remove socket on shutdown", "path", cfg.SocketPath, "error", err)
		}
	}()

	log.Info("listening on socket", "path", cfg.SocketPath)
	return h.ServeUnix(cfg.SocketPath, 0)
}
