package driver

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/docker/go-plugins-helpers/volume"

	"github.com/kriansa/podman-volume-zfscrypt/internal/keeper"
	"github.com/kriansa/podman-volume-zfscrypt/internal/log"
	"github.com/kriansa/podman-volume-zfscrypt/internal/procmounts"
	"github.com/kriansa/podman-volume-zfscrypt/internal/validation"
	"github.com/kriansa/podman-volume-zfscrypt/internal/zfs"
)

// MountpointResolver reports the kernel-visible mountpoint of a dataset.
// It exists so the driver can be tested without a real /proc/mounts.
type MountpointResolver interface {
	// MountpointOf returns the mountpoint of a dataset, or "" when the
	// kernel does not have it mounted
	MountpointOf(dataset string) (string, error)
}

// KernelResolver resolves mountpoints from /proc/mounts
type KernelResolver struct{}

// MountpointOf returns the kernel mountpoint of a dataset
func (KernelResolver) MountpointOf(dataset string) (string, error) {
	return procmounts.MountpointOf(dataset)
}

// Driver implements the Docker volume plugin interface over encrypted ZFS
// datasets. Volumes are pre-provisioned datasets directly under the parent
// dataset; the driver never creates or destroys data, it only loads keys and
// mounts.
type Driver struct {
	mu       sync.Mutex
	parent   string
	keyDir   string
	keeper   *keeper.Keeper
	zfs      zfs.Manager
	resolver MountpointResolver
}

// NewDriver creates a new volume driver
func NewDriver(parent, keyDir string, k *keeper.Keeper, manager zfs.Manager, resolver MountpointResolver) *Driver {
	return &Driver{
		parent:   parent,
		keyDir:   keyDir,
		keeper:   k,
		zfs:      manager,
		resolver: resolver,
	}
}

// Create adopts an existing encrypted dataset as a volume. This driver is
// adopt-only: datasets are provisioned out of band and Create only verifies
// that the named dataset exists and is encrypted.
func (d *Driver) Create(req *volume.CreateRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	log.Debug("creating volume", "name", req.Name, "options", req.Options)

	if err := validation.ValidateVolumeName(req.Name); err != nil {
		return err
	}

	dataset := d.datasetName(req.Name)

	encrypted, err := d.zfs.ListEncrypted()
	if err != nil {
		return fmt.Errorf("list encrypted datasets: %w", err)
	}

	if _, ok := encrypted[dataset]; !ok {
		return fmt.Errorf("no encrypted dataset %s exists; provision it first (this driver does not create datasets)", dataset)
	}

	log.Info("volume adopted", "name", req.Name, "dataset", dataset)
	return nil
}

// Remove detaches a volume: the dataset is unmounted and its key unloaded.
// The dataset and its data are left untouched.
func (d *Driver) Remove(req *volume.RemoveRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	log.Debug("removing volume", "name", req.Name)

	if err := validation.ValidateVolumeName(req.Name); err != nil {
		return err
	}

	dataset := d.datasetName(req.Name)

	encrypted, err := d.zfs.ListEncrypted()
	if err != nil {
		return fmt.Errorf("list encrypted datasets: %w", err)
	}
	if _, ok := encrypted[dataset]; !ok {
		return fmt.Errorf("volume %s not found", req.Name)
	}

	if err := d.keeper.Unmount(dataset); err != nil {
		return fmt.Errorf("unmount: %w", err)
	}

	if err := d.keeper.UnloadKey(dataset); err != nil {
		return fmt.Errorf("unload key: %w", err)
	}

	log.Info("volume detached", "name", req.Name, "dataset", dataset)
	return nil
}

// Mount loads the dataset's key if needed and mounts it
func (d *Driver) Mount(req *volume.MountRequest) (*volume.MountResponse, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	log.Debug("mounting volume", "name", req.Name, "id", req.ID)

	if err := validation.ValidateVolumeName(req.Name); err != nil {
		return nil, err
	}

	dataset := d.datasetName(req.Name)

	status, err := d.keeper.Status(dataset)
	if err != nil {
		if errors.Is(err, keeper.ErrNotFound) {
			return nil, fmt.Errorf("volume %s not found", req.Name)
		}
		return nil, fmt.Errorf("query volume state: %w", err)
	}

	if !status.KeyLoaded {
		passphrase, err := d.readPassphrase(req.Name)
		if err != nil {
			return nil, err
		}
		if err := d.keeper.LoadKey(dataset, passphrase); err != nil {
			return nil, fmt.Errorf("load key: %w", err)
		}
	}

	if err := d.keeper.Mount(dataset); err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}

	mountpoint, err := d.mountpoint(dataset)
	if err != nil {
		return nil, err
	}

	log.Info("volume mounted", "name", req.Name, "dataset", dataset, "path", mountpoint)
	return &volume.MountResponse{Mountpoint: mountpoint}, nil
}

// Unmount unmounts a volume. The key stays loaded until Remove.
func (d *Driver) Unmount(req *volume.UnmountRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	log.Debug("unmounting volume", "name", req.Name, "id", req.ID)

	if err := validation.ValidateVolumeName(req.Name); err != nil {
		return err
	}

	dataset := d.datasetName(req.Name)

	if err := d.keeper.Unmount(dataset); err != nil {
		if errors.Is(err, keeper.ErrNotFound) {
			return fmt.Errorf("volume %s not found", req.Name)
		}
		return fmt.Errorf("unmount: %w", err)
	}

	log.Info("volume unmounted", "name", req.Name, "dataset", dataset)
	return nil
}

// Path returns the mount path for a volume
func (d *Driver) Path(req *volume.PathRequest) (*volume.PathResponse, error) {
	log.Debug("getting path", "name", req.Name)

	if err := validation.ValidateVolumeName(req.Name); err != nil {
		return nil, err
	}

	dataset := d.datasetName(req.Name)

	status, err := d.keeper.Status(dataset)
	if err != nil {
		if errors.Is(err, keeper.ErrNotFound) {
			return nil, fmt.Errorf("volume %s not found", req.Name)
		}
		return nil, fmt.Errorf("query volume state: %w", err)
	}

	if !status.Mounted {
		return nil, fmt.Errorf("volume %s is not mounted", req.Name)
	}

	mountpoint, err := d.mountpoint(dataset)
	if err != nil {
		return nil, err
	}

	return &volume.PathResponse{Mountpoint: mountpoint}, nil
}

// Get returns information about a volume
func (d *Driver) Get(req *volume.GetRequest) (*volume.GetResponse, error) {
	log.Debug("getting volume info", "name", req.Name)

	if err := validation.ValidateVolumeName(req.Name); err != nil {
		return nil, err
	}

	dataset := d.datasetName(req.Name)

	encrypted, err := d.zfs.ListEncrypted()
	if err != nil {
		return nil, fmt.Errorf("list encrypted datasets: %w", err)
	}

	ds, ok := encrypted[dataset]
	if !ok {
		return nil, fmt.Errorf("volume %s not found", req.Name)
	}

	var mountpoint string
	if ds.Mounted {
		if mountpoint, err = d.mountpoint(dataset); err != nil {
			// Non-fatal; report the volume without a path
			log.Warn("failed to resolve mountpoint", "dataset", dataset, "error", err)
			mountpoint = ""
		}
	}

	return &volume.GetResponse{
		Volume: &volume.Volume{
			Name:       req.Name,
			Mountpoint: mountpoint,
			Status: map[string]any{
				"dataset":   dataset,
				"keyLoaded": ds.KeyLoaded,
				"mounted":   ds.Mounted,
			},
		},
	}, nil
}

// List returns all volumes, i.e. every encrypted dataset directly under the
// parent dataset
func (d *Driver) List() (*volume.ListResponse, error) {
	log.Debug("listing volumes")

	encrypted, err := d.zfs.ListEncrypted()
	if err != nil {
		return nil, fmt.Errorf("list encrypted datasets: %w", err)
	}

	mountpoints, err := d.zfs.Mountpoints()
	if err != nil {
		return nil, fmt.Errorf("list mountpoints: %w", err)
	}

	prefix := d.parent + "/"
	var names []string
	for dataset := range encrypted {
		name, ok := strings.CutPrefix(dataset, prefix)
		if !ok || strings.Contains(name, "/") {
			// Not ours, or nested deeper than one level
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var volumes []*volume.Volume
	for _, name := range names {
		dataset := d.datasetName(name)

		var mountpoint string
		if encrypted[dataset].Mounted {
			mountpoint = mountpoints[dataset]
		}

		volumes = append(volumes, &volume.Volume{
			Name:       name,
			Mountpoint: mountpoint,
		})
	}

	return &volume.ListResponse{Volumes: volumes}, nil
}

// Capabilities returns the driver capabilities
func (d *Driver) Capabilities() *volume.CapabilitiesResponse {
	return &volume.CapabilitiesResponse{
		Capabilities: volume.Capability{
			Scope: "local",
		},
	}
}

// datasetName returns the dataset backing a volume
func (d *Driver) datasetName(name string) string {
	return d.parent + "/" + name
}

// readPassphrase reads the passphrase for a volume from its key file. Only
// the first line counts; a trailing newline is not part of the passphrase.
func (d *Driver) readPassphrase(name string) (string, error) {
	path := filepath.Join(d.keyDir, name+".key")

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read key file %s: %w", path, err)
	}

	passphrase, _, _ := strings.Cut(string(data), "\n")
	passphrase = strings.TrimSuffix(passphrase, "\r")
	if passphrase == "" {
		return "", fmt.Errorf("key file %s is empty", path)
	}

	return passphrase, nil
}

// mountpoint resolves where a dataset is mounted. The zfs property table is
// authoritative for where the dataset should be; the kernel view catches a
// dataset that ended up somewhere else (legacy mounts, manual intervention).
func (d *Driver) mountpoint(dataset string) (string, error) {
	mountpoints, err := d.zfs.Mountpoints()
	if err != nil {
		return "", fmt.Errorf("list mountpoints: %w", err)
	}

	expected, ok := mountpoints[dataset]
	if !ok {
		return "", fmt.Errorf("dataset %s has no mountpoint", dataset)
	}

	kernel, err := d.resolver.MountpointOf(dataset)
	if err != nil {
		log.Warn("failed to read kernel mount table", "error", err)
		return expected, nil
	}

	if kernel != "" && kernel != expected {
		return "", fmt.Errorf("dataset %s is mounted at %s instead of expected %s", dataset, kernel, expected)
	}

	return expected, nil
}
