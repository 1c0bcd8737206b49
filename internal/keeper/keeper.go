// Package keeper implements the idempotent lifecycle of encrypted ZFS
// datasets: key loading, key unloading, mounting and unmounting. Every
// operation checks the live dataset state first and treats "already in the
// requested state" as success without invoking zfs again.
package keeper

import (
	"errors"
	"fmt"

	"github.com/kriansa/podman-volume-zfscrypt/internal/log"
	"github.com/kriansa/podman-volume-zfscrypt/internal/validation"
	"github.com/kriansa/podman-volume-zfscrypt/internal/zfs"
)

// ErrNotFound is returned when the named dataset does not exist
var ErrNotFound = errors.New("dataset not found")

// ErrKeyNotLoaded is returned when a mount is requested while the dataset's
// encryption key is not loaded
var ErrKeyNotLoaded = errors.New("key must be loaded before mount")

// Status is the current lifecycle state of one dataset
type Status struct {
	// KeyLoaded reports whether the encryption key is loaded
	KeyLoaded bool
	// Mounted reports whether the dataset is mounted
	Mounted bool
}

// Keeper orchestrates dataset lifecycle operations on top of a zfs.Manager.
// It holds no state of its own; the kernel is the single source of truth and
// every operation re-reads it. Operations on the same dataset must not run
// concurrently, since check-then-act is not atomic.
type Keeper struct {
	zfs zfs.Manager
}

// New creates a Keeper over the given ZFS manager
func New(manager zfs.Manager) *Keeper {
	return &Keeper{zfs: manager}
}

// LoadKey loads the encryption key for a dataset, feeding the passphrase
// through stdin. Loading an already-loaded key (or the key of an unencrypted
// dataset) is a no-op.
func (k *Keeper) LoadKey(dataset, passphrase string) error {
	name, err := validation.ValidateDatasetName(dataset)
	if err != nil {
		return err
	}

	state, err := k.zfs.KeyState(name)
	if err != nil {
		return err
	}

	switch state {
	case zfs.KeyAbsent:
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	case zfs.KeyLoaded:
		log.Debug("key already loaded", "dataset", name)
		return nil
	}

	if err := k.zfs.LoadKey(name, passphrase); err != nil {
		return err
	}

	log.Info("key loaded", "dataset", name)
	return nil
}

// UnloadKey unloads the encryption key for a dataset. Unloading an
// already-unloaded key is a no-op.
func (k *Keeper) UnloadKey(dataset string) error {
	name, err := validation.ValidateDatasetName(dataset)
	if err != nil {
		return err
	}

	state, err := k.zfs.KeyState(name)
	if err != nil {
		return err
	}

	switch state {
	case zfs.KeyAbsent:
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	case zfs.KeyUnloaded:
		log.Debug("key already unloaded", "dataset", name)
		return nil
	}

	if err := k.zfs.UnloadKey(name); err != nil {
		return err
	}

	log.Info("key unloaded", "dataset", name)
	return nil
}

// Mount mounts a dataset. The encryption key must be loaded first; mounting
// an already-mounted dataset is a no-op.
func (k *Keeper) Mount(dataset string) error {
	name, err := validation.ValidateDatasetName(dataset)
	if err != nil {
		return err
	}

	keyState, err := k.zfs.KeyState(name)
	if err != nil {
		return err
	}

	switch keyState {
	case zfs.KeyAbsent:
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	case zfs.KeyUnloaded:
		return fmt.Errorf("%w: %s", ErrKeyNotLoaded, name)
	}

	mountState, err := k.zfs.MountState(name)
	if err != nil {
		return err
	}

	switch mountState {
	case zfs.MountAbsent:
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	case zfs.Mounted:
		log.Debug("dataset already mounted", "dataset", name)
		return nil
	}

	if err := k.zfs.Mount(name); err != nil {
		return err
	}

	log.Info("dataset mounted", "dataset", name)
	return nil
}

// Unmount unmounts a dataset. Unmounting an already-unmounted dataset is a
// no-op.
func (k *Keeper) Unmount(dataset string) error {
	name, err := validation.ValidateDatasetName(dataset)
	if err != nil {
		return err
	}

	state, err := k.zfs.MountState(name)
	if err != nil {
		return err
	}

	switch state {
	case zfs.MountAbsent:
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	case zfs.Unmounted:
		log.Debug("dataset already unmounted", "dataset", name)
		return nil
	}

	if err := k.zfs.Unmount(name); err != nil {
		return err
	}

	log.Info("dataset unmounted", "dataset", name)
	return nil
}

// Status reports the current key and mount state of a dataset
func (k *Keeper) Status(dataset string) (*Status, error) {
	name, err := validation.ValidateDatasetName(dataset)
	if err != nil {
		return nil, err
	}

	keyState, err := k.zfs.KeyState(name)
	if err != nil {
		return nil, err
	}
	if keyState == zfs.KeyAbsent {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	mountState, err := k.zfs.MountState(name)
	if err != nil {
		return nil, err
	}
	if mountState == zfs.MountAbsent {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	return &Status{
		KeyLoaded: keyState == zfs.KeyLoaded,
		Mounted:   mountState == zfs.Mounted,
	}, nil
}
