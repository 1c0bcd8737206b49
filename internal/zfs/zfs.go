package zfs

import "fmt"

// KeyState is the result of a key status query for a single dataset
type KeyState int

const (
	// KeyAbsent means the dataset does not exist
	KeyAbsent KeyState = iota
	// KeyLoaded means the encryption key is loaded, or the dataset is not
	// encrypted and therefore needs no key
	KeyLoaded
	// KeyUnloaded means the dataset is encrypted and its key is not loaded
	KeyUnloaded
)

// MountState is the result of a mount status query for a single dataset
type MountState int

const (
	// MountAbsent means the dataset does not exist
	MountAbsent MountState = iota
	// Mounted means the dataset is currently mounted
	Mounted
	// Unmounted means the dataset exists but is not mounted
	Unmounted
)

// Dataset is one row of the encrypted dataset listing
type Dataset struct {
	// Name is the full dataset name, e.g. "tank/volumes/data"
	Name string
	// Mounted reports whether the dataset is currently mounted
	Mounted bool
	// KeyLoaded reports whether the encryption key is currently loaded
	KeyLoaded bool
}

// UnexpectedTokenError is returned when zfs reports a status value outside
// the known vocabulary for a column. It is never guessed around: an unknown
// token means our understanding of the tool's output is wrong.
type UnexpectedTokenError struct {
	// Column is the zfs property the token was read from
	Column string
	// Token is the offending value
	Token string
}

func (e *UnexpectedTokenError) Error() string {
	return fmt.Sprintf("unexpected %s value %q", e.Column, e.Token)
}

// Manager defines the operations this plugin needs from ZFS. State queries
// are fresh reads on every call; the authoritative state lives in the kernel,
// not in this process.
type Manager interface {
	// KeyState reports the key status for a dataset. Unencrypted datasets
	// report KeyLoaded, since no key is needed for them.
	KeyState(dataset string) (KeyState, error)

	// MountState reports whether a dataset is mounted
	MountState(dataset string) (MountState, error)

	// Mountpoints returns the mountpoint of every dataset, keyed by
	// dataset name, regardless of encryption
	Mountpoints() (map[string]string, error)

	// ListEncrypted returns every encrypted dataset with its mount and key
	// status, keyed by dataset name. Unencrypted datasets are excluded.
	ListEncrypted() (map[string]Dataset, error)

	// LoadKey loads the encryption key for a dataset, feeding the
	// passphrase through stdin. It does not check current state first.
	LoadKey(dataset, passphrase string) error

	// UnloadKey unloads the encryption key for a dataset
	UnloadKey(dataset string) error

	// Mount mounts a dataset
	Mount(dataset string) error

	// Unmount unmounts a dataset
	Unmount(dataset string) error
}
