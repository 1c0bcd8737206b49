package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

const (
	// DefaultConfigPath is the default location for the config file
	DefaultConfigPath = "/etc/containers/plugin-volume-zfscrypt.conf"
	// DefaultSocketPath is the default Unix socket path for Podman
	DefaultSocketPath = "/run/podman/plugins/volume-zfscrypt.sock"
	// DefaultKeyDir is the default directory holding per-volume passphrase files
	DefaultKeyDir = "/etc/containers/zfscrypt-keys"
	// DefaultZFSPath is the default zfs binary
	DefaultZFSPath = "zfs"
	// DefaultSudoPath is the default sudo binary
	DefaultSudoPath = "sudo"
)

// Config holds the plugin configuration
type Config struct {
	// Parent is the ZFS dataset under which volume datasets live,
	// e.g. "tank/volumes"
	Parent string `toml:"parent"`
	// SocketPath is the Unix socket path for the plugin
	SocketPath string `toml:"socket"`
	// KeyDir is the directory holding one passphrase file per volume,
	// named "<volume>.key"
	KeyDir string `toml:"key_dir"`
	// ZFSPath is the zfs binary to invoke
	ZFSPath string `toml:"zfs_path"`
	// SudoPath is the sudo binary to invoke for privileged commands
	SudoPath string `toml:"sudo_path"`
	// UseSudo wraps privileged zfs commands in "sudo -n". Disable when
	// the plugin itself runs as root.
	UseSudo *bool `toml:"use_sudo"`
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
func (c *Config) Merge(parent, socketPath, keyDir string) {
	if parent != "" {
		c.Parent = parent
	}
	if socketPath != "" {
		c.SocketPath = socketPath
	}
	if keyDir != "" {
		c.KeyDir = keyDir
	}
}

// ApplyDefaults applies default values for any unset fields
func (c *Config) ApplyDefaults() {
	if c.SocketPath == "" {
		c.SocketPath = DefaultSocketPath
	}
	if c.KeyDir == "" {
		c.KeyDir = DefaultKeyDir
	}
	if c.ZFSPath == "" {
		c.ZFSPath = DefaultZFSPath
	}
	if c.SudoPath == "" {
		c.SudoPath = DefaultSudoPath
	}
	if c.UseSudo == nil {
		// Elevation is needed unless we are already root
		useSudo := os.Geteuid() != 0
		c.UseSudo = &useSudo
	}
}

// Validate validates the configuration
// Note: parent dataset existence is validated at runtime against zfs
func (c *Config) Validate() error {
	if c.Parent == "" {
		return fmt.Errorf("parent dataset is required (use --parent or set 'parent' in config file)")
	}

	return nil
}
