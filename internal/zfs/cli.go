package zfs

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/kriansa/podman-volume-zfscrypt/internal/execute"
	"github.com/kriansa/podman-volume-zfscrypt/internal/log"
	"github.com/kriansa/podman-volume-zfscrypt/internal/validation"
)

// Options configures how the zfs binary is invoked
type Options struct {
	// ZFSPath is the zfs binary, "zfs" by default
	ZFSPath string
	// SudoPath is the sudo binary, "sudo" by default
	SudoPath string
	// UseSudo wraps privileged invocations in "sudo -n". Queries never
	// need elevation. The four lifecycle verbs must be pre-authorized in
	// sudoers, since -n forbids prompting.
	UseSudo bool
}

// CLIManager implements Manager by driving the zfs command-line tool
type CLIManager struct {
	runner   execute.Runner
	zfsPath  string
	sudoPath string
	useSudo  bool
}

// NewCLIManager creates a Manager backed by the zfs CLI
func NewCLIManager(runner execute.Runner, opts Options) *CLIManager {
	if opts.ZFSPath == "" {
		opts.ZFSPath = "zfs"
	}
	if opts.SudoPath == "" {
		opts.SudoPath = "sudo"
	}

	return &CLIManager{
		runner:   runner,
		zfsPath:  opts.ZFSPath,
		sudoPath: opts.SudoPath,
		useSudo:  opts.UseSudo,
	}
}

// KeyState reports the key status for a dataset
func (m *CLIManager) KeyState(dataset string) (KeyState, error) {
	name, err := validation.ValidateDatasetName(dataset)
	if err != nil {
		return KeyAbsent, err
	}

	log.Debug("querying key status", "dataset", name)

	// zfs get keystatus -H -o name,value: one dataset per line, no header
	result, err := m.runner.Run([]string{m.zfsPath, "get", "keystatus", "-H", "-o", "name,value"}, "")
	if err != nil {
		return KeyAbsent, fmt.Errorf("query key status: %w", err)
	}
	if !result.Success() {
		return KeyAbsent, fmt.Errorf("query key status: %s", diagnostic(result))
	}

	token, ok := parseTable(result.Stdout)[name]
	if !ok {
		return KeyAbsent, nil
	}

	switch token {
	case "available", "-":
		// "-" means keystatus does not apply (unencrypted dataset);
		// treat it as loaded so callers never wait on a key that does
		// not exist
		return KeyLoaded, nil
	case "unavailable":
		return KeyUnloaded, nil
	default:
		return KeyAbsent, &UnexpectedTokenError{Column: "keystatus", Token: token}
	}
}

// MountState reports whether a dataset is mounted
func (m *CLIManager) MountState(dataset string) (MountState, error) {
	name, err := validation.ValidateDatasetName(dataset)
	if err != nil {
		return MountAbsent, err
	}

	log.Debug("querying mount status", "dataset", name)

	result, err := m.runner.Run([]string{m.zfsPath, "list", "-H", "-o", "name,mounted"}, "")
	if err != nil {
		return MountAbsent, fmt.Errorf("query mount status: %w", err)
	}
	if !result.Success() {
		return MountAbsent, fmt.Errorf("query mount status: %s", diagnostic(result))
	}

	token, ok := parseTable(result.Stdout)[name]
	if !ok {
		return MountAbsent, nil
	}

	mounted, err := parseMountedToken(token)
	if err != nil {
		return MountAbsent, err
	}
	if mounted {
		return Mounted, nil
	}
	return Unmounted, nil
}

// Mountpoints returns the mountpoint of every dataset
func (m *CLIManager) Mountpoints() (map[string]string, error) {
	log.Debug("listing mountpoints")

	result, err := m.runner.Run([]string{m.zfsPath, "list", "-H", "-o", "name,mountpoint"}, "")
	if err != nil {
		return nil, fmt.Errorf("list mountpoints: %w", err)
	}
	if !result.Success() {
		return nil, fmt.Errorf("list mountpoints: %s", diagnostic(result))
	}

	return parseTable(result.Stdout), nil
}

// ListEncrypted returns every encrypted dataset with its mount and key status
func (m *CLIManager) ListEncrypted() (map[string]Dataset, error) {
	log.Debug("listing encrypted datasets")

	result, err := m.runner.Run([]string{m.zfsPath, "list", "-H", "-o", "name,mounted,keystatus"}, "")
	if err != nil {
		return nil, fmt.Errorf("list encrypted datasets: %w", err)
	}
	if !result.Success() {
		return nil, fmt.Errorf("list encrypted datasets: %s", diagnostic(result))
	}

	datasets := make(map[string]Dataset)
	scanner := bufio.NewScanner(strings.NewReader(result.Stdout))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}

		// A "-" keystatus marks an unencrypted dataset; this listing
		// covers encrypted datasets only
		if fields[2] == "-" {
			continue
		}

		mounted, err := parseMountedToken(fields[1])
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", fields[0], err)
		}
		keyLoaded, err := parseKeyToken(fields[2])
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", fields[0], err)
		}

		datasets[fields[0]] = Dataset{
			Name:      fields[0],
			Mounted:   mounted,
			KeyLoaded: keyLoaded,
		}
	}

	return datasets, nil
}

// LoadKey loads the encryption key for a dataset
func (m *CLIManager) LoadKey(dataset, passphrase string) error {
	name, err := validation.ValidateDatasetName(dataset)
	if err != nil {
		return err
	}

	log.Debug("loading key", "dataset", name)

	result, err := m.runner.Run(m.privileged("load-key", name), passphrase)
	if err != nil {
		return fmt.Errorf("load-key %s: %w", name, err)
	}
	if !result.Success() {
		return fmt.Errorf("load-key %s: %s", name, diagnostic(result))
	}

	return nil
}

// UnloadKey unloads the encryption key for a dataset
func (m *CLIManager) UnloadKey(dataset string) error {
	name, err := validation.ValidateDatasetName(dataset)
	if err != nil {
		return err
	}

	log.Debug("unloading key", "dataset", name)

	result, err := m.runner.Run(m.privileged("unload-key", name), "")
	if err != nil {
		return fmt.Errorf("unload-key %s: %w", name, err)
	}
	if !result.Success() {
		return fmt.Errorf("unload-key %s: %s", name, diagnostic(result))
	}

	return nil
}

// Mount mounts a dataset
func (m *CLIManager) Mount(dataset string) error {
	name, err := validation.ValidateDatasetName(dataset)
	if err != nil {
		return err
	}

	log.Debug("mounting dataset", "dataset", name)

	result, err := m.runner.Run(m.privileged("mount", name), "")
	if err != nil {
		return fmt.Errorf("mount %s: %w", name, err)
	}
	if !result.Success() {
		return fmt.Errorf("mount %s: %s", name, diagnostic(result))
	}

	return nil
}

// Unmount unmounts a dataset
func (m *CLIManager) Unmount(dataset string) error {
	name, err := validation.ValidateDatasetName(dataset)
	if err != nil {
		return err
	}

	log.Debug("unmounting dataset", "dataset", name)

	result, err := m.runner.Run(m.privileged("umount", name), "")
	if err != nil {
		return fmt.Errorf("unmount %s: %w", name, err)
	}
	if !result.Success() {
		return fmt.Errorf("unmount %s: %s", name, diagnostic(result))
	}

	return nil
}

// privileged builds the argv for a state-changing zfs verb. The dataset name
// has been validated by the caller; it is always a single discrete argument.
func (m *CLIManager) privileged(verb, dataset string) []string {
	if m.useSudo {
		return []string{m.sudoPath, "-n", m.zfsPath, verb, dataset}
	}
	return []string{m.zfsPath, verb, dataset}
}

// parseTable parses two-column "-H" output into a name-to-value map. Lines
// with fewer than two fields are dropped.
func parseTable(output string) map[string]string {
	table := make(map[string]string)

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		table[fields[0]] = fields[1]
	}

	return table
}

// parseMountedToken maps a "mounted" column value to a boolean
func parseMountedToken(token string) (bool, error) {
	switch strings.TrimSpace(token) {
	case "yes":
		return true, nil
	case "no":
		return false, nil
	default:
		return false, &UnexpectedTokenError{Column: "mounted", Token: token}
	}
}

// parseKeyToken maps a "keystatus" column value to a boolean. The "-"
// sentinel is not accepted here; callers filter or map it according to
// whether their view includes unencrypted datasets.
func parseKeyToken(token string) (bool, error) {
	switch strings.TrimSpace(token) {
	case "available":
		return true, nil
	case "unavailable":
		return false, nil
	default:
		return false, &UnexpectedTokenError{Column: "keystatus", Token: token}
	}
}

// diagnostic extracts the most useful failure text from a finished command
func diagnostic(result *execute.Result) string {
	if msg := strings.TrimSpace(result.Stderr); msg != "" {
		return msg
	}
	return fmt.Sprintf("exit status %d", result.ExitCode)
}
