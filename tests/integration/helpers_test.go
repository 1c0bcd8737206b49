//go:build integration

package integration

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/kriansa/podman-volume-zfscrypt/tests/integration/driverclient"
	"github.com/stretchr/testify/require"
)

// uniqueVolumeName generates a unique volume name for a test
func uniqueVolumeName(t *testing.T) string {
	name := fmt.Sprintf("test-%s-%d", t.Name(), time.Now().UnixNano()%10000)
	// Subtest names contain slashes, which are not valid in volume names
	return strings.ReplaceAll(name, "/", "-")
}

// datasetOf returns the dataset backing a volume
func datasetOf(name string) string {
	return fmt.Sprintf("%s/%s", parentDataset, name)
}

// expectedMountPath returns the inherited mountpoint for a volume's dataset
func expectedMountPath(name string) string {
	return fmt.Sprintf("/%s/%s", parentDataset, name)
}

// provisionVolume creates an encrypted dataset for a volume, writes its key
// file, and leaves it detached (key unloaded, unmounted) the way an operator
// would hand it to the plugin. Cleanup is registered automatically.
func provisionVolume(t *testing.T, name, passphrase string) {
	t.Helper()
	cleanupVolume(t, name)

	dataset := datasetOf(name)
	createCmd := fmt.Sprintf(
		"echo '%s' | sudo zfs create -o encryption=on -o keyformat=passphrase -o keylocation=prompt %s",
		passphrase, dataset)
	output, err := testVM.Run(createCmd)
	require.NoError(t, err, "provision dataset %s: %s", dataset, output)

	writeKeyFile(t, name, passphrase)

	// zfs create leaves the dataset mounted with its key loaded
	_, err = testVM.Run(fmt.Sprintf("sudo zfs umount %s && sudo zfs unload-key %s", dataset, dataset))
	require.NoError(t, err, "detach freshly provisioned dataset %s", dataset)
}

// writeKeyFile installs the passphrase file the plugin reads on mount
func writeKeyFile(t *testing.T, name, passphrase string) {
	t.Helper()
	_, err := testVM.Run(fmt.Sprintf("echo '%s' | sudo tee %s/%s.key > /dev/null", passphrase, keyDirPath, name))
	require.NoError(t, err, "write key file for %s", name)
}

// cleanupVolume registers cleanup for a volume at test end
func cleanupVolume(t *testing.T, name string) {
	dataset := datasetOf(name)
	t.Cleanup(func() {
		_, _ = testVM.Run(fmt.Sprintf("sudo zfs umount %s 2>/dev/null || true", dataset))
		_, _ = testVM.Run(fmt.Sprintf("sudo zfs destroy -f %s 2>/dev/null || true", dataset))
		_, _ = testVM.Run(fmt.Sprintf("sudo rm -f %s/%s.key", keyDirPath, name))
	})
}

// keyStatusOf reads the keystatus property straight from zfs
func keyStatusOf(t *testing.T, name string) string {
	t.Helper()
	output, err := testVM.Run(fmt.Sprintf("sudo zfs get -H -o value keystatus %s", datasetOf(name)))
	require.NoError(t, err, "query keystatus for %s", name)
	return strings.TrimSpace(output)
}

// mountedStatusOf reads the mounted property straight from zfs
func mountedStatusOf(t *testing.T, name string) string {
	t.Helper()
	output, err := testVM.Run(fmt.Sprintf("sudo zfs get -H -o value mounted %s", datasetOf(name)))
	require.NoError(t, err, "query mounted for %s", name)
	return strings.TrimSpace(output)
}

// assertVolumeExists verifies a volume exists using Get
func assertVolumeExists(t *testing.T, name string) *driverclient.Volume {
	t.Helper()
	vol, err := testClient.Get(name)
	require.NoError(t, err, "volume %s should exist", name)
	require.NotNil(t, vol, "volume %s should not be nil", name)
	require.Equal(t, name, vol.Name, "volume name should match")
	return vol
}

// assertVolumeNotExists verifies a volume does not exist using Get
func assertVolumeNotExists(t *testing.T, name string) {
	t.Helper()
	_, err := testClient.Get(name)
	require.Error(t, err, "volume %s should not exist", name)
}

// assertVolumeInList verifies a volume appears in List
func assertVolumeInList(t *testing.T, name string) *driverclient.Volume {
	t.Helper()
	volumes, err := testClient.List()
	require.NoError(t, err, "list should succeed")

	for _, v := range volumes {
		if v.Name == name {
			return v
		}
	}
	t.Fatalf("volume %s not found in list", name)
	return nil
}

// assertVolumeNotInList verifies a volume does not appear in List
func assertVolumeNotInList(t *testing.T, name string) {
	t.Helper()
	volumes, err := testClient.List()
	require.NoError(t, err, "list should succeed")

	for _, v := range volumes {
		if v.Name == name {
			t.Fatalf("volume %s should not be in list", name)
		}
	}
}

// assertVolumeMounted verifies a volume is mounted at expected path using Get
func assertVolumeMounted(t *testing.T, name string, expectedPath string) {
	t.Helper()
	vol := assertVolumeExists(t, name)
	require.Equal(t, expectedPath, vol.Mountpoint, "volume should be mounted at %s", expectedPath)
}

// assertVolumeNotMounted verifies a volume is not mounted using Get
func assertVolumeNotMounted(t *testing.T, name string) {
	t.Helper()
	vol := assertVolumeExists(t, name)
	require.Empty(t, vol.Mountpoint, "volume should not be mounted")
}
