package zfs

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kriansa/podman-volume-zfscrypt/internal/execute"
)

// fakeRunner returns scripted results keyed by the joined argv and records
// every invocation
type fakeRunner struct {
	results map[string]fakeResult
	calls   [][]string
	stdins  []string
}

type fakeResult struct {
	result *execute.Result
	err    error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{results: make(map[string]fakeResult)}
}

func (f *fakeRunner) script(argv string, result *execute.Result, err error) {
	f.results[argv] = fakeResult{result: result, err: err}
}

func (f *fakeRunner) scriptStdout(argv, stdout string) {
	f.script(argv, &execute.Result{Stdout: stdout}, nil)
}

func (f *fakeRunner) Run(argv []string, stdin string) (*execute.Result, error) {
	f.calls = append(f.calls, argv)
	f.stdins = append(f.stdins, stdin)

	key := strings.Join(argv, " ")
	scripted, ok := f.results[key]
	if !ok {
		return nil, errors.New("unscripted command: " + key)
	}
	return scripted.result, scripted.err
}

func newTestManager(runner *fakeRunner) *CLIManager {
	return NewCLIManager(runner, Options{UseSudo: true})
}

const keyStatusQuery = "zfs get keystatus -H -o name,value"
const mountStatusQuery = "zfs list -H -o name,mounted"
const mountpointQuery = "zfs list -H -o name,mountpoint"
const encryptedQuery = "zfs list -H -o name,mounted,keystatus"

func TestKeyState(t *testing.T) {
	output := "tank\t-\n" +
		"tank/plain\t-\n" +
		"tank/secure\tavailable\n" +
		"tank/locked\tunavailable\n"

	tests := []struct {
		name    string
		dataset string
		want    KeyState
	}{
		{"key loaded", "tank/secure", KeyLoaded},
		{"key unloaded", "tank/locked", KeyUnloaded},
		{"unencrypted reports loaded", "tank/plain", KeyLoaded},
		{"dataset missing", "tank/nonexistent", KeyAbsent},
		{"name trimmed before lookup", " tank/secure ", KeyLoaded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := newFakeRunner()
			runner.scriptStdout(keyStatusQuery, output)

			state, err := newTestManager(runner).KeyState(tt.dataset)
			require.NoError(t, err)
			assert.Equal(t, tt.want, state)
		})
	}
}

func TestKeyStateUnexpectedToken(t *testing.T) {
	runner := newFakeRunner()
	runner.scriptStdout(keyStatusQuery, "tank/secure\tmaybe\n")

	_, err := newTestManager(runner).KeyState("tank/secure")
	require.Error(t, err)

	var tokenErr *UnexpectedTokenError
	require.ErrorAs(t, err, &tokenErr)
	assert.Equal(t, "keystatus", tokenErr.Column)
	assert.Equal(t, "maybe", tokenErr.Token)
}

func TestKeyStateCommandFailure(t *testing.T) {
	runner := newFakeRunner()
	runner.script(keyStatusQuery, &execute.Result{Stderr: "dataset pool busy\n", ExitCode: 1}, nil)

	_, err := newTestManager(runner).KeyState("tank/secure")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dataset pool busy")
}

func TestKeyStateSpawnFailure(t *testing.T) {
	runner := newFakeRunner()
	runner.script(keyStatusQuery, nil, errors.New("exec: zfs: not found"))

	_, err := newTestManager(runner).KeyState("tank/secure")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestKeyStateInvalidNameNeverSpawns(t *testing.T) {
	runner := newFakeRunner()

	_, err := newTestManager(runner).KeyState("tank/data; rm -rf /")
	require.Error(t, err)
	assert.Empty(t, runner.calls, "invalid name must not reach the runner")
}

func TestMountState(t *testing.T) {
	output := "tank\tyes\n" +
		"tank/secure\tyes\n" +
		"tank/idle\tno\n"

	tests := []struct {
		name    string
		dataset string
		want    MountState
	}{
		{"mounted", "tank/secure", Mounted},
		{"unmounted", "tank/idle", Unmounted},
		{"dataset missing", "tank/nonexistent", MountAbsent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := newFakeRunner()
			runner.scriptStdout(mountStatusQuery, output)

			state, err := newTestManager(runner).MountState(tt.dataset)
			require.NoError(t, err)
			assert.Equal(t, tt.want, state)
		})
	}
}

func TestMountStateUnexpectedToken(t *testing.T) {
	runner := newFakeRunner()
	runner.scriptStdout(mountStatusQuery, "tank/secure\tpartially\n")

	_, err := newTestManager(runner).MountState("tank/secure")

	var tokenErr *UnexpectedTokenError
	require.ErrorAs(t, err, &tokenErr)
	assert.Equal(t, "mounted", tokenErr.Column)
	assert.Equal(t, "partially", tokenErr.Token)
}

func TestMountpoints(t *testing.T) {
	runner := newFakeRunner()
	runner.scriptStdout(mountpointQuery, "tank\t/tank\n"+
		"tank/secure\t/srv/secure\n"+
		"malformed-line\n"+
		"tank/idle\tnone\n")

	points, err := newTestManager(runner).Mountpoints()
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"tank":        "/tank",
		"tank/secure": "/srv/secure",
		"tank/idle":   "none",
	}, points)
}

func TestListEncrypted(t *testing.T) {
	runner := newFakeRunner()
	runner.scriptStdout(encryptedQuery, "tank\tyes\t-\n"+
		"tank/plain\tno\t-\n"+
		"tank/secure\tyes\tavailable\n"+
		"tank/locked\tno\tunavailable\n")

	datasets, err := newTestManager(runner).ListEncrypted()
	require.NoError(t, err)

	assert.Equal(t, map[string]Dataset{
		"tank/secure": {Name: "tank/secure", Mounted: true, KeyLoaded: true},
		"tank/locked": {Name: "tank/locked", Mounted: false, KeyLoaded: false},
	}, datasets)
}

func TestListEncryptedNeverIncludesSentinelRows(t *testing.T) {
	runner := newFakeRunner()
	runner.scriptStdout(encryptedQuery, "tank/plain\tyes\t-\n")

	datasets, err := newTestManager(runner).ListEncrypted()
	require.NoError(t, err)
	assert.Empty(t, datasets)
}

func TestListEncryptedBadRowAbortsQuery(t *testing.T) {
	runner := newFakeRunner()
	runner.scriptStdout(encryptedQuery, "tank/secure\tyes\tavailable\n"+
		"tank/odd\tyes\tcorrupted\n")

	_, err := newTestManager(runner).ListEncrypted()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tank/odd")

	var tokenErr *UnexpectedTokenError
	require.ErrorAs(t, err, &tokenErr)
	assert.Equal(t, "corrupted", tokenErr.Token)
}

func TestListEncryptedDropsShortRows(t *testing.T) {
	runner := newFakeRunner()
	runner.scriptStdout(encryptedQuery, "tank/secure\tyes\n"+
		"tank/locked\tno\tunavailable\n")

	datasets, err := newTestManager(runner).ListEncrypted()
	require.NoError(t, err)
	assert.Len(t, datasets, 1)
	assert.Contains(t, datasets, "tank/locked")
}

func TestLoadKeyArgvAndStdin(t *testing.T) {
	runner := newFakeRunner()
	runner.scriptStdout("sudo -n zfs load-key tank/secure", "")

	err := newTestManager(runner).LoadKey("tank/secure", "hunter2")
	require.NoError(t, err)

	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{"sudo", "-n", "zfs", "load-key", "tank/secure"}, runner.calls[0])
	assert.Equal(t, "hunter2", runner.stdins[0])
}

func TestLoadKeyFailureCarriesStderr(t *testing.T) {
	runner := newFakeRunner()
	runner.script("sudo -n zfs load-key tank/secure",
		&execute.Result{Stderr: "Key load error: Incorrect key provided\n", ExitCode: 255}, nil)

	err := newTestManager(runner).LoadKey("tank/secure", "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Incorrect key provided")
}

func TestUnloadKeyArgv(t *testing.T) {
	runner := newFakeRunner()
	runner.scriptStdout("sudo -n zfs unload-key tank/secure", "")

	err := newTestManager(runner).UnloadKey("tank/secure")
	require.NoError(t, err)

	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{"sudo", "-n", "zfs", "unload-key", "tank/secure"}, runner.calls[0])
	assert.Empty(t, runner.stdins[0])
}

func TestMountAndUnmountArgv(t *testing.T) {
	runner := newFakeRunner()
	runner.scriptStdout("sudo -n zfs mount tank/secure", "")
	runner.scriptStdout("sudo -n zfs umount tank/secure", "")

	m := newTestManager(runner)
	require.NoError(t, m.Mount("tank/secure"))
	require.NoError(t, m.Unmount("tank/secure"))

	require.Len(t, runner.calls, 2)
	assert.Equal(t, []string{"sudo", "-n", "zfs", "mount", "tank/secure"}, runner.calls[0])
	assert.Equal(t, []string{"sudo", "-n", "zfs", "umount", "tank/secure"}, runner.calls[1])
}

func TestActionsWithoutSudo(t *testing.T) {
	runner := newFakeRunner()
	runner.scriptStdout("zfs mount tank/secure", "")

	m := NewCLIManager(runner, Options{UseSudo: false})
	require.NoError(t, m.Mount("tank/secure"))

	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{"zfs", "mount", "tank/secure"}, runner.calls[0])
}

func TestCustomBinaryPaths(t *testing.T) {
	runner := newFakeRunner()
	runner.scriptStdout("/usr/bin/sudo -n /sbin/zfs load-key tank/secure", "")

	m := NewCLIManager(runner, Options{
		ZFSPath:  "/sbin/zfs",
		SudoPath: "/usr/bin/sudo",
		UseSudo:  true,
	})
	require.NoError(t, m.LoadKey("tank/secure", "pw"))
}

func TestActionInvalidNameNeverSpawns(t *testing.T) {
	runner := newFakeRunner()
	m := newTestManager(runner)

	require.Error(t, m.LoadKey("tank/$(reboot)", "pw"))
	require.Error(t, m.UnloadKey("tank/a b"))
	require.Error(t, m.Mount("tank//double"))
	require.Error(t, m.Unmount(""))

	assert.Empty(t, runner.calls)
}
