package execute

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/kriansa/podman-volume-zfscrypt/internal/log"
)

// Result holds the outcome of a finished command. A nonzero ExitCode is not
// an error at this layer; callers decide what a failed command means.
type Result struct {
	// Stdout is the captured standard output
	Stdout string
	// Stderr is the captured standard error
	Stderr string
	// ExitCode is the command's exit status
	ExitCode int
}

// Success reports whether the command exited with status zero
func (r *Result) Success() bool {
	return r.ExitCode == 0
}

// Runner executes external commands. It exists so that everything above the
// process boundary can be tested with scripted output instead of a real zfs
// binary.
type Runner interface {
	// Run executes argv[0] with the remaining elements as discrete
	// arguments. If stdin is non-empty it is written to the child's
	// standard input as a single newline-terminated line. Run blocks until
	// the child exits. The returned error is non-nil only for spawn or I/O
	// failures; a command that ran and exited nonzero yields a Result and
	// a nil error.
	Run(argv []string, stdin string) (*Result, error)
}

// ExecRunner is the Runner used in production, backed by os/exec
type ExecRunner struct{}

// NewExecRunner creates a new process-spawning runner
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes the given argument vector and captures its output. Arguments
// are passed to the kernel as-is; no shell is ever involved.
func (e *ExecRunner) Run(argv []string, stdin string) (*Result, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty argument vector")
	}

	log.Debug("running command", "argv", strings.Join(argv, " "), "stdin", stdin != "")

	cmd := exec.Command(argv[0], argv[1:]...)

	// The payload is handed to os/exec as a fully-formed reader so the
	// child's stdin is written and closed independently of output
	// collection. A child that blocks reading stdin can never deadlock
	// against a parent that blocks reading stdout.
	if stdin != "" {
		if !strings.HasSuffix(stdin, "\n") {
			stdin += "\n"
		}
		cmd.Stdin = strings.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// The command ran to completion and failed; that is a
			// result, not a runner error.
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, fmt.Errorf("run %s: %w", argv[0], err)
	}

	return result, nil
}
