package runner

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// CommandSpec describes one invocation of the test binary.
type CommandSpec struct {
	Name string
	Args []string
	Dir  string
	Env  []string // nil means inherit the parent environment
}

// CommandResult holds the captured output and exit code of an invocation.
type CommandResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Execer runs test commands. The default implementation shells out on the
// host; the sandbox package provides a container-backed one.
type Execer interface {
	Run(ctx context.Context, spec CommandSpec) (*CommandResult, error)
}

// localExecer runs commands directly on the host.
type localExecer struct{}

// NewLocalExecer returns an Execer that runs commands on the host.
func NewLocalExecer() Execer {
	return &localExecer{}
}

// Run executes the command and captures its output. A non-zero exit from the
// command is not an error; only spawn failures are.
func (e *localExecer) Run(ctx context.Context, spec CommandSpec) (*CommandResult, error) {
	cmd := exec.CommandContext(ctx, spec.Name, spec.Args...)
	cmd.Dir = spec.Dir
	if spec.Env != nil {
		cmd.Env = spec.Env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &CommandResult{
		Stdout: stdout.Bytes(),
		Stderr: stderr.Bytes(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, err
	}

	result.ExitCode = cmd.ProcessState.ExitCode()
	return result, nil
}
