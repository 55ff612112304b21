package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// WrapConfig configures exec mode: run an arbitrary test runner command,
// tee its output to a fixed file, and report its exact exit code.
type WrapConfig struct {
	Command    []string // runner binary and its fixed argument set
	Dir        string
	OutputFile string    // file receiving the runner's combined output
	Stdout     io.Writer // defaults to os.Stdout
	Stderr     io.Writer // defaults to os.Stderr
	Log        *slog.Logger
}

// WrapResult reports what the wrapped runner did.
type WrapResult struct {
	ExitCode int
	Duration time.Duration
}

// Wrap invokes the configured runner and mirrors its exit code. The returned
// error is non-nil only for spawn failures (missing binary, unwritable output
// file); a failing test run is reported through ExitCode alone.
func Wrap(ctx context.Context, cfg WrapConfig) (*WrapResult, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("no command to run")
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	stdout := cfg.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := cfg.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	cmd := exec.CommandContext(ctx, cfg.Command[0], cfg.Command[1:]...)
	cmd.Dir = cfg.Dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if cfg.OutputFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputFile), 0755); err != nil {
			return nil, fmt.Errorf("creating output directory: %w", err)
		}
		f, err := os.Create(cfg.OutputFile)
		if err != nil {
			return nil, fmt.Errorf("creating output file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		cmd.Stdout = io.MultiWriter(stdout, f)
		cmd.Stderr = io.MultiWriter(stderr, f)
	}

	log.Info("Invoking test runner", "command", cmd.String(), "output", cfg.OutputFile)

	start := time.Now()
	err := cmd.Run()
	result := &WrapResult{Duration: time.Since(start)}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			log.Warn("Test runner exited non-zero", "exit_code", result.ExitCode)
			return result, nil
		}
		return nil, fmt.Errorf("invoking %s: %w", cfg.Command[0], err)
	}

	result.ExitCode = cmd.ProcessState.ExitCode()
	return result, nil
}
