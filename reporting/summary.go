package reporting

import (
	"fmt"
	"log/slog"
	"os"
)

// FailureFlagVar is the variable exported to the CI environment file when a
// run fails.
const FailureFlagVar = "UNITGATE_TESTS_FAILED"

const (
	passStatusLine = "✅ Unit tests passed"
	failStatusLine = "❌ Unit tests failed (exit code %d)"
)

// StatusLine returns the step-summary line for an exit code.
func StatusLine(exitCode int) string {
	if exitCode == 0 {
		return passStatusLine
	}
	return fmt.Sprintf(failStatusLine, exitCode)
}

// StepSummary publishes the per-run CI artifacts: exactly one status line
// appended to the step-summary file, and the failure-flag variable appended
// to the environment file iff the run failed. Either path may be empty, in
// which case that channel is skipped.
type StepSummary struct {
	SummaryPath string
	EnvPath     string
	Log         *slog.Logger
}

// Publish records the outcome of a run. It is called exactly once per run.
func (s *StepSummary) Publish(exitCode int) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}

	if s.SummaryPath != "" {
		line := StatusLine(exitCode) + "\n"
		if err := appendToFile(s.SummaryPath, line); err != nil {
			return fmt.Errorf("writing step summary: %w", err)
		}
		log.Debug("Wrote step summary line", "path", s.SummaryPath, "exit_code", exitCode)
	}

	if exitCode != 0 && s.EnvPath != "" {
		entry := fmt.Sprintf("%s=true\n", FailureFlagVar)
		if err := appendToFile(s.EnvPath, entry); err != nil {
			return fmt.Errorf("writing env file: %w", err)
		}
		log.Debug("Exported failure flag", "path", s.EnvPath, "var", FailureFlagVar)
	}

	return nil
}

func appendToFile(path, content string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()
	_, err = f.WriteString(content)
	return err
}
