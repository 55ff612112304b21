// Package logging persists per-run test artifacts: the raw test2json event
// stream, readable per-test logs and the run summary.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/acarl005/stripansi"

	"github.com/unitgate/unitgate/types"
)

const (
	// RawGoEventsLog is the fixed file name receiving the raw `go test -json`
	// event stream for a run.
	RawGoEventsLog = "raw_go_events.log"

	allLogsFile    = "all.log"
	failedLogsFile = "failed.log"
	summaryLogFile = "summary.log"
	runDirPrefix   = "testrun-"
)

// ResultSink consumes test results as they are produced.
type ResultSink interface {
	Consume(result *types.TestResult, runID string) error
	Complete(runID string) error
}

// FileLogger writes test run artifacts beneath <baseDir>/testrun-<runID>/.
type FileLogger struct {
	baseDir string
	runID   string
	sinks   []ResultSink

	mu      sync.Mutex
	writers map[string]*os.File
}

// NewFileLogger creates a logger rooted at baseDir for the given run.
func NewFileLogger(baseDir string, runID string) (*FileLogger, error) {
	if runID == "" {
		return nil, fmt.Errorf("run ID is required")
	}

	l := &FileLogger{
		baseDir: baseDir,
		runID:   runID,
		writers: make(map[string]*os.File),
	}

	dir := l.runDir(runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	l.sinks = []ResultSink{
		&readableLogSink{logger: l},
	}

	return l, nil
}

// RunID returns the run ID this logger was created for.
func (l *FileLogger) RunID() string {
	return l.runID
}

// BaseDir returns the root log directory.
func (l *FileLogger) BaseDir() string {
	return l.baseDir
}

func (l *FileLogger) runDir(runID string) string {
	return filepath.Join(l.baseDir, runDirPrefix+runID)
}

// DirectoryForRunID returns the artifact directory for a run.
func (l *FileLogger) DirectoryForRunID(runID string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run ID is required")
	}
	return l.runDir(runID), nil
}

// RawEventsFile returns the fixed path of the raw event stream for this run.
func (l *FileLogger) RawEventsFile() string {
	return filepath.Join(l.runDir(l.runID), RawGoEventsLog)
}

// SummaryFile returns the path of the run summary file.
func (l *FileLogger) SummaryFile() string {
	return filepath.Join(l.runDir(l.runID), summaryLogFile)
}

// AllLogsFile returns the path of the combined readable log.
func (l *FileLogger) AllLogsFile() string {
	return filepath.Join(l.runDir(l.runID), allLogsFile)
}

// FailedLogsFile returns the path of the failures-only log.
func (l *FileLogger) FailedLogsFile() string {
	return filepath.Join(l.runDir(l.runID), failedLogsFile)
}

// AppendRawEvents appends raw test2json output to the run's event stream.
func (l *FileLogger) AppendRawEvents(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w, err := l.writer(l.RawEventsFile())
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write raw events: %w", err)
	}
	return nil
}

// LogTestResult feeds one test result through every sink.
func (l *FileLogger) LogTestResult(result *types.TestResult, runID string) error {
	for _, sink := range l.sinks {
		if err := sink.Consume(result, runID); err != nil {
			return err
		}
	}
	return nil
}

// LogSummary writes the run summary file.
func (l *FileLogger) LogSummary(summary string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, err := l.writer(l.SummaryFile())
	if err != nil {
		return err
	}
	if _, err := w.WriteString(summary); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

// Complete finalizes all sinks and closes open files.
func (l *FileLogger) Complete(runID string) error {
	var firstErr error
	for _, sink := range l.sinks {
		if err := sink.Complete(runID); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for path, f := range l.writers {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing %s: %w", path, err)
		}
		delete(l.writers, path)
	}
	return firstErr
}

// writer returns an append-mode file handle, opening it on first use.
// Callers must hold l.mu.
func (l *FileLogger) writer(path string) (*os.File, error) {
	if f, ok := l.writers[path]; ok {
		return f, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	l.writers[path] = f
	return f, nil
}

// readableLogSink writes plain-text entries to all.log and mirrors failures
// into failed.log.
type readableLogSink struct {
	logger *FileLogger
}

func (s *readableLogSink) Consume(result *types.TestResult, runID string) error {
	entry := formatResultEntry(result)

	s.logger.mu.Lock()
	defer s.logger.mu.Unlock()

	w, err := s.logger.writer(s.logger.AllLogsFile())
	if err != nil {
		return err
	}
	if _, err := w.WriteString(entry); err != nil {
		return err
	}

	if result.Status == types.TestStatusFail {
		fw, err := s.logger.writer(s.logger.FailedLogsFile())
		if err != nil {
			return err
		}
		if _, err := fw.WriteString(entry); err != nil {
			return err
		}
	}
	return nil
}

func (s *readableLogSink) Complete(runID string) error {
	return nil
}

func formatResultEntry(result *types.TestResult) string {
	var b strings.Builder
	name := types.GetTestDisplayName(result.Metadata.FuncName, result.Metadata)
	fmt.Fprintf(&b, "=== %s [%s] (%.2fs)\n", name, result.Status, result.Duration.Seconds())
	if result.Error != nil {
		fmt.Fprintf(&b, "    error: %s\n", CleanLogOutput(result.Error.Error()))
	}
	if result.Status == types.TestStatusFail && result.Stdout != "" {
		fmt.Fprintf(&b, "%s\n", indentText(CleanLogOutput(result.Stdout), "    "))
	}
	return b.String()
}

var testingFileLineRe = regexp.MustCompile(`^\s+[\w./-]+\.go:\d+: `)

// CleanLogOutput strips ANSI escapes and trims trailing whitespace so that
// log files stay readable when tests emit colored output.
func CleanLogOutput(s string) string {
	s = stripansi.Strip(s)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	return strings.Join(lines, "\n")
}

// StripFileLinePrefix removes the leading "file.go:123: " marker testing
// adds to log lines.
func StripFileLinePrefix(line string) string {
	return testingFileLineRe.ReplaceAllString(line, "")
}

func indentText(text, indent string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = indent + line
		}
	}
	return strings.Join(lines, "\n")
}
