// Package unitgate wires the suite registry, test runner, reporting and
// persistence into the service that CI invokes.
package unitgate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/unitgate/unitgate/exitcodes"
	"github.com/unitgate/unitgate/history"
	"github.com/unitgate/unitgate/logging"
	"github.com/unitgate/unitgate/metrics"
	"github.com/unitgate/unitgate/registry"
	"github.com/unitgate/unitgate/reporting"
	"github.com/unitgate/unitgate/runner"
	"github.com/unitgate/unitgate/sandbox"
	"github.com/unitgate/unitgate/types"
)

// unitgate runs the configured test gates and publishes the results.
type unitgate struct {
	ctx       context.Context
	config    *Config
	version   string
	registry  *registry.Registry
	execer    runner.Execer
	execerCl  io.Closer
	history   *history.Store
	scheduler TestScheduler
	result    *runner.RunnerResult

	shutdownCallback func(error) // Callback to signal application shutdown
}

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*unitgate, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}

	config.Log.Debug("Creating unitgate with config",
		"testDir", config.TestDir,
		"suiteConfig", config.SuiteConfig,
		"runInterval", config.RunInterval,
		"runOnce", config.RunOnce,
		"allowSkips", config.AllowSkips)

	reg, err := registry.NewRegistry(registry.Config{
		Log:             config.Log,
		SuiteConfigFile: config.SuiteConfig,
		DefaultTimeout:  config.DefaultTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}

	var execer runner.Execer
	var execerCl io.Closer
	if config.ContainerImage != "" {
		engine, err := sandbox.NewEngine(sandbox.Config{
			Image: config.ContainerImage,
			Log:   config.Log,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create container engine: %w", err)
		}
		execer = engine
		execerCl = engine
	} else {
		execer = runner.NewLocalExecer()
	}

	var store *history.Store
	if config.HistoryDB != "" {
		store, err = history.Open(config.HistoryDB)
		if err != nil {
			return nil, fmt.Errorf("failed to open history database: %w", err)
		}
	}

	u := &unitgate{
		ctx:              ctx,
		config:           config,
		version:          version,
		registry:         reg,
		execer:           execer,
		execerCl:         execerCl,
		history:          store,
		shutdownCallback: shutdownCallback,
	}
	u.scheduler = NewDefaultTestScheduler(config.RunInterval, config.RunOnce, config.Log)
	u.scheduler.RegisterCallback(u.runTests)

	config.Log.Info("unitgate.New: created registry and execution backend")
	return u, nil
}

// Start runs the tests, then either exits (run-once) or keeps running them at
// the configured interval.
func (u *unitgate) Start(ctx context.Context) error {
	// Panic recovery so runtime errors still exit with code 2
	defer func() {
		if r := recover(); r != nil {
			u.config.Log.Error("Runtime error occurred", "error", r)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	u.ctx = ctx

	if u.config.RunOnce {
		u.config.Log.Info("Starting unitgate in run-once mode")
	} else {
		u.config.Log.Info("Starting unitgate in continuous mode", "interval", u.config.RunInterval)
	}

	if err := u.scheduler.Start(ctx); err != nil {
		u.config.Log.Error("Runtime error running tests", "error", err)
		return NewRuntimeError(err)
	}

	if u.config.RunOnce {
		u.config.Log.Info("Tests completed, exiting (run-once mode)")

		if u.result != nil && u.result.Status == types.TestStatusFail {
			u.config.Log.Warn("Run-once test run completed with failures, returning exit code 1")
			return NewTestFailureError(u.result.String())
		}

		// Only needed in run-once mode when all tests passed
		go func() {
			u.shutdownCallback(nil)
		}()
		return nil
	}

	u.config.Log.Debug("unitgate started successfully")
	return nil
}

// runTests runs all tests once and processes the results.
func (u *unitgate) runTests() error {
	u.config.Log.Info("Running all tests...")

	runID := uuid.New().String()
	fileLogger, err := logging.NewFileLogger(u.config.LogDir, runID)
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}

	testRunner, err := runner.NewTestRunner(runner.Config{
		Registry:    u.registry,
		TargetGate:  u.config.TargetGate,
		WorkDir:     u.config.TestDir,
		Log:         u.config.Log,
		GoBinary:    u.config.GoBinary,
		AllowSkips:  u.config.AllowSkips,
		Serial:      u.config.Serial,
		Concurrency: u.config.Concurrency,
		FileLogger:  fileLogger,
		Execer:      u.execer,
	})
	if err != nil {
		return fmt.Errorf("failed to create test runner: %w", err)
	}

	start := time.Now()
	result, err := testRunner.RunAllTests(u.ctx)
	if err != nil {
		u.config.Log.Error("Runtime error running tests", "error", err)
		u.publishOutcome(exitcodes.RuntimeErr)
		return err
	}
	u.result = result

	fmt.Println(reporting.RenderResultsTable(result))
	fmt.Println(result.String())

	if withLogger, ok := testRunner.(runner.TestRunnerWithFileLogger); ok {
		withLogger.LogResults(result)
	}
	if err := fileLogger.LogSummary(result.String()); err != nil {
		u.config.Log.Error("Failed to log summary", "error", err)
	}
	if err := fileLogger.Complete(runID); err != nil {
		u.config.Log.Error("Failed to complete file logger", "error", err)
	}

	exitCode := exitCodeForStatus(result.Status)

	metrics.RecordRun(
		u.config.TargetGate,
		runID,
		string(result.Status),
		result.Stats.Total,
		result.Stats.Passed,
		result.Stats.Failed,
		result.Duration,
	)

	if u.history != nil {
		rec := history.RunRecord{
			RunID:     runID,
			Gate:      u.config.TargetGate,
			StartedAt: start,
			Duration:  result.Duration,
			Total:     result.Stats.Total,
			Passed:    result.Stats.Passed,
			Failed:    result.Stats.Failed,
			Skipped:   result.Stats.Skipped,
			Status:    string(result.Status),
			ExitCode:  exitCode,
		}
		if err := u.history.RecordRun(u.ctx, rec); err != nil {
			u.config.Log.Error("Failed to record run history", "error", err)
		}
	}

	u.publishOutcome(exitCode)

	u.config.Log.Info("Test run completed", "run_id", runID, "status", result.Status)
	return nil
}

// publishOutcome appends the status line and failure flag for CI consumers.
func (u *unitgate) publishOutcome(exitCode int) {
	summary := &reporting.StepSummary{
		SummaryPath: u.config.StepSummaryFile,
		EnvPath:     u.config.EnvFile,
		Log:         u.config.Log,
	}
	if err := summary.Publish(exitCode); err != nil {
		u.config.Log.Error("Failed to publish run outcome", "error", err)
	}
}

// Stop stops the unitgate service.
func (u *unitgate) Stop(ctx context.Context) error {
	u.config.Log.Info("Stopping unitgate")

	if err := u.scheduler.Stop(); err != nil {
		return err
	}

	if u.history != nil {
		if err := u.history.Close(); err != nil {
			u.config.Log.Error("Failed to close history database", "error", err)
		}
	}
	if u.execerCl != nil {
		if err := u.execerCl.Close(); err != nil {
			u.config.Log.Error("Failed to close execution backend", "error", err)
		}
	}

	u.config.Log.Info("unitgate stopped successfully")
	return nil
}

// Stopped returns true if the unitgate service is stopped.
func (u *unitgate) Stopped() bool {
	return u.scheduler.Stopped()
}

// WaitForShutdown blocks until all goroutines have terminated.
// This is useful in tests to ensure complete cleanup before moving to the next test.
func (u *unitgate) WaitForShutdown(ctx context.Context) error {
	return u.scheduler.WaitForShutdown(ctx)
}

func exitCodeForStatus(status types.TestStatus) int {
	if status == types.TestStatusFail || status == types.TestStatusError {
		return exitcodes.TestFailure
	}
	return exitcodes.Success
}
