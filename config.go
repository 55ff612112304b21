package unitgate

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/unitgate/unitgate/flags"
)

// Config holds the application configuration
type Config struct {
	TestDir         string
	SuiteConfig     string
	TargetGate      string
	GoBinary        string
	RunInterval     time.Duration // Interval between test runs
	RunOnce         bool          // Indicates if the service should exit after one test run
	AllowSkips      bool          // Allow tests to be skipped instead of failing when preconditions are not met
	DefaultTimeout  time.Duration // Default timeout for individual tests, can be overridden by test config
	LogDir          string        // Directory to store test logs
	Serial          bool          // Whether to run tests serially instead of in parallel
	Concurrency     int           // Number of concurrent test workers (0 = auto-determine)
	StepSummaryFile string        // File to append the per-run status line to
	EnvFile         string        // File to append the failure-flag variable to
	HistoryDB       string        // Path to the run-history database, empty disables history
	ContainerImage  string        // Container image to run tests in, empty runs on the host
	Log             *slog.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log *slog.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	testDir := ctx.String(flags.TestDir.Name)
	if testDir == "" {
		return nil, errors.New("test directory is required")
	}
	suiteConfig := ctx.String(flags.SuiteConfig.Name)
	if suiteConfig == "" {
		return nil, errors.New("suite configuration file is required")
	}

	absTestDir, err := filepath.Abs(testDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for test directory '%s': %w", testDir, err)
	}
	absSuiteConfig, err := filepath.Abs(suiteConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for suite config '%s': %w", suiteConfig, err)
	}

	logDir := ctx.String(flags.LogDir.Name)
	if logDir == "" {
		logDir = "logs"
	}
	logDir, err = filepath.Abs(logDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for log directory '%s': %w", logDir, err)
	}

	runInterval := ctx.Duration(flags.RunInterval.Name)
	runOnce := runInterval == 0

	return &Config{
		TestDir:         absTestDir,
		SuiteConfig:     absSuiteConfig,
		TargetGate:      ctx.String(flags.Gate.Name),
		GoBinary:        ctx.String(flags.GoBinary.Name),
		RunInterval:     runInterval,
		RunOnce:         runOnce,
		AllowSkips:      ctx.Bool(flags.AllowSkips.Name),
		DefaultTimeout:  ctx.Duration(flags.DefaultTimeout.Name),
		LogDir:          logDir,
		Serial:          ctx.Bool(flags.Serial.Name),
		Concurrency:     ctx.Int(flags.Concurrency.Name),
		StepSummaryFile: ctx.String(flags.StepSummaryFile.Name),
		EnvFile:         ctx.String(flags.EnvFile.Name),
		HistoryDB:       ctx.String(flags.HistoryDB.Name),
		ContainerImage:  ctx.String(flags.ContainerImage.Name),
		Log:             log,
	}, nil
}
