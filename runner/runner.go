// Package runner executes the configured unit tests through the Go test
// binary and aggregates the results into a gate/suite/test hierarchy.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/unitgate/unitgate/logging"
	"github.com/unitgate/unitgate/metrics"
	"github.com/unitgate/unitgate/registry"
	"github.com/unitgate/unitgate/types"
)

// Go test2json (TestEvent) action constants for JSON test output.
// See https://cs.opensource.google/go/go/+/master:src/cmd/test2json/main.go
const (
	ActionStart  = "start"
	ActionRun    = "run"
	ActionPass   = "pass"
	ActionFail   = "fail"
	ActionSkip   = "skip"
	ActionOutput = "output"
)

// TestEvent represents a single event from the go test JSON output
type TestEvent struct {
	Time    time.Time // Time the event occurred
	Action  string    // The action taken (run, pause, cont, pass, fail, skip, output)
	Package string    // The package being tested
	Test    string    // The test function name (may be empty for package events)
	Output  string    // Output text (may be empty)
	Elapsed float64   // Elapsed time in seconds for the specific action
}

// SuiteResult captures aggregated results for a test suite
type SuiteResult struct {
	ID          string
	Description string
	Tests       map[string]*types.TestResult
	Status      types.TestStatus
	Duration    time.Duration
	Stats       ResultStats
}

// GateResult captures aggregated results for a gate
type GateResult struct {
	ID          string
	Description string
	Tests       map[string]*types.TestResult
	Suites      map[string]*SuiteResult
	Status      types.TestStatus
	Duration    time.Duration
	Stats       ResultStats
}

// RunnerResult captures the complete test run results
type RunnerResult struct {
	Gates    map[string]*GateResult
	Status   types.TestStatus
	Duration time.Duration
	Stats    ResultStats
	RunID    string
}

// String returns a one-line human readable summary of the run.
func (r *RunnerResult) String() string {
	return fmt.Sprintf("run %s: %s (%d tests: %d passed, %d failed, %d skipped) in %.1fs",
		r.RunID, r.Status, r.Stats.Total, r.Stats.Passed, r.Stats.Failed, r.Stats.Skipped,
		r.Duration.Seconds())
}

// ResultStats tracks test statistics at each level
type ResultStats struct {
	Total     int
	Passed    int
	Failed    int
	Skipped   int
	StartTime time.Time
	EndTime   time.Time
}

func (s *ResultStats) addResult(result *types.TestResult) {
	// Package-mode results count their individual tests, not the wrapper.
	if len(result.SubTests) > 0 {
		for _, sub := range result.SubTests {
			s.addResult(sub)
		}
		return
	}

	s.Total++
	switch result.Status {
	case types.TestStatusPass:
		s.Passed++
	case types.TestStatusSkip:
		s.Skipped++
	default:
		s.Failed++
	}
}

// TestRunner defines the interface for running the configured tests
type TestRunner interface {
	RunAllTests(ctx context.Context) (*RunnerResult, error)
	RunTest(ctx context.Context, metadata types.ValidatorMetadata) (*types.TestResult, error)
}

// TestRunnerWithFileLogger is a TestRunner that persists results through a
// file logger.
type TestRunnerWithFileLogger interface {
	TestRunner
	LogResults(result *RunnerResult)
}

// runner struct implements TestRunner interface
type runner struct {
	registry    *registry.Registry
	validators  []types.ValidatorMetadata
	workDir     string
	log         *slog.Logger
	runID       string
	goBinary    string
	allowSkips  bool
	serial      bool
	concurrency int
	fileLogger  *logging.FileLogger
	execer      Execer
	parser      OutputParser
	tracer      trace.Tracer

	mu sync.Mutex // guards fileLogger writes from parallel workers
}

// Config holds configuration for creating a new runner
type Config struct {
	Registry    *registry.Registry
	TargetGate  string
	WorkDir     string
	Log         *slog.Logger
	GoBinary    string
	AllowSkips  bool
	Serial      bool
	Concurrency int                 // 0 = number of CPUs
	FileLogger  *logging.FileLogger // Logger for storing test results
	Execer      Execer              // Command execution backend; nil = host
}

// NewTestRunner creates a new test runner instance
func NewTestRunner(cfg Config) (TestRunner, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.WorkDir == "" {
		return nil, fmt.Errorf("work directory is required")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	var validators []types.ValidatorMetadata
	if len(cfg.TargetGate) > 0 {
		validators = cfg.Registry.GetValidatorsByGate(cfg.TargetGate)
	} else {
		validators = cfg.Registry.GetValidators()
	}
	if len(validators) == 0 {
		return nil, fmt.Errorf("no tests found")
	}

	if cfg.GoBinary == "" {
		cfg.GoBinary = "go"
	}
	if cfg.Execer == nil {
		cfg.Execer = NewLocalExecer()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}

	cfg.Log.Debug("NewTestRunner()",
		"targetGate", cfg.TargetGate,
		"workDir", cfg.WorkDir,
		"allowSkips", cfg.AllowSkips,
		"goBinary", cfg.GoBinary,
		"serial", cfg.Serial,
		"concurrency", concurrency)

	return &runner{
		registry:    cfg.Registry,
		validators:  validators,
		workDir:     cfg.WorkDir,
		log:         cfg.Log,
		goBinary:    cfg.GoBinary,
		allowSkips:  cfg.AllowSkips,
		serial:      cfg.Serial,
		concurrency: concurrency,
		fileLogger:  cfg.FileLogger,
		execer:      cfg.Execer,
		parser:      NewOutputParser(),
		tracer:      otel.Tracer("unitgate/runner"),
	}, nil
}

// RunAllTests runs all validators and aggregates their results.
func (r *runner) RunAllTests(ctx context.Context) (*RunnerResult, error) {
	if r.fileLogger != nil {
		r.runID = r.fileLogger.RunID()
	} else {
		r.runID = uuid.New().String()
	}
	defer func() {
		r.runID = ""
	}()

	start := time.Now()
	r.log.Debug("Running all tests", "run_id", r.runID)

	ctx, span := r.tracer.Start(ctx, "test run")
	defer span.End()

	results, err := r.runValidators(ctx)
	if err != nil {
		return nil, err
	}

	result := &RunnerResult{
		Gates: make(map[string]*GateResult),
		Stats: ResultStats{StartTime: start},
		RunID: r.runID,
	}
	for i, validator := range r.validators {
		r.addToHierarchy(result, validator, results[i])
	}
	finalizeStats(result)

	result.Duration = time.Since(start)
	result.Stats.EndTime = time.Now()

	return result, nil
}

// runValidators executes every validator, in parallel unless serial mode is
// set, and returns results positionally aligned with r.validators.
func (r *runner) runValidators(ctx context.Context) ([]*types.TestResult, error) {
	results := make([]*types.TestResult, len(r.validators))

	if r.serial {
		for i, validator := range r.validators {
			result, err := r.RunTest(ctx, validator)
			if err != nil {
				return nil, fmt.Errorf("running test %s: %w", validator.GetName(), err)
			}
			results[i] = result
		}
		return results, nil
	}

	p := pool.New().
		WithErrors().
		WithFirstError().
		WithMaxGoroutines(r.concurrency).
		WithContext(ctx).
		WithCancelOnError()
	for i, validator := range r.validators {
		p.Go(func(ctx context.Context) error {
			result, err := r.RunTest(ctx, validator)
			if err != nil {
				return fmt.Errorf("running test %s: %w", validator.GetName(), err)
			}
			results[i] = result
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// RunTest runs a single validator: one test function or a whole package.
func (r *runner) RunTest(ctx context.Context, metadata types.ValidatorMetadata) (*types.TestResult, error) {
	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("test %s", metadata.GetName()))
	defer span.End()

	result, err := r.executeTest(ctx, metadata)

	var status types.TestStatus
	if result != nil {
		status = result.Status
	} else {
		status = types.TestStatusError
	}
	metrics.RecordTest(metadata.Gate, r.runID, metadata.GetName(), status)

	return result, err
}

func (r *runner) executeTest(ctx context.Context, metadata types.ValidatorMetadata) (*types.TestResult, error) {
	if metadata.Timeout != 0 {
		var cancel func()
		// Give the child process a small head start so the go test -timeout
		// fires before the parent context does.
		ctx, cancel = context.WithTimeout(ctx, metadata.Timeout+200*time.Millisecond)
		defer cancel()
	}

	pkg, err := resolvePackagePath(metadata.Package, r.workDir)
	if err != nil {
		return nil, fmt.Errorf("resolving package %s: %w", metadata.Package, err)
	}

	args := r.buildTestArgs(metadata, pkg)
	r.log.Info("Running test", "test", metadata.GetName())
	r.log.Debug("Running test command",
		"dir", r.workDir,
		"package", pkg,
		"test", metadata.FuncName,
		"goBinary", r.goBinary,
		"args", args,
		"timeout", metadata.Timeout)

	res, runErr := r.execer.Run(ctx, CommandSpec{
		Name: r.goBinary,
		Args: args,
		Dir:  r.workDir,
	})
	if runErr != nil {
		return nil, fmt.Errorf("invoking %s: %w", r.goBinary, runErr)
	}

	r.storeRunArtifacts(metadata, res)

	if ctx.Err() == context.DeadlineExceeded {
		return &types.TestResult{
			Metadata: metadata,
			Status:   types.TestStatusFail,
			Error:    fmt.Errorf("test timed out after %v", metadata.Timeout),
			TimedOut: true,
		}, nil
	}

	var parsed *types.TestResult
	if metadata.Timeout != 0 {
		parsed = r.parser.ParseWithTimeout(res.Stdout, metadata, metadata.Timeout)
	} else {
		parsed = r.parser.Parse(res.Stdout, metadata)
	}

	// A non-zero exit with a clean-looking event stream means the failure
	// happened outside any test (build error, panic in TestMain).
	if res.ExitCode != 0 && parsed.Status == types.TestStatusPass {
		parsed.Status = types.TestStatusFail
		parsed.Error = fmt.Errorf("%s exited with code %d", r.goBinary, res.ExitCode)
	}

	if (parsed.Status == types.TestStatusFail || parsed.Status == types.TestStatusSkip) && len(res.Stdout) > 0 {
		parsed.Stdout = string(res.Stdout)
	}
	if res.ExitCode != 0 && len(res.Stderr) > 0 {
		if parsed.Error != nil {
			parsed.Error = fmt.Errorf("%w\nstderr: %s", parsed.Error, res.Stderr)
		} else {
			parsed.Error = fmt.Errorf("stderr: %s", res.Stderr)
		}
	}

	if parsed.Status == types.TestStatusSkip && !r.allowSkips {
		parsed.Status = types.TestStatusFail
		if parsed.Error == nil {
			parsed.Error = fmt.Errorf("test was skipped but skips are not allowed")
		}
	}

	return parsed, nil
}

// storeRunArtifacts hands the raw event stream and the parsed result to the
// file logger sinks.
func (r *runner) storeRunArtifacts(metadata types.ValidatorMetadata, res *CommandResult) {
	if r.fileLogger == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.fileLogger.AppendRawEvents(res.Stdout); err != nil {
		r.log.Error("Failed to store raw test events", "test", metadata.GetName(), "error", err)
	}
}

// LogResults feeds the aggregated results through the file logger sinks.
func (r *runner) LogResults(result *RunnerResult) {
	if r.fileLogger == nil {
		return
	}
	for _, gate := range result.Gates {
		for _, test := range gate.Tests {
			if err := r.fileLogger.LogTestResult(test, result.RunID); err != nil {
				r.log.Error("Failed to log test result", "error", err)
			}
		}
		for _, suite := range gate.Suites {
			for _, test := range suite.Tests {
				if err := r.fileLogger.LogTestResult(test, result.RunID); err != nil {
					r.log.Error("Failed to log test result", "error", err)
				}
			}
		}
	}
}

// buildTestArgs constructs the command line arguments for running a test
func (r *runner) buildTestArgs(metadata types.ValidatorMetadata, pkg string) []string {
	args := []string{"test"}

	if pkg != "" {
		args = append(args, pkg)
	} else {
		args = append(args, "./...")
	}

	// Add specific test filter if not running all tests in package
	if !metadata.RunAll && metadata.FuncName != "" {
		args = append(args, "-run", fmt.Sprintf("^%s$", metadata.FuncName))
	}

	// Always disable caching
	args = append(args, "-count", "1")

	if metadata.Timeout != 0 {
		args = append(args, "-timeout", metadata.Timeout.String())
	}

	// Verbose JSON output for reliable parsing
	args = append(args, "-v", "-json")

	return args
}

// addToHierarchy places a test result into its gate (and suite, if any).
func (r *runner) addToHierarchy(result *RunnerResult, validator types.ValidatorMetadata, test *types.TestResult) {
	gate, ok := result.Gates[validator.Gate]
	if !ok {
		gate = &GateResult{
			ID:     validator.Gate,
			Tests:  make(map[string]*types.TestResult),
			Suites: make(map[string]*SuiteResult),
		}
		result.Gates[validator.Gate] = gate
	}

	if validator.Suite == "" {
		gate.Tests[validator.ID] = test
		return
	}

	suite, ok := gate.Suites[validator.Suite]
	if !ok {
		suite = &SuiteResult{
			ID:    validator.Suite,
			Tests: make(map[string]*types.TestResult),
		}
		gate.Suites[validator.Suite] = suite
	}
	suite.Tests[validator.ID] = test
}

// finalizeStats computes per-suite, per-gate and run-level stats and status.
func finalizeStats(result *RunnerResult) {
	for _, gate := range result.Gates {
		for _, test := range gate.Tests {
			gate.Stats.addResult(test)
			gate.Duration += test.Duration
		}
		for _, suite := range gate.Suites {
			for _, test := range suite.Tests {
				suite.Stats.addResult(test)
				suite.Duration += test.Duration
			}
			suite.Status = statusFromStats(suite.Stats)
			gate.Stats.Total += suite.Stats.Total
			gate.Stats.Passed += suite.Stats.Passed
			gate.Stats.Failed += suite.Stats.Failed
			gate.Stats.Skipped += suite.Stats.Skipped
			gate.Duration += suite.Duration
		}
		gate.Status = statusFromStats(gate.Stats)
		result.Stats.Total += gate.Stats.Total
		result.Stats.Passed += gate.Stats.Passed
		result.Stats.Failed += gate.Stats.Failed
		result.Stats.Skipped += gate.Stats.Skipped
	}
	result.Status = statusFromStats(result.Stats)
}

func statusFromStats(stats ResultStats) types.TestStatus {
	switch {
	case stats.Failed > 0:
		return types.TestStatusFail
	case stats.Total > 0 && stats.Skipped == stats.Total:
		return types.TestStatusSkip
	default:
		return types.TestStatusPass
	}
}

// Make sure the runner type implements the interface
var _ TestRunner = &runner{}
