package flags

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
)

const EnvVarPrefix = "UNITGATE"

// prefixEnvVar returns the set of environment variable names for a flag.
func prefixEnvVar(name string) []string {
	return []string{EnvVarPrefix + "_" + name}
}

var (
	TestDir = &cli.StringFlag{
		Name:    "testdir",
		Value:   "",
		EnvVars: prefixEnvVar("TESTDIR"),
		Usage:   "Path to the Go module from which to run tests",
	}
	SuiteConfig = &cli.StringFlag{
		Name:    "suites",
		Value:   "",
		EnvVars: prefixEnvVar("SUITES"),
		Usage:   "Path to suite config file (eg. 'suites.yaml' or 'suites.jsonc')",
	}
	Gate = &cli.StringFlag{
		Name:    "gate",
		Value:   "",
		EnvVars: prefixEnvVar("GATE"),
		Usage:   "Gate to run (eg. 'ci'). Omit to run every configured gate.",
	}
	GoBinary = &cli.StringFlag{
		Name:    "go-binary",
		Value:   "go",
		EnvVars: prefixEnvVar("GO_BINARY"),
		Usage:   "Path to the Go binary to use for running tests",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: prefixEnvVar("RUN_INTERVAL"),
		Usage:   "Interval between test runs (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
	AllowSkips = &cli.BoolFlag{
		Name:    "allow-skips",
		Usage:   "Allow tests to be skipped when preconditions aren't met",
		Value:   false,
		EnvVars: prefixEnvVar("ALLOW_SKIPS"),
	}
	DefaultTimeout = &cli.DurationFlag{
		Name:    "default-timeout",
		Value:   10 * time.Minute,
		EnvVars: prefixEnvVar("DEFAULT_TIMEOUT"),
		Usage:   "Default timeout for individual tests; per-test config overrides this",
	}
	LogDir = &cli.StringFlag{
		Name:    "logdir",
		Value:   "logs",
		EnvVars: prefixEnvVar("LOGDIR"),
		Usage:   "Directory to store per-run test logs",
	}
	Serial = &cli.BoolFlag{
		Name:    "serial",
		Value:   false,
		EnvVars: prefixEnvVar("SERIAL"),
		Usage:   "Run tests serially instead of in parallel",
	}
	Concurrency = &cli.IntFlag{
		Name:    "concurrency",
		Value:   0,
		EnvVars: prefixEnvVar("CONCURRENCY"),
		Usage:   "Number of concurrent test workers (0 = number of CPUs)",
	}
	StepSummaryFile = &cli.StringFlag{
		Name:    "step-summary-file",
		Value:   "",
		EnvVars: []string{EnvVarPrefix + "_STEP_SUMMARY_FILE", "GITHUB_STEP_SUMMARY"},
		Usage:   "File to append the per-run status line to (defaults to $GITHUB_STEP_SUMMARY)",
	}
	EnvFile = &cli.StringFlag{
		Name:    "env-file",
		Value:   "",
		EnvVars: []string{EnvVarPrefix + "_ENV_FILE", "GITHUB_ENV"},
		Usage:   "File to append the failure-flag variable to (defaults to $GITHUB_ENV)",
	}
	HistoryDB = &cli.StringFlag{
		Name:    "history-db",
		Value:   "",
		EnvVars: prefixEnvVar("HISTORY_DB"),
		Usage:   "Path to the SQLite run-history database. Empty disables history.",
	}
	ContainerImage = &cli.StringFlag{
		Name:    "container",
		Value:   "",
		EnvVars: prefixEnvVar("CONTAINER"),
		Usage:   "Run tests inside a Docker container with the given image",
	}
)

var requiredFlags = []cli.Flag{
	TestDir,
}

var optionalFlags = []cli.Flag{
	SuiteConfig,
	Gate,
	GoBinary,
	RunInterval,
	AllowSkips,
	DefaultTimeout,
	LogDir,
	Serial,
	Concurrency,
	StepSummaryFile,
	EnvFile,
	HistoryDB,
	ContainerImage,
}

var Flags []cli.Flag

func init() {
	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return nil
}
