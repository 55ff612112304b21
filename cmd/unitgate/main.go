package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	"github.com/unitgate/unitgate"
	"github.com/unitgate/unitgate/exitcodes"
	"github.com/unitgate/unitgate/flags"
	"github.com/unitgate/unitgate/history"
	"github.com/unitgate/unitgate/reporting"
	"github.com/unitgate/unitgate/runner"
	"github.com/unitgate/unitgate/service"
	"github.com/unitgate/unitgate/triage"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

var (
	logLevelFlag = &cli.StringFlag{
		Name:    "log-level",
		Value:   "info",
		EnvVars: []string{flags.EnvVarPrefix + "_LOG_LEVEL"},
		Usage:   "Log level (debug, info, warn, error)",
	}
	outputFileFlag = &cli.StringFlag{
		Name:    "output-file",
		Value:   "testOutput/unit-tests.log",
		EnvVars: []string{flags.EnvVarPrefix + "_OUTPUT_FILE"},
		Usage:   "File receiving the wrapped runner's combined output",
	}
	dirFlag = &cli.StringFlag{
		Name:  "dir",
		Value: "",
		Usage: "Working directory for the wrapped runner",
	}
	triageDBFlag = &cli.StringFlag{
		Name:    "db",
		Value:   "triage.db",
		EnvVars: []string{flags.EnvVarPrefix + "_TRIAGE_DB"},
		Usage:   "Path to the advisory database",
	}
)

func main() {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "unitgate"
	app.Usage = "Unit test gate for CI pipelines"
	app.Description = "unitgate runs configured unit-test gates, wraps external test runners, and tracks security advisories"
	app.Flags = []cli.Flag{logLevelFlag}
	app.Commands = []*cli.Command{
		runCommand(),
		execCommand(),
		triageCommand(),
		historyCommand(),
	}
	app.ExitErrHandler = func(c *cli.Context, err error) {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			// Use the exit code from the ExitCoder
			cli.HandleExitCoder(exitErr)
		} else if err != nil {
			if unitgate.IsRuntimeError(err) {
				cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.RuntimeErr))
			} else if unitgate.IsTestFailureError(err) {
				cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.TestFailure))
			} else {
				cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.TestFailure))
			}
		}
	}

	// Start telemetry
	otelShutdown, err := otelconfig.ConfigureOpenTelemetry(
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		slog.Warn("Failed to set up OpenTelemetry", "error", err)
	} else {
		defer otelShutdown()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(exitcodes.RuntimeErr)
	}
}

func newLogger(c *cli.Context) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.String(logLevelFlag.Name))); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:   "run",
		Usage:  "Run the configured test gates",
		Flags:  flags.Flags,
		Action: runMain,
	}
}

func runMain(c *cli.Context) error {
	log := newLogger(c)
	slog.SetDefault(log)

	cfg, err := unitgate.NewConfig(c, log)
	if err != nil {
		return unitgate.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}

	appCtx, cancel := context.WithCancelCause(c.Context)
	defer cancel(nil)

	gate, err := unitgate.New(appCtx, cfg, Version, func(err error) {
		cancel(err)
	})
	if err != nil {
		return unitgate.NewRuntimeError(fmt.Errorf("failed to create unitgate: %w", err))
	}

	if !cfg.RunOnce {
		svc := service.New()
		svc.Start(appCtx)
		defer svc.Shutdown()
	}

	if err := gate.Start(appCtx); err != nil {
		// Stop releases the history store and execution backend even when
		// the run itself failed.
		if stopErr := gate.Stop(c.Context); stopErr != nil {
			log.Error("Failed to stop unitgate", "error", stopErr)
		}
		return err
	}

	if cfg.RunOnce {
		return gate.Stop(c.Context)
	}

	<-appCtx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := gate.Stop(stopCtx); err != nil {
		return unitgate.NewRuntimeError(err)
	}
	return gate.WaitForShutdown(stopCtx)
}

func execCommand() *cli.Command {
	return &cli.Command{
		Name:      "exec",
		Usage:     "Wrap an external test runner, teeing its output and mirroring its exit code",
		ArgsUsage: "<command> [args...]",
		Flags: []cli.Flag{
			outputFileFlag,
			dirFlag,
			flags.StepSummaryFile,
			flags.EnvFile,
		},
		Action: execMain,
	}
}

func execMain(c *cli.Context) error {
	log := newLogger(c)

	command := c.Args().Slice()
	if len(command) == 0 {
		return unitgate.NewRuntimeError(errors.New("no command given"))
	}

	result, err := runner.Wrap(c.Context, runner.WrapConfig{
		Command:    command,
		Dir:        c.String(dirFlag.Name),
		OutputFile: c.String(outputFileFlag.Name),
		Log:        log,
	})
	if err != nil {
		return unitgate.NewRuntimeError(err)
	}

	summary := &reporting.StepSummary{
		SummaryPath: c.String(flags.StepSummaryFile.Name),
		EnvPath:     c.String(flags.EnvFile.Name),
		Log:         log,
	}
	// Publishing failures must not mask the runner's exit code
	if err := summary.Publish(result.ExitCode); err != nil {
		log.Error("Failed to publish run outcome", "error", err)
	}

	if result.ExitCode != 0 {
		return cli.Exit("", result.ExitCode)
	}
	return nil
}

func triageCommand() *cli.Command {
	return &cli.Command{
		Name:  "triage",
		Usage: "Track security advisories against the response policy",
		Flags: []cli.Flag{triageDBFlag},
		Subcommands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Record a new advisory",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "title", Required: true, Usage: "Short advisory title"},
					&cli.Float64Flag{Name: "cvss", Required: true, Usage: "CVSS base score (0-10)"},
					&cli.BoolFlag{Name: "exploitable", Usage: "A working exploit or clear exploit path exists"},
				},
				Action: triageAdd,
			},
			{
				Name:      "ack",
				Usage:     "Acknowledge an open advisory",
				ArgsUsage: "<id>",
				Action:    triageAck,
			},
			{
				Name:      "resolve",
				Usage:     "Mark an acknowledged advisory as remediated",
				ArgsUsage: "<id>",
				Action:    triageResolve,
			},
			{
				Name:   "list",
				Usage:  "List unresolved advisories with their deadlines",
				Action: triageList,
			},
		},
	}
}

func openTriageStore(c *cli.Context) (*triage.Store, error) {
	store, err := triage.OpenStore(c.String(triageDBFlag.Name), triage.DefaultPolicy())
	if err != nil {
		return nil, unitgate.NewRuntimeError(fmt.Errorf("failed to open advisory database: %w", err))
	}
	return store, nil
}

func triageAdd(c *cli.Context) error {
	store, err := openTriageStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	advisory, err := store.Add(
		c.Context,
		c.String("title"),
		c.Float64("cvss"),
		c.Bool("exploitable"),
		time.Now(),
	)
	if err != nil {
		return unitgate.NewRuntimeError(err)
	}

	fmt.Printf("advisory %d recorded: severity %s, acknowledge by %s, remediate by %s\n",
		advisory.ID,
		advisory.Severity,
		advisory.AckBy.Format("2006-01-02"),
		advisory.RemediateBy.Format("2006-01-02"))
	return nil
}

func triageAck(c *cli.Context) error {
	return triageTransition(c, func(store *triage.Store, id int64) error {
		return store.Acknowledge(c.Context, id)
	})
}

func triageResolve(c *cli.Context) error {
	return triageTransition(c, func(store *triage.Store, id int64) error {
		return store.Resolve(c.Context, id)
	})
}

func triageTransition(c *cli.Context, fn func(*triage.Store, int64) error) error {
	if c.NArg() != 1 {
		return unitgate.NewRuntimeError(errors.New("advisory id required"))
	}
	id, err := strconv.ParseInt(c.Args().First(), 10, 64)
	if err != nil {
		return unitgate.NewRuntimeError(fmt.Errorf("invalid advisory id %q: %w", c.Args().First(), err))
	}

	store, err := openTriageStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := fn(store, id); err != nil {
		return unitgate.NewRuntimeError(err)
	}
	return nil
}

func triageList(c *cli.Context) error {
	store, err := openTriageStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	advisories, err := store.Unresolved(c.Context)
	if err != nil {
		return unitgate.NewRuntimeError(err)
	}
	fmt.Println(triage.RenderAdvisoryTable(advisories, time.Now()))
	return nil
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Query recorded test runs",
		Flags: []cli.Flag{flags.HistoryDB},
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "Show recent runs",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 20, Usage: "Maximum number of runs to show"},
				},
				Action: historyList,
			},
			{
				Name:  "streak",
				Usage: "Show the current consecutive-failure streak for a gate",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "gate", Value: "", Usage: "Gate to inspect"},
				},
				Action: historyStreak,
			},
		},
	}
}

func openHistoryStore(c *cli.Context) (*history.Store, error) {
	dbPath := c.String(flags.HistoryDB.Name)
	if dbPath == "" {
		return nil, unitgate.NewRuntimeError(errors.New("history database path is required"))
	}
	store, err := history.Open(dbPath)
	if err != nil {
		return nil, unitgate.NewRuntimeError(fmt.Errorf("failed to open history database: %w", err))
	}
	return store, nil
}

func historyList(c *cli.Context) error {
	store, err := openHistoryStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.RecentRuns(c.Context, c.Int("limit"))
	if err != nil {
		return unitgate.NewRuntimeError(err)
	}
	fmt.Println(reporting.RenderRunHistory(records))
	return nil
}

func historyStreak(c *cli.Context) error {
	store, err := openHistoryStore(c)
	if err != nil {
		return err
	}
	defer store.Close()

	streak, err := store.FailureStreak(c.Context, c.String("gate"))
	if err != nil {
		return unitgate.NewRuntimeError(err)
	}
	fmt.Printf("consecutive failing runs: %d\n", streak)
	return nil
}
