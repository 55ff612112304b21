package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/unitgate/unitgate/runner"
)

const containerWorkdir = "/src"

// Engine runs test commands inside Docker containers. It implements
// runner.Execer so the runner can stay unaware of where commands execute.
type Engine struct {
	cli      dockerClient
	image    string
	log      *slog.Logger
	memLimit int64

	pullOnce sync.Once
	pullErr  error
}

// Config configures a container-backed Engine.
type Config struct {
	// Image is the container image every test command runs in.
	Image string
	// Log receives engine diagnostics. Defaults to slog.Default when nil.
	Log *slog.Logger
	// MemoryLimitBytes caps container memory when > 0.
	MemoryLimitBytes int64
}

// NewEngine connects to the local Docker daemon and returns a container-backed
// Execer. Close must be called when the engine is no longer needed.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Image == "" {
		return nil, fmt.Errorf("container image is required")
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return newEngine(cli, cfg), nil
}

func newEngine(cli dockerClient, cfg Config) *Engine {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		cli:      cli,
		image:    cfg.Image,
		log:      log,
		memLimit: cfg.MemoryLimitBytes,
	}
}

// Run executes the command in a fresh container with spec.Dir bind-mounted at
// /src. A non-zero container exit is not an error, matching the host execer.
func (e *Engine) Run(ctx context.Context, spec runner.CommandSpec) (*runner.CommandResult, error) {
	e.pullOnce.Do(func() {
		e.pullErr = e.pullImage(ctx)
	})
	if e.pullErr != nil {
		return nil, e.pullErr
	}

	containerID, cleanup, err := e.createContainer(ctx, spec)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if err := e.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	status, err := e.waitForExit(ctx, containerID)
	if err != nil {
		return nil, err
	}

	logCtx := ctx
	if logCtx.Err() != nil {
		logCtx = context.Background()
	}
	stdout, stderr, err := e.fetchLogs(logCtx, containerID)
	if err != nil {
		return nil, fmt.Errorf("fetch logs: %w", err)
	}

	return &runner.CommandResult{
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: int(status.StatusCode),
	}, nil
}

// Close releases the Docker client connection.
func (e *Engine) Close() error {
	return e.cli.Close()
}

func (e *Engine) pullImage(ctx context.Context) error {
	e.log.Info("Pulling container image", "image", e.image)
	reader, err := e.cli.ImagePull(ctx, e.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", e.image, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("consume pull output for %s: %w", e.image, err)
	}
	return nil
}

func (e *Engine) createContainer(ctx context.Context, spec runner.CommandSpec) (string, func(), error) {
	hostConfig := &container.HostConfig{}
	if spec.Dir != "" {
		hostConfig.Binds = []string{spec.Dir + ":" + containerWorkdir}
	}
	if e.memLimit > 0 {
		hostConfig.Resources.Memory = e.memLimit
		hostConfig.Resources.MemorySwap = e.memLimit
	}

	resp, err := e.cli.ContainerCreate(
		ctx,
		&container.Config{
			Image:        e.image,
			Cmd:          append([]string{spec.Name}, spec.Args...),
			Env:          spec.Env,
			WorkingDir:   containerWorkdir,
			AttachStdout: true,
			AttachStderr: true,
		},
		hostConfig,
		nil,
		nil,
		"",
	)
	if err != nil {
		return "", nil, fmt.Errorf("create container: %w", err)
	}

	cleanup := func() {
		if err := e.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true}); err != nil {
			e.log.Warn("Failed to remove container", "id", resp.ID, "error", err)
		}
	}
	return resp.ID, cleanup, nil
}

func (e *Engine) waitForExit(ctx context.Context, containerID string) (*container.WaitResponse, error) {
	statusCh, errCh := e.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		if status.Error != nil {
			return nil, fmt.Errorf("container error: %s", status.Error.Message)
		}
		return &status, nil
	case err := <-errCh:
		return nil, fmt.Errorf("wait for container: %w", err)
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for container: %w", ctx.Err())
	}
}

func (e *Engine) fetchLogs(ctx context.Context, containerID string) (stdout, stderr []byte, err error) {
	logs, err := e.cli.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, nil, err
	}
	defer logs.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, logs); err != nil {
		return nil, nil, err
	}
	return stdoutBuf.Bytes(), stderrBuf.Bytes(), nil
}
