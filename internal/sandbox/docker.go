package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"taskforge/internal/analysis"
	"taskforge/internal/logging"

	"github.com/containerd/errdefs"
	"github.com/google/uuid"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/client"
)

// ErrImageMissing is returned when the sandbox image is not present locally.
var ErrImageMissing = errors.New("sandbox image not found")

const (
	dockerWorkDir = "/src"
	dockerModFile = "module sandbox\n\ngo 1.22\n"
	dockerMain    = `package main

import (
	"fmt"
	"os"
)

func main() {
	if msg := taskforgeMain(); msg != "" {
		fmt.Fprintln(os.Stderr, msg)
		os.Exit(1)
	}
}
`
)

// DockerExecutor runs each program with `go run` in a throwaway container
// with networking disabled. The container has a TTY, so stdout and stderr
// arrive merged in Result.Stdout.
type DockerExecutor struct {
	cli     *client.Client
	parser  *analysis.Parser
	allowed map[string]bool
	timeout time.Duration
	image   string
}

// NewDockerExecutor connects to the docker daemon from the environment.
func NewDockerExecutor(parser *analysis.Parser, allowed []string, timeout time.Duration, image string) (*DockerExecutor, error) {
	cli, err := client.New(client.FromEnv)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if image == "" {
		image = "golang:1.24-alpine"
	}
	return &DockerExecutor{cli: cli, parser: parser, allowed: allowSet(allowed), timeout: timeout, image: image}, nil
}

// Name returns the backend name.
func (e *DockerExecutor) Name() string { return "docker" }

// Close releases the docker client.
func (e *DockerExecutor) Close() error { return e.cli.Close() }

// Ping checks the daemon is reachable.
func (e *DockerExecutor) Ping(ctx context.Context) error {
	_, err := e.cli.Ping(ctx, client.PingOptions{})
	return err
}

// Execute writes the program to a temp dir, bind-mounts it and runs it.
func (e *DockerExecutor) Execute(ctx context.Context, prog Program) (*Result, error) {
	timer := logging.StartTimer(logging.CategorySandbox, "DockerExecute")
	defer timer.Stop()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	src, err := assemble(ctx, e.parser, e.allowed, prog, dockerMain)
	if err != nil {
		return nil, failure(ctx, "", err)
	}
	dir, err := writeProgram(src)
	if err != nil {
		return nil, failure(ctx, "", err)
	}
	defer os.RemoveAll(dir)

	start := time.Now()
	name := "taskforge-" + uuid.NewString()
	created, err := e.cli.ContainerCreate(ctx, client.ContainerCreateOptions{
		Name:  name,
		Image: e.image,
		Config: &container.Config{
			Cmd:          []string{"go", "run", "."},
			Env:          []string{"GOTOOLCHAIN=local", "GOFLAGS=-mod=mod", "CGO_ENABLED=0"},
			WorkingDir:   dockerWorkDir,
			Tty:          true,
			AttachStdout: true,
			AttachStderr: true,
		},
		HostConfig: &container.HostConfig{
			Binds:       []string{fmt.Sprintf("%s:%s:ro", dir, dockerWorkDir)},
			NetworkMode: "none",
		},
	})
	if err != nil {
		if errdefs.IsNotFound(err) {
			err = fmt.Errorf("%w: %s", ErrImageMissing, e.image)
		}
		return nil, failure(ctx, "", err)
	}
	defer e.remove(ctx, created.ID)

	if _, err := e.cli.ContainerStart(ctx, created.ID, client.ContainerStartOptions{}); err != nil {
		return nil, failure(ctx, "", fmt.Errorf("failed to start container: %w", err))
	}

	exitCode, waitErr := e.wait(ctx, created.ID)
	output := e.logs(ctx, created.ID)
	result := &Result{Stdout: strings.TrimRight(output, "\r\n"), Duration: time.Since(start)}
	logging.SandboxDebug("docker container %s exited %d after %v", name, exitCode, result.Duration)

	if waitErr != nil {
		return nil, failure(ctx, output, waitErr)
	}
	if exitCode != 0 {
		return nil, failure(ctx, output, fmt.Errorf("exit status %d", exitCode))
	}
	return result, nil
}

func (e *DockerExecutor) wait(ctx context.Context, id string) (int64, error) {
	waitResult := e.cli.ContainerWait(ctx, id, client.ContainerWaitOptions{
		Condition: container.WaitConditionNotRunning,
	})
	select {
	case err := <-waitResult.Error:
		if err != nil {
			return -1, err
		}
		return 0, nil
	case resp := <-waitResult.Result:
		return resp.StatusCode, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// logs reads the container output; it uses a detached context so output
// is still collected after a timeout.
func (e *DockerExecutor) logs(ctx context.Context, id string) string {
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	rc, err := e.cli.ContainerLogs(logCtx, id, client.ContainerLogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		logging.SandboxDebug("reading logs of %s failed: %v", id, err)
		return ""
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	return string(data)
}

func (e *DockerExecutor) remove(ctx context.Context, id string) {
	rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if _, err := e.cli.ContainerRemove(rmCtx, id, client.ContainerRemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
		logging.Get(logging.CategorySandbox).Warn("failed to remove container %s: %v", id, err)
	}
}

func writeProgram(src string) (string, error) {
	dir, err := os.MkdirTemp("", "taskforge-run-")
	if err != nil {
		return "", fmt.Errorf("create program dir: %w", err)
	}
	files := map[string]string{"main.go": src, "go.mod": dockerModFile}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			os.RemoveAll(dir)
			return "", fmt.Errorf("write %s: %w", name, err)
		}
	}
	return dir, nil
}
