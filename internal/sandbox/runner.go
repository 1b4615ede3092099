package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/redpen-ai/redpen/internal/config"
	"github.com/redpen-ai/redpen/internal/logging"
)

// RunOutcome is what one containerized suite run produced.
type RunOutcome struct {
	Output   string
	ExitCode int
	Duration time.Duration
	TimedOut bool
}

// DockerRunner executes one framework's test command in a throwaway
// container. The workspace is the only writable surface; the container has
// no network and cannot gain privileges.
type DockerRunner struct {
	cfg config.SandboxConfig
}

func NewDockerRunner(cfg config.SandboxConfig) *DockerRunner {
	return &DockerRunner{cfg: cfg}
}

// Run starts the container, waits for it to finish or hit the wall timeout,
// and returns its combined output. A timed-out container is stopped, not
// left running.
func (r *DockerRunner) Run(ctx context.Context, ws *Workspace, fw Framework) (*RunOutcome, error) {
	log := logging.FromContext(ctx)

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	defer cli.Close()

	hostConfig := &container.HostConfig{
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		AutoRemove:     false,
		SecurityOpt:    []string{"no-new-privileges"},
		Resources: container.Resources{
			Memory:   r.cfg.MemoryBytes,
			NanoCPUs: r.cfg.NanoCPUs,
		},
		Tmpfs: map[string]string{
			"/tmp": "rw,nosuid,size=256m",
		},
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: ws.Dir,
			Target: "/workspace/repo",
		}},
	}

	resp, err := cli.ContainerCreate(ctx, &container.Config{
		Image:      r.cfg.Image,
		Cmd:        fw.Command,
		WorkingDir: "/workspace/repo",
		Env:        []string{"CI=true"},
		Tty:        false,
	}, hostConfig, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}
	defer func() {
		rmCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := cli.ContainerRemove(rmCtx, resp.ID, types.ContainerRemoveOptions{Force: true}); err != nil {
			log.Warn("container remove failed", "container", resp.ID, "error", err)
		}
	}()

	start := time.Now()
	if err := cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	outcome := &RunOutcome{}
	statusCh, errCh := cli.ContainerWait(runCtx, resp.ID, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		outcome.ExitCode = int(status.StatusCode)
	case err := <-errCh:
		if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			outcome.TimedOut = true
			outcome.ExitCode = -1
			stopTimeout := 5
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
			if err := cli.ContainerStop(stopCtx, resp.ID, container.StopOptions{Timeout: &stopTimeout}); err != nil {
				log.Warn("container stop after timeout failed", "container", resp.ID, "error", err)
			}
			stopCancel()
		} else if err != nil {
			return nil, fmt.Errorf("wait container: %w", err)
		}
	}
	outcome.Duration = time.Since(start)

	logs, err := cli.ContainerLogs(ctx, resp.ID, types.ContainerLogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, fmt.Errorf("container logs: %w", err)
	}
	defer logs.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, logs); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read container logs: %w", err)
	}
	outcome.Output = buf.String()

	log.Info("sandbox run finished",
		"framework", fw.Name,
		"exit_code", outcome.ExitCode,
		"timed_out", outcome.TimedOut,
		"elapsed", outcome.Duration)

	return outcome, nil
}
