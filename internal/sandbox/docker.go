package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/itstheanurag/coderunner/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const containerWorkdir = "/workspace"

// DockerRunner runs every attempt in a throwaway container with the host
// workspace bind-mounted at /workspace.
type DockerRunner struct {
	cli       *client.Client
	logger    *zerolog.Logger
	killGrace time.Duration
	pidsLimit int64
}

func NewDockerRunner(killGrace time.Duration, logger *zerolog.Logger) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	if killGrace <= 0 {
		killGrace = time.Second
	}
	return &DockerRunner{cli: cli, logger: logger, killGrace: killGrace, pidsLimit: 64}, nil
}

func (r *DockerRunner) Name() string {
	return "docker"
}

// Ping checks that the daemon answers.
func (r *DockerRunner) Ping(ctx context.Context) error {
	if _, err := r.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon unreachable: %w", err)
	}
	return nil
}

func (r *DockerRunner) Close() error {
	return r.cli.Close()
}

func (r *DockerRunner) Run(ctx context.Context, spec Spec) *Attempt {
	a := newAttempt(spec)
	if len(spec.Args) == 0 {
		return a.fail(errors.New("empty command"))
	}
	if spec.Image == "" {
		return a.fail(errors.New("no image configured for this language"))
	}

	createStart := time.Now()
	env := append([]string{"HOME=" + containerWorkdir, "LANG=C.UTF-8"}, expandEnv(spec.Env, containerWorkdir)...)
	resp, err := r.cli.ContainerCreate(ctx, &container.Config{
		Image:           spec.Image,
		Cmd:             spec.Args,
		Env:             env,
		WorkingDir:      containerWorkdir,
		User:            fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
		OpenStdin:       true,
		StdinOnce:       true,
		AttachStdin:     true,
		AttachStdout:    true,
		AttachStderr:    true,
		NetworkDisabled: true,
	}, &container.HostConfig{
		Resources: container.Resources{
			Memory:     spec.MemoryLimitKb * 1024,
			MemorySwap: spec.MemoryLimitKb * 1024, // no swap
			NanoCPUs:   1_000_000_000,
			PidsLimit:  &r.pidsLimit,
		},
		NetworkMode: "none",
		SecurityOpt: []string{"no-new-privileges"},
		CapDrop:     []string{"ALL"},
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: spec.Dir,
			Target: containerWorkdir,
		}},
		Tmpfs: map[string]string{
			"/tmp": "rw,noexec,nosuid,size=16m,mode=1777",
		},
	}, nil, nil, "")
	if err != nil {
		return a.fail(fmt.Errorf("create container: %w", err))
	}
	defer func() {
		if err := r.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true}); err != nil {
			r.logger.Warn().Err(err).Str("container", resp.ID).Msg("failed to remove container")
		}
	}()

	hijack, err := r.cli.ContainerAttach(ctx, resp.ID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return a.fail(fmt.Errorf("attach container: %w", err))
	}
	defer hijack.Close()

	waitCh, waitErrCh := r.cli.ContainerWait(context.Background(), resp.ID, container.WaitConditionNextExit)

	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return a.fail(fmt.Errorf("start container: %w", err))
	}
	start := time.Now()
	metrics.ContainerCreationTime.Observe(float64(start.Sub(createStart).Milliseconds()))

	stdout := newCappedBuffer(spec.OutputLimit)
	stderr := newCappedBuffer(spec.OutputLimit)

	var g errgroup.Group
	g.Go(func() error {
		if spec.Stdin != "" {
			// The program may exit without reading; a broken pipe here is fine.
			_, _ = io.WriteString(hijack.Conn, spec.Stdin)
		}
		return hijack.CloseWrite()
	})
	g.Go(func() error {
		_, err := stdcopy.StdCopy(stdout, stderr, hijack.Reader)
		return err
	})

	var (
		reason Outcome
		status container.WaitResponse
		waited bool
	)
	limit := spec.TimeLimit
	if limit <= 0 {
		limit = time.Hour
	}
	timeout := time.NewTimer(limit)
	defer timeout.Stop()

	select {
	case status = <-waitCh:
		waited = true
	case err := <-waitErrCh:
		r.kill(resp.ID)
		return a.fail(fmt.Errorf("wait container: %w", err))
	case <-timeout.C:
		reason = OutcomeTimeout
	case <-ctx.Done():
		reason = OutcomeCancelled
	}
	a.Elapsed = time.Since(start)

	if !waited {
		r.kill(resp.ID)
		select {
		case status = <-waitCh:
		case <-waitErrCh:
		case <-time.After(r.killGrace):
		}
	}

	copyDone := make(chan error, 1)
	go func() { copyDone <- g.Wait() }()
	select {
	case err := <-copyDone:
		if err != nil {
			r.logger.Debug().Err(err).Str("container", resp.ID).Msg("container stream ended with error")
		}
	case <-time.After(r.killGrace):
		hijack.Close()
		<-copyDone
	}

	a.Stdout = stdout.String()
	a.Stderr = stderr.String()
	a.StdoutTruncated = stdout.Truncated()
	a.StderrTruncated = stderr.Truncated()
	a.ExitCode = int(status.StatusCode)

	if reason != "" {
		a.Outcome = reason
		return a
	}

	inspect, err := r.cli.ContainerInspect(context.Background(), resp.ID)
	if err != nil {
		return a.fail(fmt.Errorf("inspect container: %w", err))
	}
	switch {
	case inspect.State != nil && inspect.State.OOMKilled:
		a.Outcome = OutcomeMemoryExceeded
	case a.ExitCode > 128:
		// docker reports signal deaths as 128+n
		a.Outcome = OutcomeSignaled
		a.Signal = fmt.Sprintf("signal %d", a.ExitCode-128)
	default:
		a.Outcome = OutcomeExited
	}
	return a
}

func (r *DockerRunner) kill(id string) {
	if err := r.cli.ContainerKill(context.Background(), id, "SIGKILL"); err != nil {
		r.logger.Debug().Err(err).Str("container", id).Msg("container kill failed")
	}
}

// EnsureImage pulls img unless it is already present locally.
func (r *DockerRunner) EnsureImage(ctx context.Context, img string) error {
	_, _, err := r.cli.ImageInspectWithRaw(ctx, img)
	if err == nil {
		return nil
	}

	r.logger.Info().Str("image", img).Msg("pulling docker image")
	reader, err := r.cli.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", img, err)
	}
	defer reader.Close()

	// the pull only completes once the progress stream is drained
	_, _ = io.Copy(io.Discard, reader)

	r.logger.Info().Str("image", img).Msg("successfully pulled docker image")
	return nil
}
