// Package dockerdriver is the thin wrapper over the container runtime
// (component A): create, exec-with-timeout, restart, and remove. It is
// the only package that imports the Docker Engine SDK directly.
package dockerdriver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"sandboxd/internal/config"
)

// ErrTimeout is returned by Exec when the command did not finish before
// the supplied timeout elapsed.
var ErrTimeout = errors.New("dockerdriver: command timed out")

// ExecResult is the outcome of a single command execution inside a container.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Elapsed  time.Duration
}

// Driver wraps the Docker Engine SDK client with the fixed parameters
// this sandbox service always applies to its containers.
type Driver struct {
	cli    *client.Client
	params config.ContainerParams
}

// New builds a Driver from the ambient Docker host (DOCKER_HOST / the
// default unix socket) negotiated to the daemon's API version.
func New(params config.ContainerParams) (*Driver, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("dockerdriver: client init: %w", err)
	}
	return &Driver{cli: cli, params: params}, nil
}

// Close releases the underlying SDK client's connections.
func (d *Driver) Close() error {
	return d.cli.Close()
}

// Create starts a new container named `name`, bind-mounting its private
// writable volume at /home/docker and the shared read-only libraries
// volume at /utils/libs, with no network access, tty enabled, and a
// core-dump ulimit of zero, per the fixed container parameters.
func (d *Driver) Create(ctx context.Context, name, hostEnvPath string) (string, error) {
	zero := int64(0)
	mounts := []mount.Mount{
		{Type: mount.TypeBind, Source: hostEnvPath, Target: "/home/docker"},
	}
	if d.params.LibrariesMount != "" {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   d.params.LibrariesMount,
			Target:   "/utils/libs",
			ReadOnly: true,
		})
	}

	hostCfg := &container.HostConfig{
		NetworkMode: "none",
		Mounts:      mounts,
		Resources: container.Resources{
			CPUPeriod:  d.params.CPUPeriod,
			CPUShares:  d.params.CPUShares,
			CPUQuota:   d.params.CPUQuota,
			CpusetCpus: d.params.CPUSetCPUs,
			Memory:     d.params.MemLimitBytes,
			MemorySwap: d.params.MemSwapBytes,
			PidsLimit:  &d.params.PidsLimit,
			Ulimits: []*container.Ulimit{
				{Name: "core", Soft: zero, Hard: zero},
			},
		},
	}

	created, err := d.cli.ContainerCreate(ctx, &container.Config{
		Image:        d.params.Image,
		Tty:          true,
		OpenStdin:    true,
		AttachStdout: true,
		AttachStderr: true,
	}, hostCfg, &network.NetworkingConfig{}, nil, name)
	if err != nil {
		return "", fmt.Errorf("dockerdriver: create %s: %w", name, err)
	}

	if err := d.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("dockerdriver: start %s: %w", name, err)
	}
	return created.ID, nil
}

// Exec runs argv inside the named container with the given env vars,
// returning ErrTimeout if it does not complete within timeout.
func (d *Driver) Exec(ctx context.Context, containerID string, argv []string, environ map[string]string, timeout time.Duration) (ExecResult, error) {
	start := time.Now()
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	envList := make([]string, 0, len(environ))
	for k, v := range environ {
		envList = append(envList, k+"="+v)
	}

	created, err := d.cli.ContainerExecCreate(execCtx, containerID, container.ExecOptions{
		Cmd:          argv,
		Env:          envList,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ExecResult{}, fmt.Errorf("dockerdriver: exec create: %w", err)
	}

	attach, err := d.cli.ContainerExecAttach(execCtx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, fmt.Errorf("dockerdriver: exec attach: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	copyDone := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		copyDone <- copyErr
	}()

	select {
	case <-execCtx.Done():
		return ExecResult{Elapsed: time.Since(start)}, ErrTimeout
	case copyErr := <-copyDone:
		if copyErr != nil {
			return ExecResult{Elapsed: time.Since(start)}, fmt.Errorf("dockerdriver: read exec output: %w", copyErr)
		}
	}

	inspect, err := d.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return ExecResult{Elapsed: time.Since(start)}, fmt.Errorf("dockerdriver: exec inspect: %w", err)
	}

	return ExecResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Elapsed:  time.Since(start),
	}, nil
}

// Restart restarts the container in place, the fastest path to a clean
// process table between two holders of the same slot.
func (d *Driver) Restart(ctx context.Context, containerID string) error {
	timeout := 5
	if err := d.cli.ContainerRestart(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("dockerdriver: restart %s: %w", containerID, err)
	}
	return nil
}

// Remove force-removes a container.
func (d *Driver) Remove(ctx context.Context, containerID string) error {
	if err := d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("dockerdriver: remove %s: %w", containerID, err)
	}
	return nil
}

// ListByImage lists all containers (stopped ones included) created from
// the given image, used by the pool to purge stale containers on init.
func (d *Driver) ListByImage(ctx context.Context, image string) ([]string, error) {
	containers, err := d.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("ancestor", image)),
	})
	if err != nil {
		return nil, fmt.Errorf("dockerdriver: list by image %s: %w", image, err)
	}
	ids := make([]string, 0, len(containers))
	for _, c := range containers {
		ids = append(ids, c.ID)
	}
	return ids, nil
}
