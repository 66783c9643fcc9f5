package container

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	dockerevents "github.com/docker/docker/api/types/events"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerAPI is the subset of the Docker client used by this package.
// *client.Client satisfies it.
type DockerAPI interface {
	ContainerLogs(ctx context.Context, container string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	Events(ctx context.Context, options dockerevents.ListOptions) (<-chan dockerevents.Message, <-chan error)
}

// Manager handles individually named containers through the Docker API.
type Manager struct {
	docker      DockerAPI
	gracePeriod time.Duration
	logger      *slog.Logger
}

func NewManager(docker DockerAPI, gracePeriod time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		docker:      docker,
		gracePeriod: gracePeriod,
		logger:      logger,
	}
}

// Logs returns the accumulated stdout and stderr of the named container as
// one string, the equivalent of `docker logs name 2>&1`.
func (m *Manager) Logs(ctx context.Context, name string) (string, error) {
	info, err := m.docker.ContainerInspect(ctx, name)
	if err != nil {
		return "", fmt.Errorf("inspect container %q: %w", name, err)
	}

	rc, err := m.docker.ContainerLogs(ctx, name, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("logs for container %q: %w", name, err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	// TTY containers stream raw output; others are multiplexed.
	if info.Config != nil && info.Config.Tty {
		_, err = io.Copy(&buf, rc)
	} else {
		_, err = stdcopy.StdCopy(&buf, &buf, rc)
	}
	if err != nil {
		return buf.String(), fmt.Errorf("read logs for container %q: %w", name, err)
	}
	return buf.String(), nil
}

// Stop stops the named container. A container that no longer exists counts
// as stopped.
func (m *Manager) Stop(ctx context.Context, name string) error {
	m.logger.Info("stopping container", "container", name, "grace_period", m.gracePeriod)
	secs := int(m.gracePeriod.Seconds())
	opts := container.StopOptions{Timeout: &secs}
	if err := m.docker.ContainerStop(ctx, name, opts); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("stop container %q: %w", name, err)
	}
	return nil
}

// Remove deletes the named container. Auto-removed containers are already
// gone, which is not an error.
func (m *Manager) Remove(ctx context.Context, name string) error {
	m.logger.Info("removing container", "container", name)
	if err := m.docker.ContainerRemove(ctx, name, container.RemoveOptions{}); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove container %q: %w", name, err)
	}
	return nil
}

// Status returns the state of the named container, e.g. "running" or
// "exited". A missing container is an errdefs not-found error.
func (m *Manager) Status(ctx context.Context, name string) (string, error) {
	info, err := m.docker.ContainerInspect(ctx, name)
	if err != nil {
		return "", fmt.Errorf("inspect container %q: %w", name, err)
	}
	if info.ContainerJSONBase == nil || info.State == nil {
		return "unknown", nil
	}
	return info.State.Status, nil
}
