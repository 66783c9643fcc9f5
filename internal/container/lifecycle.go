package container

import (
	"context"
)

// Engine abstracts the container engine operations driven by Runner.
// Implemented by Stack (compose CLI for services, Docker API for containers).
type Engine interface {
	StartServices(ctx context.Context, services, opts []string) error
	RunContainer(ctx context.Context, name, service string, opts []string) error
	ServiceLogs(ctx context.Context, service string) (string, error)
	ContainerLogs(ctx context.Context, name string) (string, error)
	StopContainer(ctx context.Context, name string) error
	RemoveContainer(ctx context.Context, name string) error
	DownServices(ctx context.Context) error
}
