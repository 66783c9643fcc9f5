package container

import (
	"context"
)

// Stack implements Engine: compose services go through the compose CLI,
// named containers through the Docker API.
type Stack struct {
	services   *ServiceManager
	containers *Manager
}

func NewStack(services *ServiceManager, containers *Manager) *Stack {
	return &Stack{
		services:   services,
		containers: containers,
	}
}

func (s *Stack) StartServices(ctx context.Context, services, opts []string) error {
	return s.services.Up(ctx, services, opts)
}

func (s *Stack) RunContainer(ctx context.Context, name, service string, opts []string) error {
	return s.services.Run(ctx, name, service, opts)
}

func (s *Stack) ServiceLogs(ctx context.Context, service string) (string, error) {
	return s.services.Logs(ctx, service)
}

func (s *Stack) ContainerLogs(ctx context.Context, name string) (string, error) {
	return s.containers.Logs(ctx, name)
}

func (s *Stack) StopContainer(ctx context.Context, name string) error {
	return s.containers.Stop(ctx, name)
}

func (s *Stack) RemoveContainer(ctx context.Context, name string) error {
	return s.containers.Remove(ctx, name)
}

func (s *Stack) DownServices(ctx context.Context) error {
	return s.services.Down(ctx)
}

var _ Engine = (*Stack)(nil)
