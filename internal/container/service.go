package container

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// ComposeConfig locates the compose project driven by ServiceManager.
type ComposeConfig struct {
	Binary  string // defaults to "docker"
	Dir     string // working directory of every invocation
	File    string // compose file, passed with -f when set
	Project string // project name, passed with -p when set
}

// ServiceManager manages compose services by shelling out to
// `docker compose`.
type ServiceManager struct {
	cfg    ComposeConfig
	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger

	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

func NewServiceManager(cfg ComposeConfig, logger *slog.Logger) *ServiceManager {
	if cfg.Binary == "" {
		cfg.Binary = "docker"
	}
	return &ServiceManager{
		cfg:     cfg,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
		logger:  logger.With("component", "compose"),
		command: exec.CommandContext,
	}
}

// SetOutput redirects the output of foreground and background commands.
func (s *ServiceManager) SetOutput(stdout, stderr io.Writer) {
	s.stdout = stdout
	s.stderr = stderr
}

func (s *ServiceManager) args(sub ...string) []string {
	args := []string{"compose"}
	if s.cfg.File != "" {
		args = append(args, "-f", s.cfg.File)
	}
	if s.cfg.Project != "" {
		args = append(args, "-p", s.cfg.Project)
	}
	return append(args, sub...)
}

func (s *ServiceManager) cmd(ctx context.Context, sub ...string) *exec.Cmd {
	c := s.command(ctx, s.cfg.Binary, s.args(sub...)...)
	c.Dir = s.cfg.Dir
	return c
}

// Up brings the services up detached. The command runs in the background;
// Up returns once the process has been launched.
func (s *ServiceManager) Up(ctx context.Context, services, opts []string) error {
	sub := append([]string{"up", "-d"}, opts...)
	sub = append(sub, services...)
	return s.background(ctx, sub)
}

// Run launches a one-off, auto-removed, named container for service in the
// background.
func (s *ServiceManager) Run(ctx context.Context, name, service string, opts []string) error {
	sub := append([]string{"run", "--rm", "--name", name, "-d"}, opts...)
	sub = append(sub, service)
	return s.background(ctx, sub)
}

func (s *ServiceManager) background(ctx context.Context, sub []string) error {
	// The launched process must outlive a cancelled caller; teardown
	// handles the containers it creates.
	c := s.cmd(context.WithoutCancel(ctx), sub...)
	c.Stdout = s.stdout
	c.Stderr = s.stderr

	s.logger.Info("launching compose command", "args", strings.Join(sub, " "))
	if err := c.Start(); err != nil {
		return fmt.Errorf("launch compose %s: %w", sub[0], err)
	}

	go func() {
		if err := c.Wait(); err != nil {
			s.logger.Warn("compose command exited with error", "args", strings.Join(sub, " "), "error", err)
		}
	}()
	return nil
}

// Logs returns the accumulated combined log output of a service.
func (s *ServiceManager) Logs(ctx context.Context, service string) (string, error) {
	out, err := s.cmd(ctx, "logs", service).CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("compose logs %q: %w", service, err)
	}
	return string(out), nil
}

// Down stops and removes every service of the project.
func (s *ServiceManager) Down(ctx context.Context) error {
	return s.foreground(ctx, nil, "down")
}

// Build builds the images of the project.
func (s *ServiceManager) Build(ctx context.Context) error {
	return s.foreground(ctx, nil, "build")
}

// Exec runs command inside the running service container without a TTY,
// feeding it stdin when non-nil.
func (s *ServiceManager) Exec(ctx context.Context, service string, stdin io.Reader, command ...string) error {
	sub := append([]string{"exec", "-T", service}, command...)
	return s.foreground(ctx, stdin, sub...)
}

func (s *ServiceManager) foreground(ctx context.Context, stdin io.Reader, sub ...string) error {
	c := s.cmd(ctx, sub...)
	c.Stdin = stdin
	c.Stdout = s.stdout
	c.Stderr = s.stderr

	s.logger.Info("running compose command", "args", strings.Join(sub, " "))
	if err := c.Run(); err != nil {
		return fmt.Errorf("compose %s: %w", sub[0], err)
	}
	return nil
}
