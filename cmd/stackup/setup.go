package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/google/shlex"
	"github.com/spf13/cobra"

	"stackup/internal/container"
	"stackup/internal/setup"
)

func setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Write the compose file, build images, initialise database and application",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				p := setup.New(a.cfg, a.dir, a.runner(cmd.ErrOrStderr()), a.services, a.emitter, a.logger)
				p.SetOutput(cmd.OutOrStdout())
				p.SetWatcher(setup.NewEventWatcher(a.docker, a.cfg.Project, a.emitter, a.logger))
				return p.Run(ctx)
			})
		},
	}
}

type waitFlags struct {
	services      []string
	phrases       []string
	containerName string
	options       string
	timeout       time.Duration
}

func waitCmd() *cobra.Command {
	var f waitFlags
	cmd := &cobra.Command{
		Use:   "wait [flags] [-- command args...]",
		Short: "Start services, wait for their readiness phrases, run a command, tear down",
		Long: `Starts the given services (or a one-off named container), polls their logs
for the readiness phrases, runs the command once they are ready or the timeout
passed, and tears everything down again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.request()
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				code, err := container.Within(ctx, a.runner(cmd.ErrOrStderr()), req, func(ctx context.Context) (int, error) {
					return runCommand(ctx, cmd, a.dir, args)
				})
				if err != nil {
					return err
				}
				if code != 0 {
					return fmt.Errorf("command exited with status %d", code)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&f.services, "service", nil, "service to start (repeatable)")
	cmd.Flags().StringArrayVar(&f.phrases, "phrase", nil, "readiness phrase for the service at the same position (repeatable)")
	cmd.Flags().StringVar(&f.containerName, "container-name", "", "run a single service as a one-off container with this name")
	cmd.Flags().StringVar(&f.options, "options", "", "extra options for docker compose up/run, shell-quoted")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "readiness timeout (default from config)")
	return cmd
}

func (f waitFlags) request() (container.Request, error) {
	opts, err := shlex.Split(f.options)
	if err != nil {
		return container.Request{}, fmt.Errorf("parse --options: %w", err)
	}
	return container.Request{
		Services:      f.services,
		ContainerName: f.containerName,
		Phrases:       f.phrases,
		Options:       opts,
		Timeout:       f.timeout,
	}, nil
}

// runCommand runs args in dir and returns its exit status. No command is
// a no-op.
func runCommand(ctx context.Context, cmd *cobra.Command, dir string, args []string) (int, error) {
	if len(args) == 0 {
		return 0, nil
	}
	c := exec.CommandContext(ctx, args[0], args[1:]...)
	c.Dir = dir
	c.Stdin = os.Stdin
	c.Stdout = cmd.OutOrStdout()
	c.Stderr = cmd.ErrOrStderr()

	err := c.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return 0, err
	}
	return 0, nil
}
