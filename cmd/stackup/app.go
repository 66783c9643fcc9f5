package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/docker/docker/client"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"stackup/internal/config"
	"stackup/internal/container"
	"stackup/internal/events"
	"stackup/internal/logging"
	"stackup/internal/metrics"
	"stackup/internal/notify"
)

// app holds what a command touching Docker needs.
type app struct {
	cfg       *config.Config
	dir       string
	logger    *slog.Logger
	logCloser io.Closer
	emitter   *events.Emitter
	docker    *client.Client
	publisher *notify.Publisher

	services   *container.ServiceManager
	containers *container.Manager
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	dir, err := projectDir()
	if err != nil {
		return nil, err
	}

	logger, closer, err := logging.New(projectLog(cfg.Log, dir), cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	logger = logger.With("run_id", runID, "project", cfg.Project)
	slog.SetDefault(logger)

	a := &app{
		cfg:       cfg,
		dir:       dir,
		logger:    logger,
		logCloser: closer,
		emitter:   events.NewEmitter(runID, logger),
	}
	metrics.RegisterEventHandler(a.emitter)

	if cfg.Notify.NATSURL != "" {
		pub, err := notify.Connect(cfg.Notify, cfg.Project, "stackup", logger)
		if err != nil {
			// Event forwarding is optional.
			logger.Warn("event forwarding disabled", "error", err)
		} else {
			a.publisher = pub
			pub.Forward(a.emitter)
		}
	}

	docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		a.close()
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	a.docker = docker

	a.services = container.NewServiceManager(container.ComposeConfig{
		Dir:     dir,
		File:    cfg.Files.Compose,
		Project: cfg.Project,
	}, logger)
	a.services.SetOutput(cmd.OutOrStdout(), cmd.ErrOrStderr())
	a.containers = container.NewManager(docker, cfg.Readiness.StopGracePeriod, logger)
	return a, nil
}

func (a *app) runner(progress io.Writer) *container.Runner {
	return container.NewRunner(container.NewStack(a.services, a.containers), container.RunnerConfig{
		PollInterval:    a.cfg.Readiness.PollInterval,
		Timeout:         a.cfg.Readiness.Timeout,
		TeardownTimeout: a.cfg.Readiness.TeardownTimeout,
		Progress:        progress,
		OnFatal:         a.fatal,
	}, a.emitter, a.logger)
}

// fatal ends the process on an environment conflict after flushing what
// close would flush.
func (a *app) fatal(err error) {
	a.logger.Error("fatal environment conflict", "error", err)
	fmt.Fprintln(os.Stderr, err)
	a.close()
	os.Exit(1)
}

func (a *app) close() {
	path := metricsFile
	if path == "" && a.cfg.MetricsFile != "" {
		path = inProject(a.dir, a.cfg.MetricsFile)
	}
	if path != "" {
		if err := metrics.WriteTextfile(path); err != nil {
			a.logger.Warn("failed to write metrics file", "path", path, "error", err)
		}
	}
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.docker != nil {
		a.docker.Close()
	}
	a.logCloser.Close()
}

// withApp runs fn with an app and a context cancelled on SIGINT or SIGTERM.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signalContext(cmd.Context())
	defer stop()
	return fn(ctx, a)
}

// projectLog resolves a relative log file against the project directory.
func projectLog(cfg config.Log, dir string) config.Log {
	if cfg.File != "" {
		cfg.File = inProject(dir, cfg.File)
	}
	return cfg
}

func inProject(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}
