// Package setup provisions a project: compose file, images, database and
// application bootstrap.
package setup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/shlex"

	"stackup/internal/compose"
	"stackup/internal/config"
	"stackup/internal/container"
	"stackup/internal/envfile"
	"stackup/internal/events"
)

const (
	lockName = ".stackup.lock"

	// InitContainer is the one-off db container running the init scripts.
	InitContainer = "initdb"

	dbInitPhrase  = "MariaDB init process done. Ready for start up."
	dbReadyPhrase = "mariadb: ready for connections."

	gitignoreAppend = "\n/config/database*\n"
)

// Compose is the subset of the compose CLI the pipeline drives directly.
type Compose interface {
	Build(ctx context.Context) error
	Exec(ctx context.Context, service string, stdin io.Reader, command ...string) error
}

// Pipeline runs the setup steps for one project directory.
type Pipeline struct {
	cfg     *config.Config
	dir     string
	runner  *container.Runner
	compose Compose
	emitter *events.Emitter
	logger  *slog.Logger
	out     io.Writer
	watcher *container.Watcher

	now          func() time.Time
	geteuid      func() int
	getuid       func() int
	dockerAccess func() error
	pause        func(ctx context.Context, d time.Duration) error
}

func New(cfg *config.Config, dir string, runner *container.Runner, compose Compose, emitter *events.Emitter, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		cfg:          cfg,
		dir:          dir,
		runner:       runner,
		compose:      compose,
		emitter:      emitter,
		logger:       logger.With("component", "setup"),
		out:          os.Stdout,
		now:          time.Now,
		geteuid:      os.Geteuid,
		getuid:       os.Getuid,
		dockerAccess: checkDockerAccess,
		pause:        pause,
	}
}

// SetOutput redirects the user-facing messages.
func (p *Pipeline) SetOutput(w io.Writer) {
	p.out = w
}

// SetWatcher attaches a Docker event watcher that runs while Run does.
func (p *Pipeline) SetWatcher(w *container.Watcher) {
	p.watcher = w
}

func (p *Pipeline) path(elem ...string) string {
	return filepath.Join(append([]string{p.dir}, elem...)...)
}

// Run executes every setup step in order and stops at the first failure.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.dockerAccess(); err != nil {
		return err
	}

	lock := flock.New(p.path(lockName))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock project: %w", err)
	}
	if !locked {
		return ErrLocked
	}
	defer lock.Unlock()

	if err := checkNoCompose(p.path(p.cfg.Files.Compose)); err != nil {
		return err
	}

	if p.watcher != nil {
		wctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go p.watcher.Watch(wctx)
	}

	uid, err := p.ownerUID()
	if err != nil {
		return fmt.Errorf("resolve project owner: %w", err)
	}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"directories", func(context.Context) error { return p.createDirs(uid) }},
		{"compose", func(context.Context) error { return p.writeCompose(uid) }},
		{"build", p.compose.Build},
		{"db-init", p.initDatabase},
		{"app-init", p.initApp},
	}
	for _, step := range steps {
		start := time.Now()
		p.logger.Info("setup step", "step", step.name)
		if err := step.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
		p.emitter.Emit(events.Event{
			Type:   events.SetupStep,
			Target: step.name,
			Fields: map[string]string{"duration": time.Since(start).String()},
		})
	}

	p.finish()
	return nil
}

// ownerUID is the uid that should own generated files: the invoking user,
// or the owner of the project directory when running as root.
func (p *Pipeline) ownerUID() (int, error) {
	if p.geteuid() != 0 {
		return p.getuid(), nil
	}
	return fileOwner(p.dir)
}

func (p *Pipeline) createDirs(uid int) error {
	for _, dir := range []string{p.cfg.Files.Webroot, p.cfg.Files.DatabaseDir} {
		path := p.path(dir)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return err
		}
		if p.geteuid() == 0 {
			if err := chownUser(path, uid); err != nil {
				return fmt.Errorf("chown %s: %w", path, err)
			}
		}
	}
	return nil
}

func (p *Pipeline) writeCompose(uid int) error {
	data, err := compose.Render(p.cfg, uid)
	if err != nil {
		return err
	}
	return os.WriteFile(p.path(p.cfg.Files.Compose), data, 0o644)
}

// initDatabase creates users and databases through a one-off db container
// that picks up the init SQL. An existing data directory is left alone.
func (p *Pipeline) initDatabase(ctx context.Context) error {
	dataDir := p.path(p.cfg.Files.DatabaseDir)
	if exists(filepath.Join(dataDir, "mysql")) {
		p.logger.Warn("database already present, skipping initialization", "dir", dataDir)
		fmt.Fprintln(p.out, "Skipping database initialization as database is already present")
		return nil
	}

	sql, err := DBInitSQL(p.cfg)
	if err != nil {
		return err
	}
	initDir, err := filepath.Abs(p.path(p.cfg.Files.InitDir))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(initDir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(initDir, "db-init.sql"), sql, 0o644); err != nil {
		return err
	}

	fmt.Fprintln(p.out, "Initializing Database")
	_, err = p.runner.Run(ctx, container.Request{
		Services:      []string{compose.ServiceDB},
		ContainerName: InitContainer,
		Phrases:       []string{dbInitPhrase},
		Options: []string{
			"-v", initDir + ":/docker-entrypoint-initdb.d",
			"-e", "MARIADB_ROOT_PASSWORD=" + p.cfg.Credentials.RootPassword,
			"-e", "MARIADB_INITDB_SKIP_TZINFO=1",
		},
	}, func(ctx context.Context) error {
		// mysqld restarts once after running the init scripts
		if err := p.pause(ctx, time.Second); err != nil {
			return err
		}
		fmt.Fprintln(p.out, "Database created")
		return nil
	})
	return err
}

// initApp brings up db and app, installs or bootstraps the application,
// points its .env at the project services and seeds the database.
func (p *Pipeline) initApp(ctx context.Context) error {
	_, err := p.runner.Run(ctx, container.Request{
		Services: []string{compose.ServiceDB, compose.ServiceApp},
		Phrases:  []string{dbReadyPhrase},
	}, func(ctx context.Context) error {
		if exists(p.path(p.cfg.Files.Webroot, "app")) {
			if err := p.execCommand(ctx, p.cfg.App.InstallCommand); err != nil {
				return err
			}
		} else if err := p.bootstrap(ctx); err != nil {
			return err
		}

		if err := p.writeEnv(); err != nil {
			return err
		}
		return p.execCommand(ctx, p.cfg.App.SeedCommand)
	})
	return err
}

func (p *Pipeline) execCommand(ctx context.Context, command string) error {
	args, err := shlex.Split(command)
	if err != nil {
		return fmt.Errorf("parse command %q: %w", command, err)
	}
	if len(args) == 0 {
		return nil
	}
	return p.compose.Exec(ctx, compose.ServiceApp, nil, args...)
}

// bootstrap pipes the bootstrap script into bash inside the app container,
// with the version marker replaced by the configured framework version.
func (p *Pipeline) bootstrap(ctx context.Context) error {
	script, err := os.ReadFile(p.path(p.cfg.App.BootstrapScript))
	if err != nil {
		return fmt.Errorf("read bootstrap script: %w", err)
	}
	version := " "
	if v := p.cfg.FrameworkVersion; v != "" {
		version = ":" + v + " "
	}
	body := strings.Replace(string(script), p.cfg.App.VersionMarker, version, 1)

	if err := p.compose.Exec(ctx, compose.ServiceApp, strings.NewReader(body), "bash"); err != nil {
		return err
	}

	f, err := os.OpenFile(p.path(p.cfg.Files.Webroot, ".gitignore"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(gitignoreAppend); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (p *Pipeline) writeEnv() error {
	path, err := envfile.Prepare(p.path(p.cfg.Files.Webroot), p.now())
	if err != nil {
		if errors.Is(err, envfile.ErrNoEnvFile) {
			p.logger.Warn("no env file to rewrite", "error", err)
			return nil
		}
		return err
	}
	changed, err := envfile.Rewrite(path, EnvValues(p.cfg))
	if err != nil {
		return err
	}
	p.logger.Info("env file rewritten", "path", path, "keys", changed)
	return nil
}

// EnvValues are the .env settings pointing the application at the project
// services.
func EnvValues(cfg *config.Config) map[string]string {
	a := cfg.Addresses
	return map[string]string{
		"APP_NAME":      `"` + cfg.Project + `"`,
		"APP_URL":       "http://" + a.Web.String(),
		"DB_CONNECTION": "mysql",
		"DB_HOST":       a.DB.String(),
		"DB_PORT":       "3306",
		"DB_DATABASE":   cfg.Database.Name + "_development",
		"DB_USERNAME":   cfg.Database.User,
		"DB_PASSWORD":   cfg.Credentials.UserPassword,
		"REDIS_HOST":    a.Redis.String(),
	}
}

func (p *Pipeline) finish() {
	httpURL, httpsURL := p.cfg.AccessURLs()
	fmt.Fprintln(p.out, "setup finished, you may now start docker by running: 'docker compose up'")
	fmt.Fprintf(p.out, "Access server by: %s or %s\n", httpURL, httpsURL)
	if p.cfg.ForwardedPort == 0 {
		fmt.Fprintf(p.out, "Add to /etc/hosts:\n%s\n", p.cfg.HostsLine())
	}
}

func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
