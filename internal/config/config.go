package config

import (
	"fmt"
	"net/netip"
	"os"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is built once by Load and treated as read-only afterwards; pass
// it by pointer to whoever needs it.
type Config struct {
	Project          string      `yaml:"project"`
	HostName         string      `yaml:"host_name"`
	Network          string      `yaml:"network"`
	ForwardedPort    int         `yaml:"forwarded_port"`
	PHPVersion       string      `yaml:"php_version"`
	FrameworkVersion string      `yaml:"framework_version"`
	Timezone         string      `yaml:"timezone"`
	Credentials      Credentials `yaml:"credentials"`
	Readiness        Readiness   `yaml:"readiness"`
	App              App         `yaml:"app"`
	Files            Files       `yaml:"files"`
	Notify           Notify      `yaml:"notify"`
	Log              Log         `yaml:"log"`
	MetricsFile      string      `yaml:"metrics_file"`

	// Derived by Load.
	Database  Database  `yaml:"-"`
	Addresses Addresses `yaml:"-"`
}

type Credentials struct {
	RootPassword     string `yaml:"db_root_password"`
	UserPassword     string `yaml:"db_user_password"`
	ProdUserPassword string `yaml:"db_prod_user_password"`
}

type Readiness struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	Timeout         time.Duration `yaml:"timeout"`
	TeardownTimeout time.Duration `yaml:"teardown_timeout"`
	StopGracePeriod time.Duration `yaml:"stop_grace_period"`
}

type App struct {
	BootstrapScript string `yaml:"bootstrap_script"`
	VersionMarker   string `yaml:"version_marker"`
	InstallCommand  string `yaml:"install_command"`
	SeedCommand     string `yaml:"seed_command"`
}

type Files struct {
	Compose       string `yaml:"compose"`
	AppDockerfile string `yaml:"app_dockerfile"`
	WebDockerfile string `yaml:"web_dockerfile"`
	Webroot       string `yaml:"webroot"`
	DatabaseDir   string `yaml:"database_dir"`
	InitDir       string `yaml:"init_dir"`
	NginxConfDir  string `yaml:"nginx_conf_dir"`
}

type Notify struct {
	NATSURL       string `yaml:"nats_url"`
	Token         string `yaml:"token"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type Log struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Database holds the names derived from the project name.
type Database struct {
	Name     string
	User     string
	ProdUser string
}

// Addresses is the fixed IPv4 plan of the project network: gateway first,
// then one address per service in declaration order.
type Addresses struct {
	Subnet     netip.Prefix
	Gateway    netip.Addr
	DB         netip.Addr
	App        netip.Addr
	Web        netip.Addr
	Redis      netip.Addr
	PhpMyAdmin netip.Addr
}

// hostOS decides the forwarded-port default; bridge addresses are only
// reachable from the host on linux.
var hostOS = runtime.GOOS

// maxUserLen is the longest database user name derived from the project.
const maxUserLen = 17

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse builds a Config from YAML, applying defaults, validation and
// derivation exactly like Load.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	if err := derive(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Project == "" {
		cfg.Project = "laravelproject"
	}
	if cfg.HostName == "" {
		cfg.HostName = cfg.Project + ".test"
	}
	if cfg.Network == "" {
		cfg.Network = "172.22.0.0/24"
	}
	if cfg.ForwardedPort == 0 && hostOS != "linux" {
		cfg.ForwardedPort = 3000
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Asia/Makassar"
	}

	c := &cfg.Credentials
	if c.RootPassword == "" {
		c.RootPassword = "12345"
	}
	if c.UserPassword == "" {
		c.UserPassword = "123456"
	}
	if c.ProdUserPassword == "" {
		c.ProdUserPassword = "1234567"
	}

	r := &cfg.Readiness
	if r.PollInterval == 0 {
		r.PollInterval = 500 * time.Millisecond
	}
	if r.Timeout == 0 {
		r.Timeout = 20 * time.Second
	}
	if r.TeardownTimeout == 0 {
		r.TeardownTimeout = 60 * time.Second
	}
	if r.StopGracePeriod == 0 {
		r.StopGracePeriod = 10 * time.Second
	}

	a := &cfg.App
	if a.BootstrapScript == "" {
		a.BootstrapScript = "env/laravel_new_commands.sh"
	}
	if a.VersionMarker == "" {
		a.VersionMarker = "## laravel version ##"
	}
	if a.InstallCommand == "" {
		a.InstallCommand = "composer install"
	}
	if a.SeedCommand == "" {
		a.SeedCommand = "php artisan migrate:fresh"
	}

	f := &cfg.Files
	if f.Compose == "" {
		f.Compose = "docker-compose.yml"
	}
	if f.AppDockerfile == "" {
		f.AppDockerfile = "Dockerfile-app"
	}
	if f.WebDockerfile == "" {
		f.WebDockerfile = "Dockerfile-web"
	}
	if f.Webroot == "" {
		f.Webroot = "webroot"
	}
	if f.DatabaseDir == "" {
		f.DatabaseDir = "database"
	}
	if f.InitDir == "" {
		f.InitDir = "db-init"
	}
	if f.NginxConfDir == "" {
		f.NginxConfDir = "docker-compose/nginx"
	}

	if cfg.Notify.SubjectPrefix == "" {
		cfg.Notify.SubjectPrefix = "stackup"
	}

	l := &cfg.Log
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "json"
	}
	if l.MaxSizeMB == 0 {
		l.MaxSizeMB = 10
	}
	if l.MaxBackups == 0 {
		l.MaxBackups = 3
	}
	if l.MaxAgeDays == 0 {
		l.MaxAgeDays = 28
	}
}

func derive(cfg *Config) error {
	name := strings.ReplaceAll(cfg.Project, "-", "_")
	user := name
	if len(user) > maxUserLen {
		user = user[:maxUserLen]
	}
	cfg.Database = Database{
		Name:     name,
		User:     user,
		ProdUser: user + "_p",
	}

	subnet, err := netip.ParsePrefix(cfg.Network)
	if err != nil {
		return fmt.Errorf("config: invalid network %q: %w", cfg.Network, err)
	}
	subnet = subnet.Masked()

	// gateway, db, app, web, redis, phpmyadmin
	addrs := make([]netip.Addr, 6)
	next := subnet.Addr()
	for i := range addrs {
		next = next.Next()
		if !subnet.Contains(next) {
			return fmt.Errorf("config: network %q too small for %d addresses", cfg.Network, len(addrs))
		}
		addrs[i] = next
	}

	cfg.Addresses = Addresses{
		Subnet:     subnet,
		Gateway:    addrs[0],
		DB:         addrs[1],
		App:        addrs[2],
		Web:        addrs[3],
		Redis:      addrs[4],
		PhpMyAdmin: addrs[5],
	}
	return nil
}

// NetworkName is the compose network the services are attached to.
func (c *Config) NetworkName() string {
	return c.Project + "_net"
}

// AppUser is the unprivileged user created inside the app image.
func (c *Config) AppUser() string {
	return c.Project + "_user"
}

// AccessURLs returns the http and https URLs under which the web server is
// reachable from the host.
func (c *Config) AccessURLs() (string, string) {
	if c.ForwardedPort > 0 {
		return fmt.Sprintf("http://localhost:%d", c.ForwardedPort), fmt.Sprintf("https://localhost:%d", c.ForwardedPort+1)
	}
	return "http://" + c.Addresses.Web.String(), "https://" + c.Addresses.Web.String()
}

// HostsLine is the /etc/hosts entry mapping HostName to the web server.
func (c *Config) HostsLine() string {
	return fmt.Sprintf("%-15s %s # Docker Project %s", c.Addresses.Web, c.HostName, c.Project)
}
