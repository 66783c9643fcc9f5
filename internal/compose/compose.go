// Package compose renders the docker-compose.yml of a project.
package compose

import (
	"bytes"
	"fmt"
	"path"
	"strconv"

	"github.com/docker/go-connections/nat"
	"gopkg.in/yaml.v3"

	"stackup/internal/config"
)

// Service names used in the rendered file.
const (
	ServiceDB         = "db"
	ServiceApp        = "app"
	ServiceWeb        = "web"
	ServiceRedis      = "redis"
	ServicePhpMyAdmin = "phpmyadmin"
)

type File struct {
	Services map[string]Service `yaml:"services"`
	Networks map[string]Network `yaml:"networks"`
	Volumes  map[string]Volume  `yaml:"volumes,omitempty"`
}

type Service struct {
	Image         string                    `yaml:"image,omitempty"`
	ContainerName string                    `yaml:"container_name,omitempty"`
	Build         *Build                    `yaml:"build,omitempty"`
	Command       string                    `yaml:"command,omitempty"`
	User          string                    `yaml:"user,omitempty"`
	Restart       string                    `yaml:"restart,omitempty"`
	WorkingDir    string                    `yaml:"working_dir,omitempty"`
	Volumes       []string                  `yaml:"volumes,omitempty"`
	Environment   map[string]string         `yaml:"environment,omitempty"`
	DependsOn     []string                  `yaml:"depends_on,omitempty"`
	Ports         []string                  `yaml:"ports,omitempty"`
	Networks      map[string]ServiceNetwork `yaml:"networks,omitempty"`
}

type Build struct {
	Args       map[string]string `yaml:"args,omitempty"`
	Context    string            `yaml:"context"`
	Dockerfile string            `yaml:"dockerfile"`
}

type ServiceNetwork struct {
	IPv4Address string `yaml:"ipv4_address"`
}

type Network struct {
	Driver string `yaml:"driver"`
	IPAM   IPAM   `yaml:"ipam"`
}

type IPAM struct {
	Driver string       `yaml:"driver"`
	Config []IPAMConfig `yaml:"config"`
}

type IPAMConfig struct {
	Subnet string `yaml:"subnet"`
}

type Volume struct {
	Driver string `yaml:"driver"`
}

// New assembles the compose model for cfg. uid is the host user owning
// the project files; it is baked into the app image and runs the database.
func New(cfg *config.Config, uid int) (*File, error) {
	net := cfg.NetworkName()
	attach := func(addr string) map[string]ServiceNetwork {
		return map[string]ServiceNetwork{net: {IPv4Address: addr}}
	}
	a := cfg.Addresses
	uidStr := strconv.Itoa(uid)

	appArgs := map[string]string{
		"uid":  uidStr,
		"user": cfg.AppUser(),
	}
	if cfg.PHPVersion != "" {
		appArgs["php_version"] = cfg.PHPVersion
	}

	web := Service{
		Image:         "nginx:latest",
		ContainerName: cfg.Project + "-web",
		Build: &Build{
			Args:       map[string]string{"hostname": cfg.HostName},
			Context:    "./",
			Dockerfile: cfg.Files.WebDockerfile,
		},
		Restart:   "unless-stopped",
		Volumes:   []string{"./:/var/www", "./" + path.Clean(cfg.Files.NginxConfDir) + ":/etc/nginx/conf.d/"},
		DependsOn: []string{ServiceApp},
		Networks:  attach(a.Web.String()),
	}
	if cfg.ForwardedPort > 0 {
		ports, err := portSpecs(cfg.ForwardedPort)
		if err != nil {
			return nil, err
		}
		web.Ports = ports
	}

	f := &File{
		Services: map[string]Service{
			ServiceDB: {
				Image:    "mariadb:latest",
				Command:  "mysqld --character-set-server=utf8mb4 --collation-server=utf8mb4_unicode_ci",
				Volumes:  []string{"./" + path.Clean(cfg.Files.DatabaseDir) + ":/var/lib/mysql"},
				User:     uidStr,
				Networks: attach(a.DB.String()),
			},
			ServiceApp: {
				ContainerName: cfg.Project + "-app",
				Build: &Build{
					Args:       appArgs,
					Context:    "./",
					Dockerfile: cfg.Files.AppDockerfile,
				},
				Restart:    "unless-stopped",
				WorkingDir: "/var/www/" + path.Clean(cfg.Files.Webroot),
				Volumes: []string{
					"./:/var/www",
					"./home:/home/" + cfg.AppUser(),
				},
				Environment: map[string]string{
					"TZ":        cfg.Timezone,
					"REDIS_URL": "redis://redis:6379/1",
				},
				DependsOn: []string{ServiceDB},
				Networks:  attach(a.App.String()),
			},
			ServiceWeb: web,
			ServiceRedis: {
				Image:         "redis:latest",
				ContainerName: cfg.Project + "-redis",
				Networks:      attach(a.Redis.String()),
			},
			ServicePhpMyAdmin: {
				Image:         "phpmyadmin:latest",
				ContainerName: cfg.Project + "-phpmyadmin",
				Environment: map[string]string{
					"PMA_HOST":         ServiceDB,
					"PMA_PORT":         "3306",
					"PMA_ARBITRARY":    "1",
					"PMA_USER":         cfg.Database.User,
					"PMA_PASSWORD":     cfg.Credentials.UserPassword,
					"PMA_ABSOLUTE_URI": "http://app/phpmyadmin/",
				},
				Restart:   "always",
				DependsOn: []string{ServiceDB},
				Networks:  attach(a.PhpMyAdmin.String()),
			},
		},
		Networks: map[string]Network{
			net: {
				Driver: "bridge",
				IPAM: IPAM{
					Driver: "default",
					Config: []IPAMConfig{{Subnet: a.Subnet.String()}},
				},
			},
		},
		Volumes: map[string]Volume{
			ServiceDB: {Driver: "local"},
		},
	}
	return f, nil
}

// Render returns the compose file for cfg as YAML.
func Render(cfg *config.Config, uid int) ([]byte, error) {
	f, err := New(cfg, uid)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return nil, fmt.Errorf("encode compose file: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode compose file: %w", err)
	}
	return buf.Bytes(), nil
}

// portSpecs maps the forwarded port to http and the next one to https.
func portSpecs(port int) ([]string, error) {
	specs := []string{
		fmt.Sprintf("%d:80", port),
		fmt.Sprintf("%d:443", port+1),
	}
	for _, spec := range specs {
		if _, err := nat.ParsePortSpec(spec); err != nil {
			return nil, fmt.Errorf("invalid port mapping %q: %w", spec, err)
		}
	}
	return specs, nil
}
