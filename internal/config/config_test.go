package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadValidConfig(t *testing.T) {
	yaml := `
project: shop
network: 10.10.0.0/24
forwarded_port: 8000
credentials:
  db_root_password: root
readiness:
  timeout: 45s
`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Project != "shop" {
		t.Errorf("project = %q, want shop", cfg.Project)
	}
	if cfg.HostName != "shop.test" {
		t.Errorf("host_name = %q, want shop.test", cfg.HostName)
	}
	if cfg.Credentials.RootPassword != "root" {
		t.Errorf("root password = %q, want root", cfg.Credentials.RootPassword)
	}
	if cfg.Credentials.UserPassword != "123456" {
		t.Errorf("user password default = %q", cfg.Credentials.UserPassword)
	}
	if cfg.Readiness.Timeout != 45*time.Second {
		t.Errorf("timeout = %v, want 45s", cfg.Readiness.Timeout)
	}
	if got := cfg.Addresses.Web.String(); got != "10.10.0.4" {
		t.Errorf("web address = %s, want 10.10.0.4", got)
	}
	http, https := cfg.AccessURLs()
	if http != "http://localhost:8000" || https != "https://localhost:8001" {
		t.Errorf("access urls = %s %s", http, https)
	}
}

func TestDefaultsApplied(t *testing.T) {
	old := hostOS
	hostOS = "linux"
	defer func() { hostOS = old }()

	cfg, err := Parse([]byte("{}"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Project != "laravelproject" {
		t.Errorf("default project = %q", cfg.Project)
	}
	if cfg.Network != "172.22.0.0/24" {
		t.Errorf("default network = %q", cfg.Network)
	}
	if cfg.ForwardedPort != 0 {
		t.Errorf("forwarded port on linux = %d, want 0", cfg.ForwardedPort)
	}
	if cfg.Readiness.PollInterval != 500*time.Millisecond {
		t.Errorf("poll interval = %v, want 500ms", cfg.Readiness.PollInterval)
	}
	if cfg.Readiness.Timeout != 20*time.Second {
		t.Errorf("readiness timeout = %v, want 20s", cfg.Readiness.Timeout)
	}
	if cfg.Files.Compose != "docker-compose.yml" {
		t.Errorf("compose file = %q", cfg.Files.Compose)
	}
	if cfg.Timezone != "Asia/Makassar" {
		t.Errorf("timezone = %q", cfg.Timezone)
	}
}

func TestForwardedPortDefaultOffLinux(t *testing.T) {
	old := hostOS
	hostOS = "darwin"
	defer func() { hostOS = old }()

	cfg, err := Parse([]byte("{}"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ForwardedPort != 3000 {
		t.Errorf("forwarded port = %d, want 3000", cfg.ForwardedPort)
	}
}

func TestAddressPlan(t *testing.T) {
	cfg, err := Parse([]byte("network: 172.22.0.0/24\nforwarded_port: 0\n"))
	if err != nil {
		t.Fatal(err)
	}
	a := cfg.Addresses
	want := map[string]string{
		"gateway":    "172.22.0.1",
		"db":         "172.22.0.2",
		"app":        "172.22.0.3",
		"web":        "172.22.0.4",
		"redis":      "172.22.0.5",
		"phpmyadmin": "172.22.0.6",
	}
	got := map[string]string{
		"gateway":    a.Gateway.String(),
		"db":         a.DB.String(),
		"app":        a.App.String(),
		"web":        a.Web.String(),
		"redis":      a.Redis.String(),
		"phpmyadmin": a.PhpMyAdmin.String(),
	}
	for k, w := range want {
		if got[k] != w {
			t.Errorf("%s = %s, want %s", k, got[k], w)
		}
	}
}

func TestAddressPlanMasksHostBits(t *testing.T) {
	cfg, err := Parse([]byte("network: 192.168.5.77/24\n"))
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.Addresses.Gateway.String(); got != "192.168.5.1" {
		t.Errorf("gateway = %s, want 192.168.5.1", got)
	}
}

func TestNetworkTooSmall(t *testing.T) {
	if _, err := Parse([]byte("network: 10.0.0.0/30\n")); err == nil {
		t.Error("expected error for /30 network")
	}
}

func TestDatabaseNames(t *testing.T) {
	cfg, err := Parse([]byte("project: my-very-long-project-name\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Database.Name != "my_very_long_project_name" {
		t.Errorf("db name = %q", cfg.Database.Name)
	}
	if cfg.Database.User != "my_very_long_proj" {
		t.Errorf("db user = %q, want 17 chars", cfg.Database.User)
	}
	if cfg.Database.ProdUser != "my_very_long_proj_p" {
		t.Errorf("db prod user = %q", cfg.Database.ProdUser)
	}
}

func TestDatabaseNamesFollowProjectRule(t *testing.T) {
	if _, err := Parse([]byte("project: my.shop\n")); err == nil {
		t.Error("dotted project should be rejected")
	}

	cfg, err := Parse([]byte("project: my_shop-2\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Database.Name != "my_shop_2" {
		t.Errorf("db name = %q, want my_shop_2", cfg.Database.Name)
	}
}

func TestHostsLine(t *testing.T) {
	cfg, err := Parse([]byte("project: shop\n"))
	if err != nil {
		t.Fatal(err)
	}
	want := "172.22.0.4      shop.test # Docker Project shop"
	if got := cfg.HostsLine(); got != want {
		t.Errorf("hosts line = %q, want %q", got, want)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !os.IsNotExist(err) {
		t.Errorf("err = %v, want not-exist", err)
	}
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "stackup.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}
