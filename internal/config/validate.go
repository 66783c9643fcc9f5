package config

import (
	"fmt"
	"net/netip"
	"regexp"
	"strings"
)

// projectPattern is the naming rule compose applies to project names.
var projectPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

func validate(cfg *Config) error {
	if !projectPattern.MatchString(cfg.Project) {
		return fmt.Errorf("config: project %q must be lowercase letters, digits, '-' or '_'", cfg.Project)
	}

	prefix, err := netip.ParsePrefix(cfg.Network)
	if err != nil {
		return fmt.Errorf("config: invalid network %q: %w", cfg.Network, err)
	}
	if !prefix.Addr().Is4() {
		return fmt.Errorf("config: network %q must be IPv4", cfg.Network)
	}

	if cfg.ForwardedPort < 0 || cfg.ForwardedPort > 65534 {
		return fmt.Errorf("config: forwarded_port %d out of range", cfg.ForwardedPort)
	}

	c := cfg.Credentials
	for name, pw := range map[string]string{
		"db_root_password":      c.RootPassword,
		"db_user_password":      c.UserPassword,
		"db_prod_user_password": c.ProdUserPassword,
	} {
		if strings.ContainsAny(pw, "'\\") {
			return fmt.Errorf("config: %s must not contain quotes or backslashes", name)
		}
	}

	r := cfg.Readiness
	if r.PollInterval < 0 || r.Timeout < 0 || r.TeardownTimeout < 0 || r.StopGracePeriod < 0 {
		return fmt.Errorf("config: readiness durations must be positive")
	}
	if r.PollInterval > r.Timeout {
		return fmt.Errorf("config: readiness poll_interval %v exceeds timeout %v", r.PollInterval, r.Timeout)
	}

	switch cfg.Log.Format {
	case "json", "text":
		// valid
	default:
		return fmt.Errorf("config: unknown log format %q", cfg.Log.Format)
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("config: unknown log level %q", cfg.Log.Level)
	}

	return nil
}
