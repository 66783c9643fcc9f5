package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"stackup/internal/compose"
	"stackup/internal/config"
)

var (
	configPath  string
	metricsFile string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "stackup",
		Short:        "stackup - set up a Laravel development environment on Docker",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "stackup.yaml", "path to config file")
	root.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")

	configCmd := &cobra.Command{Use: "config", Short: "Inspect the configuration"}
	configCmd.AddCommand(configValidateCmd())

	root.AddCommand(
		initCmd(),
		configCmd,
		composeCmd(),
		setupCmd(),
		waitCmd(),
		statusCmd(),
	)
	return root
}

// loadConfig reads --config. A missing default config file means built-in
// defaults; a missing file that was asked for explicitly is an error.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		return config.Parse(nil)
	}
	return nil, fmt.Errorf("load config: %w", err)
}

// projectDir is the directory holding the config file; every generated file
// and compose invocation is relative to it.
func projectDir() (string, error) {
	return filepath.Abs(filepath.Dir(configPath))
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK (project %s, network %s)\n", cfg.Project, cfg.Addresses.Subnet)
			return nil
		},
	}
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a stackup.yaml template",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
			}
			if err := os.WriteFile(configPath, []byte(exampleConfig), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", configPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func composeCmd() *cobra.Command {
	var uid int
	cmd := &cobra.Command{
		Use:   "compose",
		Short: "Print the docker-compose.yml setup would write",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			data, err := compose.Render(cfg, uid)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().IntVar(&uid, "uid", os.Getuid(), "uid baked into the app image")
	return cmd
}

const exampleConfig = `project: laravelproject
# host_name: laravelproject.test
network: 172.22.0.0/24
# forwarded_port: 3000
# php_version: "8.3"
# framework_version: "11.*"
timezone: Asia/Makassar

credentials:
  db_root_password: "12345"
  db_user_password: "123456"
  db_prod_user_password: "1234567"

readiness:
  poll_interval: 500ms
  timeout: 20s

app:
  bootstrap_script: env/laravel_new_commands.sh
  install_command: composer install
  seed_command: php artisan migrate:fresh

# notify:
#   nats_url: nats://localhost:4222
#   subject_prefix: stackup

log:
  level: info
  format: json
  # file: log/stackup.log
`
