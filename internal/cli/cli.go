// ============================================================================
// replydraft CLI
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra command tree and YAML configuration
//
// Command Structure:
//   replydraft                     # Root command
//   ├── run                        # Start the job service
//   ├── submit                     # Submit a job (--kind, --file, --wait)
//   ├── status <job-id>            # Poll a job once
//   ├── watch <job-id>             # Poll until the job is terminal
//   ├── cancel <job-id>            # Cancel a job
//   ├── list                       # List jobs (--user, --state, --kind)
//   └── --config, -c               # Config file (default configs/default.yaml)
//
// Client commands talk to a running service over gRPC (--addr).
//
// ============================================================================

package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/replydraft/internal/controller"
	"github.com/ChuLiYu/replydraft/internal/generation"
)

// Config represents the complete system configuration structure
type Config struct {
	Worker struct {
		WorkerCount   int           `yaml:"worker_count"`
		QueueSize     int           `yaml:"queue_size"`
		JobTimeout    time.Duration `yaml:"job_timeout"`
		ShutdownGrace time.Duration `yaml:"shutdown_grace"`
	} `yaml:"worker"`

	Registry struct {
		Retention            time.Duration `yaml:"retention"`
		EvictInterval        time.Duration `yaml:"evict_interval"`
		TimeoutCheckInterval time.Duration `yaml:"timeout_check_interval"`
		Shards               int           `yaml:"shards"`
	} `yaml:"registry"`

	Generation generation.Config `yaml:"generation"`

	Storage struct {
		DataDir          string        `yaml:"data_dir"`
		RulesFile        string        `yaml:"rules_file"`
		SnapshotPath     string        `yaml:"snapshot_path"`
		SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	} `yaml:"storage"`

	Server struct {
		HTTPPort int `yaml:"http_port"`
		GRPCPort int `yaml:"grpc_port"`
	} `yaml:"server"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"` // 0 serves /metrics on the HTTP API port only
	} `yaml:"metrics"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

const defaultDataDir = "data"

func (c *Config) controllerConfig() controller.Config {
	return controller.Config{
		WorkerCount:          c.Worker.WorkerCount,
		QueueSize:            c.Worker.QueueSize,
		JobTimeout:           c.Worker.JobTimeout,
		Retention:            c.Registry.Retention,
		EvictInterval:        c.Registry.EvictInterval,
		TimeoutCheckInterval: c.Registry.TimeoutCheckInterval,
		Shards:               c.Registry.Shards,
		SnapshotInterval:     c.Storage.SnapshotInterval,
		SnapshotPath:         c.Storage.SnapshotPath,
		ShutdownGrace:        c.Worker.ShutdownGrace,
	}
}

func (c *Config) dataDir() string {
	if c.Storage.DataDir == "" {
		return defaultDataDir
	}
	return c.Storage.DataDir
}

var (
	configFile string
	serverAddr string
)

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "replydraft",
		Short: "replydraft: asynchronous email reply drafting",
		Long: `replydraft drafts email replies as asynchronous jobs:
- retrieval-augmented, rule-based, hybrid and template strategies
- per-user style profiles and hot-reloaded response rules
- gRPC and HTTP polling APIs
- Prometheus metrics`,
		Version:      "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:50051", "gRPC address of a running service")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildSubmitCommand())
	rootCmd.AddCommand(buildStatusCommand())
	rootCmd.AddCommand(buildWatchCommand())
	rootCmd.AddCommand(buildCancelCommand())
	rootCmd.AddCommand(buildListCommand())

	return rootCmd
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	return &cfg, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

func setupLogging(cfg *Config) error {
	level, err := parseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}
