// Package config holds the tunables shared by the coordinator and worker
// driver binaries: lease/sweep/poll intervals, listen addresses, and the
// optional write-ahead log path. Values load from an optional YAML file
// (the teacher's gopkg.in/yaml.v2 dependency) and can be overridden
// programmatically with functional options, so CLI flags always win over
// whatever a config file set.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// CoordinatorConfig holds everything the coordinator driver needs beyond
// the job's N_map/N_reduce/N_worker, which are always supplied as CLI
// positional args per spec 6.
type CoordinatorConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	// Duration fields decode from plain nanosecond integers, not "5s"
	// strings: yaml.v2 has no special-cased time.Duration support.
	LeaseDuration  time.Duration `yaml:"lease_duration"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	WALPath        string        `yaml:"wal_path"`
	MetricsAddr    string        `yaml:"metrics_addr"`
	LogLevel       string        `yaml:"log_level"`
}

// WorkerConfig holds the worker driver's tunables.
type WorkerConfig struct {
	CoordinatorAddr string        `yaml:"coordinator_addr"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	LogLevel        string        `yaml:"log_level"`
}

// DefaultCoordinatorConfig returns the spec 5 defaults: 5s lease duration,
// 5s sweep interval (equal to the lease duration, per spec), 1s poll
// interval, default listen address 127.0.0.1:1030, no persistence, no
// metrics endpoint.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		ListenAddr:    "127.0.0.1:1030",
		LeaseDuration: 5 * time.Second,
		SweepInterval: 5 * time.Second,
		PollInterval:  1 * time.Second,
		LogLevel:      "info",
	}
}

// DefaultWorkerConfig returns the spec 5 worker-side defaults: 1s poll
// interval (also used as the lease-renewal cadence, strictly under
// LeaseDuration/2 as spec 4.1.4 requires), dialing the spec's default
// coordinator listen address.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		CoordinatorAddr: "127.0.0.1:1030",
		PollInterval:    1 * time.Second,
		LogLevel:        "info",
	}
}

// CoordinatorOption mutates a CoordinatorConfig after it has been loaded
// from defaults/YAML, letting CLI flags take the final say.
type CoordinatorOption func(*CoordinatorConfig)

func WithListenAddr(addr string) CoordinatorOption {
	return func(c *CoordinatorConfig) {
		if addr != "" {
			c.ListenAddr = addr
		}
	}
}

func WithLeaseDuration(d time.Duration) CoordinatorOption {
	return func(c *CoordinatorConfig) {
		if d > 0 {
			c.LeaseDuration = d
		}
	}
}

func WithSweepInterval(d time.Duration) CoordinatorOption {
	return func(c *CoordinatorConfig) {
		if d > 0 {
			c.SweepInterval = d
		}
	}
}

func WithWAL(path string) CoordinatorOption {
	return func(c *CoordinatorConfig) { c.WALPath = path }
}

func WithMetricsAddr(addr string) CoordinatorOption {
	return func(c *CoordinatorConfig) { c.MetricsAddr = addr }
}

func WithLogLevel(level string) CoordinatorOption {
	return func(c *CoordinatorConfig) {
		if level != "" {
			c.LogLevel = level
		}
	}
}

// LoadCoordinatorConfig reads path (if non-empty) as YAML over the
// defaults, then applies opts in order. A missing path is not an error:
// every field already has a spec-compliant default.
func LoadCoordinatorConfig(path string, opts ...CoordinatorOption) (CoordinatorConfig, error) {
	cfg := DefaultCoordinatorConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg, nil
}

// WorkerOption mutates a WorkerConfig after load.
type WorkerOption func(*WorkerConfig)

func WithCoordinatorAddr(addr string) WorkerOption {
	return func(c *WorkerConfig) {
		if addr != "" {
			c.CoordinatorAddr = addr
		}
	}
}

func WithWorkerPollInterval(d time.Duration) WorkerOption {
	return func(c *WorkerConfig) {
		if d > 0 {
			c.PollInterval = d
		}
	}
}

func WithWorkerLogLevel(level string) WorkerOption {
	return func(c *WorkerConfig) {
		if level != "" {
			c.LogLevel = level
		}
	}
}

// LoadWorkerConfig is the worker-side counterpart of
// LoadCoordinatorConfig.
func LoadWorkerConfig(path string, opts ...WorkerOption) (WorkerConfig, error) {
	cfg := DefaultWorkerConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg, nil
}
