// Package config holds the gyre configuration: struct defaults,
// optional YAML file loading, and a handful of environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration accepts "250ms" / "1m" style values in YAML and bare
// integers as nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	*d = Duration(n)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds all gyre configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Admission AdmissionConfig `yaml:"admission"`
	Lock      LockConfig      `yaml:"lock"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Repair    RepairConfig    `yaml:"repair"`
}

type ServerConfig struct {
	Bind         string `yaml:"bind"`
	Port         int    `yaml:"port"`
	MetricsToken string `yaml:"metrics_token"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type AdmissionConfig struct {
	// CeilingBytes of zero disables admission control.
	CeilingBytes uint64  `yaml:"ceiling_bytes"`
	SafetyFactor float64 `yaml:"safety_factor"`
}

type LockConfig struct {
	LeaseTTL       Duration `yaml:"lease_ttl"`
	AcquireTimeout Duration `yaml:"acquire_timeout"`
	RetryInterval  Duration `yaml:"retry_interval"`
}

type PipelineConfig struct {
	Workers      int      `yaml:"workers"`
	QueueSize    int      `yaml:"queue_size"`
	RequeueDelay Duration `yaml:"requeue_delay"`
	MaxAttempts  int      `yaml:"max_attempts"`
	JobTimeout   Duration `yaml:"job_timeout"`
}

type RepairConfig struct {
	Epsilon float64 `yaml:"epsilon"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37890,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		Admission: AdmissionConfig{
			CeilingBytes: 0,
			SafetyFactor: 0.85,
		},
		Lock: LockConfig{
			// TTL stays ahead of the job timeout so a job that uses its
			// whole budget cannot lose the lease mid-write.
			LeaseTTL:       Duration(60 * time.Second),
			AcquireTimeout: Duration(5 * time.Second),
			RetryInterval:  Duration(50 * time.Millisecond),
		},
		Pipeline: PipelineConfig{
			Workers:      2,
			QueueSize:    64,
			RequeueDelay: Duration(250 * time.Millisecond),
			MaxAttempts:  10,
			JobTimeout:   Duration(30 * time.Second),
		},
		Repair: RepairConfig{
			Epsilon: 1e-9,
		},
	}
}

// Load reads path over the defaults. A missing file is not an error; the
// defaults stand. Environment overrides apply last.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("GYRE_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("GYRE_METRICS_TOKEN"); v != "" {
		c.Server.MetricsToken = v
	}
	if v := os.Getenv("GYRE_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("GYRE_MEMORY_CEILING_BYTES"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.Admission.CeilingBytes = n
		}
	}
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
