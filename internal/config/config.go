// Package config loads the service configuration: a YAML file layered over
// built-in defaults, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override the file.
const (
	EnvMinecraftAddr      = "MC_SERVER_ADDR"
	EnvMinecraftPort      = "MC_SERVER_PORT"
	EnvSpaceEngineersAddr = "SE_SERVER_ADDR"
	EnvSpaceEngineersPort = "SE_SERVER_PORT"
)

// Config is the whole service configuration.
type Config struct {
	Listen        string        `yaml:"listen"`
	QueueSize     int           `yaml:"queue_size"`    // per-subscriber event queue
	WriteTimeout  time.Duration `yaml:"write_timeout"` // WebSocket frame write deadline
	StatsInterval time.Duration `yaml:"stats_interval"`

	Minecraft      MinecraftConfig       `yaml:"minecraft"`
	SpaceEngineers *SpaceEngineersConfig `yaml:"space_engineers"` // optional
}

// ---- MINECRAFT ----

// MinecraftConfig describes the watched Minecraft server.
type MinecraftConfig struct {
	Host            string        `yaml:"host"`
	Port            uint16        `yaml:"port"`
	ProtocolVersion int64         `yaml:"protocol_version"`
	Timeout         time.Duration `yaml:"timeout"` // connect, read and write each
	PingInterval    time.Duration `yaml:"ping_interval"`
	StatusInterval  time.Duration `yaml:"status_interval"`
	PingPayload     int64         `yaml:"ping_payload"`
}

// ---- SPACE ENGINEERS (A2S) ----

// SpaceEngineersConfig enables the A2S_INFO route when present.
type SpaceEngineersConfig struct {
	Host    string        `yaml:"host"`
	Port    uint16        `yaml:"port"`
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen:        "127.0.0.1:8000",
		QueueSize:     32,
		WriteTimeout:  10 * time.Second,
		StatsInterval: time.Minute,
		Minecraft: MinecraftConfig{
			Host:            "127.0.0.1",
			Port:            25565,
			ProtocolVersion: 760,
			Timeout:         5 * time.Second,
			PingInterval:    5 * time.Second,
			StatusInterval:  60 * time.Second,
			PingPayload:     1,
		},
	}
}

func defaultSpaceEngineers() *SpaceEngineersConfig {
	return &SpaceEngineersConfig{Port: 27016, Timeout: 5 * time.Second}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		if se := cfg.SpaceEngineers; se != nil && se.Timeout == 0 {
			se.Timeout = defaultSpaceEngineers().Timeout
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvMinecraftAddr); ok && v != "" {
		cfg.Minecraft.Host = v
	}
	if v, ok := lookup(EnvMinecraftPort); ok && v != "" {
		port, err := parsePort(EnvMinecraftPort, v)
		if err != nil {
			return err
		}
		cfg.Minecraft.Port = port
	}

	if v, ok := lookup(EnvSpaceEngineersAddr); ok && v != "" {
		if cfg.SpaceEngineers == nil {
			cfg.SpaceEngineers = defaultSpaceEngineers()
		}
		cfg.SpaceEngineers.Host = v
	}
	if v, ok := lookup(EnvSpaceEngineersPort); ok && v != "" {
		port, err := parsePort(EnvSpaceEngineersPort, v)
		if err != nil {
			return err
		}
		if cfg.SpaceEngineers == nil {
			cfg.SpaceEngineers = defaultSpaceEngineers()
		}
		cfg.SpaceEngineers.Port = port
	}
	return nil
}

func parsePort(name, v string) (uint16, error) {
	n, err := strconv.ParseUint(v, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid port %q", name, v)
	}
	return uint16(n), nil
}

// Validate checks configuration correctness. It does not mutate cfg.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is empty"))
	}
	if c.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("queue_size must be positive, got %d", c.QueueSize))
	}
	if c.WriteTimeout <= 0 {
		errs = append(errs, errors.New("write_timeout must be positive"))
	}

	mc := c.Minecraft
	if mc.Host == "" {
		errs = append(errs, errors.New("minecraft.host is empty"))
	}
	if mc.Port == 0 {
		errs = append(errs, errors.New("minecraft.port is zero"))
	}
	if mc.Timeout <= 0 || mc.PingInterval <= 0 || mc.StatusInterval <= 0 {
		errs = append(errs, errors.New("minecraft timeout and intervals must be positive"))
	}

	if se := c.SpaceEngineers; se != nil {
		if se.Host == "" {
			errs = append(errs, errors.New("space_engineers.host is empty"))
		}
		if se.Port == 0 {
			errs = append(errs, errors.New("space_engineers.port is zero"))
		}
		if se.Timeout <= 0 {
			errs = append(errs, errors.New("space_engineers.timeout must be positive"))
		}
	}

	return errors.Join(errs...)
}
