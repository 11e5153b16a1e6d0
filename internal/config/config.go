// Package config reads the zupport yaml configuration.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zupport/zupport/internal/job"
	"github.com/zupport/zupport/internal/scheduler"
)

// Plugin kinds.
const (
	KindBuiltin = "builtin"
	KindLua     = "lua"
	KindBinary  = "binary"
)

type Config struct {
	DataDir   string               `yaml:"data_dir"`
	Log       LogConfig            `yaml:"log"`
	Plugins   []PluginConfig       `yaml:"plugins"`
	Queue     QueueConfig          `yaml:"queue"`
	Store     StoreConfig          `yaml:"store"`
	Metrics   MetricsConfig        `yaml:"metrics"`
	Workspace WorkspaceConfig      `yaml:"workspace"`
	Schedules []scheduler.Schedule `yaml:"schedules"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type PluginConfig struct {
	Name      string   `yaml:"name"`
	Kind      string   `yaml:"kind"`
	Path      string   `yaml:"path"`
	Args      []string `yaml:"args"`
	Templates string   `yaml:"templates"`
	Disabled  bool     `yaml:"disabled"`
}

type QueueConfig struct {
	Backend  string `yaml:"backend"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// WorkspaceConfig holds the defaults of the scan command.
type WorkspaceConfig struct {
	Template string        `yaml:"template"`
	Wildcard string        `yaml:"wildcard"`
	Debounce time.Duration `yaml:"debounce"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)}`)

func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

func expandEnvInConfig(cfg *Config) {
	cfg.DataDir = expandEnv(cfg.DataDir)
	for i := range cfg.Plugins {
		p := &cfg.Plugins[i]
		p.Path = expandEnv(p.Path)
		p.Templates = expandEnv(p.Templates)
		for j := range p.Args {
			p.Args[j] = expandEnv(p.Args[j])
		}
	}
	cfg.Queue.Addr = expandEnv(cfg.Queue.Addr)
	cfg.Queue.Password = expandEnv(cfg.Queue.Password)
	cfg.Store.DSN = expandEnv(cfg.Store.DSN)
}

func applyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		cfg.DataDir = ".zupport"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Queue.Backend == "" {
		cfg.Queue.Backend = "memory"
	}
	if cfg.Queue.Key == "" {
		cfg.Queue.Key = job.DefaultRedisKey
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if cfg.Workspace.Wildcard == "" {
		cfg.Workspace.Wildcard = "*"
	}
	if cfg.Workspace.Debounce == 0 {
		cfg.Workspace.Debounce = 500 * time.Millisecond
	}
	for i := range cfg.Plugins {
		if cfg.Plugins[i].Kind == "" {
			cfg.Plugins[i].Kind = KindBuiltin
		}
	}
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Plugins))
	for i, p := range c.Plugins {
		if p.Name == "" {
			return fmt.Errorf("plugins[%d]: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("plugins[%d]: duplicate plugin %q", i, p.Name)
		}
		seen[p.Name] = true
		switch p.Kind {
		case KindBuiltin:
		case KindLua, KindBinary:
			if p.Path == "" {
				return fmt.Errorf("plugin %q: path is required for kind %s", p.Name, p.Kind)
			}
		default:
			return fmt.Errorf("plugin %q: unknown kind %q", p.Name, p.Kind)
		}
	}
	switch c.Queue.Backend {
	case "memory":
	case "redis":
		if c.Queue.Addr == "" {
			return fmt.Errorf("queue: addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("queue: unknown backend %q", c.Queue.Backend)
	}
	switch c.Store.Driver {
	case "sqlite", "none":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store: dsn is required for postgres")
		}
	default:
		return fmt.Errorf("store: unknown driver %q", c.Store.Driver)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log: unknown format %q", c.Log.Format)
	}
	return nil
}

// EnabledPlugins returns the plugins not marked disabled, in file order.
func (c *Config) EnabledPlugins() []PluginConfig {
	var out []PluginConfig
	for _, p := range c.Plugins {
		if !p.Disabled {
			out = append(out, p)
		}
	}
	return out
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes, expands ${ENV} references, applies defaults and
// validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	expandEnvInConfig(&cfg)
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}
