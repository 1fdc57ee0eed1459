// Package config loads deployctl's configuration: known targets, the plan
// file location, logging, and the optional distributed guard — via viper,
// the way the teacher's internal/config loads its server/database config.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is deployctl's top-level configuration.
type Config struct {
	Plan    PlanConfig             `mapstructure:"plan"`
	Targets map[string]TargetEntry `mapstructure:"targets"`
	Log     LogConfig              `mapstructure:"log"`
	Guard   GuardConfig            `mapstructure:"guard"`
	User    UserConfig             `mapstructure:"user"`
}

// PlanConfig locates the plan file and the script directories relative to
// its parent, mirroring sqitch.conf's [core] section.
type PlanConfig struct {
	File      string `mapstructure:"file"`
	TopDir    string `mapstructure:"top_dir"`
	DeployDir string `mapstructure:"deploy_dir"`
	RevertDir string `mapstructure:"revert_dir"`
	VerifyDir string `mapstructure:"verify_dir"`
}

// TargetEntry is one named [target "name"] block: an engine URI plus an
// optional registry namespace override.
type TargetEntry struct {
	URI               string `mapstructure:"uri"`
	RegistryNamespace string `mapstructure:"registry"`
}

// LogConfig configures pkg/logger's slog handler and lumberjack rotation.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// GuardConfig configures the optional internal/engine/guard.Distributed
// cross-host lock. Addr empty means the distributed guard is disabled and
// only the per-dialect DB-native lock runs.
type GuardConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// UserConfig seeds the committer identity before the internal/identity
// environment-variable precedence chain is consulted.
type UserConfig struct {
	Name  string `mapstructure:"name"`
	Email string `mapstructure:"email"`
}

// Load reads configPath (a YAML sqitch.conf-equivalent) if present, falling
// back to defaults and DEPLOYCTL_-prefixed environment variables for
// anything the file doesn't set.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("deployctl")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config file %s: %w", configPath, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("plan.file", "deployctl.plan")
	v.SetDefault("plan.top_dir", ".")
	v.SetDefault("plan.deploy_dir", "deploy")
	v.SetDefault("plan.revert_dir", "revert")
	v.SetDefault("plan.verify_dir", "verify")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", true)

	v.SetDefault("guard.ttl", "30s")
	v.SetDefault("guard.db", 0)
}

// Validate rejects a config that names a target with no URI, or a log
// level/format outside the set pkg/logger understands.
func (c *Config) Validate() error {
	for name, t := range c.Targets {
		if t.URI == "" {
			return fmt.Errorf("target %q has no uri", name)
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// Target resolves a named target, or the sole configured target when name
// is empty and exactly one is configured — mirroring sqitch's "default
// target" convention for single-target projects.
func (c *Config) Target(name string) (TargetEntry, error) {
	if name == "" {
		if len(c.Targets) != 1 {
			return TargetEntry{}, fmt.Errorf("no target specified and %d targets configured", len(c.Targets))
		}
		for _, t := range c.Targets {
			return t, nil
		}
	}
	t, ok := c.Targets[name]
	if !ok {
		return TargetEntry{}, fmt.Errorf("unknown target: %s", name)
	}
	return t, nil
}

// GuardEnabled reports whether the optional distributed guard should be
// constructed.
func (c *Config) GuardEnabled() bool {
	return c.Guard.Addr != ""
}
