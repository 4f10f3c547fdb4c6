// Package config loads askterm settings from a TOML file and ASKTERM_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"

	"github.com/loykin/askterm/internal/heartbeat"
	"github.com/loykin/askterm/internal/logger"
	"github.com/loykin/askterm/internal/session"
)

// EnvPrefix prefixes environment overrides, e.g. ASKTERM_SPAWN_TTL.
const EnvPrefix = "ASKTERM"

type Config struct {
	Heartbeat HeartbeatConfig `toml:"heartbeat" mapstructure:"heartbeat"`
	Session   SessionConfig   `toml:"session" mapstructure:"session"`
	Spawn     SpawnConfig     `toml:"spawn" mapstructure:"spawn"`
	Log       LogConfig       `toml:"log" mapstructure:"log"`
	Metrics   MetricsConfig   `toml:"metrics" mapstructure:"metrics"`
	History   HistoryConfig   `toml:"history" mapstructure:"history"`
	Server    ServerConfig    `toml:"server" mapstructure:"server"`
}

type HeartbeatConfig struct {
	Interval        time.Duration `toml:"interval" mapstructure:"interval"`
	GraceMultiplier int           `toml:"grace_multiplier" mapstructure:"grace_multiplier"`
	MissThreshold   int           `toml:"miss_threshold" mapstructure:"miss_threshold"`
}

type SessionConfig struct {
	Root          string        `toml:"root" mapstructure:"root"`
	Prefix        string        `toml:"prefix" mapstructure:"prefix"`
	MaxAge        time.Duration `toml:"max_age" mapstructure:"max_age"`
	PruneSchedule string        `toml:"prune_schedule" mapstructure:"prune_schedule"` // "@every 10m"; empty disables
}

type SpawnConfig struct {
	TTL      time.Duration `toml:"ttl" mapstructure:"ttl"`
	Terminal []string      `toml:"terminal" mapstructure:"terminal"` // command prefix for the direct strategy
	Linger   time.Duration `toml:"linger" mapstructure:"linger"`     // child keeps its window open after success
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	Color      bool   `toml:"color" mapstructure:"color"`
	File       string `toml:"file" mapstructure:"file"`
	RunnerFile string `toml:"runner_file" mapstructure:"runner_file"` // log file of the detached child
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" mapstructure:"listen"` // separate listener; empty serves on the API server
}

type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"` // empty disables history
}

type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Heartbeat: HeartbeatConfig{
			Interval:        heartbeat.DefaultInterval,
			GraceMultiplier: heartbeat.DefaultGraceMultiplier,
			MissThreshold:   heartbeat.DefaultMissThreshold,
		},
		Session: SessionConfig{
			Root:          os.TempDir(),
			Prefix:        session.DefaultPrefix,
			MaxAge:        24 * time.Hour,
			PruneSchedule: "@every 10m",
		},
		Spawn: SpawnConfig{
			TTL:    5 * time.Minute,
			Linger: 3 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Color:  true,
		},
		Server: ServerConfig{
			Listen:   "127.0.0.1:8790",
			BasePath: "/api",
		},
	}
}

// Load reads path (optional) over the defaults and applies environment
// overrides. A missing path is an error; an empty path loads defaults and
// environment only.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("heartbeat.interval", d.Heartbeat.Interval)
	v.SetDefault("heartbeat.grace_multiplier", d.Heartbeat.GraceMultiplier)
	v.SetDefault("heartbeat.miss_threshold", d.Heartbeat.MissThreshold)
	v.SetDefault("session.root", d.Session.Root)
	v.SetDefault("session.prefix", d.Session.Prefix)
	v.SetDefault("session.max_age", d.Session.MaxAge)
	v.SetDefault("session.prune_schedule", d.Session.PruneSchedule)
	v.SetDefault("spawn.ttl", d.Spawn.TTL)
	v.SetDefault("spawn.terminal", d.Spawn.Terminal)
	v.SetDefault("spawn.linger", d.Spawn.Linger)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.color", d.Log.Color)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.runner_file", d.Log.RunnerFile)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.compress", d.Log.Compress)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.listen", d.Metrics.Listen)
	v.SetDefault("history.dsn", d.History.DSN)
	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.base_path", d.Server.BasePath)
}

// Validate rejects settings the components would refuse later.
func (c Config) Validate() error {
	var errs []error
	if c.Heartbeat.Interval <= 0 {
		errs = append(errs, errors.New("heartbeat.interval must be positive"))
	}
	// the watcher reads zero as "use the default", so zero cannot be configured
	if c.Heartbeat.GraceMultiplier < 1 {
		errs = append(errs, errors.New("heartbeat.grace_multiplier must be at least 1"))
	}
	if c.Heartbeat.MissThreshold < 1 {
		errs = append(errs, errors.New("heartbeat.miss_threshold must be at least 1"))
	}
	if c.Session.Root == "" {
		errs = append(errs, errors.New("session.root is required"))
	}
	if strings.ContainsAny(c.Session.Prefix, `/\`) {
		errs = append(errs, fmt.Errorf("session.prefix %q must not contain a path separator", c.Session.Prefix))
	}
	if c.Spawn.TTL < 0 || c.Spawn.Linger < 0 || c.Session.MaxAge < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Logger returns the logger settings of the parent process.
func (c LogConfig) Logger() logger.Config {
	return c.logger(c.File)
}

// RunnerLogger returns the logger settings of the detached child. The child
// owns its terminal, so it logs to RunnerFile or, failing that, to a file
// next to the sessions.
func (c LogConfig) RunnerLogger(sessionRoot string) logger.Config {
	path := c.RunnerFile
	if path == "" {
		path = filepath.Join(sessionRoot, "askterm-runner.log")
	}
	return c.logger(path)
}

func (c LogConfig) logger(path string) logger.Config {
	return logger.Config{
		Level:  c.Level,
		Format: c.Format,
		Color:  c.Color,
		File: logger.FileConfig{
			Path:       path,
			MaxSizeMB:  c.MaxSizeMB,
			MaxBackups: c.MaxBackups,
			MaxAgeDays: c.MaxAgeDays,
			Compress:   c.Compress,
		},
	}
}

// Store returns the session store described by the settings.
func (c SessionConfig) Store() session.Store {
	return session.Store{Root: c.Root, Prefix: c.Prefix}
}

// Write encodes c as TOML.
func (c Config) Write(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}
