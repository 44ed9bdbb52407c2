// Copyright Pigeonworks LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads dungeond configuration through viper.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/pigeonworks-llc/go-dungeon/pkg/dungeon"
	"github.com/pigeonworks-llc/go-dungeon/pkg/provision"
	"github.com/pigeonworks-llc/go-dungeon/pkg/session"
)

// Config is the full daemon configuration.
type Config struct {
	State     StateConfig     `mapstructure:"state"`
	Instances InstancesConfig `mapstructure:"instances"`
	Templates TemplatesConfig `mapstructure:"templates"`
	Worlds    WorldsConfig    `mapstructure:"worlds"`
	Fallback  FallbackConfig  `mapstructure:"fallback"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// StateConfig controls snapshot persistence.
type StateConfig struct {
	// Backend is "file" or "sqlite".
	Backend                 string `mapstructure:"backend"`
	Path                    string `mapstructure:"path"`
	AutosaveIntervalSeconds int    `mapstructure:"autosave_interval_seconds"`
}

// InstancesConfig holds lifecycle timings.
type InstancesConfig struct {
	CooldownSeconds        int  `mapstructure:"cooldown_seconds"`
	CompletionGraceSeconds int  `mapstructure:"completion_grace_seconds"`
	WarningLeadSeconds     int  `mapstructure:"warning_lead_seconds"`
	AutoDeleteEmpty        bool `mapstructure:"auto_delete_empty"`
}

// TemplatesConfig points at the template catalog.
type TemplatesConfig struct {
	Path  string `mapstructure:"path"`
	Watch bool   `mapstructure:"watch"`
}

// WorldsConfig configures the directory provisioner.
type WorldsConfig struct {
	Dir          string `mapstructure:"dir"`
	TemplatesDir string `mapstructure:"templates_dir"`
	LockDir      string `mapstructure:"lock_dir"`
	Workers      int    `mapstructure:"workers"`
}

// FallbackConfig is where actors without a return point are sent.
type FallbackConfig struct {
	World string  `mapstructure:"world"`
	X     float64 `mapstructure:"x"`
	Y     float64 `mapstructure:"y"`
	Z     float64 `mapstructure:"z"`
}

// LoggingConfig controls the slog output.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	// File is the log file path; empty logs to stderr.
	File string `mapstructure:"file"`
}

// Default returns the stock configuration rooted at the data directory.
func Default() *Config {
	data := DataDir()
	return &Config{
		State: StateConfig{
			Backend:                 "file",
			Path:                    filepath.Join(data, "state.json"),
			AutosaveIntervalSeconds: 300,
		},
		Instances: InstancesConfig{
			CooldownSeconds:        300,
			CompletionGraceSeconds: 10,
			WarningLeadSeconds:     60,
			AutoDeleteEmpty:        true,
		},
		Templates: TemplatesConfig{
			Path:  filepath.Join(ConfigDir(), "templates.toml"),
			Watch: true,
		},
		Worlds: WorldsConfig{
			Dir:          filepath.Join(data, "worlds"),
			TemplatesDir: filepath.Join(data, "templates"),
			LockDir:      filepath.Join(os.TempDir(), "go-dungeon-locks"),
			Workers:      4,
		},
		Fallback: FallbackConfig{
			World: "world",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// SetDefaults registers every default with v.
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("state.backend", defaults.State.Backend)
	v.SetDefault("state.path", defaults.State.Path)
	v.SetDefault("state.autosave_interval_seconds", defaults.State.AutosaveIntervalSeconds)

	v.SetDefault("instances.cooldown_seconds", defaults.Instances.CooldownSeconds)
	v.SetDefault("instances.completion_grace_seconds", defaults.Instances.CompletionGraceSeconds)
	v.SetDefault("instances.warning_lead_seconds", defaults.Instances.WarningLeadSeconds)
	v.SetDefault("instances.auto_delete_empty", defaults.Instances.AutoDeleteEmpty)

	v.SetDefault("templates.path", defaults.Templates.Path)
	v.SetDefault("templates.watch", defaults.Templates.Watch)

	v.SetDefault("worlds.dir", defaults.Worlds.Dir)
	v.SetDefault("worlds.templates_dir", defaults.Worlds.TemplatesDir)
	v.SetDefault("worlds.lock_dir", defaults.Worlds.LockDir)
	v.SetDefault("worlds.workers", defaults.Worlds.Workers)

	v.SetDefault("fallback.world", defaults.Fallback.World)
	v.SetDefault("fallback.x", defaults.Fallback.X)
	v.SetDefault("fallback.y", defaults.Fallback.Y)
	v.SetDefault("fallback.z", defaults.Fallback.Z)

	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.file", defaults.Logging.File)
}

// Load unmarshals v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// ConfigDir returns the user's dungeon config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "dungeon")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".dungeon"
	}
	return filepath.Join(home, ".config", "dungeon")
}

// ConfigFile returns the default config file path.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// DataDir returns the directory for state and world copies.
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "dungeon")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".dungeon"
	}
	return filepath.Join(home, ".local", "share", "dungeon")
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Manager converts the lifecycle settings into a dungeon.Config.
func (c *Config) Manager() dungeon.Config {
	return dungeon.Config{
		Cooldown:        seconds(c.Instances.CooldownSeconds),
		CompletionGrace: seconds(c.Instances.CompletionGraceSeconds),
		WarningLead:     seconds(c.Instances.WarningLeadSeconds),
		AutoDeleteEmpty: c.Instances.AutoDeleteEmpty,
		Fallback: session.Location{
			World: c.Fallback.World,
			X:     c.Fallback.X,
			Y:     c.Fallback.Y,
			Z:     c.Fallback.Z,
		},
	}
}

// Provisioner converts the world settings into a provision.Config.
func (c *Config) Provisioner() *provision.Config {
	return &provision.Config{
		TemplatesDir: c.Worlds.TemplatesDir,
		WorldsDir:    c.Worlds.Dir,
		LockDir:      c.Worlds.LockDir,
	}
}

// AutosaveInterval returns the autosave period; zero disables autosave.
func (c *Config) AutosaveInterval() time.Duration {
	return seconds(c.State.AutosaveIntervalSeconds)
}
