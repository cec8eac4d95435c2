// Package config provides Viper-based configuration loading for the rules
// engine and its command-line tools.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cory-johannsen/d20rules/internal/game/ruleset"
)

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
	// Output is "stderr", "stdout" or a file path.
	Output string `mapstructure:"output"`
}

// ContentConfig names the rule definition directories.
type ContentConfig struct {
	// Root is prepended to relative directories below.
	Root       string `mapstructure:"root"`
	Effects    string `mapstructure:"effects"`
	Conditions string `mapstructure:"conditions"`
	Resources  string `mapstructure:"resources"`
	Zones      string `mapstructure:"zones"`
}

// Dirs resolves the directories for ruleset.Load.
//
// Postcondition: relative entries are joined onto Root; empty entries stay empty.
func (c ContentConfig) Dirs() ruleset.Dirs {
	join := func(dir string) string {
		if dir == "" || filepath.IsAbs(dir) || c.Root == "" {
			return dir
		}
		return filepath.Join(c.Root, dir)
	}
	return ruleset.Dirs{
		Effects:    join(c.Effects),
		Conditions: join(c.Conditions),
		Resources:  join(c.Resources),
		Zones:      join(c.Zones),
	}
}

// EngineConfig tunes the rules engine.
type EngineConfig struct {
	// Seed seeds the random source of a new game.
	Seed uint64 `mapstructure:"seed"`
	// InstructionLimit bounds a single formula evaluation; 0 disables the bound.
	InstructionLimit int `mapstructure:"instruction_limit"`
	// MaxRoundsPerAdvance caps one advance call; 0 disables the cap.
	MaxRoundsPerAdvance int `mapstructure:"max_rounds_per_advance"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// SavesConfig controls snapshot persistence.
type SavesConfig struct {
	// Enabled turns on the Postgres save-slot repository. The database
	// section is only validated when it is set.
	Enabled bool `mapstructure:"enabled"`
	// Timeout bounds a single save or load.
	Timeout time.Duration `mapstructure:"timeout"`
}

// Config is the top-level application configuration.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Content  ContentConfig  `mapstructure:"content"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Database DatabaseConfig `mapstructure:"database"`
	Saves    SavesConfig    `mapstructure:"saves"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateContent(c.Content); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateEngine(c.Engine); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Saves.Enabled {
		if err := validateDatabase(c.Database); err != nil {
			errs = append(errs, err.Error())
		}
		if c.Saves.Timeout <= 0 {
			errs = append(errs, fmt.Sprintf("saves.timeout must be positive, got %s", c.Saves.Timeout))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	if l.Output == "" {
		return fmt.Errorf("logging.output must not be empty")
	}
	return nil
}

func validateContent(c ContentConfig) error {
	if c.Effects == "" && c.Conditions == "" && c.Resources == "" && c.Zones == "" {
		return fmt.Errorf("content must name at least one definition directory")
	}
	return nil
}

func validateEngine(e EngineConfig) error {
	var errs []string
	if e.InstructionLimit < 0 {
		errs = append(errs, fmt.Sprintf("engine.instruction_limit must be >= 0, got %d", e.InstructionLimit))
	}
	if e.MaxRoundsPerAdvance < 0 {
		errs = append(errs, fmt.Sprintf("engine.max_rounds_per_advance must be >= 0, got %d", e.MaxRoundsPerAdvance))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result. An empty path uses defaults and the
// environment only.
//
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}
	return LoadFromViper(v)
}

// NewViper returns a Viper instance with defaults and D20_ environment
// overrides installed, e.g. D20_ENGINE_SEED.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("D20")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("content.root", "content")
	v.SetDefault("content.effects", "effects")
	v.SetDefault("content.conditions", "conditions")
	v.SetDefault("content.resources", "resources")
	v.SetDefault("content.zones", "zones")

	v.SetDefault("engine.seed", 1)
	v.SetDefault("engine.instruction_limit", 10000)
	v.SetDefault("engine.max_rounds_per_advance", 100)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "d20")
	v.SetDefault("database.password", "d20")
	v.SetDefault("database.name", "d20rules")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("saves.enabled", false)
	v.SetDefault("saves.timeout", "10s")
}
