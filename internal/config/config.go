// Package config loads the engine's YAML config file and validates it
// against an embedded CUE schema before anything touches disk or
// network.
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// Config is the engine's runtime configuration.
type Config struct {
	StorePath             string `yaml:"storePath" json:"storePath"`
	RemoteURL             string `yaml:"remoteUrl" json:"remoteUrl"`
	UserID                string `yaml:"userId" json:"userId"`
	UserName              string `yaml:"userName" json:"userName"`
	UserPhotoURL          string `yaml:"userPhotoUrl" json:"userPhotoUrl"`
	AggregationWindowSecs int    `yaml:"aggregationWindowSecs" json:"aggregationWindowSecs"`
	ListenAddr            string `yaml:"listenAddr" json:"listenAddr"`
	LogLevel              string `yaml:"logLevel" json:"logLevel"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		StorePath:             "echosync.db",
		AggregationWindowSecs: 120,
		ListenAddr:            "127.0.0.1:8787",
		LogLevel:              "info",
	}
}

// AggregationWindow returns the burst-collapse window as a duration.
func (c Config) AggregationWindow() time.Duration {
	return time.Duration(c.AggregationWindowSecs) * time.Second
}

// SlogLevel maps the configured level name onto slog's levels.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads, parses, and validates a YAML config file. An empty path
// returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate unifies the config with the embedded CUE schema and reports
// the first constraint violation.
func Validate(cfg Config) error {
	ctx := cuecontext.New()

	compiled := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := compiled.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	schema := compiled.LookupPath(cue.ParsePath("#Config"))
	if !schema.Exists() {
		return fmt.Errorf("compile config schema: #Config not found")
	}

	val := ctx.Encode(cfg)
	if err := val.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	unified := schema.Unify(val)
	if err := unified.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
