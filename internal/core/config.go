package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"filestore/internal/pipeline"
	"filestore/internal/storage"
	"filestore/internal/upload"

	"gopkg.in/yaml.v3"
)

const (
	DefaultListen  = ":9000"
	DefaultWorkers = 4
)

type Config struct {
	// WebDir is the directory holding the storage/ tree.
	WebDir string `yaml:"web_dir"`
	// BaseURL prefixes public file URLs.
	BaseURL string `yaml:"base_url"`
	Listen  string `yaml:"listen"`
	// VariantDB is the SQLite database of derived variants. Defaults to
	// <WebDir>/variants.sqlite.
	VariantDB string `yaml:"variant_db"`
	// Workers bounds concurrent ingestion in IngestAll.
	Workers int `yaml:"workers"`
	// S3 enables s3:// sources for remote uploads when set.
	S3 *upload.S3Config `yaml:"s3"`
	// Presets are named operation chains.
	Presets map[string][]pipeline.OperationSpec `yaml:"presets"`
}

type ConfigOption func(*Config)

func WithWebDir(webDir string) ConfigOption {
	return func(cfg *Config) {
		cfg.WebDir = webDir
	}
}

func WithBaseURL(baseURL string) ConfigOption {
	return func(cfg *Config) {
		cfg.BaseURL = baseURL
	}
}

func WithListen(listen string) ConfigOption {
	return func(cfg *Config) {
		cfg.Listen = listen
	}
}

func WithVariantDB(path string) ConfigOption {
	return func(cfg *Config) {
		cfg.VariantDB = path
	}
}

func WithWorkers(workers int) ConfigOption {
	return func(cfg *Config) {
		cfg.Workers = workers
	}
}

func WithPreset(name string, specs ...pipeline.OperationSpec) ConfigOption {
	return func(cfg *Config) {
		if cfg.Presets == nil {
			cfg.Presets = map[string][]pipeline.OperationSpec{}
		}
		cfg.Presets[name] = specs
	}
}

func NewConfig(opts ...ConfigOption) Config {
	cfg := Config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg.withDefaults()
}

// LoadConfig reads the YAML file at path, then applies opts on top of it.
// An empty path yields the defaults plus opts.
func LoadConfig(path string, opts ...ConfigOption) (Config, error) {
	cfg := Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()
	return cfg, cfg.Validate()
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = storage.DefaultBaseURL
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.VariantDB == "" && c.WebDir != "" {
		c.VariantDB = filepath.Join(c.WebDir, "variants.sqlite")
	}
	return c
}

// Validate checks that the configuration can start a service.
func (c Config) Validate() error {
	if c.WebDir == "" {
		return errors.New("web dir must not be empty")
	}
	for name, specs := range c.Presets {
		if _, err := pipeline.Operations(specs); err != nil {
			return fmt.Errorf("preset %q: %w", name, err)
		}
	}
	if c.S3 != nil && c.S3.Endpoint == "" {
		return errors.New("s3 endpoint must not be empty")
	}
	return nil
}

// Preset returns fresh operations for the named preset.
func (c Config) Preset(name string) ([]pipeline.Operation, error) {
	specs, ok := c.Presets[name]
	if !ok {
		return nil, fmt.Errorf("unknown preset %q", name)
	}
	return pipeline.Operations(specs)
}
