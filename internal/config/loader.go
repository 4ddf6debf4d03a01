package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and validates a YAML configuration file from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes and validates a YAML configuration from r.
// Unknown fields are rejected so typos surface at startup.
func LoadFromReader(r io.Reader) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = LogInfo
	}
}

// Validate checks the configuration for inconsistencies. All problems found
// are reported together.
func (c *Config) Validate() error {
	var errs []error
	if !c.Log.Level.IsValid() {
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	if c.Classifier.Name != "" && c.Classifier.Model == "" {
		errs = append(errs, fmt.Errorf("classifier.model must be set when classifier.name is %q", c.Classifier.Name))
	}
	if c.Classifier.Temperature < 0 || c.Classifier.Temperature > 2 {
		errs = append(errs, fmt.Errorf("classifier.temperature %v is outside [0, 2]", c.Classifier.Temperature))
	}
	if c.Pipeline.RoleSampleSize < 0 {
		errs = append(errs, fmt.Errorf("pipeline.role_sample_size must not be negative, got %d", c.Pipeline.RoleSampleSize))
	}
	if c.Pipeline.TagBatchSize < 0 {
		errs = append(errs, fmt.Errorf("pipeline.tag_batch_size must not be negative, got %d", c.Pipeline.TagBatchSize))
	}
	return errors.Join(errs...)
}
