// Package config loads the service configuration from a YAML file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StorageConfig selects and configures the durable deployment state store.
type StorageConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	// DSN is the database file path for sqlite or the connection string
	// for postgres.
	DSN string `yaml:"dsn"`
}

// ArtifactsConfig selects and configures the artifact store backend.
type ArtifactsConfig struct {
	// Backend is "local" or "s3".
	Backend string `yaml:"backend"`
	// Dir is the base directory for the local backend.
	Dir string `yaml:"dir,omitempty"`
	// Bucket, Prefix and Region configure the s3 backend.
	Bucket string `yaml:"bucket,omitempty"`
	Prefix string `yaml:"prefix,omitempty"`
	Region string `yaml:"region,omitempty"`
}

// Config is the overall service configuration.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string `yaml:"addr"`
	// BaseURL is the public base URL used to build check/artifact URLs
	// handed back to deployment starters.
	BaseURL string `yaml:"base_url"`
	// AdminKeys are the accepted tokens for the AdminKey authorization
	// scheme. At least one is required.
	AdminKeys []string `yaml:"admin_keys"`

	Storage   StorageConfig   `yaml:"storage"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
}

// Default returns a configuration suitable for local development.
func Default() *Config {
	return &Config{
		Addr:    ":8787",
		BaseURL: "http://localhost:8787",
		Storage: StorageConfig{
			Driver: "sqlite",
			DSN:    "deployments.db",
		},
		Artifacts: ArtifactsConfig{
			Backend: "local",
			Dir:     "data",
		},
	}
}

// LoadFromFile loads a configuration from a YAML file, applying defaults
// for unset fields.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for contradictions before startup.
func (c *Config) Validate() error {
	if len(c.AdminKeys) == 0 {
		return fmt.Errorf("at least one admin key must be configured")
	}

	switch c.Storage.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Storage.DSN == "" {
		return fmt.Errorf("storage dsn must be set")
	}

	switch c.Artifacts.Backend {
	case "local":
		if c.Artifacts.Dir == "" {
			return fmt.Errorf("artifacts dir must be set for the local backend")
		}
	case "s3":
		if c.Artifacts.Bucket == "" {
			return fmt.Errorf("artifacts bucket must be set for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown artifacts backend %q", c.Artifacts.Backend)
	}

	return nil
}
