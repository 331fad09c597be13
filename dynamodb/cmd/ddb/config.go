package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/acksell/ddbmodel/dynamodb/table"
	"gopkg.in/yaml.v3"
)

// ConfigFile holds CLI defaults. It is looked up like the schema file.
const ConfigFile = "ddb.cli.yaml"

// Config holds defaults for the flags shared by all commands.
// Loaded from ddb.cli.yaml if present.
type Config struct {
	// Schema is the schema file. Relative paths are resolved against the
	// directory of the config file.
	Schema string `yaml:"schema"`

	Region   string `yaml:"region"`
	Profile  string `yaml:"profile"`
	Endpoint string `yaml:"endpoint"`

	// DataDir selects the BadgerDB store in this directory.
	DataDir string `yaml:"dataDir"`
}

// LoadConfig searches for ddb.cli.yaml starting from dir and walking up to
// the filesystem root. Returns an empty config if not found.
func LoadConfig(dir string) (Config, error) {
	var cfg Config

	configPath := table.FindSchemaFile(dir, ConfigFile)
	if configPath == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, fmt.Errorf("read %s: %w", configPath, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", configPath, err)
	}

	base := filepath.Dir(configPath)
	cfg.Schema = resolve(base, cfg.Schema)
	cfg.DataDir = resolve(base, cfg.DataDir)
	return cfg, nil
}

func resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// loadConfig reads the config for the working directory.
func loadConfig() (Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}
	return LoadConfig(wd)
}
