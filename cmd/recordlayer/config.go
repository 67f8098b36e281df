package main

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds CLI configuration. Loaded from recordlayer.yaml if present,
// mirroring the teacher's ddb.ui.yaml discovery (dynamodb/cmd/ddb/config.go):
// walk up from the current directory until the file is found.
type Config struct {
	DataDir   string        `yaml:"dataDir"`
	Schema    string        `yaml:"schema"`
	BatchSize int           `yaml:"batchSize"`
	Throttle  time.Duration `yaml:"throttle"`
}

func (c Config) withDefaults() Config {
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 1000
	}
	if c.Throttle <= 0 {
		c.Throttle = 100 * time.Millisecond
	}
	return c
}

// LoadConfig searches for recordlayer.yaml starting from the current
// directory and walking up to the filesystem root. Returns defaults if not
// found.
func LoadConfig() Config {
	var cfg Config

	path := findConfigFile()
	if path == "" {
		return cfg.withDefaults()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg.withDefaults()
	}
	_ = yaml.Unmarshal(data, &cfg)
	return cfg.withDefaults()
}

func findConfigFile() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		path := filepath.Join(dir, "recordlayer.yaml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
