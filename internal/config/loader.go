package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the daemon.
// Zero values mean "unspecified" and are replaced by defaults in main.
type Config struct {
	Host      string `json:"host" yaml:"host" toml:"host"`
	Port      int    `json:"port" yaml:"port" toml:"port"`
	HTTPAddr  string `json:"http_addr" yaml:"http_addr" toml:"http_addr"`
	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	CatalogDB string `json:"catalog_db" yaml:"catalog_db" toml:"catalog_db"`
	RecordDB  string `json:"record_db" yaml:"record_db" toml:"record_db"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
