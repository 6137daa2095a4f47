package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile loads configuration from a YAML file, then applies environment
// overrides on top. Keys missing from the file keep their defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", path, err)
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	if err := validate(doc); err != nil {
		return nil, fmt.Errorf("validate config %q: %w", path, err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
