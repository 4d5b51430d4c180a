package cli

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is where commands look for the workspace config.
const DefaultConfigPath = "driftline.yaml"

// Config is the on-disk workspace configuration.
type Config struct {
	// DB is the path to the SQLite workspace database.
	DB string `yaml:"db"`

	// Workspace is the workspace id commands operate in.
	Workspace string `yaml:"workspace"`

	// Principal identifies who the CLI acts as.
	Principal PrincipalConfig `yaml:"principal"`
}

// PrincipalConfig describes the acting principal.
type PrincipalConfig struct {
	ID string `yaml:"id"`

	// Workspaces lists workspace memberships. The configured workspace
	// must be among them or every command will be denied.
	Workspaces []string `yaml:"workspaces"`
}

// LoadConfig reads and validates a config file.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.DB == "" {
		return nil, fmt.Errorf("config %s: db path is required", path)
	}
	if cfg.Workspace == "" {
		return nil, fmt.Errorf("config %s: workspace is required", path)
	}
	if cfg.Principal.ID == "" {
		return nil, fmt.Errorf("config %s: principal.id is required", path)
	}
	return &cfg, nil
}

// Save writes the config to path.
func (c *Config) Save(path string) error {
	raw, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
