package fileloader

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ahrav/dispatch/internal/config"
)

// FileLoader loads configuration from a YAML file on disk, with no
// environment overrides. Keys absent from the file keep their defaults.
type FileLoader struct {
	path string
}

// NewFileLoader creates a new FileLoader reading path.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{path: path}
}

// Load reads, parses and validates the configuration file.
func (l *FileLoader) Load(ctx context.Context) (*config.Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := config.Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
