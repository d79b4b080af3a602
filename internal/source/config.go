package source

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// DefaultOutputDir is where forester writes its build output.
const DefaultOutputDir = "output"

// ForestConfig is the subset of forest.toml Arbor needs.
type ForestConfig struct {
	Forest struct {
		Trees     []string `toml:"trees"`
		OutputDir string   `toml:"output_dir"`
	} `toml:"forest"`
}

// TreeDirs returns the configured tree directories, defaulting to "trees".
func (c *ForestConfig) TreeDirs() []string {
	if len(c.Forest.Trees) == 0 {
		return []string{"trees"}
	}
	return c.Forest.Trees
}

// OutputDir returns the configured output directory.
func (c *ForestConfig) OutputDir() string {
	if c.Forest.OutputDir == "" {
		return DefaultOutputDir
	}
	return c.Forest.OutputDir
}

// LoadForestConfig parses a forest.toml file. A missing file yields the
// defaults so that a bare directory of trees still works.
func LoadForestConfig(path string) (*ForestConfig, error) {
	cfg := &ForestConfig{}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("source: read forest config: %w", err)
	}
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("source: parse forest config %s: %w", path, err)
	}
	return cfg, nil
}
