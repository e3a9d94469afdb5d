// Package config handles configuration and the .corewf directory
// structure. Every project that hosts workflow runs gets a .corewf/
// folder created in its root.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// StateDirName is the name of the directory created in each project.
	StateDirName = ".corewf"

	defaultDefinition = "workflow.yaml"
)

const defaultProjectConfigYAML = `# corewf project configuration
version: 1

# Default definition file, relative to the project directory.
definition: workflow.yaml

expressions:
  # Compiled-expression cache watermarks.
  cache_low: 64
  cache_high: 96

telemetry:
  enabled: false
`

// ExpressionConfig tunes the expression front end.
type ExpressionConfig struct {
	CacheLow  int `yaml:"cache_low"`
	CacheHigh int `yaml:"cache_high"`
}

// TelemetryConfig toggles span emission for node lifecycle events.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`
}

// ProjectConfig models .corewf/config.yaml.
type ProjectConfig struct {
	Version     int              `yaml:"version"`
	Definition  string           `yaml:"definition"`
	Expressions ExpressionConfig `yaml:"expressions"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
}

// Config holds the runtime configuration for one project directory.
type Config struct {
	// ProjectDir is the directory the CLI ran from.
	ProjectDir string

	// StateRoot is ProjectDir/.corewf.
	StateRoot string

	Project ProjectConfig
}

// InitStateDir creates the .corewf directory structure in the given
// project directory.
//
// Structure created:
// .corewf/
// ├── logs/    <- engine run logs
// └── state/   <- per-run snapshots
func InitStateDir(projectDir string) error {
	root := filepath.Join(projectDir, StateDirName)
	dirs := []string{
		filepath.Join(root, "logs"),
		filepath.Join(root, "state"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return ensureProjectConfig(filepath.Join(root, "config.yaml"))
}

// New creates a Config populated from the project directory, falling
// back to defaults when no config file exists yet.
func New(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir: projectDir,
		StateRoot:  filepath.Join(projectDir, StateDirName),
		Project:    defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LogsDir returns the path to the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.StateRoot, "logs")
}

// StateDir returns the directory holding snapshots for the named run.
func (c *Config) StateDir(runID string) string {
	return filepath.Join(c.StateRoot, "state", sanitizeRunID(runID))
}

// ProjectConfigPath returns the on-disk location for the config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.StateRoot, "config.yaml")
}

// DefinitionPath resolves the definition file, preferring an explicit
// argument over the configured default.
func (c *Config) DefinitionPath(arg string) string {
	name := strings.TrimSpace(arg)
	if name == "" {
		name = c.Project.Definition
	}
	if name == "" {
		name = defaultDefinition
	}
	if filepath.IsAbs(name) {
		return filepath.Clean(name)
	}
	return filepath.Join(c.ProjectDir, name)
}

// SetDefaultDefinition updates the configured definition file and
// persists the value back to .corewf/config.yaml.
func (c *Config) SetDefaultDefinition(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("config: definition name is required")
	}
	c.Project.Definition = name
	return c.saveProjectConfig()
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed ProjectConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	return nil
}

func defaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version:    1,
		Definition: defaultDefinition,
		Expressions: ExpressionConfig{
			CacheLow:  64,
			CacheHigh: 96,
		},
	}
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if strings.TrimSpace(pc.Definition) == "" {
		pc.Definition = defaultDefinition
	}
	if pc.Expressions.CacheLow == 0 {
		pc.Expressions.CacheLow = 64
	}
	if pc.Expressions.CacheHigh == 0 {
		pc.Expressions.CacheHigh = 96
	}
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if pc.Expressions.CacheLow <= 0 {
		return fmt.Errorf("expressions.cache_low must be positive")
	}
	if pc.Expressions.CacheHigh <= pc.Expressions.CacheLow {
		return fmt.Errorf("expressions.cache_high must exceed cache_low")
	}
	return nil
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644)
}

func (c *Config) saveProjectConfig() error {
	if c == nil {
		return fmt.Errorf("config: nil receiver")
	}
	c.Project.applyDefaults()
	if err := c.Project.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(c.StateRoot, 0o755); err != nil {
		return fmt.Errorf("config: ensure state dir: %w", err)
	}
	data, err := yaml.Marshal(c.Project)
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.WriteFile(c.ProjectConfigPath(), data, 0o644); err != nil {
		return fmt.Errorf("config: write project config: %w", err)
	}
	return nil
}

func sanitizeRunID(runID string) string {
	runID = strings.TrimSpace(strings.ToLower(runID))
	if runID == "" {
		return "default"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, runID)
}
