package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Settings holds the environment-provided defaults for commands. Flags
// override them.
type Settings struct {
	// LogLevel is the diagnostic log level (debug, info, warn, error).
	LogLevel string `env:"AGENTPM_LOG_LEVEL" envDefault:"warn"`

	// ConflictStrategy is the default strategy for foreign-owned targets.
	ConflictStrategy string `env:"AGENTPM_CONFLICT_STRATEGY" envDefault:"keep-both"`

	// NamespaceThreshold is the share of a package's exclusive targets that
	// must collide before the whole package is namespaced under keep-both.
	NamespaceThreshold float64 `env:"AGENTPM_NAMESPACE_THRESHOLD" envDefault:"0.5"`

	// Platforms is the default platform set. Empty means detect.
	Platforms []string `env:"AGENTPM_PLATFORMS" envSeparator:","`

	// Workspace overrides the workspace root (default: current directory).
	Workspace string `env:"AGENTPM_WORKSPACE"`
}

// LoadSettings reads Settings from the environment.
func LoadSettings() (*Settings, error) {
	var s Settings
	if err := env.Parse(&s); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if s.NamespaceThreshold < 0 || s.NamespaceThreshold > 1 {
		return nil, fmt.Errorf("AGENTPM_NAMESPACE_THRESHOLD must be between 0 and 1, got %v", s.NamespaceThreshold)
	}
	return &s, nil
}
