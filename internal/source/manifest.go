package source

import (
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/danieljhkim/agentpm/internal/fsops"
)

// Manifest is the plain-data content of agentpm.yml.
type Manifest struct {
	// Name is the package name. Defaults to the directory name.
	Name string `yaml:"name"`

	// Version is the package version. Defaults to "0.0.0".
	Version string `yaml:"version,omitempty"`

	// Identity is the fully-qualified package identity. Defaults to
	// "local/<name>".
	Identity string `yaml:"identity,omitempty"`

	// Description is free text shown by list.
	Description string `yaml:"description,omitempty"`
}

// LoadManifest reads dir/agentpm.yml. A missing manifest yields defaults
// derived from the directory name.
func LoadManifest(fs fsops.FS, dir string) (*Manifest, error) {
	m := &Manifest{}

	p := filepath.Join(dir, ManifestFile)
	exists, err := fs.Exists(p)
	if err != nil {
		return nil, fmt.Errorf("failed to check manifest: %w", err)
	}
	if exists {
		data, err := fs.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest: %w", err)
		}
		if err := yaml.Unmarshal(data, m); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", p, err)
		}
	}

	if strings.TrimSpace(m.Name) == "" {
		m.Name = filepath.Base(dir)
	}
	if m.Version == "" {
		m.Version = "0.0.0"
	}
	if m.Identity == "" {
		m.Identity = "local/" + m.Name
	}
	return m, nil
}
