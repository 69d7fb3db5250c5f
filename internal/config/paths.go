// Package config manages agentpm configuration and workspace paths.
//
// A workspace is the directory packages are installed into (usually a project
// root, or the home directory for user-wide installs). agentpm keeps its own
// files under <workspace>/.agentpm/: the ownership index and optional
// platform overrides. Settings come from AGENTPM_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Workspace-relative locations of agentpm's own files.
const (
	DirName       = ".agentpm"
	IndexFileName = "agentpm.index.yml"
)

// Paths contains all the filesystem paths used by agentpm for one workspace.
type Paths struct {
	// Workspace is the absolute workspace root.
	Workspace string

	// Dir is the workspace's .agentpm directory.
	Dir string

	// Index is the ownership ledger file.
	Index string

	// PlatformOverrides lists the platform override files, applied in order.
	PlatformOverrides []string
}

// WorkspacePaths returns the paths for the workspace rooted at root.
func WorkspacePaths(root string) (*Paths, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace %s: %w", root, err)
	}
	dir := filepath.Join(abs, DirName)
	return &Paths{
		Workspace: abs,
		Dir:       dir,
		Index:     filepath.Join(dir, IndexFileName),
		PlatformOverrides: []string{
			filepath.Join(dir, "platforms.jsonc"),
			filepath.Join(dir, "platforms.yaml"),
		},
	}, nil
}

// TargetRoot classifies the workspace for flow conditions: "home" when it is
// the user's home directory, otherwise "project".
func (p *Paths) TargetRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "project"
	}
	if h, err := filepath.EvalSymlinks(home); err == nil {
		home = h
	}
	ws := p.Workspace
	if w, err := filepath.EvalSymlinks(ws); err == nil {
		ws = w
	}
	if filepath.Clean(home) == filepath.Clean(ws) {
		return "home"
	}
	return "project"
}

// EnsureDirectories creates all necessary directories if they don't exist.
func (p *Paths) EnsureDirectories() error {
	if err := os.MkdirAll(p.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", p.Dir, err)
	}
	return nil
}
