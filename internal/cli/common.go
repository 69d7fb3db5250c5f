package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/danieljhkim/agentpm/internal/config"
	"github.com/danieljhkim/agentpm/internal/engine"
	"github.com/danieljhkim/agentpm/internal/fsops"
	"github.com/danieljhkim/agentpm/internal/hash"
	"github.com/danieljhkim/agentpm/internal/log"
	"github.com/danieljhkim/agentpm/internal/platform"
	"github.com/danieljhkim/agentpm/internal/state"
)

// session bundles the engine with the settings and paths commands need
// alongside it.
type session struct {
	eng       *engine.Engine
	fs        fsops.FS
	settings  *config.Settings
	paths     *config.Paths
	platforms *platform.Registry
}

// newSession creates an engine with real implementations of all dependencies
// for the selected workspace.
func newSession() (*session, error) {
	settings, err := config.LoadSettings()
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	level := settings.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	log.SetLevel(lvl)

	root := workspaceDir
	if root == "" {
		root = settings.Workspace
	}
	if root == "" {
		if root, err = os.Getwd(); err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
	}
	paths, err := config.WorkspacePaths(root)
	if err != nil {
		return nil, err
	}

	fs := fsops.NewRealFS()
	platforms, err := platform.Load(fs, paths.PlatformOverrides...)
	if err != nil {
		return nil, fmt.Errorf("failed to load platforms: %w", err)
	}
	index := state.NewFileIndexStore(fs, paths.Index)

	return &session{
		eng:       engine.New(fs, hash.NewBlake3Hasher(), index, platforms, paths),
		fs:        fs,
		settings:  settings,
		paths:     paths,
		platforms: platforms,
	}, nil
}

// platformsFlag returns the requested platforms, falling back to the
// AGENTPM_PLATFORMS default.
func (s *session) platformsFlag(flag []string) []string {
	if len(flag) > 0 {
		return flag
	}
	return s.settings.Platforms
}

// outputJSON writes a value as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// errorStrings renders errors for JSON output.
func errorStrings(errs []error) []string {
	if len(errs) == 0 {
		return nil
	}
	out := make([]string, len(errs))
	for i, err := range errs {
		out[i] = err.Error()
	}
	return out
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
