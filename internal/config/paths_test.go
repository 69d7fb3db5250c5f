package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWorkspacePaths(t *testing.T) {
	root := t.TempDir()

	paths, err := WorkspacePaths(root)
	if err != nil {
		t.Fatalf("WorkspacePaths failed: %v", err)
	}
	if paths.Workspace != root {
		t.Errorf("Workspace = %s, want %s", paths.Workspace, root)
	}
	if paths.Dir != filepath.Join(root, ".agentpm") {
		t.Errorf("Dir path incorrect: got %s", paths.Dir)
	}
	if paths.Index != filepath.Join(root, ".agentpm", "agentpm.index.yml") {
		t.Errorf("Index path incorrect: got %s", paths.Index)
	}
	if len(paths.PlatformOverrides) != 2 || filepath.Base(paths.PlatformOverrides[1]) != "platforms.yaml" {
		t.Errorf("PlatformOverrides = %v", paths.PlatformOverrides)
	}
}

func TestWorkspacePaths_Relative(t *testing.T) {
	paths, err := WorkspacePaths(".")
	if err != nil {
		t.Fatalf("WorkspacePaths failed: %v", err)
	}
	if !filepath.IsAbs(paths.Workspace) {
		t.Errorf("Workspace should be absolute, got %s", paths.Workspace)
	}
}

func TestTargetRoot(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	paths, _ := WorkspacePaths(home)
	if got := paths.TargetRoot(); got != "home" {
		t.Errorf("TargetRoot(home) = %s", got)
	}

	project, _ := WorkspacePaths(filepath.Join(home, "project"))
	if got := project.TargetRoot(); got != "project" {
		t.Errorf("TargetRoot(project) = %s", got)
	}
}

func TestEnsureDirectories(t *testing.T) {
	paths, _ := WorkspacePaths(t.TempDir())
	if err := paths.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	if info, err := os.Stat(paths.Dir); err != nil || !info.IsDir() {
		t.Errorf("Dir not created: %v", err)
	}
}

func TestLoadSettings(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		s, err := LoadSettings()
		if err != nil {
			t.Fatalf("LoadSettings: %v", err)
		}
		if s.LogLevel != "warn" || s.ConflictStrategy != "keep-both" || s.NamespaceThreshold != 0.5 || len(s.Platforms) != 0 {
			t.Errorf("defaults = %+v", s)
		}
	})

	t.Run("from environment", func(t *testing.T) {
		t.Setenv("AGENTPM_CONFLICT_STRATEGY", "skip")
		t.Setenv("AGENTPM_NAMESPACE_THRESHOLD", "0.25")
		t.Setenv("AGENTPM_PLATFORMS", "claude,cursor")

		s, err := LoadSettings()
		if err != nil {
			t.Fatalf("LoadSettings: %v", err)
		}
		if s.ConflictStrategy != "skip" || s.NamespaceThreshold != 0.25 {
			t.Errorf("settings = %+v", s)
		}
		if strings.Join(s.Platforms, "|") != "claude|cursor" {
			t.Errorf("Platforms = %v", s.Platforms)
		}
	})

	t.Run("invalid threshold", func(t *testing.T) {
		t.Setenv("AGENTPM_NAMESPACE_THRESHOLD", "not-a-number")
		_, err := LoadSettings()
		if err == nil || !strings.Contains(err.Error(), "parse env:") {
			t.Errorf("expected parse env error, got %v", err)
		}
	})

	t.Run("out of range threshold", func(t *testing.T) {
		t.Setenv("AGENTPM_NAMESPACE_THRESHOLD", "1.5")
		if _, err := LoadSettings(); err == nil {
			t.Error("expected range error")
		}
	})
}
