// Package integration exercises the engine end to end against the built-in
// platform catalogue and a real filesystem.
package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/danieljhkim/agentpm/internal/config"
	"github.com/danieljhkim/agentpm/internal/engine"
	"github.com/danieljhkim/agentpm/internal/fsops"
	"github.com/danieljhkim/agentpm/internal/hash"
	"github.com/danieljhkim/agentpm/internal/platform"
	"github.com/danieljhkim/agentpm/internal/source"
	"github.com/danieljhkim/agentpm/internal/state"
)

type testEnv struct {
	t     *testing.T
	root  string
	ws    string
	fs    fsops.FS
	eng   *engine.Engine
	index state.IndexStore
}

// setupTestEngine creates a workspace and an engine wired to the built-in
// catalogue plus any workspace overrides.
func setupTestEngine(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	ws := filepath.Join(root, "workspace")
	if err := os.MkdirAll(ws, 0755); err != nil {
		t.Fatalf("Failed to create workspace: %v", err)
	}

	paths, err := config.WorkspacePaths(ws)
	if err != nil {
		t.Fatal(err)
	}
	fs := fsops.NewRealFS()
	reg, err := platform.Load(fs, paths.PlatformOverrides...)
	if err != nil {
		t.Fatalf("Load platforms: %v", err)
	}
	index := state.NewFileIndexStore(fs, paths.Index)

	return &testEnv{
		t:     t,
		root:  root,
		ws:    ws,
		fs:    fs,
		eng:   engine.New(fs, hash.NewBlake3Hasher(), index, reg, paths),
		index: index,
	}
}

// writePackage creates a package directory with a manifest and files, and
// resolves it the way the CLI does.
func (e *testEnv) writePackage(dir, manifest string, files map[string]string) source.Package {
	e.t.Helper()
	pkgDir := filepath.Join(e.root, "packages", dir)
	e.writeFile(filepath.Join(pkgDir, source.ManifestFile), manifest)
	for rel, content := range files {
		e.writeFile(filepath.Join(pkgDir, filepath.FromSlash(rel)), content)
	}

	pkgs, err := source.NewLocalResolver(e.fs, e.root).Resolve(context.Background(), []source.Ref{{Location: pkgDir}})
	if err != nil {
		e.t.Fatalf("Resolve %s: %v", dir, err)
	}
	return pkgs[0]
}

func (e *testEnv) install(platforms []string, pkgs ...source.Package) *engine.InstallResult {
	e.t.Helper()
	res, err := e.eng.Install(context.Background(), &engine.InstallRequest{
		Packages:           pkgs,
		Platforms:          platforms,
		NamespaceThreshold: 0.5,
	})
	if err != nil {
		e.t.Fatalf("Install() error = %v", err)
	}
	return res
}

func (e *testEnv) save(name string) *engine.SaveResult {
	e.t.Helper()
	res, err := e.eng.Save(context.Background(), &engine.SaveRequest{Package: name})
	if err != nil {
		e.t.Fatalf("Save() error = %v", err)
	}
	return res
}

func (e *testEnv) writeFile(p, content string) {
	e.t.Helper()
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		e.t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		e.t.Fatal(err)
	}
}

// wsFile returns the content of a workspace file, or "" when it is missing.
func (e *testEnv) wsFile(rel string) string {
	e.t.Helper()
	data, err := os.ReadFile(filepath.Join(e.ws, filepath.FromSlash(rel)))
	if err != nil {
		return ""
	}
	return string(data)
}

func (e *testEnv) wsExists(rel string) bool {
	_, err := os.Stat(filepath.Join(e.ws, filepath.FromSlash(rel)))
	return err == nil
}

func readFile(t *testing.T, p string) string {
	t.Helper()
	data, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("read %s: %v", p, err)
	}
	return string(data)
}
