package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/danieljhkim/agentpm/internal/config"
	"github.com/danieljhkim/agentpm/internal/fsops"
	"github.com/danieljhkim/agentpm/internal/hash"
	"github.com/danieljhkim/agentpm/internal/planner"
	"github.com/danieljhkim/agentpm/internal/platform"
	"github.com/danieljhkim/agentpm/internal/source"
	"github.com/danieljhkim/agentpm/internal/state"
)

// testCatalogue declares two small platforms: "tool" copies rules and merges
// shared files, "alt" renames a frontmatter field and can import it back.
const testCatalogue = `{
  "platforms": {
    "tool": {
      "name": "Tool",
      "rootDir": ".tool",
      "detect": [".tool"],
      "export": [
        {"from": "rules/*.md", "to": ".tool/rules/*.md"},
        {"from": "mcp.jsonc", "to": ".tool/mcp.json", "merge": "deep"},
        {"from": "AGENTS.md", "to": "TOOL.md", "merge": "composite"}
      ]
    },
    "alt": {
      "name": "Alt",
      "rootDir": ".alt",
      "export": [
        // cursor-style rule files
        {"from": "rules/*.md", "to": ".alt/rules/*.mdc", "map": [{"rename": {"from": "paths", "to": "globs"}}]}
      ],
      "import": [
        {"from": ".alt/rules/*.mdc", "to": "rules/*.md", "map": [{"rename": {"from": "globs", "to": "paths"}}]}
      ]
    }
  }
}`

type fixture struct {
	t     *testing.T
	ws    string
	pkgs  string
	eng   *Engine
	index *state.FileIndexStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	ws := filepath.Join(root, "ws")
	if err := os.MkdirAll(ws, 0755); err != nil {
		t.Fatal(err)
	}

	cat, err := platform.Parse("test.jsonc", []byte(testCatalogue))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	paths, err := config.WorkspacePaths(ws)
	if err != nil {
		t.Fatal(err)
	}
	fs := fsops.NewRealFS()
	index := state.NewFileIndexStore(fs, paths.Index)

	return &fixture{
		t:     t,
		ws:    ws,
		pkgs:  filepath.Join(root, "pkgs"),
		eng:   New(fs, hash.NewBlake3Hasher(), index, platform.NewRegistry(cat), paths),
		index: index,
	}
}

// pkg writes a package source tree and returns it.
func (f *fixture) pkg(name, identity string, files map[string]string) source.Package {
	f.t.Helper()
	dir := filepath.Join(f.pkgs, name)
	for rel, content := range files {
		writeFile(f.t, filepath.Join(dir, filepath.FromSlash(rel)), content)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		f.t.Fatal(err)
	}
	return source.Package{Name: name, Version: "1.0.0", Identity: identity, ContentRoot: dir}
}

func (f *fixture) install(strategy planner.Strategy, platforms []string, pkgs ...source.Package) (*InstallResult, error) {
	f.t.Helper()
	return f.eng.Install(context.Background(), &InstallRequest{
		Packages:           pkgs,
		Platforms:          platforms,
		Strategy:           strategy,
		NamespaceThreshold: 0.5,
	})
}

func (f *fixture) mustInstall(pkgs ...source.Package) *InstallResult {
	f.t.Helper()
	res, err := f.install(planner.StrategyKeepBoth, []string{"tool"}, pkgs...)
	if err != nil {
		f.t.Fatalf("Install: %v", err)
	}
	return res
}

func (f *fixture) entry(name string) *state.PackageEntry {
	f.t.Helper()
	ix, err := f.index.Load()
	if err != nil {
		f.t.Fatalf("Load index: %v", err)
	}
	e, _ := ix.Entry(name)
	return e
}

func (f *fixture) read(rel string) string {
	f.t.Helper()
	data, err := os.ReadFile(filepath.Join(f.ws, filepath.FromSlash(rel)))
	if err != nil {
		f.t.Fatalf("read %s: %v", rel, err)
	}
	return string(data)
}

func (f *fixture) exists(rel string) bool {
	_, err := os.Stat(filepath.Join(f.ws, filepath.FromSlash(rel)))
	return err == nil
}

func (f *fixture) write(rel, content string) {
	f.t.Helper()
	writeFile(f.t, filepath.Join(f.ws, filepath.FromSlash(rel)), content)
}

func writeFile(t *testing.T, p, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func readSource(t *testing.T, pkg source.Package, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(pkg.ContentRoot, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("read source %s: %v", rel, err)
	}
	return string(data)
}
