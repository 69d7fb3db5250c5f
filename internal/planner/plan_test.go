package planner

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/danieljhkim/agentpm/internal/flows"
	"github.com/danieljhkim/agentpm/internal/fsops"
	"github.com/danieljhkim/agentpm/internal/merge"
	"github.com/danieljhkim/agentpm/internal/state"
)

func touch(t *testing.T, root string, rels ...string) {
	t.Helper()
	for _, rel := range rels {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(rel), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func ruleTargets(platform, dir string, names ...string) []flows.Target {
	var out []flows.Target
	for _, n := range names {
		out = append(out, flows.Target{
			Platform:  platform,
			Key:       "rules/" + n,
			From:      "rules/*.md",
			Pattern:   dir + "/*.md",
			TargetRel: dir + "/" + n,
		})
	}
	return out
}

func TestGroupKey(t *testing.T) {
	tests := []struct {
		name     string
		target   flows.Target
		wantKey  string
		wantFile bool
	}{
		{"category glob", flows.Target{Key: "rules/a.md", From: "rules/*.md", Pattern: ".t/rules/*.md"}, "rules/", false},
		{"two static segments", flows.Target{Key: "rules/go/a.md", From: "rules/go/**/*.md", Pattern: ".t/rules/**/*.md"}, "rules/go/", false},
		{"non-category", flows.Target{Key: "extra/x/a.md", From: "extra/x/*.md", Pattern: ".t/x/*.md"}, "extra/", false},
		{"literal source", flows.Target{Key: "AGENTS.md", From: "AGENTS.md", Pattern: "AGENTS.md"}, "AGENTS.md", true},
		{"merge", flows.Target{Key: "mcp.jsonc", From: "mcp.jsonc", Pattern: ".mcp.json", Merge: merge.KindDeep}, "mcp.jsonc", true},
		{"root copy", flows.Target{Key: "root/.editorconfig", From: "root/**", Pattern: "**"}, "root/.editorconfig", true},
		{"no static prefix", flows.Target{Key: "x/a.md", From: "**/*.md", Pattern: ".t/**/*.md"}, "x/", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, fileOnly := GroupKey(tt.target)
			if key != tt.wantKey || fileOnly != tt.wantFile {
				t.Errorf("GroupKey = %q, %v; want %q, %v", key, fileOnly, tt.wantKey, tt.wantFile)
			}
		})
	}
}

// Empty target directory: the group is tracked as a directory.
func TestBuildPlan_EmptyDirDecidesDir(t *testing.T) {
	ws := t.TempDir()
	targets := ruleTargets("tool", ".tool/rules", "a.md", "b.md")

	plan, err := BuildPlan(targets, nil, NewFSOccupancy(fsops.NewRealFS(), ws))
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	got := plan.Materialize(targets)
	want := map[string][]string{"rules/": {".tool/rules/"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Materialize = %v, want %v", got, want)
	}
}

// An unrelated file in the target directory flips the decision to file.
func TestBuildPlan_OccupiedDirDecidesFile(t *testing.T) {
	ws := t.TempDir()
	touch(t, ws, ".tool/rules/manual.md")
	targets := ruleTargets("tool", ".tool/rules", "a.md", "b.md")

	plan, err := BuildPlan(targets, nil, NewFSOccupancy(fsops.NewRealFS(), ws))
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	got := plan.Materialize(targets)
	want := map[string][]string{
		"rules/a.md": {".tool/rules/a.md"},
		"rules/b.md": {".tool/rules/b.md"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Materialize = %v, want %v", got, want)
	}
}

// Re-installing into a directory holding only the package's own files keeps
// the earlier "dir" decision.
func TestBuildPlan_DecisionStability(t *testing.T) {
	ws := t.TempDir()
	touch(t, ws, ".tool/rules/a.md", ".tool/rules/b.md")
	prev := &state.PackageEntry{Files: map[string][]string{"rules/": {".tool/rules/"}}}
	targets := ruleTargets("tool", ".tool/rules", "a.md", "b.md")

	plan, err := BuildPlan(targets, prev, NewFSOccupancy(fsops.NewRealFS(), ws))
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	g, _ := plan.Group("rules/")
	if g.Decision != DecisionDir {
		t.Errorf("decision flipped to %s", g.Decision)
	}

	// Own file-level paths from an earlier run do not count as occupied.
	prevFiles := &state.PackageEntry{Files: map[string][]string{
		"rules/a.md": {".tool/rules/a.md"},
		"rules/b.md": {".tool/rules/b.md"},
	}}
	plan, err = BuildPlan(targets, prevFiles, NewFSOccupancy(fsops.NewRealFS(), ws))
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if g, _ := plan.Group("rules/"); g.Decision != DecisionDir {
		t.Errorf("own files should not occupy the directory, got %s", g.Decision)
	}
}

// Directory claims are a union across platforms.
func TestBuildPlan_AnyPlatformDirWins(t *testing.T) {
	ws := t.TempDir()
	touch(t, ws, ".b/rules/manual.md")
	targets := append(ruleTargets("a", ".a/rules", "x.md"), ruleTargets("b", ".b/rules", "x.md")...)

	plan, err := BuildPlan(targets, nil, NewFSOccupancy(fsops.NewRealFS(), ws))
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	g, _ := plan.Group("rules/")
	if g.Decision != DecisionDir {
		t.Fatalf("overall decision = %s, want dir", g.Decision)
	}
	if g.Platforms["a"].Decision != DecisionDir || g.Platforms["b"].Decision != DecisionFile {
		t.Errorf("platform decisions = a:%s b:%s", g.Platforms["a"].Decision, g.Platforms["b"].Decision)
	}

	got := plan.Materialize(targets)
	want := map[string][]string{
		"rules/":     {".a/rules/"},
		"rules/x.md": {".b/rules/x.md"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Materialize = %v, want %v", got, want)
	}
}

func TestPlan_Downgrade(t *testing.T) {
	targets := ruleTargets("tool", ".tool/rules", "a.md")
	plan, err := BuildPlan(targets, nil, NewFSOccupancy(fsops.NewRealFS(), t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	g, ok := plan.Group("rules/")
	if !ok || g.Platforms["tool"].Decision != DecisionDir {
		t.Fatalf("rules/ not planned as a directory: %+v", g)
	}

	plan.Downgrade("rules/", "tool")
	if g.Platforms["tool"].Decision != DecisionFile || g.Decision != DecisionFile {
		t.Errorf("after downgrade = %+v", g.Platforms["tool"])
	}
	got := plan.Materialize(targets)
	if !reflect.DeepEqual(got, map[string][]string{"rules/a.md": {".tool/rules/a.md"}}) {
		t.Errorf("Materialize = %v", got)
	}
}

func TestMaterialize_MergeAndRelocated(t *testing.T) {
	targets := []flows.Target{
		{Platform: "tool", Key: "mcp.jsonc", From: "mcp.jsonc", Pattern: ".mcp.json", TargetRel: ".mcp.json", Merge: merge.KindDeep},
	}
	targets = append(targets, ruleTargets("tool", ".tool/rules", "a.md")...)
	plan, err := BuildPlan(targets, nil, NewFSOccupancy(fsops.NewRealFS(), t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}

	relocated := targets[1]
	relocated.TargetRel = ".tool/ns/rules/a.md"
	got := plan.Materialize([]flows.Target{targets[0], relocated})
	want := map[string][]string{
		"mcp.jsonc":  {".mcp.json"},
		"rules/a.md": {".tool/ns/rules/a.md"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Materialize = %v, want %v", got, want)
	}
}

func TestBuildOwnership(t *testing.T) {
	ws := t.TempDir()
	touch(t, ws, ".tool/rules/a.md", ".tool/rules/b.md", ".tool/agents/x.md")

	ix := state.NewIndex()
	ix.Packages["p"] = &state.PackageEntry{Files: map[string][]string{
		"rules/": {".tool/rules/"},
	}}
	ix.Packages["q"] = &state.PackageEntry{Files: map[string][]string{
		"rules/b.md":  {".tool/rules/b.md"},
		"agents/x.md": {".tool/agents/x.md"},
	}}
	ix.Packages["self"] = &state.PackageEntry{Files: map[string][]string{
		"rules/c.md": {".tool/rules/c.md"},
	}}

	o, err := BuildOwnership(fsops.NewRealFS(), ws, ix, "self")
	if err != nil {
		t.Fatalf("BuildOwnership: %v", err)
	}

	if owner := o.PathOwners[".tool/rules/a.md"]; owner.Package != "p" || owner.Kind != OwnerDir {
		t.Errorf("a.md owner = %+v", owner)
	}
	// File-scoped entries are registered before directory expansion.
	if owner := o.PathOwners[".tool/rules/b.md"]; owner.Package != "q" || owner.Kind != OwnerFile {
		t.Errorf("b.md owner = %+v", owner)
	}
	if len(o.DirOwners[".tool/rules/"]) != 1 {
		t.Errorf("DirOwners = %v", o.DirOwners)
	}
	// The installing package is excluded from its own view.
	if _, ok := o.PathOwners[".tool/rules/c.md"]; ok {
		t.Error("self entry must not be in the ownership view")
	}
	// New files inside another package's directory claim belong to it.
	if owner, ok := o.OwnerOf(".tool/rules/new.md"); !ok || owner.Package != "p" {
		t.Errorf("OwnerOf(new.md) = %+v, %v", owner, ok)
	}
	if _, ok := o.OwnerOf(".tool/other.md"); ok {
		t.Error("unowned path reported as owned")
	}
}
