package flows

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/danieljhkim/agentpm/internal/fsops"
	"github.com/danieljhkim/agentpm/internal/merge"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
}

func TestRender(t *testing.T) {
	tests := []struct {
		name   string
		from   string
		to     string
		source string
		want   string
	}{
		{"same suffix", "rules/*.md", ".tool/rules/*.md", "rules/a.md", ".tool/rules/a.md"},
		{"extension remap", "rules/*.md", ".cursor/rules/*.mdc", "rules/a.md", ".cursor/rules/a.mdc"},
		{"bare star to suffixed", "rules/*", ".tool/rules/*.txt", "rules/a.md", ".tool/rules/a.txt"},
		{"deep sub-path", "rules/**/*.md", ".cursor/rules/**/*.mdc", "rules/go/style.md", ".cursor/rules/go/style.mdc"},
		{"deep empty sub-path", "rules/**/*.md", ".cursor/rules/**/*.mdc", "rules/top.md", ".cursor/rules/top.mdc"},
		{"root copy", "root/**", "**", "root/.editorconfig", ".editorconfig"},
		{"placeholder re-appends extension", "agents/{name}.md", ".tool/agents/{name}", "agents/review.md", ".tool/agents/review.md"},
		{"placeholder with explicit extension", "agents/{name}.md", ".tool/agents/{name}.toml", "agents/review.md", ".tool/agents/review.toml"},
		{"placeholder directory", "skills/{skill}/**", ".tool/skills/{skill}/**", "skills/pdf/scripts/run.sh", ".tool/skills/pdf/scripts/run.sh"},
		{"literal", "mcp.jsonc", ".mcp.json", "mcp.jsonc", ".mcp.json"},
		{"trailing slash keeps basename", "commands/*.md", ".tool/commands/", "commands/build.md", ".tool/commands/build.md"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pat, err := CompilePattern(tt.from)
			if err != nil {
				t.Fatalf("CompilePattern: %v", err)
			}
			caps, ok := pat.Match(tt.source)
			if !ok {
				t.Fatalf("%q does not match %q", tt.source, tt.from)
			}
			got, err := Render(tt.to, caps, Context{Platform: "tool"})
			if err != nil {
				t.Fatalf("Render: %v", err)
			}
			if got != tt.want {
				t.Errorf("Render = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPattern_Match(t *testing.T) {
	pat, err := CompilePattern("rules/*.md")
	if err != nil {
		t.Fatal(err)
	}
	for path, want := range map[string]bool{
		"rules/a.md":     true,
		"rules/a.txt":    false,
		"rules/sub/a.md": false,
		"other/a.md":     false,
	} {
		if _, got := pat.Match(path); got != want {
			t.Errorf("Match(%q) = %v, want %v", path, got, want)
		}
	}
	if pat.StaticPrefix() != "rules" || !pat.IsGlob() {
		t.Errorf("StaticPrefix = %q, IsGlob = %v", pat.StaticPrefix(), pat.IsGlob())
	}
}

func TestCompilePattern_RejectsTwoDeepSegments(t *testing.T) {
	if _, err := CompilePattern("a/**/b/**"); err == nil {
		t.Error("expected error for repeated **")
	}
}

func TestRender_RejectsEscape(t *testing.T) {
	pat, _ := CompilePattern("rules/*.md")
	caps, _ := pat.Match("rules/a.md")
	if _, err := Render("../outside/*.md", caps, Context{}); err == nil {
		t.Error("expected error for target outside workspace")
	}
}

func TestStaticPrefix(t *testing.T) {
	tests := map[string]string{
		".tool/rules/*.md":       ".tool/rules",
		".cursor/rules/**/*.mdc": ".cursor/rules",
		".mcp.json":              "",
		".tool/commands/":        ".tool/commands",
		"**":                     "",
	}
	for in, want := range tests {
		if got := StaticPrefix(in); got != want {
			t.Errorf("StaticPrefix(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWithNamespace(t *testing.T) {
	tests := map[string]string{
		".tool/rules/*.md": ".tool/acme/rules/*.md",
		"CLAUDE.md":        "acme/CLAUDE.md",
	}
	for in, want := range tests {
		if got := WithNamespace(in, "acme"); got != want {
			t.Errorf("WithNamespace(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExpr_Switch(t *testing.T) {
	raw := `{"$switch": {"cases": [{"when": {"var": "targetRoot", "equals": "home"}, "value": ".tool/GLOBAL.md"}], "default": "AGENTS.md"}}`
	var e Expr
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	got, err := e.Eval(Context{Vars: map[string]string{"targetRoot": "home"}})
	if err != nil || got != ".tool/GLOBAL.md" {
		t.Errorf("home case = %q, %v", got, err)
	}
	got, err = e.Eval(Context{Vars: map[string]string{"targetRoot": "project"}})
	if err != nil || got != "AGENTS.md" {
		t.Errorf("default = %q, %v", got, err)
	}

	e.Switch.Default = nil
	if _, err := e.Eval(Context{Platform: "tool"}); err == nil {
		t.Error("expected error without default")
	}
}

func TestExpr_YAML(t *testing.T) {
	src := `
from: rules/*.md
to:
  $switch:
    cases:
      - when: {platform: cursor}
        value: .cursor/rules/*.mdc
    default: .tool/rules/*.md
`
	var f Flow
	if err := yaml.Unmarshal([]byte(src), &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f.From.Pattern != "rules/*.md" {
		t.Errorf("From = %+v", f.From)
	}
	got, err := f.To.Eval(Context{Platform: "cursor"})
	if err != nil || got != ".cursor/rules/*.mdc" {
		t.Errorf("To = %q, %v", got, err)
	}
}

func TestCondition_Eval(t *testing.T) {
	ws := t.TempDir()
	writeFiles(t, ws, map[string]string{".tool/settings.json": "{}"})
	ctx := Context{Platform: "tool", WorkspaceRoot: ws, FS: fsops.NewRealFS(), Vars: map[string]string{"targetRoot": "project"}}

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"empty", Condition{}, true},
		{"platform", Condition{Platform: "tool"}, true},
		{"other platform", Condition{Platform: "cursor"}, false},
		{"exists", Condition{Exists: ".tool/settings.json"}, true},
		{"missing", Condition{Exists: ".tool/missing.json"}, false},
		{"var", Condition{Var: "targetRoot", Equals: "project"}, true},
		{"not", Condition{Not: &Condition{Platform: "tool"}}, false},
		{"any", Condition{Any: []Condition{{Platform: "x"}, {Platform: "tool"}}}, true},
		{"all", Condition{All: []Condition{{Platform: "tool"}, {Exists: ".nope"}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cond.Eval(ctx); got != tt.want {
				t.Errorf("Eval = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResolver_Resolve(t *testing.T) {
	pkg := t.TempDir()
	ws := t.TempDir()
	writeFiles(t, pkg, map[string]string{
		"rules/a.md":      "a",
		"rules/b.md":      "b",
		"rules/notes.txt": "skip",
		"mcp.jsonc":       `{"mcpServers": {}}`,
		"agents/x.md":     "x",
	})

	fl := []Flow{
		{From: lit("rules/*.md"), To: lit(".tool/rules/*.md")},
		{From: lit("mcp.jsonc"), To: lit(".tool/mcp.json"), Merge: merge.KindDeep},
		{From: lit("agents/*.md"), To: lit(".tool/agents/*.md"), Platforms: []string{"other"}},
		{From: lit("missing.md"), To: lit(".tool/missing.md")},
	}

	r := NewResolver(fsops.NewRealFS(), 2)
	res, err := r.Resolve(context.Background(), fl, Source{Root: pkg}, Context{Platform: "tool", WorkspaceRoot: ws})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	var got []string
	for _, tg := range res.Targets {
		got = append(got, tg.Key+"->"+tg.TargetRel)
	}
	want := []string{"rules/a.md->.tool/rules/a.md", "rules/b.md->.tool/rules/b.md", "mcp.jsonc->.tool/mcp.json"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("targets = %v, want %v", got, want)
	}
	if !res.Targets[2].IsMerge() || res.Targets[0].IsMerge() {
		t.Error("merge tagging is wrong")
	}
	if res.Targets[0].TargetAbs != filepath.Join(ws, ".tool", "rules", "a.md") {
		t.Errorf("TargetAbs = %q", res.Targets[0].TargetAbs)
	}
}

func TestResolver_UnmetGuardAndFailedSwitchWarn(t *testing.T) {
	pkg := t.TempDir()
	writeFiles(t, pkg, map[string]string{"rules/a.md": "a", "AGENTS.md": "agents"})

	fl := []Flow{
		{From: lit("rules/*.md"), To: lit(".tool/rules/*.md"), When: &Condition{Exists: ".tool"}},
		{From: lit("AGENTS.md"), To: Expr{Switch: &Switch{Cases: []Case{{When: Condition{Platform: "x"}, Value: "X.md"}}}}},
	}

	r := NewResolver(fsops.NewRealFS(), 0)
	res, err := r.Resolve(context.Background(), fl, Source{Root: pkg}, Context{Platform: "tool", WorkspaceRoot: t.TempDir(), FS: fsops.NewRealFS()})
	if err != nil {
		t.Fatalf("Resolve must not fail: %v", err)
	}
	if len(res.Targets) != 0 {
		t.Errorf("expected no targets, got %v", res.Targets)
	}
	if len(res.Warnings) != 2 {
		t.Errorf("expected 2 warnings, got %v", res.Warnings)
	}
}

func TestResolver_Include(t *testing.T) {
	pkg := t.TempDir()
	writeFiles(t, pkg, map[string]string{"rules/a.md": "a", "rules/b.md": "b"})

	r := NewResolver(fsops.NewRealFS(), 0)
	src := Source{Root: pkg, Include: func(rel string) bool { return rel == "rules/b.md" }}
	res, err := r.Resolve(context.Background(), []Flow{{From: lit("rules/*.md"), To: lit(".t/rules/*.md")}}, src, Context{Platform: "tool", WorkspaceRoot: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Targets) != 1 || res.Targets[0].Key != "rules/b.md" {
		t.Errorf("targets = %v", res.Targets)
	}
}

func TestResolver_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewResolver(fsops.NewRealFS(), 0)
	_, err := r.Resolve(ctx, []Flow{{From: lit("a"), To: lit("b")}}, Source{Root: t.TempDir()}, Context{})
	if err == nil {
		t.Error("expected cancellation error")
	}
}

func TestTransform(t *testing.T) {
	src := []byte("---\npaths: \"*.go\"\n---\nbody\n")
	ops := []MapOp{{Rename: &Rename{From: "paths", To: "globs"}}}

	out, err := Transform(src, "rules/go.md", ".cursor/rules/go.mdc", ops)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if !strings.Contains(string(out), "globs:") {
		t.Errorf("rename not applied: %q", out)
	}

	back, err := Transform(out, ".cursor/rules/go.mdc", "rules/go.md", []MapOp{{Rename: &Rename{From: "globs", To: "paths"}}})
	if err != nil {
		t.Fatalf("reverse Transform: %v", err)
	}
	if string(back) != string(src) {
		t.Errorf("round trip = %q, want %q", back, src)
	}

	plain := []byte("no frontmatter\n")
	same, err := Transform(plain, "rules/a.md", ".tool/rules/a.md", nil)
	if err != nil || string(same) != string(plain) {
		t.Errorf("untransformed content changed: %q, %v", same, err)
	}
}

func lit(pattern string) Expr {
	return Expr{Pattern: pattern}
}
