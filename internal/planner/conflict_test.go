package planner

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/danieljhkim/agentpm/internal/flows"
	"github.com/danieljhkim/agentpm/internal/merge"
)

const kitIdentity = "gh@acme/kit/essentials/rules"

// ownedBy builds an ownership view in which pkg owns each path file-scoped.
func ownedBy(pkg string, paths ...string) *Ownership {
	o := &Ownership{DirOwners: map[string][]Owner{}, PathOwners: map[string]Owner{}}
	for _, p := range paths {
		o.PathOwners[p] = Owner{Package: pkg, Key: strings.TrimPrefix(p, ".tool/"), Kind: OwnerFile}
	}
	return o
}

func relPaths(ts []flows.Target) []string {
	var out []string
	for _, t := range ts {
		out = append(out, t.TargetRel)
	}
	return out
}

type fixedChooser struct {
	strategy Strategy
	err      error
	asked    []string
}

func (c *fixedChooser) Choose(_ context.Context, conflict Conflict) (Strategy, error) {
	c.asked = append(c.asked, conflict.Target.TargetRel)
	return c.strategy, c.err
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"", StrategyKeepBoth, false},
		{"overwrite", StrategyOverwrite, false},
		{" Skip ", StrategySkip, false},
		{"keep-both", StrategyKeepBoth, false},
		{"ask", StrategyAsk, false},
		{"merge", "", true},
	}
	for _, tt := range tests {
		got, err := ParseStrategy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseStrategy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseStrategy(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestConflictResolver_NoCollision(t *testing.T) {
	targets := ruleTargets("tool", ".tool/rules", "a.md")
	r := NewConflictResolver(Policy{Strategy: StrategyKeepBoth, NamespaceThreshold: 0.5}, "/ws")
	res, err := r.Resolve(context.Background(), Request{
		Package:   "kit",
		Identity:  kitIdentity,
		Targets:   targets,
		Ownership: ownedBy("other", ".tool/rules/zzz.md"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(res.Targets, targets) || res.Namespace != "" || len(res.Notes) != 0 {
		t.Errorf("unexpected resolution: %+v", res)
	}
}

// A single keep-both collision below the threshold relocates only that file
// under the package's namespace.
func TestConflictResolver_KeepBothRelocatesFile(t *testing.T) {
	targets := ruleTargets("tool", ".tool/rules", "a.md", "b.md", "c.md")
	r := NewConflictResolver(Policy{Strategy: StrategyKeepBoth, NamespaceThreshold: 0.5}, "/ws")

	res, err := r.Resolve(context.Background(), Request{
		Package:   "kit",
		Identity:  kitIdentity,
		Targets:   targets,
		Ownership: ownedBy("other", ".tool/rules/a.md"),
		Reresolve: func(string) ([]flows.Target, error) {
			t.Fatal("whole-package namespacing below threshold")
			return nil, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	want := []string{".tool/essentials/rules/a.md", ".tool/rules/b.md", ".tool/rules/c.md"}
	if got := relPaths(res.Targets); !reflect.DeepEqual(got, want) {
		t.Errorf("targets = %v, want %v", got, want)
	}
	if res.Targets[0].TargetAbs != "/ws/.tool/essentials/rules/a.md" {
		t.Errorf("TargetAbs = %q", res.Targets[0].TargetAbs)
	}
	if res.Namespace != "essentials" || res.Namespaced {
		t.Errorf("namespace = %q namespaced = %v", res.Namespace, res.Namespaced)
	}
	wantReloc := []Relocation{{From: ".tool/rules/a.md", To: ".tool/essentials/rules/a.md"}}
	if !reflect.DeepEqual(res.Relocated, wantReloc) {
		t.Errorf("Relocated = %v, want %v", res.Relocated, wantReloc)
	}
}

func TestConflictResolver_KeepBothNamespacesPackage(t *testing.T) {
	targets := ruleTargets("tool", ".tool/rules", "a.md", "b.md")
	targets = append(targets, flows.Target{
		Platform: "tool", Key: "mcp.jsonc", From: "mcp.jsonc", Pattern: ".mcp.json",
		TargetRel: ".mcp.json", Merge: merge.KindDeep,
	})

	var gotNS string
	reresolve := func(ns string) ([]flows.Target, error) {
		gotNS = ns
		out := ruleTargets("tool", ".tool/"+ns+"/rules", "a.md", "b.md")
		return append(out, targets[2]), nil
	}

	r := NewConflictResolver(Policy{Strategy: StrategyKeepBoth, NamespaceThreshold: 0.5}, "/ws")
	res, err := r.Resolve(context.Background(), Request{
		Package:        "kit",
		Identity:       kitIdentity,
		UsedNamespaces: map[string]bool{"essentials": true},
		Targets:        targets,
		Ownership:      ownedBy("other", ".tool/rules/a.md", ".mcp.json"),
		Reresolve:      reresolve,
	})
	if err != nil {
		t.Fatal(err)
	}

	if gotNS != "kit/essentials" || res.Namespace != "kit/essentials" || !res.Namespaced {
		t.Fatalf("namespace = %q (reresolve %q), namespaced = %v", res.Namespace, gotNS, res.Namespaced)
	}
	want := []string{".tool/kit/essentials/rules/a.md", ".tool/kit/essentials/rules/b.md", ".mcp.json"}
	if got := relPaths(res.Targets); !reflect.DeepEqual(got, want) {
		t.Errorf("targets = %v, want %v", got, want)
	}
	if len(res.Relocated) != 2 {
		t.Errorf("Relocated = %v", res.Relocated)
	}
}

func TestConflictResolver_ReusesPreviousNamespace(t *testing.T) {
	targets := ruleTargets("tool", ".tool/rules", "a.md", "b.md")
	r := NewConflictResolver(Policy{Strategy: StrategyKeepBoth, NamespaceThreshold: 2}, "/ws")
	res, err := r.Resolve(context.Background(), Request{
		Package:       "kit",
		Identity:      kitIdentity,
		PrevNamespace: "legacy",
		Targets:       targets,
		Ownership:     ownedBy("other", ".tool/rules/b.md"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Namespace != "legacy" {
		t.Errorf("namespace = %q, want legacy", res.Namespace)
	}
}

func TestConflictResolver_OverwriteAndSkip(t *testing.T) {
	targets := ruleTargets("tool", ".tool/rules", "a.md", "b.md")
	own := ownedBy("other", ".tool/rules/a.md")

	r := NewConflictResolver(Policy{Strategy: StrategyOverwrite}, "/ws")
	res, err := r.Resolve(context.Background(), Request{Package: "kit", Identity: kitIdentity, Targets: targets, Ownership: own})
	if err != nil {
		t.Fatal(err)
	}
	if got := relPaths(res.Targets); !reflect.DeepEqual(got, []string{".tool/rules/a.md", ".tool/rules/b.md"}) {
		t.Errorf("overwrite targets = %v", got)
	}
	if !reflect.DeepEqual(res.Transfers, []Transfer{{Path: ".tool/rules/a.md", From: "other"}}) {
		t.Errorf("Transfers = %v", res.Transfers)
	}

	r = NewConflictResolver(Policy{Strategy: StrategySkip}, "/ws")
	res, err = r.Resolve(context.Background(), Request{Package: "kit", Identity: kitIdentity, Targets: targets, Ownership: own})
	if err != nil {
		t.Fatal(err)
	}
	if got := relPaths(res.Targets); !reflect.DeepEqual(got, []string{".tool/rules/b.md"}) {
		t.Errorf("skip targets = %v", got)
	}
	if len(res.Transfers) != 0 || len(res.Notes) != 1 {
		t.Errorf("skip resolution = %+v", res)
	}
}

func TestConflictResolver_Ask(t *testing.T) {
	targets := ruleTargets("tool", ".tool/rules", "a.md", "b.md")
	own := ownedBy("other", ".tool/rules/a.md", ".tool/rules/b.md")

	chooser := &fixedChooser{strategy: StrategySkip}
	r := NewConflictResolver(Policy{Strategy: StrategyAsk, Chooser: chooser}, "/ws")
	res, err := r.Resolve(context.Background(), Request{Package: "kit", Identity: kitIdentity, Targets: targets, Ownership: own})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Targets) != 0 || len(chooser.asked) != 2 {
		t.Errorf("targets = %v asked = %v", relPaths(res.Targets), chooser.asked)
	}
}

// Failures inside resolution fall back to the unfiltered targets.
func TestConflictResolver_Fallback(t *testing.T) {
	targets := ruleTargets("tool", ".tool/rules", "a.md")
	own := ownedBy("other", ".tool/rules/a.md")

	tests := []struct {
		name   string
		policy Policy
		req    Request
	}{
		{"ask without chooser", Policy{Strategy: StrategyAsk}, Request{Package: "kit", Targets: targets, Ownership: own}},
		{"chooser error", Policy{Strategy: StrategyAsk, Chooser: &fixedChooser{err: errors.New("tty closed")}}, Request{Package: "kit", Targets: targets, Ownership: own}},
		{"missing ownership", Policy{Strategy: StrategySkip}, Request{Package: "kit", Targets: targets}},
		{"reresolve error", Policy{Strategy: StrategyKeepBoth}, Request{
			Package: "kit", Identity: kitIdentity, Targets: targets, Ownership: own,
			Reresolve: func(string) ([]flows.Target, error) { return nil, errors.New("boom") },
		}},
		{"panic", Policy{Strategy: StrategyKeepBoth}, Request{
			Package: "kit", Identity: kitIdentity, Targets: targets, Ownership: own,
			Reresolve: func(string) ([]flows.Target, error) { panic("bad flow") },
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NewConflictResolver(tt.policy, "/ws").Resolve(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("Resolve error = %v", err)
			}
			if !res.FellBack || !reflect.DeepEqual(res.Targets, targets) {
				t.Errorf("resolution = %+v", res)
			}
		})
	}
}

func TestConflictResolver_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewConflictResolver(Policy{Strategy: StrategySkip}, "/ws")
	_, err := r.Resolve(ctx, Request{
		Package:   "kit",
		Targets:   ruleTargets("tool", ".tool/rules", "a.md"),
		Ownership: ownedBy("other", ".tool/rules/a.md"),
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
