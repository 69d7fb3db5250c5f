package cli

import (
	"context"
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/danieljhkim/agentpm/internal/engine"
	"github.com/danieljhkim/agentpm/internal/flows"
	"github.com/danieljhkim/agentpm/internal/planner"
)

func TestPrompter_Choose(t *testing.T) {
	conflict := planner.Conflict{
		Target: flows.Target{TargetRel: ".claude/rules/a.md"},
		Owner:  planner.Owner{Package: "other"},
	}

	tests := []struct {
		name    string
		input   string
		want    planner.Strategy
		wantErr bool
	}{
		{"default", "\n", planner.StrategyKeepBoth, false},
		{"overwrite", "o\n", planner.StrategyOverwrite, false},
		{"skip word", "Skip\n", planner.StrategySkip, false},
		{"retry after junk", "what\nk\n", planner.StrategyKeepBoth, false},
		{"no trailing newline", "o", planner.StrategyOverwrite, false},
		{"eof", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPrompter(strings.NewReader(tt.input), io.Discard)
			got, err := p.Choose(context.Background(), conflict)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Choose() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Choose() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrompter_Select(t *testing.T) {
	cands := []engine.SaveCandidate{
		{Platform: "claude", Path: "CLAUDE.md", Content: []byte("# Claude\n")},
		{Platform: "cursor", Path: ".cursor/rules/a.mdc", Content: []byte("---\nglobs: x\n---\n")},
	}

	tests := []struct {
		name    string
		input   string
		want    engine.Selection
		wantErr bool
	}{
		{"universal only", "1\n\n", engine.Selection{Universal: 0}, false},
		{"keep source", "\n\n", engine.Selection{Universal: -1}, false},
		{"with variant", "1\n2\n", engine.Selection{Universal: 0, PlatformSpecific: []int{1}}, false},
		{"out of range", "3\n", engine.Selection{Universal: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPrompter(strings.NewReader(tt.input), io.Discard)
			got, err := p.Select(context.Background(), "AGENTS.md", cands)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Select() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Select() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestPreview(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"---\nglobs: x\n---\n", "globs: x"},
		{"\n\n", "(empty)"},
		{strings.Repeat("a", 80), strings.Repeat("a", 57) + "..."},
	}
	for _, tt := range tests {
		if got := preview([]byte(tt.in)); got != tt.want {
			t.Errorf("preview(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
