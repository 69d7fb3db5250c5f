// Package platform loads the per-tool flow catalogue.
//
// Each platform (an AI coding tool such as Claude Code or Cursor) declares
// export flows that install universal package resources into its workspace
// layout, and optional import flows that reverse content transforms during
// save. Global flows apply to every platform unless restricted.
package platform

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/danieljhkim/agentpm/internal/flows"
	"github.com/danieljhkim/agentpm/internal/fsops"
)

//go:embed platforms.jsonc
var builtin []byte

// Platform is one target tool's flow set.
type Platform struct {
	// ID is the stable identifier used on the command line and in flows.
	ID string `json:"-" yaml:"-"`

	// Name is the human-readable tool name.
	Name string `json:"name" yaml:"name"`

	// RootDir is the tool's workspace directory, e.g. ".cursor".
	RootDir string `json:"rootDir" yaml:"rootDir"`

	// Detect lists workspace paths whose presence indicates the tool is used.
	Detect []string `json:"detect,omitempty" yaml:"detect,omitempty"`

	// Export flows install universal resources into the workspace.
	Export []flows.Flow `json:"export" yaml:"export"`

	// Import flows map workspace files back into universal form.
	Import []flows.Flow `json:"import,omitempty" yaml:"import,omitempty"`
}

// Catalogue is the decoded platform configuration document.
type Catalogue struct {
	Global    []flows.Flow         `json:"global,omitempty" yaml:"global,omitempty"`
	Platforms map[string]*Platform `json:"platforms" yaml:"platforms"`
}

// Parse decodes a catalogue. name selects the codec by extension: ".yaml"
// and ".yml" are YAML, anything else is JSON with comments.
func Parse(name string, data []byte) (*Catalogue, error) {
	var cat Catalogue
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cat); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
	default:
		if err := json.Unmarshal(jsonc.ToJSON(data), &cat); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
	}

	for id, p := range cat.Platforms {
		if p == nil {
			return nil, fmt.Errorf("parse %s: platform %q is empty", name, id)
		}
		p.ID = id
		for i, f := range p.Export {
			if err := f.Validate(); err != nil {
				return nil, fmt.Errorf("parse %s: platform %s export[%d]: %w", name, id, i, err)
			}
		}
		for i, f := range p.Import {
			if err := f.Validate(); err != nil {
				return nil, fmt.Errorf("parse %s: platform %s import[%d]: %w", name, id, i, err)
			}
		}
	}
	for i, f := range cat.Global {
		if err := f.Validate(); err != nil {
			return nil, fmt.Errorf("parse %s: global[%d]: %w", name, i, err)
		}
	}
	return &cat, nil
}

// Registry holds the effective platform set.
type Registry struct {
	global    []flows.Flow
	platforms map[string]*Platform
}

// Builtin returns the registry compiled into the binary.
func Builtin() (*Registry, error) {
	cat, err := Parse("platforms.jsonc", builtin)
	if err != nil {
		return nil, err
	}
	return NewRegistry(cat), nil
}

// NewRegistry creates a registry from a catalogue.
func NewRegistry(cat *Catalogue) *Registry {
	r := &Registry{platforms: map[string]*Platform{}}
	r.apply(cat)
	return r
}

// apply overlays cat: platforms replace those with the same id and a
// non-empty global list replaces the current one.
func (r *Registry) apply(cat *Catalogue) {
	if len(cat.Global) > 0 {
		r.global = cat.Global
	}
	for id, p := range cat.Platforms {
		r.platforms[id] = p
	}
}

// Load returns the built-in registry overlaid with every override file that
// exists, in order.
func Load(fs fsops.FS, overrides ...string) (*Registry, error) {
	r, err := Builtin()
	if err != nil {
		return nil, err
	}
	for _, path := range overrides {
		ok, err := fs.Exists(path)
		if err != nil {
			return nil, fmt.Errorf("check %s: %w", path, err)
		}
		if !ok {
			continue
		}
		data, err := fs.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		cat, err := Parse(path, data)
		if err != nil {
			return nil, err
		}
		r.apply(cat)
	}
	return r, nil
}

// IDs returns the known platform ids, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.platforms))
	for id := range r.platforms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// UnknownPlatformError reports an id that is not in the registry.
type UnknownPlatformError struct {
	ID          string
	Suggestions []string
}

func (e *UnknownPlatformError) Error() string {
	if len(e.Suggestions) == 0 {
		return fmt.Sprintf("unknown platform %q", e.ID)
	}
	return fmt.Sprintf("unknown platform %q (did you mean %s?)", e.ID, strings.Join(e.Suggestions, ", "))
}

// Get returns the platform with the given id.
func (r *Registry) Get(id string) (*Platform, error) {
	if p, ok := r.platforms[id]; ok {
		return p, nil
	}
	return nil, &UnknownPlatformError{ID: id, Suggestions: r.suggest(id)}
}

func (r *Registry) suggest(id string) []string {
	ids := r.IDs()
	var out []string
	for _, m := range fuzzy.Find(id, ids) {
		out = append(out, m.Str)
		if len(out) == 3 {
			break
		}
	}
	return out
}

// Resolve validates a platform id list, removing duplicates and keeping
// order.
func (r *Registry) Resolve(ids []string) ([]*Platform, error) {
	seen := map[string]bool{}
	var out []*Platform
	for _, id := range ids {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		p, err := r.Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Detect returns the platforms whose marker paths exist in the workspace.
func (r *Registry) Detect(fs fsops.FS, workspaceRoot string) []*Platform {
	var out []*Platform
	for _, id := range r.IDs() {
		p := r.platforms[id]
		for _, marker := range p.Detect {
			if ok, err := fs.Exists(filepath.Join(workspaceRoot, filepath.FromSlash(marker))); err == nil && ok {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// Flows returns the platform's export flows followed by the global flows.
func (r *Registry) Flows(p *Platform) []flows.Flow {
	out := make([]flows.Flow, 0, len(p.Export)+len(r.global))
	out = append(out, p.Export...)
	out = append(out, r.global...)
	return out
}

// ImportFlow finds the import flow matching a workspace-relative path and
// the captures it bound.
func ImportFlow(p *Platform, workspaceRel string) (*flows.Flow, flows.Captures, bool) {
	for i := range p.Import {
		f := &p.Import[i]
		if f.From.Switch != nil {
			continue
		}
		pat, err := flows.CompilePattern(f.From.Pattern)
		if err != nil {
			continue
		}
		if caps, ok := pat.Match(workspaceRel); ok {
			return f, caps, true
		}
	}
	return nil, flows.Captures{}, false
}
