// Package flows resolves declarative platform rules against a package's
// universal source tree.
//
// A flow maps source files (a literal path, a glob, or a conditional
// expression) onto workspace targets. Resolution is stateless per
// (flow, source file) pair: the resolver enumerates candidate files under the
// source pattern's static prefix, renders the target pattern for each match,
// and tags every result with the flow's merge semantics.
package flows

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/danieljhkim/agentpm/internal/fsops"
	"github.com/danieljhkim/agentpm/internal/merge"
)

// Flow is one source → target rule.
type Flow struct {
	// From selects source files relative to the package root.
	From Expr `json:"from" yaml:"from"`

	// To renders the workspace-relative target for each source file.
	To Expr `json:"to" yaml:"to"`

	// Merge is the merge kind; empty means the target is exclusive.
	Merge merge.Kind `json:"merge,omitempty" yaml:"merge,omitempty"`

	// When guards the whole flow.
	When *Condition `json:"when,omitempty" yaml:"when,omitempty"`

	// Platforms restricts a shared flow to the listed platform ids.
	Platforms []string `json:"platforms,omitempty" yaml:"platforms,omitempty"`

	// Map transforms content on the way to the target.
	Map []MapOp `json:"map,omitempty" yaml:"map,omitempty"`
}

// Exclusive reports whether the flow's targets belong to a single package.
func (f Flow) Exclusive() bool {
	return !f.Merge.Shared()
}

// AppliesTo reports whether the flow is enabled for platform.
func (f Flow) AppliesTo(platform string) bool {
	if len(f.Platforms) == 0 {
		return true
	}
	for _, p := range f.Platforms {
		if p == platform {
			return true
		}
	}
	return false
}

// Validate checks the flow for configuration mistakes.
func (f Flow) Validate() error {
	if f.From.IsZero() {
		return fmt.Errorf("flow is missing \"from\"")
	}
	if f.To.IsZero() {
		return fmt.Errorf("flow %s is missing \"to\"", f.From)
	}
	if !f.Merge.Valid() {
		return fmt.Errorf("flow %s: unknown merge kind %q", f.From, f.Merge)
	}
	return nil
}

// Expr is a path pattern: either a plain pattern string or a $switch over
// the execution context. Exactly one of Pattern and Switch is set.
type Expr struct {
	Pattern string
	Switch  *Switch
}

// IsZero reports whether the expression is unset.
func (e Expr) IsZero() bool {
	return e.Pattern == "" && e.Switch == nil
}

// String renders the expression for messages.
func (e Expr) String() string {
	if e.Switch != nil {
		return "$switch"
	}
	return e.Pattern
}

// Switch selects a pattern by the first case whose condition holds.
type Switch struct {
	Cases   []Case  `json:"cases" yaml:"cases"`
	Default *string `json:"default,omitempty" yaml:"default,omitempty"`
}

// Case is one arm of a Switch.
type Case struct {
	When  Condition `json:"when" yaml:"when"`
	Value string    `json:"value" yaml:"value"`
}

type switchEnvelope struct {
	Switch *Switch `json:"$switch" yaml:"$switch"`
}

// UnmarshalJSON accepts a pattern string or {"$switch": {...}}.
func (e *Expr) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*e = Expr{Pattern: s}
		return nil
	}
	var env switchEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("pattern must be a string or a $switch object: %w", err)
	}
	if env.Switch == nil {
		return fmt.Errorf("pattern object must contain $switch")
	}
	*e = Expr{Switch: env.Switch}
	return nil
}

// MarshalJSON writes the string or $switch form.
func (e Expr) MarshalJSON() ([]byte, error) {
	if e.Switch != nil {
		return json.Marshal(switchEnvelope{Switch: e.Switch})
	}
	return json.Marshal(e.Pattern)
}

// UnmarshalYAML accepts a pattern string or a mapping with $switch.
func (e *Expr) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*e = Expr{Pattern: node.Value}
		return nil
	}
	var env switchEnvelope
	if err := node.Decode(&env); err != nil {
		return fmt.Errorf("pattern must be a string or a $switch mapping: %w", err)
	}
	if env.Switch == nil {
		return fmt.Errorf("line %d: pattern mapping must contain $switch", node.Line)
	}
	*e = Expr{Switch: env.Switch}
	return nil
}

// MapOp is one content transform step.
type MapOp struct {
	Rename *Rename `json:"rename,omitempty" yaml:"rename,omitempty"`
}

// Rename renames a top-level document key or frontmatter field.
type Rename struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// Context is the explicit record flow conditions are evaluated against.
type Context struct {
	// Platform is the id of the platform being installed.
	Platform string

	// WorkspaceRoot is the absolute workspace directory.
	WorkspaceRoot string

	// Vars holds captured variables, e.g. targetRoot=home|project.
	Vars map[string]string

	// FS answers "exists" conditions. Nil means nothing exists.
	FS fsops.FS
}

// Var returns a context variable. "platform" is always available.
func (c Context) Var(name string) string {
	if name == "platform" {
		return c.Platform
	}
	return c.Vars[name]
}
