package flows

import (
	"path/filepath"
	"strings"
)

// Condition is a predicate over the execution context. Set fields are
// combined with AND; an empty condition always holds.
type Condition struct {
	// Platform holds when the current platform equals it.
	Platform string `json:"platform,omitempty" yaml:"platform,omitempty"`

	// Exists holds when the workspace-relative path exists.
	Exists string `json:"exists,omitempty" yaml:"exists,omitempty"`

	// Var and Equals compare a context variable.
	Var    string `json:"var,omitempty" yaml:"var,omitempty"`
	Equals string `json:"equals,omitempty" yaml:"equals,omitempty"`

	Not *Condition  `json:"not,omitempty" yaml:"not,omitempty"`
	All []Condition `json:"all,omitempty" yaml:"all,omitempty"`
	Any []Condition `json:"any,omitempty" yaml:"any,omitempty"`
}

// Eval evaluates the condition against ctx.
func (c Condition) Eval(ctx Context) bool {
	if c.Platform != "" && c.Platform != ctx.Platform {
		return false
	}
	if c.Exists != "" && !ctx.exists(c.Exists) {
		return false
	}
	if c.Var != "" && ctx.Var(c.Var) != c.Equals {
		return false
	}
	if c.Not != nil && c.Not.Eval(ctx) {
		return false
	}
	for _, sub := range c.All {
		if !sub.Eval(ctx) {
			return false
		}
	}
	if len(c.Any) > 0 {
		matched := false
		for _, sub := range c.Any {
			if sub.Eval(ctx) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func (c Context) exists(rel string) bool {
	if c.FS == nil {
		return false
	}
	p := rel
	if !filepath.IsAbs(p) {
		p = filepath.Join(c.WorkspaceRoot, filepath.FromSlash(strings.TrimSuffix(rel, "/")))
	}
	ok, err := c.FS.Exists(p)
	return err == nil && ok
}

// ErrNoCase is returned when a $switch has no matching case and no default.
type ErrNoCase struct {
	Platform string
}

func (e *ErrNoCase) Error() string {
	return "no $switch case matched for platform " + e.Platform + " and no default is declared"
}

// Eval resolves the expression to a concrete pattern.
func (e Expr) Eval(ctx Context) (string, error) {
	if e.Switch == nil {
		return e.Pattern, nil
	}
	for _, c := range e.Switch.Cases {
		if c.When.Eval(ctx) {
			return c.Value, nil
		}
	}
	if e.Switch.Default != nil {
		return *e.Switch.Default, nil
	}
	return "", &ErrNoCase{Platform: ctx.Platform}
}
