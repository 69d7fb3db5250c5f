// Package engine provides the core business logic for agentpm operations.
//
// The engine is the orchestration layer between CLI commands and the lower
// level packages. It resolves platform flows against package sources, plans
// tracking granularity, arbitrates collisions between packages, writes the
// workspace and keeps the ownership index current.
//
// Key components:
//   - Engine: Main orchestrator that coordinates all operations
//   - Install: flows → conflicts → plan → writes → index merge
//   - Save: captures workspace edits back into package sources
//   - Uninstall/List: ledger-driven removal and inspection
package engine

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/danieljhkim/agentpm/internal/config"
	"github.com/danieljhkim/agentpm/internal/flows"
	"github.com/danieljhkim/agentpm/internal/fsops"
	"github.com/danieljhkim/agentpm/internal/hash"
	"github.com/danieljhkim/agentpm/internal/log"
	"github.com/danieljhkim/agentpm/internal/planner"
	"github.com/danieljhkim/agentpm/internal/platform"
	"github.com/danieljhkim/agentpm/internal/regkey"
	"github.com/danieljhkim/agentpm/internal/source"
	"github.com/danieljhkim/agentpm/internal/state"
)

// Engine orchestrates all agentpm operations.
// It is the main API surface called by the CLI.
type Engine struct {
	fs        fsops.FS
	hasher    hash.Hasher
	index     state.IndexStore
	platforms *platform.Registry
	resolver  *flows.Resolver
	occupancy planner.Occupancy
	paths     *config.Paths
}

// New creates a new Engine with the given dependencies.
func New(
	fs fsops.FS,
	hasher hash.Hasher,
	index state.IndexStore,
	platforms *platform.Registry,
	paths *config.Paths,
) *Engine {
	return &Engine{
		fs:        fs,
		hasher:    hasher,
		index:     index,
		platforms: platforms,
		resolver:  flows.NewResolver(fs, 0),
		occupancy: planner.NewFSOccupancy(fs, paths.Workspace),
		paths:     paths,
	}
}

// Platforms returns the engine's platform registry.
func (e *Engine) Platforms() *platform.Registry {
	return e.platforms
}

// selectPlatforms resolves requested ids, or detects the platforms in use
// when none are requested.
func (e *Engine) selectPlatforms(ids []string) ([]*platform.Platform, error) {
	if len(ids) > 0 {
		ps, err := e.platforms.Resolve(ids)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return ps, nil
	}
	ps := e.platforms.Detect(e.fs, e.paths.Workspace)
	if len(ps) == 0 {
		return nil, fmt.Errorf("%w: none detected in %s", ErrNoPlatforms, e.paths.Workspace)
	}
	return ps, nil
}

// flowContext builds the execution context flows are evaluated against.
func (e *Engine) flowContext(p *platform.Platform) flows.Context {
	return flows.Context{
		Platform:      p.ID,
		WorkspaceRoot: e.paths.Workspace,
		Vars:          map[string]string{"targetRoot": e.paths.TargetRoot()},
		FS:            e.fs,
	}
}

// isVariant reports whether a package path is a platform-specific sibling
// such as rules/a.cursor.md. Variants are never installed under their own
// name; they replace the base file's content for their platform.
func (e *Engine) isVariant(rel string) bool {
	_, _, ok := regkey.SplitPlatformVariant(rel, e.platforms.IDs())
	return ok
}

// packageSource returns the flow source for pkg. Explicit resources limit
// what is resolved; variants and package metadata are always excluded.
func (e *Engine) packageSource(pkg source.Package) flows.Source {
	return flows.Source{
		Root: pkg.ContentRoot,
		Include: func(rel string) bool {
			return pkg.Include(rel) && !e.isVariant(rel)
		},
	}
}

// resolveTargets resolves every platform's flows for pkg. A non-empty ns
// nests every exclusive flow's target under it.
func (e *Engine) resolveTargets(ctx context.Context, pkg source.Package, ps []*platform.Platform, ns string) ([]flows.Target, []string, error) {
	src := e.packageSource(pkg)
	var (
		targets  []flows.Target
		warnings []string
	)
	// Platforms sharing a workspace path (global flows, a common AGENTS.md)
	// get one target; the first platform wins.
	seen := map[string]string{}
	for _, p := range ps {
		fl := e.platforms.Flows(p)
		if ns != "" {
			fl = namespaceFlows(fl, ns)
		}
		res, err := e.resolver.Resolve(ctx, fl, src, e.flowContext(p))
		if err != nil {
			return nil, nil, fmt.Errorf("resolve %s flows: %w", p.ID, err)
		}
		for _, t := range res.Targets {
			if first, ok := seen[t.TargetRel]; ok {
				log.Debug("%s: %s already targeted by %s", p.ID, t.TargetRel, first)
				continue
			}
			seen[t.TargetRel] = p.ID
			targets = append(targets, t)
		}
		warnings = append(warnings, res.Warnings...)
	}
	return targets, warnings, nil
}

// namespaceFlows returns copies of fl with every exclusive flow's target
// nested under ns. Merge flows are shared by design and keep their target.
func namespaceFlows(fl []flows.Flow, ns string) []flows.Flow {
	out := make([]flows.Flow, len(fl))
	for i, f := range fl {
		out[i] = f
		if !f.Exclusive() {
			continue
		}
		to := f.To
		if to.Switch == nil {
			to.Pattern = flows.WithNamespace(to.Pattern, ns)
		} else {
			sw := &flows.Switch{Cases: make([]flows.Case, len(to.Switch.Cases))}
			for j, c := range to.Switch.Cases {
				c.Value = flows.WithNamespace(c.Value, ns)
				sw.Cases[j] = c
			}
			if to.Switch.Default != nil {
				d := flows.WithNamespace(*to.Switch.Default, ns)
				sw.Default = &d
			}
			to.Switch = sw
		}
		out[i].To = to
	}
	return out
}

// sourceContent reads the content installed for key on platform: the
// platform-specific sibling when the package has one, the base file
// otherwise.
func (e *Engine) sourceContent(root, key, platformID string) ([]byte, string, error) {
	variant := regkey.PlatformVariant(key, platformID)
	data, err := e.fs.ReadFile(filepath.Join(root, filepath.FromSlash(variant)))
	if err == nil {
		return data, variant, nil
	}
	if !os.IsNotExist(err) {
		return nil, "", fmt.Errorf("failed to read %s: %w", variant, err)
	}
	data, err = e.fs.ReadFile(filepath.Join(root, filepath.FromSlash(key)))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, key, nil
}

// readOptional reads a file, returning nil content when it does not exist.
func (e *Engine) readOptional(p string) ([]byte, bool, error) {
	data, err := e.fs.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// writeIfChanged writes data unless the file already holds the same bytes.
func (e *Engine) writeIfChanged(p string, data []byte) (written, existed bool, err error) {
	current, existed, err := e.readOptional(p)
	if err != nil {
		return false, false, fmt.Errorf("failed to read %s: %w", p, err)
	}
	if existed && e.hasher.HashBytes(current) == e.hasher.HashBytes(data) {
		return false, true, nil
	}
	if err := e.fs.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return false, existed, fmt.Errorf("failed to create parent directory: %w", err)
	}
	if err := e.fs.AtomicWrite(p, data, 0644); err != nil {
		return false, existed, fmt.Errorf("failed to write %s: %w", p, err)
	}
	return true, existed, nil
}

// workspaceFiles lists the files beneath a workspace directory value as
// workspace-relative paths.
func (e *Engine) workspaceFiles(dir string) []string {
	files, err := e.fs.WalkFiles(e.abs(dir))
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, regkey.Dir(dir)+f)
	}
	return out
}

// abs converts a workspace-relative slash path to an absolute path.
func (e *Engine) abs(rel string) string {
	return filepath.Join(e.paths.Workspace, filepath.FromSlash(strings.TrimSuffix(rel, "/")))
}

// removeEmptyParents removes now-empty directories above a deleted
// workspace file, stopping at the workspace root.
func (e *Engine) removeEmptyParents(rel string) {
	dir := path.Dir(strings.TrimSuffix(rel, "/"))
	for dir != "." && dir != "/" && dir != "" {
		entries, err := e.fs.ReadDir(e.abs(dir))
		if err != nil || len(entries) > 0 {
			return
		}
		if err := e.fs.Remove(e.abs(dir)); err != nil {
			return
		}
		dir = path.Dir(dir)
	}
}
