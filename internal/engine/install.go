package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/danieljhkim/agentpm/internal/flows"
	"github.com/danieljhkim/agentpm/internal/hash"
	"github.com/danieljhkim/agentpm/internal/log"
	"github.com/danieljhkim/agentpm/internal/merge"
	"github.com/danieljhkim/agentpm/internal/planner"
	"github.com/danieljhkim/agentpm/internal/platform"
	"github.com/danieljhkim/agentpm/internal/regkey"
	"github.com/danieljhkim/agentpm/internal/source"
	"github.com/danieljhkim/agentpm/internal/state"
)

// Install installs packages into the workspace.
//
// Algorithm steps, per package:
// 1. Validate explicitly requested resources
// 2. Resolve every platform's flows into targets
// 3. Resolve collisions against the other packages' ownership
// 4. Plan dir/file tracking for each group
// 5. Write targets, re-checking directory occupancy before each group
// 6. Merge the written targets into the package's index entry
//
// Packages are processed in order. A package whose every target fails is
// reported in its PackageResult and the batch continues; files it already
// wrote stay in place. The returned error wraps ErrPackageFailed when any
// package failed, and is fatal (the batch stopped) for a corrupt index or
// cancellation.
func (e *Engine) Install(ctx context.Context, req *InstallRequest) (*InstallResult, error) {
	ps, err := e.selectPlatforms(req.Platforms)
	if err != nil {
		return nil, err
	}

	strategy := req.Strategy
	if strategy == "" {
		strategy = planner.StrategyKeepBoth
	}
	policy := planner.Policy{
		Strategy:           strategy,
		NamespaceThreshold: req.NamespaceThreshold,
		Chooser:            req.Chooser,
	}

	result := &InstallResult{}
	for _, pkg := range req.Packages {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		pr, err := e.installPackage(ctx, pkg, ps, policy)
		if err != nil {
			return result, fmt.Errorf("install %s: %w", pkg.Name, err)
		}
		result.Packages = append(result.Packages, pr)
	}

	if failed := result.Failed(); len(failed) > 0 {
		return result, fmt.Errorf("%w: %d of %d packages", ErrPackageFailed, len(failed), len(result.Packages))
	}
	return result, nil
}

// installPackage installs one package. Package-level failures are recorded
// in the result; the returned error is reserved for conditions that must
// stop the batch.
func (e *Engine) installPackage(ctx context.Context, pkg source.Package, ps []*platform.Platform, policy planner.Policy) (*PackageResult, error) {
	pr := &PackageResult{Name: pkg.Name}
	fail := func(err error) (*PackageResult, error) {
		log.Error("install %s: %v", pkg.Name, err)
		pr.Err = err
		return pr, nil
	}

	if len(pkg.Resources) > 0 {
		valid, errs := pkg.ValidateResources(e.fs)
		for _, rerr := range errs {
			log.Warn("install %s: %v", pkg.Name, rerr)
			pr.ResourceErrors = append(pr.ResourceErrors, fmt.Errorf("%w: %w", ErrValidation, rerr))
		}
		if len(valid) == 0 {
			return fail(fmt.Errorf("%w: none of the requested resources can be installed", ErrValidation))
		}
		pkg.Resources = valid
	}

	ix, err := e.index.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load index: %w", err)
	}
	prev, _ := ix.Entry(pkg.Name)

	targets, warnings, err := e.resolveTargets(ctx, pkg, ps, "")
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return fail(err)
	}
	pr.Warnings = append(pr.Warnings, warnings...)
	if len(targets) == 0 {
		pr.Warnings = append(pr.Warnings, "no flow matched any package file")
		return pr, nil
	}

	own, err := planner.BuildOwnership(e.fs, e.paths.Workspace, ix, pkg.Name)
	if err != nil {
		// Without an ownership view the conflict resolver falls back to the
		// unfiltered targets.
		log.Warn("install %s: %v", pkg.Name, err)
	}

	creq := planner.Request{
		Package:        pkg.Name,
		Identity:       pkg.Identity,
		UsedNamespaces: ix.Namespaces(pkg.Name),
		Targets:        targets,
		Ownership:      own,
		Reresolve: func(ns string) ([]flows.Target, error) {
			nested, _, err := e.resolveTargets(ctx, pkg, ps, ns)
			return nested, err
		},
	}
	if prev != nil {
		creq.PrevNamespace = prev.Namespace
	}
	res, err := planner.NewConflictResolver(policy, e.paths.Workspace).Resolve(ctx, creq)
	if err != nil {
		return nil, err
	}
	pr.Notes = res.Notes
	pr.Namespace = res.Namespace
	pr.Namespaced = res.Namespaced
	pr.RelocatedFiles = res.Relocated
	if res.FellBack {
		pr.Warnings = append(pr.Warnings, "conflict resolution failed; targets were written without filtering")
	}

	plan, err := planner.BuildPlan(res.Targets, prev, e.occupancy)
	if err != nil {
		return fail(fmt.Errorf("plan: %w", err))
	}

	written, failed, err := e.writePlan(ctx, pkg, plan, prev, pr)
	if err != nil {
		return nil, err
	}
	if len(written) == 0 && failed > 0 {
		return fail(fmt.Errorf("%w: all %d targets failed", ErrPackageFailed, failed))
	}

	stale := e.superseded(ctx, pkg, ps, prev, written)
	e.removeSuperseded(pkg, stale, own, pr)

	if err := e.recordInstall(pkg, plan, written, res, stale); err != nil {
		if errors.Is(err, state.ErrCorruptIndex) {
			return nil, err
		}
		return fail(err)
	}
	return pr, nil
}

// writePlan writes every planned target, group by group. Directory decisions
// that were made by inspecting the workspace are re-validated right before
// the group is written; a directory that became occupied is downgraded to
// file tracking.
func (e *Engine) writePlan(ctx context.Context, pkg source.Package, plan *planner.Plan, prev *state.PackageEntry, pr *PackageResult) ([]flows.Target, int, error) {
	done := map[string]bool{}
	own := func(rel string) bool {
		return done[rel] || (prev != nil && prev.Covers(rel))
	}

	var (
		written []flows.Target
		failed  int
	)
	for _, g := range plan.Groups {
		platforms := make([]string, 0, len(g.Platforms))
		for id := range g.Platforms {
			platforms = append(platforms, id)
		}
		sort.Strings(platforms)
		for _, id := range platforms {
			pg := g.Platforms[id]
			if pg.Decision != planner.DecisionDir || pg.Claimed {
				continue
			}
			occupied, err := e.occupancy.Occupied(pg.TargetDir, own)
			if err != nil || occupied {
				log.Info("install %s: %s is no longer empty, tracking %s files individually", pkg.Name, pg.TargetDir, g.Key)
				plan.Downgrade(g.Key, id)
			}
		}

		for _, t := range g.Targets {
			if err := ctx.Err(); err != nil {
				return nil, 0, err
			}
			wrote, existed, err := e.writeTarget(pkg, t)
			if err != nil {
				msg := fmt.Sprintf("%s: %s: %v", t.Platform, t.TargetRel, err)
				log.Warn("install %s: %s", pkg.Name, msg)
				pr.Warnings = append(pr.Warnings, msg)
				failed++
				continue
			}
			done[t.TargetRel] = true
			written = append(written, t)
			switch {
			case !wrote:
				pr.UnchangedFiles = append(pr.UnchangedFiles, t.TargetRel)
			case existed:
				pr.UpdatedFiles = append(pr.UpdatedFiles, t.TargetRel)
			default:
				pr.InstalledFiles = append(pr.InstalledFiles, t.TargetRel)
			}
		}
	}
	return written, failed, nil
}

// writeTarget renders one target. Exclusive targets receive the transformed
// source; merge targets are read, merged and written back synchronously.
func (e *Engine) writeTarget(pkg source.Package, t flows.Target) (wrote, existed bool, err error) {
	content, _, err := e.sourceContent(pkg.ContentRoot, t.Key, t.Platform)
	if err != nil {
		return false, false, err
	}
	out, err := flows.Transform(content, t.Key, t.TargetRel, t.Map)
	if err != nil {
		return false, false, err
	}

	if t.IsMerge() {
		current, _, err := e.readOptional(t.TargetAbs)
		if err != nil {
			return false, false, fmt.Errorf("failed to read shared target: %w", err)
		}
		switch t.Merge {
		case merge.KindComposite:
			out = merge.UpsertSection(current, pkg.Name, out)
		default:
			f := merge.DetectFormat(t.TargetRel)
			incoming, err := merge.Decode(out, f)
			if err != nil {
				return false, false, err
			}
			out, err = merge.Documents(t.Merge, current, incoming, f)
			if err != nil {
				return false, false, err
			}
		}
	}

	return e.writeIfChanged(t.TargetAbs, out)
}

// superseded returns the paths of the previous install that this run moved
// elsewhere, typically after the package was namespaced: files it wrote last
// time for a key now written at another path, and claimed directories that
// received nothing this time.
func (e *Engine) superseded(ctx context.Context, pkg source.Package, ps []*platform.Platform, prev *state.PackageEntry, written []flows.Target) []string {
	if prev == nil || len(written) == 0 {
		return nil
	}
	old, _, err := e.resolveTargets(ctx, pkg, ps, prev.Namespace)
	if err != nil {
		return nil
	}

	now := map[string]bool{}
	keys := map[string]bool{}
	for _, t := range written {
		now[t.TargetRel] = true
		keys[t.Key] = true
	}

	var out []string
	for _, t := range old {
		if t.IsMerge() || now[t.TargetRel] || !keys[t.Key] || !prev.Covers(t.TargetRel) {
			continue
		}
		out = append(out, t.TargetRel)
	}
	for _, d := range prev.DirPaths() {
		moved, kept := false, false
		for _, p := range out {
			moved = moved || regkey.Under(d, p)
		}
		for p := range now {
			kept = kept || regkey.Under(d, p)
		}
		if moved && !kept {
			out = append(out, d)
		}
	}
	sort.Strings(out)
	return out
}

// removeSuperseded deletes superseded files nobody else claims.
func (e *Engine) removeSuperseded(pkg source.Package, stale []string, own *planner.Ownership, pr *PackageResult) {
	if own == nil {
		return
	}
	for _, p := range stale {
		if regkey.IsDir(p) {
			continue
		}
		if _, ok := own.OwnerOf(p); ok {
			continue
		}
		if err := e.fs.Remove(e.abs(p)); err != nil {
			if !os.IsNotExist(err) {
				log.Warn("install %s: %s: %v", pkg.Name, p, err)
			}
			continue
		}
		e.removeEmptyParents(p)
		pr.Notes = append(pr.Notes, fmt.Sprintf("removed %s (moved)", p))
	}
}

// recordInstall merges the written targets into the package's index entry
// and releases overwritten paths from their previous owners, in one
// critical section.
func (e *Engine) recordInstall(pkg source.Package, plan *planner.Plan, written []flows.Target, res *planner.Resolution, stale []string) error {
	base := source.Package{Name: pkg.Name, ContentRoot: pkg.ContentRoot}
	all, err := base.ListFiles(e.fs)
	if err != nil {
		return err
	}
	sourceKeys := make([]string, 0, len(all))
	for _, rel := range all {
		if !e.isVariant(rel) {
			sourceKeys = append(sourceKeys, rel)
		}
	}

	shared := map[string]bool{}
	for _, t := range written {
		if t.IsMerge() {
			shared[t.Key] = true
		}
	}
	next := plan.Materialize(written)

	digest, err := hash.HashTree(e.fs, pkg.ContentRoot, func(rel string) bool { return !base.Include(rel) })
	if err != nil {
		log.Warn("install %s: failed to hash source: %v", pkg.Name, err)
	}

	wrote := make(map[string]bool, len(written))
	for _, t := range written {
		wrote[t.TargetRel] = true
	}

	return e.index.Update(func(ix *state.Index) error {
		for _, tr := range res.Transfers {
			// A failed overwrite leaves the path with its owner.
			if !wrote[tr.Path] {
				continue
			}
			other, ok := ix.Entry(tr.From)
			if !ok {
				continue
			}
			other.Release(tr.Path, e.workspaceFiles)
			if other.Empty() {
				delete(ix.Packages, tr.From)
			}
		}

		entry, ok := ix.Entry(pkg.Name)
		if !ok {
			entry = &state.PackageEntry{}
		}
		entry.Forget(stale...)
		entry.Files = state.MergeFiles(entry.Files, next, sourceKeys, func(key string) bool { return shared[key] })
		entry.Path = pkg.ContentRoot
		entry.Version = pkg.Version
		entry.Hash = digest
		if res.Namespace != "" {
			entry.Namespace = res.Namespace
		}
		ix.Packages[pkg.Name] = entry
		return nil
	})
}
