package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/danieljhkim/agentpm/internal/flows"
	"github.com/danieljhkim/agentpm/internal/log"
	"github.com/danieljhkim/agentpm/internal/merge"
	"github.com/danieljhkim/agentpm/internal/regkey"
	"github.com/danieljhkim/agentpm/internal/source"
	"github.com/danieljhkim/agentpm/internal/state"
)

// Uninstall removes a package from the workspace.
//
// Exclusive files and directories recorded in the package's index entry are
// deleted. Shared files keep every other package's content: the package's
// composite section or declared keys are stripped, and a shared file left
// empty is deleted. Paths another package also claims are left in place.
// The entry is then removed from the index.
func (e *Engine) Uninstall(ctx context.Context, req *UninstallRequest) (*UninstallResult, error) {
	ix, err := e.index.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load index: %w", err)
	}
	entry, ok := ix.Entry(req.Package)
	if !ok {
		return nil, fmt.Errorf("%w: package %s is not installed", ErrNotFound, req.Package)
	}

	pkg := source.Package{Name: req.Package, ContentRoot: entry.Path}
	shared := e.sharedTargets(ctx, pkg)
	res := &UninstallResult{}

	for _, p := range entry.Paths() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		owner := claimedElsewhere(ix, req.Package, p)

		if regkey.IsDir(p) {
			if owner != "" {
				res.Notes = append(res.Notes, fmt.Sprintf("%s: left in place, also claimed by %s", p, owner))
				continue
			}
			if err := e.fs.RemoveAll(e.abs(p)); err != nil {
				return res, fmt.Errorf("failed to remove %s: %w", p, err)
			}
			res.Removed = append(res.Removed, p)
			e.removeEmptyParents(p)
			continue
		}

		stripped, removed, err := e.stripShared(pkg, p, shared[p], owner == "")
		if err != nil {
			log.Warn("uninstall %s: %s: %v", req.Package, p, err)
			res.Notes = append(res.Notes, fmt.Sprintf("%s: %v", p, err))
			continue
		}
		switch {
		case removed:
			res.Removed = append(res.Removed, p)
			e.removeEmptyParents(p)
		case stripped:
			res.Stripped = append(res.Stripped, p)
		case owner != "":
			res.Notes = append(res.Notes, fmt.Sprintf("%s: left in place, also claimed by %s", p, owner))
		}
	}

	err = e.index.Update(func(ix *state.Index) error {
		delete(ix.Packages, req.Package)
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("failed to update index: %w", err)
	}
	return res, nil
}

// sharedTargets resolves the package's merge targets, keyed by workspace
// path. A package whose source is gone yields none; its shared files are
// then recognised by their composite sections only.
func (e *Engine) sharedTargets(ctx context.Context, pkg source.Package) map[string]flows.Target {
	out := map[string]flows.Target{}
	if ok, err := e.fs.Exists(pkg.ContentRoot); err != nil || !ok {
		return out
	}
	ps, err := e.platforms.Resolve(e.platforms.IDs())
	if err != nil {
		return out
	}
	targets, _, err := e.resolveTargets(ctx, pkg, ps, "")
	if err != nil {
		log.Warn("uninstall %s: %v", pkg.Name, err)
		return out
	}
	for _, t := range targets {
		if t.IsMerge() {
			out[t.TargetRel] = t
		}
	}
	return out
}

// claimedElsewhere returns another package that also claims p.
func claimedElsewhere(ix *state.Index, self, p string) string {
	for _, name := range ix.Names() {
		if name == self {
			continue
		}
		if other, ok := ix.Entry(name); ok && other.Covers(p) {
			return name
		}
	}
	return ""
}

// stripShared removes the package's contribution from the file at p, or
// the whole file when it is exclusive and removable, or left empty.
func (e *Engine) stripShared(pkg source.Package, p string, t flows.Target, removable bool) (stripped, removed bool, err error) {
	raw, ok, err := e.readOptional(e.abs(p))
	if err != nil {
		return false, false, err
	}
	if !ok {
		return false, false, nil
	}

	var out []byte
	switch {
	case t.Merge == merge.KindComposite || (t.Key == "" && bytes.Contains(raw, []byte("agentpm:begin "+pkg.Name+" "))):
		var found bool
		out, found = merge.RemoveSection(raw, pkg.Name)
		if !found {
			return false, false, nil
		}
	case t.IsMerge():
		installed, _, err := e.sourceContent(pkg.ContentRoot, t.Key, t.Platform)
		if err != nil {
			return false, false, err
		}
		fwd, err := flows.Transform(installed, t.Key, t.TargetRel, t.Map)
		if err != nil {
			return false, false, err
		}
		f := merge.DetectFormat(p)
		declared, err := merge.Decode(fwd, f)
		if err != nil {
			return false, false, err
		}
		var n int
		out, n, err = merge.Remove(raw, f, merge.DeclaredKeys(declared))
		if err != nil {
			return false, false, err
		}
		if n == 0 {
			return false, false, nil
		}
		if doc, err := merge.Decode(out, f); err == nil && len(doc) == 0 {
			out = nil
		}
	default:
		if !removable {
			return false, false, nil
		}
		if err := e.fs.Remove(e.abs(p)); err != nil && !os.IsNotExist(err) {
			return false, false, fmt.Errorf("failed to remove: %w", err)
		}
		return false, true, nil
	}

	if len(bytes.TrimSpace(out)) == 0 {
		if err := e.fs.Remove(e.abs(p)); err != nil && !os.IsNotExist(err) {
			return false, false, fmt.Errorf("failed to remove: %w", err)
		}
		return false, true, nil
	}
	if err := e.fs.AtomicWrite(e.abs(p), out, 0644); err != nil {
		return false, false, fmt.Errorf("failed to write: %w", err)
	}
	return true, false, nil
}
