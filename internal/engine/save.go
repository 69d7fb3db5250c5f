package engine

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/danieljhkim/agentpm/internal/flows"
	"github.com/danieljhkim/agentpm/internal/log"
	"github.com/danieljhkim/agentpm/internal/merge"
	"github.com/danieljhkim/agentpm/internal/platform"
	"github.com/danieljhkim/agentpm/internal/regkey"
	"github.com/danieljhkim/agentpm/internal/source"
	"github.com/danieljhkim/agentpm/internal/state"
)

// saveCandidate is one workspace copy of a registry key in universal form.
type saveCandidate struct {
	target  flows.Target
	content []byte
	parity  bool

	// variant is the platform-specific sibling the copy was installed from,
	// if the package has one.
	variant string
}

// Save captures workspace edits of an installed package back into its
// source.
//
// Algorithm steps:
// 1. Collect the workspace copies of every key the package owns
// 2. Extract the package's own contribution from shared files
// 3. Skip copies at parity with the source, its forward transform or a
// platform-specific sibling
// 4. Reverse platform transforms through the platform's import flows
// 5. Write each key whose content changed; ask the Selector when copies
// diverge
//
// Individual write failures are reported per path and logged; they do not
// stop the save.
func (e *Engine) Save(ctx context.Context, req *SaveRequest) (*SaveResult, error) {
	ix, err := e.index.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load index: %w", err)
	}
	entry, ok := ix.Entry(req.Package)
	if !ok {
		return nil, fmt.Errorf("%w: package %s is not installed", ErrNotFound, req.Package)
	}
	if exists, err := e.fs.Exists(entry.Path); err != nil || !exists {
		return nil, fmt.Errorf("%w: source of %s at %s", ErrNotFound, req.Package, entry.Path)
	}

	ids := req.Platforms
	if len(ids) == 0 {
		ids = e.platforms.IDs()
	}
	ps, err := e.platforms.Resolve(ids)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	pkg := source.Package{Name: req.Package, ContentRoot: entry.Path}
	result := &SaveResult{Package: req.Package}

	targets, err := e.saveTargets(ctx, pkg, entry, ps)
	if err != nil {
		return nil, err
	}

	byKey := map[string][]saveCandidate{}
	for _, t := range targets {
		c, skip, err := e.saveCandidate(pkg, t, result)
		if err != nil {
			msg := fmt.Sprintf("%s: %v", t.TargetRel, err)
			log.Warn("save %s: %s", pkg.Name, msg)
			result.Warnings = append(result.Warnings, msg)
			continue
		}
		if skip {
			continue
		}
		byKey[t.Key] = append(byKey[t.Key], c)
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := e.saveKey(ctx, pkg, key, byKey[key], req.Selector, result); err != nil {
			return result, err
		}
	}
	return result, nil
}

// saveTargets lists the workspace copies owned by the package: forward
// targets at their plain or namespaced location, plus files that appeared in
// directories the package claims.
func (e *Engine) saveTargets(ctx context.Context, pkg source.Package, entry *state.PackageEntry, ps []*platform.Platform) ([]flows.Target, error) {
	targets, _, err := e.resolveTargets(ctx, pkg, ps, "")
	if err != nil {
		return nil, err
	}
	if entry.Namespace != "" {
		nested, _, err := e.resolveTargets(ctx, pkg, ps, entry.Namespace)
		if err != nil {
			return nil, err
		}
		for _, t := range targets {
			if t.IsMerge() {
				continue
			}
			moved := t
			moved.TargetRel = flows.WithNamespace(t.TargetRel, entry.Namespace)
			moved.TargetAbs = e.abs(moved.TargetRel)
			nested = append(nested, moved)
		}
		targets = append(targets, nested...)
	}

	seen := map[string]bool{}
	var out []flows.Target
	for _, t := range targets {
		if seen[t.TargetRel] || !entry.Covers(t.TargetRel) {
			continue
		}
		if ok, err := e.fs.Exists(t.TargetAbs); err != nil || !ok {
			continue
		}
		seen[t.TargetRel] = true
		out = append(out, t)
	}

	for _, dir := range entry.DirPaths() {
		for _, rel := range e.workspaceFiles(dir) {
			if seen[rel] {
				continue
			}
			seen[rel] = true
			if t, ok := e.untrackedTarget(entry, dir, rel, ps); ok {
				out = append(out, t)
			}
		}
	}
	return out, nil
}

// untrackedTarget maps a file created in a claimed directory back to a
// registry key, preferring a platform import flow.
func (e *Engine) untrackedTarget(entry *state.PackageEntry, dir, rel string, ps []*platform.Platform) (flows.Target, bool) {
	for _, p := range ps {
		imp, caps, ok := platform.ImportFlow(p, rel)
		if !ok {
			continue
		}
		to, err := imp.To.Eval(e.flowContext(p))
		if err != nil {
			continue
		}
		key, err := flows.Render(to, caps, e.flowContext(p))
		if err != nil {
			continue
		}
		return flows.Target{Platform: p.ID, Key: key, TargetRel: rel, TargetAbs: e.abs(rel)}, true
	}
	for _, k := range entry.KeysFor(rel) {
		if regkey.IsDir(k) {
			key := k + strings.TrimPrefix(rel, regkey.Dir(dir))
			return flows.Target{Key: key, TargetRel: rel, TargetAbs: e.abs(rel)}, true
		}
	}
	return flows.Target{}, false
}

// saveCandidate reads one workspace copy and converts it to universal form.
// skip reports copies that hold nothing of the package's.
func (e *Engine) saveCandidate(pkg source.Package, t flows.Target, result *SaveResult) (saveCandidate, bool, error) {
	c := saveCandidate{target: t}

	raw, err := e.fs.ReadFile(t.TargetAbs)
	if err != nil {
		return c, false, fmt.Errorf("failed to read workspace copy: %w", err)
	}
	src, hasSource, err := e.readOptional(filepath.Join(pkg.ContentRoot, filepath.FromSlash(t.Key)))
	if err != nil {
		return c, false, fmt.Errorf("failed to read source: %w", err)
	}
	if t.Platform != "" {
		variant := regkey.PlatformVariant(t.Key, t.Platform)
		if _, ok, _ := e.readOptional(filepath.Join(pkg.ContentRoot, filepath.FromSlash(variant))); ok {
			c.variant = variant
		}
	}

	targetFmt := merge.DetectFormat(t.TargetRel)
	portion := raw
	if t.IsMerge() {
		if !hasSource {
			return c, true, nil
		}
		installed, _, err := e.sourceContent(pkg.ContentRoot, t.Key, t.Platform)
		if err != nil {
			return c, false, err
		}
		fwd, err := flows.Transform(installed, t.Key, t.TargetRel, t.Map)
		if err != nil {
			return c, false, err
		}
		portion, err = extractPortion(raw, fwd, pkg.Name, t.Merge, targetFmt)
		if err != nil {
			return c, false, err
		}
		if portion == nil {
			return c, true, nil
		}
	}

	c.parity = e.atParity(pkg, t, portion, src, hasSource, targetFmt)
	if c.parity {
		return c, false, nil
	}

	c.content = e.reverse(t, portion, result)
	if hasSource && sameContent(c.content, src, merge.DetectFormat(t.Key)) {
		c.parity = true
	}
	return c, false, nil
}

// extractPortion returns the package's own contribution to a shared file,
// or nil when the file holds none.
func extractPortion(raw, fwd []byte, owner string, kind merge.Kind, f merge.Format) ([]byte, error) {
	if kind == merge.KindComposite {
		section, ok := merge.ExtractSection(raw, owner)
		if !ok {
			return nil, nil
		}
		return section, nil
	}

	declared, err := merge.Decode(fwd, f)
	if err != nil {
		return nil, err
	}
	doc, err := merge.Extract(raw, f, merge.DeclaredKeys(declared))
	if err != nil {
		return nil, err
	}
	if len(doc) == 0 {
		return nil, nil
	}
	return merge.Encode(doc, f)
}

// atParity reports whether a workspace copy matches the source, the source
// after the forward transform, or any platform-specific sibling.
func (e *Engine) atParity(pkg source.Package, t flows.Target, portion, src []byte, hasSource bool, f merge.Format) bool {
	compare := func(content []byte) bool {
		if sameContent(portion, content, f) {
			return true
		}
		fwd, err := flows.Transform(content, t.Key, t.TargetRel, t.Map)
		return err == nil && sameContent(portion, fwd, f)
	}

	if hasSource && compare(src) {
		return true
	}
	for _, id := range e.platforms.IDs() {
		variant := regkey.PlatformVariant(t.Key, id)
		data, ok, err := e.readOptional(filepath.Join(pkg.ContentRoot, filepath.FromSlash(variant)))
		if err == nil && ok && compare(data) {
			return true
		}
	}
	return false
}

// sameContent compares content byte for byte, or as documents when f is
// structured, or ignoring trailing newlines for Markdown sections.
func sameContent(a, b []byte, f merge.Format) bool {
	if bytes.Equal(a, b) {
		return true
	}
	switch {
	case f.Structured():
		da, err := merge.Decode(a, f)
		if err != nil {
			return false
		}
		db, err := merge.Decode(b, f)
		if err != nil {
			return false
		}
		return merge.Equal(da, db)
	case f == merge.FormatMarkdown:
		return bytes.Equal(bytes.TrimRight(a, "\n"), bytes.TrimRight(b, "\n"))
	default:
		return false
	}
}

// reverse converts a workspace copy back to universal form through the
// platform's import flow. Without one, a copy whose forward flow rewrote
// content is kept verbatim and a leakage warning is recorded.
func (e *Engine) reverse(t flows.Target, portion []byte, result *SaveResult) []byte {
	var p *platform.Platform
	if t.Platform != "" {
		p, _ = e.platforms.Get(t.Platform)
	}
	if p != nil {
		if imp, _, ok := platform.ImportFlow(p, t.TargetRel); ok {
			out, err := flows.Transform(portion, t.TargetRel, t.Key, imp.Map)
			if err == nil {
				return out
			}
			e.leak(t, fmt.Sprintf("import flow failed: %v", err), result)
			return portion
		}
	}

	if len(flows.Renames(t.Map)) > 0 {
		e.leak(t, "no import flow reverses its platform transform", result)
		return portion
	}
	out, err := flows.Transform(portion, t.TargetRel, t.Key, nil)
	if err != nil {
		e.leak(t, err.Error(), result)
		return portion
	}
	return out
}

func (e *Engine) leak(t flows.Target, why string, result *SaveResult) {
	msg := fmt.Sprintf("%s: saved verbatim, platform-specific content may leak into %s (%s)", t.TargetRel, t.Key, why)
	log.Warn("save: %s", msg)
	result.Warnings = append(result.Warnings, msg)
}

// saveKey writes the non-parity copies of one key. Copies installed from a
// platform-specific sibling update that sibling. The remaining copies update
// the universal source when they agree; diverging copies go to the Selector.
func (e *Engine) saveKey(ctx context.Context, pkg source.Package, key string, cands []saveCandidate, sel Selector, result *SaveResult) error {
	var (
		universal []saveCandidate
		from      []string
	)
	for _, c := range cands {
		from = append(from, c.target.TargetRel)
		if c.parity {
			continue
		}
		if c.variant != "" {
			result.Paths = append(result.Paths, e.writeSource(pkg, key, c.variant, c.content, []string{c.target.TargetRel}))
			continue
		}
		universal = append(universal, c)
	}

	if len(universal) == 0 {
		if allParity(cands) {
			result.Paths = append(result.Paths, PathResult{Key: key, SourcePath: key, From: from, Status: SaveParity})
		}
		return nil
	}

	distinct := map[string]bool{}
	for _, c := range universal {
		distinct[e.hasher.HashBytes(c.content)] = true
	}
	if len(distinct) == 1 {
		result.Paths = append(result.Paths, e.writeSource(pkg, key, key, universal[0].content, targetPaths(universal)))
		return nil
	}

	if sel == nil {
		result.Paths = append(result.Paths, PathResult{
			Key: key, SourcePath: key, From: targetPaths(universal), Status: SaveSkipped,
			Note: fmt.Sprintf("%d diverging workspace versions; choose one interactively", len(distinct)),
		})
		return nil
	}

	options := make([]SaveCandidate, len(universal))
	for i, c := range universal {
		options[i] = SaveCandidate{Platform: c.target.Platform, Path: c.target.TargetRel, Content: c.content}
	}
	choice, err := sel.Select(ctx, key, options)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		result.Paths = append(result.Paths, PathResult{Key: key, SourcePath: key, From: targetPaths(universal), Status: SaveSkipped, Note: err.Error()})
		return nil
	}

	used := map[int]bool{}
	if choice.Universal >= 0 && choice.Universal < len(universal) {
		used[choice.Universal] = true
		c := universal[choice.Universal]
		result.Paths = append(result.Paths, e.writeSource(pkg, key, key, c.content, []string{c.target.TargetRel}))
	}
	for _, i := range choice.PlatformSpecific {
		if i < 0 || i >= len(universal) || used[i] || universal[i].target.Platform == "" {
			continue
		}
		used[i] = true
		c := universal[i]
		variant := regkey.PlatformVariant(key, c.target.Platform)
		result.Paths = append(result.Paths, e.writeSource(pkg, key, variant, c.content, []string{c.target.TargetRel}))
	}
	for i, c := range universal {
		if !used[i] {
			result.Paths = append(result.Paths, PathResult{Key: key, SourcePath: key, From: []string{c.target.TargetRel}, Status: SaveSkipped, Note: "discarded"})
		}
	}
	return nil
}

// writeSource writes content to a package-relative path when it differs.
func (e *Engine) writeSource(pkg source.Package, key, rel string, content []byte, from []string) PathResult {
	pr := PathResult{Key: key, SourcePath: rel, From: from}
	wrote, _, err := e.writeIfChanged(filepath.Join(pkg.ContentRoot, filepath.FromSlash(rel)), content)
	switch {
	case err != nil:
		log.Warn("save %s: %s: %v", pkg.Name, rel, err)
		pr.Status = SaveFailed
		pr.Err = err
	case wrote:
		pr.Status = SaveWritten
	default:
		pr.Status = SaveUnchanged
	}
	return pr
}

func allParity(cands []saveCandidate) bool {
	for _, c := range cands {
		if !c.parity {
			return false
		}
	}
	return true
}

func targetPaths(cands []saveCandidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.target.TargetRel
	}
	return out
}
