package flows

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/danieljhkim/agentpm/internal/fsops"
	"github.com/danieljhkim/agentpm/internal/log"
	"github.com/danieljhkim/agentpm/internal/merge"
)

// Target is one resolved (flow, source file) pair.
type Target struct {
	// Platform is the platform the flow belongs to.
	Platform string

	// FlowIndex is the flow's position in the platform's flow list.
	FlowIndex int

	// Key is the registry key: the source path relative to the package root.
	Key string

	// SourceAbs is the absolute source file path.
	SourceAbs string

	// TargetRel is the workspace-relative target path (slash separated).
	TargetRel string

	// TargetAbs is the absolute target path.
	TargetAbs string

	// From is the resolved source pattern that matched.
	From string

	// Pattern is the resolved target pattern the path was rendered from.
	Pattern string

	// Merge is the owning flow's merge kind.
	Merge merge.Kind

	// Map holds the owning flow's content transforms.
	Map []MapOp
}

// IsMerge reports whether the target is a shared, merged file.
func (t Target) IsMerge() bool {
	return t.Merge.Shared()
}

// Source describes the package tree flows are resolved against.
type Source struct {
	// Root is the absolute package content root.
	Root string

	// Include filters package-relative paths. Nil includes everything.
	Include func(rel string) bool
}

// Resolution is the result of resolving one platform's flows.
type Resolution struct {
	Targets  []Target
	Warnings []string
}

// Resolver resolves flows against package sources.
type Resolver struct {
	fs    fsops.FS
	limit int
}

// NewResolver creates a Resolver. limit bounds concurrent flow resolution;
// zero or less means one goroutine per flow.
func NewResolver(fs fsops.FS, limit int) *Resolver {
	return &Resolver{fs: fs, limit: limit}
}

type flowResult struct {
	targets  []Target
	warnings []string
}

// Resolve resolves every applicable flow for ctx.Platform. Unresolvable
// (flow, source) pairs and unmet guards become warnings; only cancellation
// and filesystem failures are returned as errors.
func (r *Resolver) Resolve(ctx context.Context, fl []Flow, src Source, ec Context) (*Resolution, error) {
	results := make([]flowResult, len(fl))

	g, gctx := errgroup.WithContext(ctx)
	if r.limit > 0 {
		g.SetLimit(r.limit)
	}
	for i := range fl {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := r.resolveFlow(i, fl[i], src, ec)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &Resolution{}
	claimed := map[string]Target{}
	for _, res := range results {
		out.Warnings = append(out.Warnings, res.warnings...)
		for _, t := range res.targets {
			// Merge flows may share a target; anything else is first come.
			if prev, ok := claimed[t.TargetRel]; ok && !(prev.IsMerge() && t.IsMerge()) {
				msg := fmt.Sprintf("%s: %s is already produced from %s, skipping %s", ec.Platform, t.TargetRel, prev.Key, t.Key)
				log.Warn("%s", msg)
				out.Warnings = append(out.Warnings, msg)
				continue
			}
			claimed[t.TargetRel] = t
			out.Targets = append(out.Targets, t)
		}
	}
	return out, nil
}

func (r *Resolver) resolveFlow(idx int, f Flow, src Source, ec Context) (flowResult, error) {
	var res flowResult
	if !f.AppliesTo(ec.Platform) {
		return res, nil
	}
	warn := func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		log.Warn("%s", msg)
		res.warnings = append(res.warnings, msg)
	}

	if f.When != nil && !f.When.Eval(ec) {
		warn("%s: condition for flow %s not met, skipping", ec.Platform, f.From)
		return res, nil
	}

	from, err := f.From.Eval(ec)
	if err != nil {
		warn("%s: flow source: %v", ec.Platform, err)
		return res, nil
	}
	pat, err := CompilePattern(from)
	if err != nil {
		warn("%s: %v", ec.Platform, err)
		return res, nil
	}

	files, err := r.candidates(pat, src)
	if err != nil {
		return res, err
	}

	for _, rel := range files {
		caps, ok := pat.Match(rel)
		if !ok {
			continue
		}
		to, err := f.To.Eval(ec)
		if err != nil {
			warn("%s: %s: %v", ec.Platform, rel, err)
			continue
		}
		targetRel, err := Render(to, caps, ec)
		if err != nil {
			warn("%s: %s: %v", ec.Platform, rel, err)
			continue
		}
		if err := fsops.ValidateRelPath(targetRel); err != nil {
			warn("%s: %s: invalid target: %v", ec.Platform, rel, err)
			continue
		}
		res.targets = append(res.targets, Target{
			Platform:  ec.Platform,
			FlowIndex: idx,
			Key:       rel,
			SourceAbs: filepath.Join(src.Root, filepath.FromSlash(rel)),
			TargetRel: targetRel,
			TargetAbs: filepath.Join(ec.WorkspaceRoot, filepath.FromSlash(targetRel)),
			From:      from,
			Pattern:   to,
			Merge:     f.Merge,
			Map:       f.Map,
		})
	}

	sort.Slice(res.targets, func(i, j int) bool { return res.targets[i].Key < res.targets[j].Key })
	return res, nil
}

// candidates lists package files the pattern could match. Globs walk only
// the pattern's static prefix; literals are checked directly.
func (r *Resolver) candidates(pat *Pattern, src Source) ([]string, error) {
	include := func(rel string) bool { return src.Include == nil || src.Include(rel) }

	if !pat.IsGlob() {
		rel := pat.StaticPrefix()
		info, err := r.fs.Lstat(filepath.Join(src.Root, filepath.FromSlash(rel)))
		if err != nil || info.IsDir() || !include(rel) {
			return nil, nil
		}
		return []string{rel}, nil
	}

	prefix := pat.StaticPrefix()
	walked, err := r.fs.WalkFiles(filepath.Join(src.Root, filepath.FromSlash(prefix)))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", path.Join(src.Root, prefix), err)
	}

	files := make([]string, 0, len(walked))
	for _, rel := range walked {
		if prefix != "" {
			rel = prefix + "/" + rel
		}
		if include(rel) {
			files = append(files, rel)
		}
	}
	return files, nil
}
