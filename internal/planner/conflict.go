package planner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/danieljhkim/agentpm/internal/flows"
	"github.com/danieljhkim/agentpm/internal/log"
)

// Strategy is how a collision with another package's file is resolved.
type Strategy string

const (
	// StrategyOverwrite replaces the file; ownership transfers.
	StrategyOverwrite Strategy = "overwrite"

	// StrategySkip drops the target; the existing file and owner remain.
	StrategySkip Strategy = "skip"

	// StrategyKeepBoth leaves the existing file and relocates the new target
	// under the package's namespace.
	StrategyKeepBoth Strategy = "keep-both"

	// StrategyAsk asks a Chooser for each collision.
	StrategyAsk Strategy = "ask"
)

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case StrategyOverwrite, StrategySkip, StrategyKeepBoth, StrategyAsk:
		return st, nil
	case "":
		return StrategyKeepBoth, nil
	default:
		return "", fmt.Errorf("unknown conflict strategy %q (want overwrite, skip, keep-both or ask)", s)
	}
}

// Conflict is one planned target that another package already owns.
type Conflict struct {
	Target flows.Target
	Owner  Owner
}

// Chooser picks a strategy for a single conflict. It must return overwrite,
// skip or keep-both.
type Chooser interface {
	Choose(ctx context.Context, c Conflict) (Strategy, error)
}

// Policy configures conflict resolution.
type Policy struct {
	// Strategy is applied to every collision.
	Strategy Strategy

	// NamespaceThreshold is the share of a package's exclusive targets that
	// must collide under keep-both before the whole package is namespaced
	// instead of relocating single files. 0 namespaces on any collision;
	// values above 1 never namespace the whole package.
	NamespaceThreshold float64

	// Chooser answers StrategyAsk.
	Chooser Chooser
}

// Relocation records a target moved under a namespace.
type Relocation struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Transfer records a path whose ownership moves from another package.
type Transfer struct {
	Path string
	From string
}

// Resolution is the outcome of conflict resolution.
type Resolution struct {
	// Targets are the targets the installer may write.
	Targets []flows.Target

	// Notes are human-readable resolution notes.
	Notes []string

	// Relocated lists keep-both relocations.
	Relocated []Relocation

	// Transfers lists overwritten paths and their previous owners.
	Transfers []Transfer

	// Namespace is the slug the package used, if any.
	Namespace string

	// Namespaced is set when the whole package was nested under Namespace.
	Namespaced bool

	// FellBack is set when resolution failed and Targets is the unfiltered
	// input.
	FellBack bool
}

// Request is the input for one package.
type Request struct {
	// Package is the installing package's name.
	Package string

	// Identity is its fully-qualified identity, the namespace source.
	Identity string

	// PrevNamespace is the namespace recorded by a previous install.
	PrevNamespace string

	// UsedNamespaces are slugs held by other packages.
	UsedNamespaces map[string]bool

	// Targets are the planned targets.
	Targets []flows.Target

	// Ownership is the view of every other package.
	Ownership *Ownership

	// Reresolve recomputes the targets with every non-merge flow's target
	// nested under ns. Nil disables whole-package namespacing.
	Reresolve func(ns string) ([]flows.Target, error)
}

// ConflictResolver arbitrates collisions between packages.
type ConflictResolver struct {
	policy        Policy
	workspaceRoot string
}

// NewConflictResolver creates a ConflictResolver.
func NewConflictResolver(policy Policy, workspaceRoot string) *ConflictResolver {
	return &ConflictResolver{policy: policy, workspaceRoot: workspaceRoot}
}

// Resolve filters and rewrites req.Targets. Resolution is best effort: an
// internal failure is logged and the unfiltered targets are returned with
// FellBack set. Only context cancellation is returned as an error.
func (r *ConflictResolver) Resolve(ctx context.Context, req Request) (res *Resolution, err error) {
	defer func() {
		if p := recover(); p != nil {
			res, err = r.fallback(req, fmt.Errorf("panic: %v", p)), nil
		}
	}()

	res, err = r.resolve(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return r.fallback(req, err), nil
	}
	return res, nil
}

func (r *ConflictResolver) fallback(req Request, cause error) *Resolution {
	log.Warn("conflict resolution for %s failed, installing unfiltered targets: %v", req.Package, cause)
	return &Resolution{
		Targets:  req.Targets,
		Notes:    []string{fmt.Sprintf("conflict resolution failed (%v); targets written without filtering", cause)},
		FellBack: true,
	}
}

func (r *ConflictResolver) collisions(req Request, targets []flows.Target) (colliding, exclusive int) {
	for _, t := range targets {
		if t.IsMerge() {
			continue
		}
		exclusive++
		if owner, ok := req.Ownership.OwnerOf(t.TargetRel); ok && owner.Package != req.Package {
			colliding++
		}
	}
	return colliding, exclusive
}

func (r *ConflictResolver) slug(req Request) string {
	if req.PrevNamespace != "" && !req.UsedNamespaces[req.PrevNamespace] {
		return req.PrevNamespace
	}
	return AllocateNamespace(req.Identity, req.UsedNamespaces)
}

func (r *ConflictResolver) resolve(ctx context.Context, req Request) (*Resolution, error) {
	if req.Ownership == nil {
		return nil, errors.New("no ownership context")
	}
	res := &Resolution{}
	targets := req.Targets

	colliding, exclusive := r.collisions(req, targets)
	if colliding == 0 {
		res.Targets = targets
		return res, nil
	}

	if r.policy.Strategy == StrategyKeepBoth && req.Reresolve != nil &&
		float64(colliding)/float64(exclusive) >= r.policy.NamespaceThreshold {
		ns := r.slug(req)
		nested, err := req.Reresolve(ns)
		if err != nil {
			return nil, fmt.Errorf("namespace %s: %w", ns, err)
		}
		targets = nested
		res.Namespace = ns
		res.Namespaced = true
		res.Notes = append(res.Notes, fmt.Sprintf("%d of %d targets collided; installed under namespace %q", colliding, exclusive, ns))
		before := map[string]string{}
		for _, t := range req.Targets {
			before[targetID(t)] = t.TargetRel
		}
		for _, t := range nested {
			if from, ok := before[targetID(t)]; ok && !t.IsMerge() && from != t.TargetRel {
				res.Relocated = append(res.Relocated, Relocation{From: from, To: t.TargetRel})
			}
		}
	}

	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if t.IsMerge() {
			res.Targets = append(res.Targets, t)
			continue
		}
		owner, ok := req.Ownership.OwnerOf(t.TargetRel)
		if !ok || owner.Package == req.Package {
			res.Targets = append(res.Targets, t)
			continue
		}

		strategy, err := r.strategyFor(ctx, Conflict{Target: t, Owner: owner})
		if err != nil {
			return nil, err
		}

		switch strategy {
		case StrategyOverwrite:
			res.Targets = append(res.Targets, t)
			res.Transfers = append(res.Transfers, Transfer{Path: t.TargetRel, From: owner.Package})
			res.Notes = append(res.Notes, fmt.Sprintf("%s: overwrote file owned by %s", t.TargetRel, owner.Package))

		case StrategySkip:
			res.Notes = append(res.Notes, fmt.Sprintf("%s: skipped, owned by %s", t.TargetRel, owner.Package))

		case StrategyKeepBoth:
			if res.Namespaced {
				res.Notes = append(res.Notes, fmt.Sprintf("%s: skipped, still owned by %s after namespacing", t.TargetRel, owner.Package))
				continue
			}
			if res.Namespace == "" {
				res.Namespace = r.slug(req)
			}
			moved := flows.WithNamespace(t.TargetRel, res.Namespace)
			if other, taken := req.Ownership.OwnerOf(moved); taken && other.Package != req.Package {
				res.Notes = append(res.Notes, fmt.Sprintf("%s: skipped, %s is owned by %s", t.TargetRel, moved, other.Package))
				continue
			}
			res.Relocated = append(res.Relocated, Relocation{From: t.TargetRel, To: moved})
			res.Notes = append(res.Notes, fmt.Sprintf("%s: owned by %s; installed as %s", t.TargetRel, owner.Package, moved))
			t.TargetRel = moved
			t.TargetAbs = filepath.Join(r.workspaceRoot, filepath.FromSlash(moved))
			res.Targets = append(res.Targets, t)

		default:
			return nil, fmt.Errorf("unsupported strategy %q for %s", strategy, t.TargetRel)
		}
	}
	return res, nil
}

func targetID(t flows.Target) string {
	return fmt.Sprintf("%s\x00%d\x00%s", t.Platform, t.FlowIndex, t.Key)
}

func (r *ConflictResolver) strategyFor(ctx context.Context, c Conflict) (Strategy, error) {
	if r.policy.Strategy != StrategyAsk {
		return r.policy.Strategy, nil
	}
	if r.policy.Chooser == nil {
		return "", errors.New("strategy ask needs an interactive chooser")
	}
	s, err := r.policy.Chooser.Choose(ctx, c)
	if err != nil {
		return "", fmt.Errorf("choose for %s: %w", c.Target.TargetRel, err)
	}
	if s == StrategyAsk {
		return "", fmt.Errorf("chooser returned %q for %s", s, c.Target.TargetRel)
	}
	return s, nil
}
