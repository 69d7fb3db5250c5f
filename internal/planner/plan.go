package planner

import (
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/danieljhkim/agentpm/internal/flows"
	"github.com/danieljhkim/agentpm/internal/fsops"
	"github.com/danieljhkim/agentpm/internal/regkey"
	"github.com/danieljhkim/agentpm/internal/state"
)

// Decision is a group's tracking granularity.
type Decision string

const (
	// DecisionFile tracks every installed file under its exact key.
	DecisionFile Decision = "file"

	// DecisionDir tracks the whole target directory under one key.
	DecisionDir Decision = "dir"
)

// PlatformGroup is one platform's view of a group.
type PlatformGroup struct {
	// TargetDir is the workspace-relative directory the group installs into
	// for this platform, with a trailing slash. Empty when the targets do not
	// share one static directory.
	TargetDir string

	// Decision is the platform's tracking decision.
	Decision Decision

	// Claimed is set when the previous ledger entry already held TargetDir
	// under the group key. Claimed directories are not re-inspected.
	Claimed bool
}

// Group is a set of targets bucketed by registry directory key.
type Group struct {
	// Key is the registry key of the group: a directory key such as
	// "rules/", or a file key for groups that can only be file-tracked.
	Key string

	// FileOnly marks groups that are never directory-tracked: merge targets,
	// literal sources and targets without a static directory.
	FileOnly bool

	// Targets are the group's planned targets.
	Targets []flows.Target

	// Platforms holds the per-platform decisions.
	Platforms map[string]*PlatformGroup

	// Decision is "dir" if any platform decided "dir".
	Decision Decision
}

// Plan is the grouped, decided form of one package's targets.
type Plan struct {
	// Groups are sorted by key.
	Groups []*Group

	byKey map[string]*Group
}

// Occupancy reports whether a workspace directory holds files the package
// did not install itself.
type Occupancy interface {
	Occupied(dirRel string, own func(rel string) bool) (bool, error)
}

// FSOccupancy checks occupancy against the filesystem.
type FSOccupancy struct {
	fs   fsops.FS
	root string
}

// NewFSOccupancy creates an Occupancy for the workspace at root.
func NewFSOccupancy(fs fsops.FS, root string) *FSOccupancy {
	return &FSOccupancy{fs: fs, root: root}
}

// Occupied reports whether dirRel contains any file for which own is false.
func (o *FSOccupancy) Occupied(dirRel string, own func(rel string) bool) (bool, error) {
	dirRel = strings.TrimSuffix(dirRel, "/")
	files, err := o.fs.WalkFiles(filepath.Join(o.root, filepath.FromSlash(dirRel)))
	if err != nil {
		return false, fmt.Errorf("failed to inspect %s: %w", dirRel, err)
	}
	for _, f := range files {
		if own == nil || !own(dirRel+"/"+f) {
			return true, nil
		}
	}
	return false, nil
}

// GroupKey returns the group a target belongs to and whether the group can
// only be file-tracked.
//
// The key is the first static segment of the source pattern, or the first
// two when the first is a resource category ("rules/go/" for
// "rules/go/**/*.md"). Without a static segment the source's parent
// directory is used.
func GroupKey(t flows.Target) (key string, fileOnly bool) {
	if t.IsMerge() {
		return t.Key, true
	}

	pat, err := flows.CompilePattern(t.From)
	if err != nil || !pat.IsGlob() {
		return t.Key, true
	}
	if flows.StaticPrefix(t.Pattern) == "" {
		return t.Key, true
	}

	static := pat.StaticPrefix()
	if static == "" {
		return regkey.Dir(path.Dir(t.Key)), true
	}
	segs := strings.Split(static, "/")
	n := 1
	if regkey.IsCategory(segs[0]) && len(segs) > 1 {
		n = 2
	}
	return regkey.Dir(strings.Join(segs[:n], "/")), false
}

// BuildPlan groups targets and decides each group's tracking granularity.
//
// For each platform a group keeps "dir" when the previous ledger entry
// already claimed that platform's target directory under the group key.
// Otherwise the directory is inspected: if it holds files the package did not
// install, the platform decides "file", else "dir".
func BuildPlan(targets []flows.Target, prev *state.PackageEntry, occ Occupancy) (*Plan, error) {
	plan := &Plan{byKey: map[string]*Group{}}

	for _, t := range targets {
		key, fileOnly := GroupKey(t)
		g, ok := plan.byKey[key]
		if !ok {
			g = &Group{Key: key, FileOnly: fileOnly, Platforms: map[string]*PlatformGroup{}}
			plan.byKey[key] = g
			plan.Groups = append(plan.Groups, g)
		}
		g.FileOnly = g.FileOnly || fileOnly
		g.Targets = append(g.Targets, t)
	}
	sort.Slice(plan.Groups, func(i, j int) bool { return plan.Groups[i].Key < plan.Groups[j].Key })

	own := ownPaths(prev)
	for _, g := range plan.Groups {
		if err := decide(g, prev, own, occ); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

func decide(g *Group, prev *state.PackageEntry, own func(string) bool, occ Occupancy) error {
	dirs := map[string]map[string]bool{}
	for _, t := range g.Targets {
		if dirs[t.Platform] == nil {
			dirs[t.Platform] = map[string]bool{}
		}
		dirs[t.Platform][regkey.Dir(flows.StaticPrefix(t.Pattern))] = true
	}

	g.Decision = DecisionFile
	platforms := make([]string, 0, len(dirs))
	for p := range dirs {
		platforms = append(platforms, p)
	}
	sort.Strings(platforms)

	for _, p := range platforms {
		pg := &PlatformGroup{Decision: DecisionFile}
		g.Platforms[p] = pg
		if g.FileOnly || len(dirs[p]) != 1 {
			continue
		}
		for d := range dirs[p] {
			pg.TargetDir = d
		}
		if pg.TargetDir == "" {
			continue
		}

		switch {
		case prevClaims(prev, g.Key, pg.TargetDir):
			pg.Decision = DecisionDir
			pg.Claimed = true
		default:
			occupied, err := occ.Occupied(pg.TargetDir, own)
			if err != nil {
				return err
			}
			if !occupied {
				pg.Decision = DecisionDir
			}
		}
		if pg.Decision == DecisionDir {
			g.Decision = DecisionDir
		}
	}
	return nil
}

func prevClaims(prev *state.PackageEntry, key, dir string) bool {
	if prev == nil || !regkey.IsDir(key) {
		return false
	}
	for _, v := range prev.Files[key] {
		if v == dir {
			return true
		}
	}
	return false
}

// ownPaths reports whether a workspace path is claimed by the package's
// previous entry, exactly or through one of its directory values.
func ownPaths(prev *state.PackageEntry) func(string) bool {
	if prev == nil {
		return func(string) bool { return false }
	}
	return prev.Covers
}

// Group returns the group with the given key.
func (p *Plan) Group(key string) (*Group, bool) {
	g, ok := p.byKey[key]
	return g, ok
}

// Downgrade switches a platform's decision for group key to "file". It is
// used when the target directory became occupied between planning and
// writing.
func (p *Plan) Downgrade(key, platform string) {
	g, ok := p.byKey[key]
	if !ok {
		return
	}
	if pg, ok := g.Platforms[platform]; ok {
		pg.Decision = DecisionFile
	}
	g.Decision = DecisionFile
	for _, pg := range g.Platforms {
		if pg.Decision == DecisionDir {
			g.Decision = DecisionDir
		}
	}
}

// Materialize builds the registry key → installed paths mapping for the
// targets that were actually written. Targets of a "dir" platform that lie
// in its target directory record the directory under the group key; all
// others (including relocated targets) record their exact path under their
// own key.
func (p *Plan) Materialize(written []flows.Target) map[string][]string {
	out := map[string][]string{}
	add := func(key, val string) {
		for _, v := range out[key] {
			if v == val {
				return
			}
		}
		out[key] = append(out[key], val)
	}

	for _, t := range written {
		key, _ := GroupKey(t)
		if g, ok := p.byKey[key]; ok {
			if pg, ok := g.Platforms[t.Platform]; ok && pg.Decision == DecisionDir && strings.HasPrefix(t.TargetRel, pg.TargetDir) {
				add(g.Key, pg.TargetDir)
				continue
			}
		}
		add(t.Key, t.TargetRel)
	}

	for k := range out {
		sort.Strings(out[k])
	}
	return out
}
