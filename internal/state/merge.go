package state

import (
	"sort"
	"strings"

	"github.com/danieljhkim/agentpm/internal/regkey"
)

// MergeFiles merges a freshly planned key → paths mapping into a package's
// previous one.
//
// The previous mapping is pruned first: a file key survives only if it is
// still among the package's current source keys, and a directory key only if
// some current source key lies beneath it. Directory values are then unioned,
// de-duplicated and reduced to the most general directories. A file key's
// new values replace the old ones unless shared reports the key as a merge
// target, in which case they are unioned. File keys whose paths are all
// covered by one of the entry's directory values are dropped.
func MergeFiles(prev, next map[string][]string, sourceKeys []string, shared func(key string) bool) map[string][]string {
	current := make(map[string]bool, len(sourceKeys))
	for _, k := range sourceKeys {
		current[k] = true
	}

	out := make(map[string][]string, len(prev)+len(next))
	for key, vals := range prev {
		if regkey.IsDir(key) {
			if anyUnder(key, sourceKeys) {
				out[key] = append([]string(nil), vals...)
			}
			continue
		}
		if current[key] {
			out[key] = append([]string(nil), vals...)
		}
	}

	for key, vals := range next {
		switch {
		case regkey.IsDir(key):
			out[key] = mostGeneral(union(out[key], vals))
		case shared != nil && shared(key):
			out[key] = union(out[key], vals)
		default:
			out[key] = union(nil, vals)
		}
	}

	dirs := dirValues(out)
	for key, vals := range out {
		if regkey.IsDir(key) {
			if len(vals) == 0 {
				delete(out, key)
			}
			continue
		}
		if len(vals) == 0 || allCovered(vals, dirs) {
			delete(out, key)
		}
	}
	return out
}

// Release removes workspace path p from the entry after another package
// took it over. A directory value that contained p is replaced by file keys
// for the files that remain beneath it; list returns those files as
// workspace-relative paths.
func (e *PackageEntry) Release(p string, list func(dir string) []string) {
	for _, key := range e.Keys() {
		vals := e.Files[key]
		kept := vals[:0]
		var expanded []string
		for _, v := range vals {
			switch {
			case v == p:
			case regkey.IsDir(v) && strings.HasPrefix(p, v):
				expanded = append(expanded, v)
			default:
				kept = append(kept, v)
			}
		}
		if len(kept) == 0 {
			delete(e.Files, key)
		} else {
			e.Files[key] = kept
		}

		for _, dir := range expanded {
			for _, f := range list(dir) {
				if f == p {
					continue
				}
				fileKey := key + strings.TrimPrefix(f, dir)
				e.Files[fileKey] = union(e.Files[fileKey], []string{f})
			}
		}
	}
}

// Forget drops workspace paths from the entry's values. Keys left without a
// value are removed.
func (e *PackageEntry) Forget(paths ...string) {
	if len(paths) == 0 {
		return
	}
	drop := make(map[string]bool, len(paths))
	for _, p := range paths {
		drop[p] = true
	}
	for key, vals := range e.Files {
		kept := make([]string, 0, len(vals))
		for _, v := range vals {
			if !drop[v] {
				kept = append(kept, v)
			}
		}
		if len(kept) == 0 {
			delete(e.Files, key)
		} else {
			e.Files[key] = kept
		}
	}
}

// Empty reports whether the entry no longer owns anything.
func (e *PackageEntry) Empty() bool {
	return len(e.Files) == 0
}

func anyUnder(dirKey string, keys []string) bool {
	for _, k := range keys {
		if regkey.Under(dirKey, k) {
			return true
		}
	}
	return false
}

// union merges b into a, de-duplicated and sorted.
func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if v != "" && !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	sort.Strings(out)
	return out
}

// mostGeneral drops directories that lie beneath another listed directory.
func mostGeneral(dirs []string) []string {
	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		nested := false
		for _, other := range dirs {
			if other != d && strings.HasPrefix(d, regkey.Dir(other)) {
				nested = true
				break
			}
		}
		if !nested {
			out = append(out, d)
		}
	}
	return out
}

func dirValues(files map[string][]string) []string {
	var dirs []string
	for key, vals := range files {
		if regkey.IsDir(key) {
			dirs = append(dirs, vals...)
		}
	}
	return dirs
}

func allCovered(paths, dirs []string) bool {
	if len(dirs) == 0 {
		return false
	}
	for _, p := range paths {
		covered := false
		for _, d := range dirs {
			if strings.HasPrefix(p, regkey.Dir(d)) {
				covered = true
				break
			}
		}
		if !covered {
			return false
		}
	}
	return true
}
