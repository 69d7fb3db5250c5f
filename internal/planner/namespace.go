package planner

import (
	"path"
	"strconv"
	"strings"

	"github.com/danieljhkim/agentpm/internal/regkey"
)

var identityPrefixes = []string{
	"https://", "http://", "ssh://", "git@github.com:", "git@", "gh@", "github:", "github.com/", "@",
}

// identitySegments splits a fully-qualified package identity into path
// segments, dropping scheme and host prefixes.
func identitySegments(identity string) []string {
	id := strings.TrimSpace(identity)
	for changed := true; changed; {
		changed = false
		for _, prefix := range identityPrefixes {
			if strings.HasPrefix(id, prefix) {
				id = strings.TrimPrefix(id, prefix)
				changed = true
			}
		}
	}
	id = strings.TrimSuffix(id, ".git")

	var segs []string
	for _, s := range strings.Split(id, "/") {
		if s = sanitizeSlug(s); s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

func sanitizeSlug(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-.")
}

func stripExt(s string) string {
	if ext := path.Ext(s); ext != "" && ext != s {
		return strings.TrimSuffix(s, ext)
	}
	return s
}

// NamespaceCandidates returns the ordered slug candidates for identity.
//
// The leaf is the segment immediately before the last resource category
// marker in the identity ("essentials" in "gh@acme/kit/essentials/rules").
// When the marker is the first segment or there is none, the repository
// name (second segment) is used. Escalation then qualifies the leaf with
// the repository and the owner: leaf, repo/leaf, owner/repo/leaf.
func NamespaceCandidates(identity string) []string {
	segs := identitySegments(identity)
	if len(segs) == 0 {
		return []string{"pkg"}
	}

	owner := segs[0]
	repo := owner
	if len(segs) > 1 {
		repo = segs[1]
	}
	repo = stripExt(repo)

	leaf := repo
	marker := -1
	for i, s := range segs {
		if regkey.IsCategory(s) {
			marker = i
		}
	}
	if marker > 0 {
		leaf = stripExt(segs[marker-1])
	}

	var out []string
	add := func(c string) {
		for _, existing := range out {
			if existing == c {
				return
			}
		}
		out = append(out, c)
	}
	add(leaf)
	if leaf != repo {
		add(repo + "/" + leaf)
	}
	if owner != repo {
		if leaf != repo {
			add(owner + "/" + repo + "/" + leaf)
		} else {
			add(owner + "/" + repo)
		}
	}
	return out
}

// AllocateNamespace returns the first candidate for identity not in used.
// When every candidate is taken the most qualified one gets a numeric
// suffix (-2, -3, ...). The result depends only on its inputs.
func AllocateNamespace(identity string, used map[string]bool) string {
	candidates := NamespaceCandidates(identity)
	for _, c := range candidates {
		if !used[c] {
			return c
		}
	}
	last := candidates[len(candidates)-1]
	for n := 2; ; n++ {
		c := last + "-" + strconv.Itoa(n)
		if !used[c] {
			return c
		}
	}
}
