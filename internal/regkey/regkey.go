// Package regkey defines registry keys: slash-separated paths relative to a
// package's universal root. A trailing slash marks directory scope; anything
// else is an exact file. The first segment is a resource category token, the
// root-copy marker, or the name of a root file such as AGENTS.md.
package regkey

import (
	"path"
	"strings"
)

// Resource category tokens recognised as the first segment of a key.
const (
	Agents   = "agents"
	Rules    = "rules"
	Commands = "commands"
	Skills   = "skills"
	Hooks    = "hooks"
	MCP      = "mcp"
)

// RootCopy marks files that are copied verbatim to the workspace root.
const RootCopy = "root"

var categories = map[string]bool{
	Agents:   true,
	Rules:    true,
	Commands: true,
	Skills:   true,
	Hooks:    true,
	MCP:      true,
}

// IsCategory reports whether seg is a resource category token.
func IsCategory(seg string) bool {
	return categories[seg]
}

// IsDir reports whether key has directory scope.
func IsDir(key string) bool {
	return strings.HasSuffix(key, "/")
}

// Normalize cleans a slash path, keeping a trailing slash when present.
func Normalize(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	dir := strings.HasSuffix(p, "/")
	cleaned := path.Clean(p)
	if cleaned == "." {
		return ""
	}
	cleaned = strings.TrimPrefix(cleaned, "./")
	if dir {
		return cleaned + "/"
	}
	return cleaned
}

// Dir returns p with directory scope.
func Dir(p string) string {
	p = Normalize(p)
	if p == "" || strings.HasSuffix(p, "/") {
		return p
	}
	return p + "/"
}

// Under reports whether p lies beneath the directory dir. Both are slash
// paths; dir may omit its trailing slash.
func Under(dir, p string) bool {
	dir = Dir(dir)
	if dir == "" {
		return true
	}
	return strings.HasPrefix(p, dir) && len(p) > len(dir)
}

// PlatformVariant returns the platform-specific sibling of a file key:
// "rules/a.md" for platform "cursor" becomes "rules/a.cursor.md".
func PlatformVariant(key, platform string) string {
	dir, file := path.Split(key)
	ext := path.Ext(file)
	stem := strings.TrimSuffix(file, ext)
	return dir + stem + "." + platform + ext
}

// SplitPlatformVariant reverses PlatformVariant when the embedded platform id
// is one of known.
func SplitPlatformVariant(key string, known []string) (base, platform string, ok bool) {
	dir, file := path.Split(key)
	ext := path.Ext(file)
	stem := strings.TrimSuffix(file, ext)
	inner := path.Ext(stem)
	if inner == "" {
		return key, "", false
	}
	candidate := strings.TrimPrefix(inner, ".")
	for _, k := range known {
		if k == candidate {
			return dir + strings.TrimSuffix(stem, inner) + ext, candidate, true
		}
	}
	return key, "", false
}
