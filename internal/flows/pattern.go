package flows

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// Pattern is a compiled source pattern. Segments are slash separated and may
// use "*" and "?" within a segment, "**" for any number of whole segments,
// and "{name}" to capture part of a single segment.
type Pattern struct {
	raw    string
	re     *regexp.Regexp
	glob   bool
	static string
	star   bool // "*" appears in the last segment
}

var placeholderRe = regexp.MustCompile(`\{([A-Za-z][A-Za-z0-9_]*)\}`)

// CompilePattern parses a source pattern.
func CompilePattern(raw string) (*Pattern, error) {
	raw = strings.TrimPrefix(path.Clean("/"+raw), "/")
	if raw == "" {
		return nil, fmt.Errorf("empty pattern")
	}

	segs := strings.Split(raw, "/")
	var (
		b        strings.Builder
		glob     bool
		static   []string
		seenDeep bool
		seenName = map[string]bool{}
		star     bool
	)
	b.WriteString("^")
	for i, seg := range segs {
		last := i == len(segs)-1
		if isGlobSegment(seg) {
			glob = true
		} else if !glob {
			static = append(static, seg)
		}

		if seg == "**" {
			if seenDeep {
				return nil, fmt.Errorf("pattern %q: only one ** segment is supported", raw)
			}
			seenDeep = true
			if last {
				b.WriteString(`(?P<sub>.+)`)
			} else {
				b.WriteString(`(?P<sub>(?:[^/]+/)*)`)
			}
			continue
		}

		rest := seg
		for rest != "" {
			if loc := placeholderRe.FindStringSubmatchIndex(rest); loc != nil && loc[0] == 0 {
				name := rest[loc[2]:loc[3]]
				if name == "sub" || name == "star" || seenName[name] {
					return nil, fmt.Errorf("pattern %q: placeholder {%s} is reserved or repeated", raw, name)
				}
				seenName[name] = true
				fmt.Fprintf(&b, `(?P<%s>[^/]+?)`, name)
				rest = rest[loc[1]:]
				continue
			}
			switch rest[0] {
			case '*':
				if last && !star {
					star = true
					b.WriteString(`(?P<star>[^/]*)`)
				} else {
					b.WriteString(`[^/]*`)
				}
			case '?':
				b.WriteString(`[^/]`)
			default:
				b.WriteString(regexp.QuoteMeta(rest[:1]))
			}
			rest = rest[1:]
		}
		if !last {
			b.WriteString("/")
		}
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("pattern %q: %w", raw, err)
	}

	p := &Pattern{raw: raw, re: re, glob: glob, star: star}
	if glob {
		p.static = strings.Join(static, "/")
	} else {
		p.static = raw
	}
	return p, nil
}

// String returns the pattern text.
func (p *Pattern) String() string { return p.raw }

// IsGlob reports whether the pattern matches more than one literal path.
func (p *Pattern) IsGlob() bool { return p.glob }

// StaticPrefix returns the leading segments that contain no wildcard. For a
// literal pattern this is the whole path.
func (p *Pattern) StaticPrefix() string { return p.static }

// Captures holds what a source path bound while matching a pattern.
type Captures struct {
	// Source is the matched package-relative path.
	Source string

	// Sub is the part matched by "**", without a trailing slash.
	Sub string

	// Star is the part matched by "*" in the last segment.
	Star string

	// Names holds {placeholder} values.
	Names map[string]string

	starBound bool
}

// Match matches a package-relative, slash-separated path.
func (p *Pattern) Match(rel string) (Captures, bool) {
	m := p.re.FindStringSubmatch(rel)
	if m == nil {
		return Captures{}, false
	}
	c := Captures{Source: rel, Names: map[string]string{}}
	for i, name := range p.re.SubexpNames() {
		switch name {
		case "":
		case "sub":
			c.Sub = strings.TrimSuffix(m[i], "/")
		case "star":
			c.Star = m[i]
			c.starBound = p.star
		default:
			c.Names[name] = m[i]
		}
	}
	return c, true
}

// StaticPrefix returns the leading wildcard-free directory segments of a
// target pattern. A trailing file segment of a literal pattern is excluded.
func StaticPrefix(pattern string) string {
	segs := strings.Split(strings.Trim(pattern, "/"), "/")
	var out []string
	for i, seg := range segs {
		if isGlobSegment(seg) || placeholderRe.MatchString(seg) {
			break
		}
		if i == len(segs)-1 && !strings.HasSuffix(pattern, "/") {
			break
		}
		out = append(out, seg)
	}
	return strings.Join(out, "/")
}

// Render produces the workspace-relative target for a matched source.
//
// "**" is replaced by the matched sub-path. "*" is replaced by the source's
// starred name; when the source segment carried no suffix the extension is
// stripped if the target adds one. {name} placeholders take captured values
// (falling back to context variables) and the source extension is re-appended
// if the target's last segment declares none. A trailing slash appends the
// source basename.
func Render(target string, c Captures, ctx Context) (string, error) {
	if target == "" {
		return "", fmt.Errorf("empty target pattern")
	}
	base := path.Base(c.Source)
	ext := path.Ext(base)

	if strings.HasSuffix(target, "/") {
		target += base
	}

	segs := strings.Split(target, "/")
	out := make([]string, 0, len(segs))
	for i, seg := range segs {
		last := i == len(segs)-1
		if seg == "**" {
			if c.Sub != "" {
				out = append(out, c.Sub)
			} else if last {
				out = append(out, base)
			}
			continue
		}

		var missing string
		usedCapture := false
		rendered := placeholderRe.ReplaceAllStringFunc(seg, func(m string) string {
			name := m[1 : len(m)-1]
			if v, ok := c.Names[name]; ok {
				usedCapture = true
				return v
			}
			if v := ctx.Var(name); v != "" {
				return v
			}
			missing = name
			return m
		})
		if missing != "" {
			return "", fmt.Errorf("target %q: no value for {%s}", target, missing)
		}

		if strings.Contains(rendered, "*") {
			rendered = strings.Replace(rendered, "*", starValue(c, base, ext, rendered), 1)
		}
		if last && usedCapture {
			literal := placeholderRe.ReplaceAllString(seg, "")
			if path.Ext(literal) == "" && ext != "" && !strings.HasSuffix(rendered, ext) {
				rendered += ext
			}
		}
		out = append(out, rendered)
	}

	rel := path.Clean(strings.Join(out, "/"))
	if rel == "." || strings.HasPrefix(rel, "../") || rel == ".." || path.IsAbs(rel) {
		return "", fmt.Errorf("target %q resolves outside the workspace: %q", target, rel)
	}
	return rel, nil
}

func starValue(c Captures, base, ext, targetSeg string) string {
	if c.starBound {
		// The source segment's suffix (".md" in "*.md") is already outside
		// the star; a bare "*" captured the whole basename.
		if c.Star == base && targetSuffix(targetSeg) != "" {
			return strings.TrimSuffix(base, ext)
		}
		return c.Star
	}
	if targetSuffix(targetSeg) != "" {
		return strings.TrimSuffix(base, ext)
	}
	return base
}

func targetSuffix(seg string) string {
	i := strings.LastIndex(seg, "*")
	if i < 0 {
		return ""
	}
	return seg[i+1:]
}

func isGlobSegment(seg string) bool {
	return strings.ContainsAny(seg, "*?") || placeholderRe.MatchString(seg)
}

// WithNamespace nests a target pattern under ns, inserted after the first
// segment: ".tool/rules/*.md" becomes ".tool/<ns>/rules/*.md". A single
// segment target becomes "<ns>/<target>".
func WithNamespace(target, ns string) string {
	if ns == "" {
		return target
	}
	first, rest, found := strings.Cut(target, "/")
	if !found || rest == "" {
		return ns + "/" + target
	}
	return first + "/" + ns + "/" + rest
}
