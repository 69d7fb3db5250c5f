package merge

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind is a flow's merge strategy.
type Kind string

const (
	// KindNone marks an exclusive flow: its target belongs to one package.
	KindNone Kind = ""

	// KindReplace also writes an exclusive target, replacing its content.
	KindReplace Kind = "replace"

	// KindShallow overwrites top-level keys of a shared document.
	KindShallow Kind = "shallow"

	// KindDeep recursively merges objects into a shared document.
	KindDeep Kind = "deep"

	// KindComposite upserts a marked per-package section of a shared
	// Markdown file.
	KindComposite Kind = "composite"
)

// Shared reports whether targets of this kind aggregate several packages.
func (k Kind) Shared() bool {
	return k == KindShallow || k == KindDeep || k == KindComposite
}

// Valid reports whether k is a known merge kind.
func (k Kind) Valid() bool {
	switch k {
	case KindNone, KindReplace, KindShallow, KindDeep, KindComposite:
		return true
	default:
		return false
	}
}

// Documents merges incoming into the existing shared file content and
// returns the encoded result in format f.
func Documents(kind Kind, existing []byte, incoming map[string]any, f Format) ([]byte, error) {
	if !f.Structured() {
		return nil, fmt.Errorf("%s merge requires a structured target, got %s", kind, f)
	}

	base, err := Decode(existing, f)
	if err != nil {
		return nil, fmt.Errorf("existing target: %w", err)
	}

	switch kind {
	case KindShallow:
		for k, v := range incoming {
			base[k] = v
		}
	case KindDeep:
		base = deepMerge(base, incoming)
	case KindReplace, KindNone:
		base = incoming
	default:
		return nil, fmt.Errorf("merge kind %q cannot merge documents", kind)
	}

	return Encode(base, f)
}

// deepMerge merges src into dst. Nested objects merge recursively and
// arrays are concatenated without duplicates; any other value in src
// replaces the one in dst.
func deepMerge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for k, sv := range src {
		switch v := sv.(type) {
		case map[string]any:
			if dstMap, ok := dst[k].(map[string]any); ok {
				dst[k] = deepMerge(dstMap, v)
				continue
			}
		case []any:
			if dstArr, ok := dst[k].([]any); ok {
				dst[k] = union(dstArr, v)
				continue
			}
		}
		dst[k] = sv
	}
	return dst
}

func union(dst, src []any) []any {
	out := append([]any(nil), dst...)
	for _, v := range src {
		seen := false
		for _, d := range out {
			if Equal(d, v) {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, v)
		}
	}
	return out
}

func sectionMarkers(owner string) (begin, end string) {
	return fmt.Sprintf("<!-- agentpm:begin %s -->", owner), fmt.Sprintf("<!-- agentpm:end %s -->", owner)
}

func sectionPattern(owner string) *regexp.Regexp {
	begin, end := sectionMarkers(owner)
	return regexp.MustCompile(`(?s)` + regexp.QuoteMeta(begin) + `\n?(.*?)\n?` + regexp.QuoteMeta(end) + `\n?`)
}

// UpsertSection writes owner's section into a composite Markdown file,
// replacing any previous section by the same owner and appending otherwise.
func UpsertSection(existing []byte, owner string, body []byte) []byte {
	begin, end := sectionMarkers(owner)
	section := begin + "\n" + strings.TrimRight(string(body), "\n") + "\n" + end + "\n"

	re := sectionPattern(owner)
	if loc := re.FindIndex(existing); loc != nil {
		out := make([]byte, 0, len(existing)+len(section))
		out = append(out, existing[:loc[0]]...)
		out = append(out, section...)
		out = append(out, existing[loc[1]:]...)
		return out
	}

	text := string(existing)
	switch {
	case strings.TrimSpace(text) == "":
		return []byte(section)
	case strings.HasSuffix(text, "\n\n"):
		return []byte(text + section)
	case strings.HasSuffix(text, "\n"):
		return []byte(text + "\n" + section)
	default:
		return []byte(text + "\n\n" + section)
	}
}

// ExtractSection returns owner's section body from a composite file.
func ExtractSection(content []byte, owner string) ([]byte, bool) {
	m := sectionPattern(owner).FindSubmatch(content)
	if m == nil {
		return nil, false
	}
	body := strings.TrimRight(string(m[1]), "\n")
	return []byte(body + "\n"), true
}

// RemoveSection deletes owner's section from a composite file.
func RemoveSection(content []byte, owner string) ([]byte, bool) {
	re := sectionPattern(owner)
	if !re.Match(content) {
		return content, false
	}
	out := re.ReplaceAll(content, nil)
	// Drop the separator the section leaves behind.
	text := strings.TrimLeft(string(out), "\n")
	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return []byte(strings.TrimRight(text, "\n") + trailingNewline(out)), true
}

func trailingNewline(b []byte) string {
	if len(strings.TrimSpace(string(b))) == 0 {
		return ""
	}
	return "\n"
}
