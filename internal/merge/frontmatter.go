package merge

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const frontmatterDelimiter = "---"

// SplitFrontmatter separates YAML frontmatter from a Markdown body. ok is
// false when the content has no frontmatter. An opening delimiter without a
// closing one is an error.
func SplitFrontmatter(content []byte) (frontmatter string, body string, ok bool, err error) {
	normalized := strings.ReplaceAll(string(content), "\r\n", "\n")

	if !strings.HasPrefix(normalized, frontmatterDelimiter+"\n") {
		return "", string(content), false, nil
	}

	rest := normalized[len(frontmatterDelimiter)+1:]
	if strings.HasPrefix(rest, frontmatterDelimiter+"\n") || rest == frontmatterDelimiter {
		return "", strings.TrimPrefix(rest[len(frontmatterDelimiter):], "\n"), true, nil
	}

	before, after, found := strings.Cut(rest, "\n"+frontmatterDelimiter)
	if !found {
		return "", "", false, errors.New("unterminated frontmatter: missing closing ---")
	}
	return before, strings.TrimPrefix(after, "\n"), true, nil
}

// JoinFrontmatter reassembles a Markdown document from frontmatter and body.
func JoinFrontmatter(frontmatter, body string) []byte {
	var b strings.Builder
	b.WriteString(frontmatterDelimiter + "\n")
	if frontmatter != "" {
		b.WriteString(strings.TrimSuffix(frontmatter, "\n"))
		b.WriteString("\n")
	}
	b.WriteString(frontmatterDelimiter + "\n")
	b.WriteString(body)
	return []byte(b.String())
}

// RenameKeys renames top-level keys of a structured document or of a
// Markdown document's frontmatter. pairs maps old names to new ones, applied
// in order. changed is false (and data is returned untouched) when no key
// matched, so files without matching keys keep their exact bytes.
func RenameKeys(data []byte, f Format, pairs [][2]string) (out []byte, changed bool, err error) {
	if len(pairs) == 0 {
		return data, false, nil
	}

	switch {
	case f == FormatMarkdown:
		return renameFrontmatterKeys(data, pairs)
	case f.Structured():
		doc, err := Decode(data, f)
		if err != nil {
			return nil, false, err
		}
		for _, p := range pairs {
			v, ok := doc[p[0]]
			if !ok || p[0] == p[1] {
				continue
			}
			delete(doc, p[0])
			doc[p[1]] = v
			changed = true
		}
		if !changed {
			return data, false, nil
		}
		encoded, err := Encode(doc, f)
		if err != nil {
			return nil, false, err
		}
		return encoded, true, nil
	default:
		return data, false, nil
	}
}

func renameFrontmatterKeys(data []byte, pairs [][2]string) ([]byte, bool, error) {
	fm, body, ok, err := SplitFrontmatter(data)
	if err != nil {
		return nil, false, err
	}
	if !ok || strings.TrimSpace(fm) == "" {
		return data, false, nil
	}

	var node yaml.Node
	if err := yaml.Unmarshal([]byte(fm), &node); err != nil {
		return nil, false, fmt.Errorf("parse frontmatter YAML: %w", err)
	}
	if node.Kind != yaml.DocumentNode || len(node.Content) == 0 || node.Content[0].Kind != yaml.MappingNode {
		return data, false, nil
	}

	// Mapping content alternates key, value; renaming keeps field order.
	mapping := node.Content[0]
	changed := false
	for _, p := range pairs {
		for i := 0; i+1 < len(mapping.Content); i += 2 {
			key := mapping.Content[i]
			if key.Value == p[0] && p[0] != p[1] {
				key.Value = p[1]
				changed = true
			}
		}
	}
	if !changed {
		return data, false, nil
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return nil, false, fmt.Errorf("encode frontmatter YAML: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, false, fmt.Errorf("encode frontmatter YAML: %w", err)
	}

	return JoinFrontmatter(buf.String(), body), true, nil
}
