// Package merge holds the content codecs and merge strategies for files that
// several packages contribute to.
//
// A merge flow's target (an MCP server list, a settings file, an AGENTS.md)
// is one file shared by every package that declares the flow. Structured
// formats (JSON, JSONC, YAML) are merged as documents; Markdown uses composite
// sections delimited by per-package markers. The same package extracts a
// single package's contribution back out of a shared file during save.
package merge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"reflect"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Format identifies how a file's content is encoded.
type Format int

const (
	FormatText Format = iota
	FormatJSON
	FormatJSONC
	FormatYAML
	FormatMarkdown
)

// String returns the human-readable name of the format.
func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatJSONC:
		return "jsonc"
	case FormatYAML:
		return "yaml"
	case FormatMarkdown:
		return "markdown"
	default:
		return "text"
	}
}

// Structured reports whether the format decodes to a key/value document.
func (f Format) Structured() bool {
	return f == FormatJSON || f == FormatJSONC || f == FormatYAML
}

// DetectFormat infers the format from a file name.
func DetectFormat(name string) Format {
	switch strings.ToLower(path.Ext(name)) {
	case ".json":
		return FormatJSON
	case ".jsonc":
		return FormatJSONC
	case ".yaml", ".yml":
		return FormatYAML
	case ".md", ".mdc", ".markdown":
		return FormatMarkdown
	default:
		return FormatText
	}
}

// Decode parses structured content into a document. Empty input decodes to
// an empty document.
func Decode(data []byte, f Format) (map[string]any, error) {
	doc := map[string]any{}
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, nil
	}

	switch f {
	case FormatJSON, FormatJSONC:
		if err := json.Unmarshal(jsonc.ToJSON(data), &doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f, err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f, err)
		}
		if doc == nil {
			doc = map[string]any{}
		}
	default:
		return nil, fmt.Errorf("decode: %s is not a structured format", f)
	}

	return doc, nil
}

// Encode serialises a document. JSONC targets are written as plain JSON.
func Encode(doc map[string]any, f Format) ([]byte, error) {
	if doc == nil {
		doc = map[string]any{}
	}

	switch f {
	case FormatJSON, FormatJSONC:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return nil, fmt.Errorf("encode %s: %w", f, err)
		}
		return buf.Bytes(), nil
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return nil, fmt.Errorf("encode %s: %w", f, err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("encode %s: %w", f, err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("encode: %s is not a structured format", f)
	}
}

// ToJSON converts structured content of any supported format to plain JSON.
func ToJSON(data []byte, f Format) ([]byte, error) {
	switch f {
	case FormatJSON, FormatJSONC:
		if len(bytes.TrimSpace(data)) == 0 {
			return []byte("{}"), nil
		}
		return jsonc.ToJSON(data), nil
	case FormatYAML:
		doc, err := Decode(data, f)
		if err != nil {
			return nil, err
		}
		return json.Marshal(doc)
	default:
		return nil, fmt.Errorf("%s is not a structured format", f)
	}
}

// Normalize converts a decoded value into its JSON-equivalent form so that
// documents decoded from different formats compare equal (YAML ints versus
// JSON float64, map[any]any versus map[string]any).
func Normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Equal reports whether two decoded values are semantically equal.
func Equal(a, b any) bool {
	na, err := Normalize(a)
	if err != nil {
		return false
	}
	nb, err := Normalize(b)
	if err != nil {
		return false
	}
	return reflect.DeepEqual(na, nb)
}

// Convert re-encodes structured content from one format into another. When
// the formats share an encoding the input is returned unchanged.
func Convert(data []byte, from, to Format) ([]byte, error) {
	if from == to || !from.Structured() || !to.Structured() {
		return data, nil
	}
	if from == FormatJSON && to == FormatJSONC {
		return data, nil
	}
	if from == FormatJSONC && to == FormatJSON {
		return jsonc.ToJSON(data), nil
	}
	doc, err := Decode(data, from)
	if err != nil {
		return nil, err
	}
	return Encode(doc, to)
}
