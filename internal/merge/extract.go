package merge

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// KeyPath is one declared key of a package's contribution to a shared
// document, as its sequence of object keys.
type KeyPath []string

// String renders the path with dots for messages.
func (p KeyPath) String() string {
	return strings.Join(p, ".")
}

// Declared is one key a package contributes to a shared document. Arrays
// are shared element-wise, so for an array value only Elems, the package's
// own elements, belong to it.
type Declared struct {
	Path  KeyPath
	Array bool
	Elems []any
}

func (d Declared) String() string {
	return d.Path.String()
}

// owns reports whether v is one of the package's array elements.
func (d Declared) owns(v any) bool {
	for _, e := range d.Elems {
		if Equal(e, v) {
			return true
		}
	}
	return false
}

func declared(path KeyPath, v any) Declared {
	d := Declared{Path: path}
	if elems, ok := v.([]any); ok {
		d.Array = true
		d.Elems = elems
	}
	return d
}

// DeclaredKeys lists the keys a package contributes through doc. A top-level
// key holding an object contributes each of its children (so
// {"mcpServers": {"github": ...}} declares mcpServers.github, not the whole
// mcpServers map); any other top-level key is declared as itself.
func DeclaredKeys(doc map[string]any) []Declared {
	var out []Declared
	for k, v := range doc {
		child, ok := v.(map[string]any)
		if !ok || len(child) == 0 {
			out = append(out, declared(KeyPath{k}, v))
			continue
		}
		for ck, cv := range child {
			out = append(out, declared(KeyPath{k, ck}, cv))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Extract returns the subset of a shared structured file that matches keys.
// Keys absent from the file are omitted. The result holds only this
// package's data even when other packages contributed to the same file.
func Extract(content []byte, f Format, keys []Declared) (map[string]any, error) {
	src, err := ToJSON(content, f)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(src) {
		return nil, fmt.Errorf("extract: %s content is not a valid document", f)
	}

	out := []byte("{}")
	for _, key := range keys {
		r := gjson.GetBytes(src, getPath(key.Path))
		if !r.Exists() {
			continue
		}
		raw := r.Raw
		if key.Array && r.IsArray() {
			own, _ := splitElems(r, key)
			if len(own) == 0 {
				continue
			}
			raw = "[" + strings.Join(own, ",") + "]"
		}
		out, err = sjson.SetRawBytes(out, setPath(key.Path), []byte(raw))
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", key, err)
		}
	}

	doc := map[string]any{}
	if err := json.Unmarshal(out, &doc); err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	return doc, nil
}

// Remove deletes keys from a shared structured file and re-encodes it in f.
// For array keys only the package's own elements are deleted; the key goes
// once no element is left. removed reports how many keys were touched.
func Remove(content []byte, f Format, keys []Declared) (out []byte, removed int, err error) {
	src, err := ToJSON(content, f)
	if err != nil {
		return nil, 0, err
	}

	for _, key := range keys {
		r := gjson.GetBytes(src, getPath(key.Path))
		if !r.Exists() {
			continue
		}
		if key.Array && r.IsArray() {
			own, rest := splitElems(r, key)
			if len(own) == 0 {
				continue
			}
			if len(rest) > 0 {
				src, err = sjson.SetRawBytes(src, setPath(key.Path), []byte("["+strings.Join(rest, ",")+"]"))
				if err != nil {
					return nil, removed, fmt.Errorf("remove %s: %w", key, err)
				}
				removed++
				continue
			}
		}
		src, err = sjson.DeleteBytes(src, setPath(key.Path))
		if err != nil {
			return nil, removed, fmt.Errorf("remove %s: %w", key, err)
		}
		removed++
	}

	doc := map[string]any{}
	if err := json.Unmarshal(src, &doc); err != nil {
		return nil, removed, fmt.Errorf("remove: %w", err)
	}
	pruneEmpty(doc)

	encoded, err := Encode(doc, f)
	if err != nil {
		return nil, removed, err
	}
	return encoded, removed, nil
}

// splitElems partitions the raw elements of array r into the package's own
// and everyone else's.
func splitElems(r gjson.Result, key Declared) (own, rest []string) {
	for _, el := range r.Array() {
		var v any
		if err := json.Unmarshal([]byte(el.Raw), &v); err == nil && key.owns(v) {
			own = append(own, el.Raw)
			continue
		}
		rest = append(rest, el.Raw)
	}
	return own, rest
}

// pruneEmpty drops top-level objects left empty after a removal.
func pruneEmpty(doc map[string]any) {
	for k, v := range doc {
		if m, ok := v.(map[string]any); ok && len(m) == 0 {
			delete(doc, k)
		}
	}
}

const pathSpecials = `\.*?|#@!=<>%`

func escapeSegment(seg string) string {
	var b strings.Builder
	for _, r := range seg {
		if strings.ContainsRune(pathSpecials, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func getPath(key KeyPath) string {
	parts := make([]string, len(key))
	for i, seg := range key {
		parts[i] = escapeSegment(seg)
	}
	return strings.Join(parts, ".")
}

// setPath is getPath for sjson, which treats purely numeric segments as
// array indexes unless they carry a ':' prefix.
func setPath(key KeyPath) string {
	parts := make([]string, len(key))
	for i, seg := range key {
		s := escapeSegment(seg)
		if isDigits(seg) {
			s = ":" + s
		}
		parts[i] = s
	}
	return strings.Join(parts, ".")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
