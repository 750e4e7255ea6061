package resolve

import (
	"sort"
	"strings"

	"github.com/quasarcli/quasar/internal/config"
)

// Additive marks a slice that Merge appends to the existing slice instead of
// replacing it. In config files the same effect is written as a key ending in "+".
type Additive []any

// Merge deep-merges layers left to right and returns a new tree:
//   - maps are unioned recursively, later layers win on conflicts
//   - slices are replaced, unless the later value is Additive or its key ends in "+"
//   - scalars are replaced
//
// Inputs are never modified and the result shares no structure with them.
func Merge(layers ...map[string]any) map[string]any {
	out := map[string]any{}
	for _, layer := range layers {
		mergeInto(out, layer)
	}
	return out
}

func mergeInto(dst, src map[string]any) {
	for _, key := range orderedKeys(src) {
		val := src[key]
		if isAppendKey(key) {
			base := strings.TrimSuffix(key, "+")
			dst[base] = appendValue(dst[base], val)
			continue
		}

		switch v := val.(type) {
		case Additive:
			dst[key] = appendValue(dst[key], []any(v))
		case map[string]any:
			existing, ok := dst[key].(map[string]any)
			if !ok {
				existing = map[string]any{}
			}
			mergeInto(existing, v)
			dst[key] = existing
		default:
			dst[key] = clone(val)
		}
	}
}

func isAppendKey(key string) bool {
	return len(key) > 1 && strings.HasSuffix(key, "+")
}

// orderedKeys sorts keys so that replacements within one layer apply before
// appends to the same key.
func orderedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ai, aj := isAppendKey(keys[i]), isAppendKey(keys[j])
		if ai != aj {
			return aj
		}
		return keys[i] < keys[j]
	})
	return keys
}

// appendValue appends add to a copy of existing. A non-slice add is appended
// as a single element.
func appendValue(existing, add any) any {
	var out []any
	switch e := existing.(type) {
	case []any:
		out = append(out, clone(e).([]any)...)
	case Additive:
		out = append(out, clone([]any(e)).([]any)...)
	case nil:
	default:
		out = append(out, clone(e))
	}

	switch a := add.(type) {
	case []any:
		out = append(out, clone(a).([]any)...)
	case Additive:
		out = append(out, clone([]any(a)).([]any)...)
	default:
		out = append(out, clone(a))
	}
	if out == nil {
		out = []any{}
	}
	return out
}

func clone(v any) any {
	if a, ok := v.(Additive); ok {
		return config.Clone([]any(a))
	}
	return config.Clone(v)
}

// lookup walks a dotted path through nested maps.
func lookup(tree map[string]any, path string) (any, bool) {
	var cur any = tree
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func lookupString(tree map[string]any, path, def string) string {
	if v, ok := lookup(tree, path); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

func lookupBool(tree map[string]any, path string, def bool) bool {
	if v, ok := lookup(tree, path); ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

func lookupInt(tree map[string]any, path string, def int) (int, bool) {
	v, ok := lookup(tree, path)
	if !ok || v == nil {
		return def, true
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return def, false
		}
		return int(n), true
	}
	return def, false
}

func lookupMap(tree map[string]any, path string) map[string]any {
	if v, ok := lookup(tree, path); ok {
		if m, ok := v.(map[string]any); ok {
			return m
		}
	}
	return nil
}

// set writes value at a dotted path, creating intermediate maps.
func set(tree map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	cur := tree
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

// remove deletes the value at a dotted path if present.
func remove(tree map[string]any, path string) {
	parts := strings.Split(path, ".")
	cur := tree
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
	delete(cur, parts[len(parts)-1])
}
