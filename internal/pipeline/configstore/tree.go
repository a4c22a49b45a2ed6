// Package configstore implements hierarchical configuration lookup with
// dotted-path addressing, following the has/get split and deep tree
// reconstruction a dotted-path config() accessor requires.
package configstore

import (
	"sort"
	"strconv"
	"strings"
)

// Tree is a nested configuration document: maps, slices, and scalar leaves.
// It is always addressed through dotted keys, never mutated in place after
// construction — every accessor that could leak internal state returns a
// deep copy.
type Tree map[string]interface{}

// Clone deep-copies t so the caller cannot mutate the store through the
// returned value.
func (t Tree) Clone() Tree {
	return deepCopyMap(t)
}

func deepCopy(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(val)
	case Tree:
		return deepCopyMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return val
	}
}

func deepCopyMap(m map[string]interface{}) Tree {
	out := make(Tree, len(m))
	for k, v := range m {
		out[k] = deepCopy(v)
	}
	return out
}

// splitPath splits a dotted key into its segments.
func splitPath(key string) []string {
	if key == "" {
		return nil
	}
	return strings.Split(key, ".")
}

// Has reports whether the tree contains either the exact path, or any
// descendant path beginning with the requested path as a prefix.
func (t Tree) Has(key string) bool {
	segments := splitPath(key)
	if len(segments) == 0 {
		return len(t) > 0
	}
	_, ok := lookupExact(t, segments)
	if ok {
		return true
	}
	return hasPrefix(t, segments)
}

// Get resolves key to a leaf value when the exact path exists; otherwise it
// reconstructs a subtree from every descendant path sharing that prefix.
// Returns (nil, false) when neither exists.
func (t Tree) Get(key string) (interface{}, bool) {
	segments := splitPath(key)
	if len(segments) == 0 {
		return t.Clone(), len(t) > 0
	}
	if v, ok := lookupExact(t, segments); ok {
		return deepCopy(v), true
	}
	sub := subtreeByPrefix(t, segments)
	if sub == nil {
		return nil, false
	}
	return sub, true
}

func lookupExact(node interface{}, segments []string) (interface{}, bool) {
	if len(segments) == 0 {
		return node, true
	}
	m, ok := asMap(node)
	if !ok {
		return nil, false
	}
	child, ok := m[segments[0]]
	if !ok {
		return nil, false
	}
	return lookupExact(child, segments[1:])
}

func hasPrefix(node interface{}, segments []string) bool {
	m, ok := asMap(node)
	if !ok {
		return false
	}
	if len(segments) == 0 {
		return len(m) > 0
	}
	child, ok := m[segments[0]]
	if !ok {
		return false
	}
	if len(segments) == 1 {
		return true
	}
	return hasPrefix(child, segments[1:])
}

// subtreeByPrefix walks every flattened path of node and collects the ones
// beginning with segments, reassembling a Tree from the remaining suffixes.
func subtreeByPrefix(node interface{}, segments []string) interface{} {
	flat := make(map[string]interface{})
	flattenInto(node, nil, flat)

	prefix := strings.Join(segments, ".")
	result := make(map[string]interface{})
	found := false
	for path, value := range flat {
		if path == prefix {
			return deepCopy(value)
		}
		if strings.HasPrefix(path, prefix+".") {
			found = true
			suffix := strings.TrimPrefix(path, prefix+".")
			setPath(result, strings.Split(suffix, "."), value)
		}
	}
	if !found {
		return nil
	}
	return Unflatten(result)
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case Tree:
		return m, true
	case map[string]interface{}:
		return m, true
	default:
		return nil, false
	}
}

// Flatten converts a nested tree into a single-level mapping from dotted
// path to leaf value, deep-copying every leaf to isolate the result from
// the source tree.
func Flatten(t Tree) map[string]interface{} {
	flat := make(map[string]interface{})
	flattenInto(t, nil, flat)
	return flat
}

func flattenInto(node interface{}, prefix []string, out map[string]interface{}) {
	if m, ok := asMap(node); ok {
		if len(m) == 0 && len(prefix) > 0 {
			out[strings.Join(prefix, ".")] = Tree{}
			return
		}
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flattenInto(m[k], append(append([]string(nil), prefix...), k), out)
		}
		return
	}

	if s, ok := node.([]interface{}); ok {
		if len(s) == 0 && len(prefix) > 0 {
			out[strings.Join(prefix, ".")] = []interface{}{}
			return
		}
		for i, v := range s {
			flattenInto(v, append(append([]string(nil), prefix...), strconv.Itoa(i)), out)
		}
		return
	}

	if len(prefix) > 0 {
		out[strings.Join(prefix, ".")] = deepCopy(node)
	}
}

// Unflatten inverts Flatten: a mapping of dotted keys to leaves is expanded
// back into a nested Tree. List segments composed entirely of decimal
// digits are reinterpreted as integer indices, producing a []interface{}
// instead of a Tree at that level.
func Unflatten(flat map[string]interface{}) Tree {
	root := make(map[string]interface{})
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		setPath(root, splitPath(k), flat[k])
	}
	return Tree(convertIndexedMaps(root).(map[string]interface{}))
}

func setPath(root map[string]interface{}, segments []string, value interface{}) {
	if len(segments) == 0 {
		return
	}
	cur := root
	for i, seg := range segments {
		if i == len(segments)-1 {
			cur[seg] = deepCopy(value)
			return
		}
		next, ok := cur[seg]
		if !ok {
			nm := make(map[string]interface{})
			cur[seg] = nm
			cur = nm
			continue
		}
		nm, ok := next.(map[string]interface{})
		if !ok {
			nm = make(map[string]interface{})
			cur[seg] = nm
		}
		cur = nm
	}
}

// isDigits reports whether s is a non-empty string of decimal digits.
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

// convertIndexedMaps recursively turns any map whose keys are entirely
// decimal digits into a densely-packed slice ordered by numeric index.
func convertIndexedMaps(node interface{}) interface{} {
	m, ok := node.(map[string]interface{})
	if !ok {
		return node
	}

	allDigits := len(m) > 0
	for k := range m {
		if !isDigits(k) {
			allDigits = false
			break
		}
	}

	for k, v := range m {
		m[k] = convertIndexedMaps(v)
	}

	if !allDigits {
		return m
	}

	maxIdx := -1
	for k := range m {
		idx, _ := strconv.Atoi(k)
		if idx > maxIdx {
			maxIdx = idx
		}
	}
	slice := make([]interface{}, maxIdx+1)
	for k, v := range m {
		idx, _ := strconv.Atoi(k)
		slice[idx] = v
	}
	return slice
}
