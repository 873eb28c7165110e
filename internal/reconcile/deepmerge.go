package reconcile

import (
	"reflect"
	"sort"
)

// isNull treats nil, empty strings, empty objects and empty arrays as absent.
func isNull(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case map[string]any:
		for _, sub := range t {
			if !isNull(sub) {
				return false
			}
		}
		return true
	case []any:
		return len(t) == 0
	default:
		return false
	}
}

// deepMerge overlays the non-null keys of src onto dst and returns the merged value.
// Nested objects merge recursively; any other value replaces. set receives the dotted
// path of every leaf src wrote, rooted at prefix, and whether the leaf's value differs.
func deepMerge(dst, src any, prefix string, set func(path string, differs bool)) any {
	srcMap, srcIsMap := src.(map[string]any)
	if !srcIsMap {
		if isNull(src) {
			return dst
		}
		set(prefix, !equalValues(dst, src))
		return src
	}
	dstMap, dstIsMap := dst.(map[string]any)
	out := make(map[string]any, len(dstMap)+len(srcMap))
	if dstIsMap {
		for k, v := range dstMap {
			out[k] = v
		}
	}
	for _, k := range sortedKeys(srcMap) {
		v := srcMap[k]
		if isNull(v) {
			continue
		}
		out[k] = deepMerge(out[k], v, prefix+"."+k, set)
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func equalValues(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
