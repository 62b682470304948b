package entity

import (
	"strings"

	"github.com/roach88/hatdata/internal/property"
)

// GetMappedValue walks a dot-separated path through nested maps. Any missing
// segment yields nil.
func GetMappedValue(path string, root any) any {
	cur := root
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[seg]
		if !ok {
			return nil
		}
	}
	return cur
}

// buildMapped returns the minimal nested map whose leaf at path is value.
func buildMapped(path string, value any) map[string]any {
	segs := strings.Split(path, ".")
	out := map[string]any{segs[len(segs)-1]: value}
	for i := len(segs) - 2; i >= 0; i-- {
		out = map[string]any{segs[i]: out}
	}
	return out
}

// mergeInto deep-merges src into dst.
func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		sm, sok := v.(map[string]any)
		dm, dok := dst[k].(map[string]any)
		if sok && dok {
			mergeInto(dm, sm)
			continue
		}
		dst[k] = v
	}
}

// deepCopy copies maps and slices so callers cannot alias entity state.
func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, x := range val {
			out[k] = deepCopy(x)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, x := range val {
			out[i] = deepCopy(x)
		}
		return out
	default:
		return v
	}
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return deepCopy(m).(map[string]any)
}

// GetReverseMappedRawValue builds the nested object whose leaf at p's mapping
// is p's raw value.
func (e *Entity) GetReverseMappedRawValue(p *property.Property) map[string]any {
	e.mustAlive("getReverseMappedRawValue")
	return buildMapped(p.Mapping(), deepCopy(p.GetRawValue()))
}

// GetReverseMappedRawValues merges every persisted property's reverse-mapped
// value into the original-shaped payload.
func (e *Entity) GetReverseMappedRawValues() map[string]any {
	e.mustAlive("getReverseMappedRawValues")
	out := make(map[string]any)
	for _, p := range e.properties {
		if p.IsVirtual() {
			continue
		}
		mergeInto(out, e.GetReverseMappedRawValue(p))
	}
	return out
}

// SetMappedValue writes value at the dot-separated path inside root, creating
// intermediate maps as needed.
func SetMappedValue(root map[string]any, path string, value any) {
	mergeInto(root, buildMapped(path, value))
}

// GetRecord is the document a medium stores for the entity: the original
// data with every reverse-mapped raw value merged over it. Fields no
// property declares are carried through unchanged.
func (e *Entity) GetRecord() map[string]any {
	e.mustAlive("getRecord")
	return MergeData(e.originalData, e.GetReverseMappedRawValues())
}

// MergeData returns a deep copy of dst with src deep-merged over it. Neither
// argument is modified.
func MergeData(dst, src map[string]any) map[string]any {
	out := copyMap(dst)
	mergeInto(out, copyMap(src))
	return out
}
