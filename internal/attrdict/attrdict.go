// Package attrdict provides the insertion-ordered keyed container backing
// every declarative attribute of a definition (executables, workloads,
// figures of merit, software specs, success criteria, ...).
//
// Values are either leaf entries (map[string]any, shape chosen by the
// directive that created them) or nested *Dict sub-containers. Iteration
// order is always insertion order, which is what makes directive replay and
// glob resolution deterministic.
package attrdict

import (
	"iter"

	"github.com/expgrid/expgrid/internal/pattern"
)

// Dict is an ordered mapping from string keys to attribute values.
// The zero value is not usable; call New.
type Dict struct {
	keys  []string
	items map[string]any
}

// New creates an empty Dict.
func New() *Dict {
	return &Dict{items: make(map[string]any)}
}

// Set inserts or replaces the value for key. A replaced key keeps its
// original position in the iteration order.
func (d *Dict) Set(key string, val any) {
	if _, ok := d.items[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.items[key] = val
}

// Get returns the value for key and whether it was present.
func (d *Dict) Get(key string) (any, bool) {
	v, ok := d.items[key]
	return v, ok
}

// Has reports whether key is present.
func (d *Dict) Has(key string) bool {
	_, ok := d.items[key]
	return ok
}

// Delete removes key and reports whether it was present.
func (d *Dict) Delete(key string) bool {
	if _, ok := d.items[key]; !ok {
		return false
	}
	delete(d.items, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
	return true
}

// Clear removes every entry.
func (d *Dict) Clear() {
	d.keys = nil
	d.items = make(map[string]any)
}

// Len returns the number of entries.
func (d *Dict) Len() int {
	return len(d.keys)
}

// Keys returns the keys in insertion order. The returned slice is a copy.
func (d *Dict) Keys() []string {
	out := make([]string, len(d.keys))
	copy(out, d.keys)
	return out
}

// All iterates entries in insertion order.
func (d *Dict) All() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		for _, k := range d.keys {
			if !yield(k, d.items[k]) {
				return
			}
		}
	}
}

// GlobKeys returns the keys matching the shell-style glob pat, in insertion
// order. Zero matches is an error naming subject, per the pattern contract.
func (d *Dict) GlobKeys(pat, subject string) ([]string, error) {
	return pattern.MatchKeys(d.keys, pat, subject)
}

// Copy returns a deep copy of the Dict. Nested Dicts, maps and slices are
// copied recursively so that mutating the copy never affects the original.
func (d *Dict) Copy() *Dict {
	out := New()
	for _, k := range d.keys {
		out.Set(k, CopyValue(d.items[k]))
	}
	return out
}

// CopyValue deep-copies an attribute value. Scalars are returned as-is.
func CopyValue(v any) any {
	switch val := v.(type) {
	case *Dict:
		return val.Copy()
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = CopyValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = CopyValue(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	default:
		return v
	}
}
