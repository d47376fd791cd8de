package settings

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Tree is a nested mapping from string keys to either a scalar Value or a
// child Tree.
type Tree map[string]interface{}

// FromJSON converts a decoded JSON object into a Tree. JSON strings are
// coerced the same way stored strings are (trimmed, boolean literals become
// booleans), booleans map to boolean scalars, numbers are kept as their
// decimal string rendering, and null or empty objects become empty-string
// leaves (an empty object is how callers address a node without giving it a
// value, e.g. in deletion envelopes).
func FromJSON(data map[string]interface{}) (Tree, error) {
	t := make(Tree, len(data))
	for key, raw := range data {
		if key == "" {
			return nil, &PathConflictError{Path: key}
		}
		if strings.Contains(key, ".") {
			return nil, fmt.Errorf("key %q must not contain dots", key)
		}
		node, err := nodeFromJSON(raw)
		if err != nil {
			return nil, err
		}
		t[key] = node
	}
	return t, nil
}

func nodeFromJSON(raw interface{}) (interface{}, error) {
	switch v := raw.(type) {
	case nil:
		return String(""), nil
	case string:
		return ParseScalar(v), nil
	case bool:
		return Bool(v), nil
	case float64:
		if v == float64(int64(v)) {
			return String(strconv.FormatInt(int64(v), 10)), nil
		}
		return String(strconv.FormatFloat(v, 'f', -1, 64)), nil
	case map[string]interface{}:
		if len(v) == 0 {
			return String(""), nil
		}
		return FromJSON(v)
	default:
		return nil, fmt.Errorf("unsupported settings value of type %T", raw)
	}
}

// ToJSON renders the tree as a JSON-shaped structure of nested maps with
// string and bool leaves.
func (t Tree) ToJSON() map[string]interface{} {
	out := make(map[string]interface{}, len(t))
	for key, node := range t {
		switch n := node.(type) {
		case Value:
			out[key] = n.AsJSON()
		case Tree:
			out[key] = n.ToJSON()
		}
	}
	return out
}

// Clone returns a deep copy of the tree.
func (t Tree) Clone() Tree {
	out := make(Tree, len(t))
	for key, node := range t {
		if child, ok := node.(Tree); ok {
			out[key] = child.Clone()
		} else {
			out[key] = node
		}
	}
	return out
}

// Keys returns the tree's keys in sorted order.
func (t Tree) Keys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Lookup walks the dot-separated path and returns the addressed node
// (a Value or a Tree) when present.
func (t Tree) Lookup(path string) (interface{}, bool) {
	segments := strings.Split(path, ".")
	var node interface{} = t
	for _, seg := range segments {
		branch, ok := node.(Tree)
		if !ok {
			return nil, false
		}
		node, ok = branch[seg]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

// Equal reports deep structural equality.
func (t Tree) Equal(o Tree) bool {
	if len(t) != len(o) {
		return false
	}
	for key, node := range t {
		other, ok := o[key]
		if !ok {
			return false
		}
		switch n := node.(type) {
		case Value:
			ov, ok := other.(Value)
			if !ok || !n.Equal(ov) {
				return false
			}
		case Tree:
			ot, ok := other.(Tree)
			if !ok || !n.Equal(ot) {
				return false
			}
		default:
			return false
		}
	}
	return true
}
