package settings

import (
	"strings"
)

// Pair is one flattened setting: a dot-separated path addressing a scalar
// leaf.
type Pair struct {
	Path  string
	Value Value
}

// FormatPair renders a pair in the external "path: value" row form, with
// booleans as the literals "True"/"False".
func FormatPair(p Pair) string {
	return p.Path + ": " + p.Value.Render()
}

// ParsePair parses the external "path: value" row form. The value side is
// trimmed and boolean literals are coerced.
func ParsePair(row string) (Pair, bool) {
	path, value, ok := strings.Cut(row, ":")
	if !ok {
		return Pair{}, false
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return Pair{}, false
	}
	return Pair{Path: path, Value: ParseScalar(value)}, true
}

// Flatten converts a tree into its flattened pairs by recursive descent,
// keys visited in sorted order for determinism. A scalar leaf yields exactly
// one pair; an empty tree yields nothing.
func Flatten(t Tree) []Pair {
	var out []Pair
	flattenInto("", t, &out)
	return out
}

func flattenInto(prefix string, t Tree, out *[]Pair) {
	for _, key := range t.Keys() {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		switch node := t[key].(type) {
		case Value:
			*out = append(*out, Pair{Path: path, Value: node})
		case Tree:
			flattenInto(path, node, out)
		}
	}
}

// Unflatten rebuilds a tree from flattened pairs. Building a branch at a
// path already holding a scalar, or a scalar where a branch exists, fails
// with a PathConflictError and aborts the whole batch: callers must treat
// the complete submitted payload as invalid, not partially applied. A pair
// repeating an existing scalar path overwrites it.
func Unflatten(pairs []Pair) (Tree, error) {
	root := make(Tree)
	for _, pair := range pairs {
		if err := graft(root, pair.Path, pair.Value); err != nil {
			return nil, err
		}
	}
	return root, nil
}

func graft(t Tree, path string, value Value) error {
	segments := strings.Split(path, ".")
	node := t
	for i, seg := range segments[:len(segments)-1] {
		existing, ok := node[seg]
		if !ok {
			child := make(Tree)
			node[seg] = child
			node = child
			continue
		}
		child, ok := existing.(Tree)
		if !ok {
			return &PathConflictError{Path: strings.Join(segments[:i+1], ".")}
		}
		node = child
	}

	leaf := segments[len(segments)-1]
	if existing, ok := node[leaf]; ok {
		if _, isBranch := existing.(Tree); isBranch {
			return &PathConflictError{Path: path}
		}
	}
	node[leaf] = value
	return nil
}
