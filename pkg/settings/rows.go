package settings

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Row is one persisted settings record: the subtree (or scalar) under a
// single root key of a user's tree for one application, with the payload
// serialized as a JSON scalar or object. JSON keeps the boolean/string
// distinction explicit in storage instead of relying on string sniffing.
type Row struct {
	RootKey string `json:"root_key"`
	Payload string `json:"payload"`
}

// EncodeRows splits a tree into one row per root key.
func EncodeRows(t Tree) ([]Row, error) {
	rows := make([]Row, 0, len(t))
	for _, key := range t.Keys() {
		row, err := EncodeRow(key, t[key])
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// EncodeRow serializes a single root key's node.
func EncodeRow(rootKey string, node interface{}) (Row, error) {
	var shaped interface{}
	switch n := node.(type) {
	case Value:
		shaped = n.AsJSON()
	case Tree:
		shaped = n.ToJSON()
	default:
		return Row{}, fmt.Errorf("unsupported settings node of type %T", node)
	}

	payload, err := json.Marshal(shaped)
	if err != nil {
		return Row{}, fmt.Errorf("failed to encode settings row %q: %w", rootKey, err)
	}
	return Row{RootKey: rootKey, Payload: string(payload)}, nil
}

// DecodeRow deserializes one row back into its node. Unlike FromJSON, no
// string coercion happens here: the payload tags booleans natively.
func DecodeRow(row Row) (interface{}, error) {
	var shaped interface{}
	if err := json.Unmarshal([]byte(row.Payload), &shaped); err != nil {
		return nil, fmt.Errorf("failed to decode settings row %q: %w", row.RootKey, err)
	}
	return nodeFromStored(row.RootKey, shaped)
}

func nodeFromStored(path string, raw interface{}) (interface{}, error) {
	switch v := raw.(type) {
	case string:
		return String(v), nil
	case bool:
		return Bool(v), nil
	case map[string]interface{}:
		t := make(Tree, len(v))
		for key, child := range v {
			node, err := nodeFromStored(path+"."+key, child)
			if err != nil {
				return nil, err
			}
			t[key] = node
		}
		return t, nil
	default:
		return nil, fmt.Errorf("corrupt settings payload at %s: unexpected %T", path, raw)
	}
}

// DecodeRows reassembles a full tree from all rows stored for one
// (user, app). A duplicated root key violates the storage uniqueness
// invariant and is surfaced as a MultipleChoicesError.
func DecodeRows(rows []Row) (Tree, error) {
	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.RootKey]++
	}
	for key, n := range counts {
		if n > 1 {
			return nil, &MultipleChoicesError{RootKey: key, Count: n}
		}
	}

	tree := make(Tree, len(rows))
	for _, row := range rows {
		node, err := DecodeRow(row)
		if err != nil {
			return nil, err
		}
		tree[row.RootKey] = node
	}
	return tree, nil
}

// RootKeyOf returns the first segment of a dot path.
func RootKeyOf(path string) string {
	if i := strings.IndexByte(path, '.'); i >= 0 {
		return path[:i]
	}
	return path
}

// ApplyPrefixDelete computes the storage mutation needed to delete the
// dot-path prefix from the row holding its root key. It returns the
// replacement row, or remove=true when the whole row goes away. Store
// implementations share this so subtree deletes behave identically across
// backends.
func ApplyPrefixDelete(row Row, prefix string) (replacement Row, remove bool, err error) {
	segments := strings.Split(prefix, ".")
	if segments[0] != row.RootKey {
		return Row{}, false, &NotFoundError{Path: prefix}
	}
	if len(segments) == 1 {
		return Row{}, true, nil
	}

	node, err := DecodeRow(row)
	if err != nil {
		return Row{}, false, err
	}
	branch, ok := node.(Tree)
	if !ok {
		return Row{}, false, &NotFoundError{Path: prefix}
	}

	rest := strings.Join(segments[1:], ".")
	pruned, err := DeleteSubtree(branch, rest)
	if err != nil {
		return Row{}, false, err
	}
	if len(pruned) == 0 {
		return Row{}, true, nil
	}

	replacement, err = EncodeRow(row.RootKey, pruned)
	return replacement, false, err
}
