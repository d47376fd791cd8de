package settings

import "strings"

// Merge combines two trees into a new one without mutating either input.
// At any shared key path both trees must agree: branch with branch recurses,
// scalar with scalar requires exact equality, and a branch meeting a scalar
// is always a MergeConflictError. The empty tree is the identity element and
// merging a tree with itself returns an equal tree.
func Merge(base, incoming Tree) (Tree, error) {
	return mergeAt(base, incoming, nil)
}

func mergeAt(base, incoming Tree, path []string) (Tree, error) {
	out := base.Clone()

	for key, in := range incoming {
		existing, ok := out[key]
		if !ok {
			if child, isBranch := in.(Tree); isBranch {
				out[key] = child.Clone()
			} else {
				out[key] = in
			}
			continue
		}

		keyPath := append(append([]string(nil), path...), key)

		switch e := existing.(type) {
		case Tree:
			child, isBranch := in.(Tree)
			if !isBranch {
				return nil, &MergeConflictError{Path: strings.Join(keyPath, ".")}
			}
			merged, err := mergeAt(e, child, keyPath)
			if err != nil {
				return nil, err
			}
			out[key] = merged
		case Value:
			scalar, isScalar := in.(Value)
			if !isScalar || !e.Equal(scalar) {
				return nil, &MergeConflictError{Path: strings.Join(keyPath, ".")}
			}
		}
	}
	return out, nil
}

// DeleteSubtree returns a new tree with the node addressed by the
// dot-separated path removed, along with its descendants. Sibling keys are
// untouched; intermediate branches left empty by the removal are pruned.
// Deleting a non-existent path fails with a NotFoundError.
func DeleteSubtree(t Tree, path string) (Tree, error) {
	if _, ok := t.Lookup(path); !ok {
		return nil, &NotFoundError{Path: path}
	}

	out := t.Clone()
	segments := strings.Split(path, ".")

	// Walk down to the parent of the target, remembering the branches so
	// emptied ones can be pruned on the way back up.
	branches := []Tree{out}
	node := out
	for _, seg := range segments[:len(segments)-1] {
		node = node[seg].(Tree)
		branches = append(branches, node)
	}

	delete(node, segments[len(segments)-1])

	for i := len(branches) - 1; i > 0; i-- {
		if len(branches[i]) == 0 {
			delete(branches[i-1], segments[i-1])
		}
	}

	return out, nil
}
