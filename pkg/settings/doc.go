// Package settings implements the hierarchical per-(user, application)
// settings store: nested key/value trees flattened into dot-path rows for
// persistence, reconstructed losslessly on read, merged with structural
// conflict detection on write, and deleted at any subtree depth.
//
// One stored row covers one root key of the tree; the storage contract
// guarantees at most one row per (user, app, root key). Trees are built
// functionally: merge and delete return new trees and never mutate their
// inputs.
package settings
