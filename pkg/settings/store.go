package settings

import "context"

// GlobalSlug is the reserved application namespace readable by every
// application.
const GlobalSlug = "global"

// SelfPrefix is the envelope key addressing the calling application's own
// namespace.
const SelfPrefix = "@"

// Store is the persistence contract for flattened settings rows. The
// storage layer guarantees at most one row per (user, app, root key): an
// upsert keyed on the root key, enforced atomically with the write.
type Store interface {
	// RowsFor returns all rows stored for one (user, application).
	RowsFor(ctx context.Context, userID, appSlug string) ([]Row, error)
	// AppSlugs lists every application slug the user has rows under.
	AppSlugs(ctx context.Context, userID string) ([]string, error)
	// PutRow upserts the row for its root key.
	PutRow(ctx context.Context, userID, appSlug string, row Row) error
	// DeleteRowsMatchingPrefix removes the settings under the dot-path
	// prefix: the whole row when the prefix is a bare root key, otherwise
	// the addressed subtree within the root key's row. Returns the number
	// of rows changed or removed.
	DeleteRowsMatchingPrefix(ctx context.Context, userID, appSlug, prefix string) (int64, error)
}

// TxStore is implemented by stores that can run a whole load-merge-put
// cycle under a storage-level lock, serializing concurrent writers for the
// same (user, app) across broker instances. The service prefers this path
// when the store offers it; stores without it are serialized by the
// service's in-process keyed mutex only.
type TxStore interface {
	// UpdateRows loads every row for the pair, applies fn, and persists
	// the rows fn returns, all within one serialized unit. An error from
	// fn aborts the cycle with nothing persisted.
	UpdateRows(ctx context.Context, userID, appSlug string, fn func(existing []Row) ([]Row, error)) error
}
