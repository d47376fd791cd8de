package settings

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/crossfield/ssobroker/pkg/observability"
)

// ErrInvalidEnvelope is returned when a settings request body does not have
// exactly one top-level key of "@" (the caller's own namespace) or "global".
var ErrInvalidEnvelope = errors.New(`settings body must have exactly one top-level key: "@" or "global"`)

// Service implements the read/write/delete semantics over the row store:
// envelope resolution, conflict-checked merges, and subtree deletion. Writes
// and deletes for one (user, app) pair are serialized so two concurrent
// writers cannot both pass the conflict check and insert divergent rows.
type Service struct {
	store  Store
	locks  keyedMutex
	logger *observability.Logger
}

// NewService creates a settings service over the given store.
func NewService(store Store, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Service{store: store, logger: logger}
}

// Read reconstructs the caller-visible settings: the global namespace plus
// the calling application's own namespace, keyed by slug. With includeAll
// set (privileged applications only) every namespace the user has rows
// under is returned instead.
func (s *Service) Read(ctx context.Context, userID, appSlug string, includeAll bool) (map[string]interface{}, error) {
	slugs := []string{GlobalSlug, appSlug}
	if includeAll {
		all, err := s.store.AppSlugs(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to list settings namespaces: %w", err)
		}
		slugs = all
	}

	out := make(map[string]interface{})
	seen := make(map[string]struct{}, len(slugs))
	for _, slug := range slugs {
		if _, dup := seen[slug]; dup {
			continue
		}
		seen[slug] = struct{}{}

		tree, err := s.load(ctx, userID, slug)
		if err != nil {
			return nil, err
		}
		if len(tree) > 0 {
			out[slug] = tree.ToJSON()
		}
	}
	return out, nil
}

// Write applies a partial settings update. The incoming subtree is merged
// against the persisted tree first: a structural mismatch anywhere rejects
// the entire request and nothing is persisted. Only the root keys named by
// the update are rewritten.
func (s *Service) Write(ctx context.Context, userID, appSlug string, body map[string]interface{}) error {
	slug, incoming, err := s.resolveEnvelope(appSlug, body)
	if err != nil {
		return err
	}
	if len(incoming) == 0 {
		return ErrInvalidEnvelope
	}

	unlock := s.locks.lock(userID + "\x00" + slug)
	defer unlock()

	// mergeRows recomputes the conflict check against whatever rows are
	// current at write time, so running it inside the store's transaction
	// closes the window between the check and the upserts.
	mergeRows := func(existingRows []Row) ([]Row, error) {
		existing, err := DecodeRows(existingRows)
		if err != nil {
			return nil, err
		}
		merged, err := Merge(existing, incoming)
		if err != nil {
			return nil, err
		}
		out := make([]Row, 0, len(incoming))
		for _, rootKey := range incoming.Keys() {
			row, err := EncodeRow(rootKey, merged[rootKey])
			if err != nil {
				return nil, err
			}
			out = append(out, row)
		}
		return out, nil
	}

	if tx, ok := s.store.(TxStore); ok {
		if err := tx.UpdateRows(ctx, userID, slug, mergeRows); err != nil {
			return err
		}
	} else {
		existingRows, err := s.store.RowsFor(ctx, userID, slug)
		if err != nil {
			return fmt.Errorf("failed to load settings rows: %w", err)
		}
		rows, err := mergeRows(existingRows)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if err := s.store.PutRow(ctx, userID, slug, row); err != nil {
				return fmt.Errorf("failed to store settings row %q: %w", row.RootKey, err)
			}
		}
	}

	s.logger.WithFields(map[string]interface{}{
		"user_id":  userID,
		"app_slug": slug,
		"roots":    len(incoming),
	}).Debug("settings updated")
	return nil
}

// Delete removes the subtrees addressed by each leaf path of the request
// body. Every addressed path must exist; a missing path rejects the whole
// request before any row is touched.
func (s *Service) Delete(ctx context.Context, userID, appSlug string, body map[string]interface{}) error {
	slug, del, err := s.resolveEnvelope(appSlug, body)
	if err != nil {
		return err
	}

	paths := make([]string, 0)
	for _, pair := range Flatten(del) {
		paths = append(paths, pair.Path)
	}
	if len(paths) == 0 {
		return ErrInvalidEnvelope
	}

	unlock := s.locks.lock(userID + "\x00" + slug)
	defer unlock()

	existing, err := s.load(ctx, userID, slug)
	if err != nil {
		return err
	}
	for _, path := range paths {
		if _, ok := existing.Lookup(path); !ok {
			return &NotFoundError{Path: path}
		}
	}

	for _, path := range paths {
		if _, err := s.store.DeleteRowsMatchingPrefix(ctx, userID, slug, path); err != nil {
			if IsNotFound(err) {
				// Already removed as part of a wider prefix earlier in
				// this request.
				continue
			}
			return fmt.Errorf("failed to delete settings at %s: %w", path, err)
		}
	}
	return nil
}

func (s *Service) load(ctx context.Context, userID, slug string) (Tree, error) {
	rows, err := s.store.RowsFor(ctx, userID, slug)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings rows: %w", err)
	}
	return DecodeRows(rows)
}

// resolveEnvelope maps the request envelope onto a target namespace: "@"
// addresses the calling application's own slug, "global" the shared one.
func (s *Service) resolveEnvelope(appSlug string, body map[string]interface{}) (string, Tree, error) {
	if len(body) != 1 {
		return "", nil, ErrInvalidEnvelope
	}

	for prefix, raw := range body {
		var slug string
		switch prefix {
		case SelfPrefix:
			slug = appSlug
		case GlobalSlug:
			slug = GlobalSlug
		default:
			return "", nil, ErrInvalidEnvelope
		}

		obj, ok := raw.(map[string]interface{})
		if !ok {
			return "", nil, ErrInvalidEnvelope
		}
		tree, err := FromJSON(obj)
		if err != nil {
			return "", nil, err
		}
		return slug, tree, nil
	}
	return "", nil, ErrInvalidEnvelope
}

// keyedMutex serializes operations per string key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*lockEntry)
	}
	entry, ok := k.locks[key]
	if !ok {
		entry = &lockEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
