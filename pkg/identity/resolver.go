package identity

import (
	"context"
	"fmt"
)

// Resolver finds the existing identities reachable from a set of aliases and
// orders them by domain priority, so that the first result is the preferred
// merge survivor.
type Resolver struct {
	lookup Lookup
}

// NewResolver creates a resolver over the given alias lookup.
func NewResolver(lookup Lookup) *Resolver {
	return &Resolver{lookup: lookup}
}

// Resolve looks up each address in turn and collects the distinct matching
// identities in discovery order, then reorders them so identities owning an
// address at a higher-priority domain sort earlier. Identities matching no
// ordered domain keep their discovery order at the end. Addresses matching
// no identity are ignored.
func (r *Resolver) Resolve(ctx context.Context, emails, order []string) ([]*Identity, error) {
	var found []*Identity
	seen := make(map[string]struct{})

	for _, email := range emails {
		owner, err := r.lookup.GetByEmail(ctx, email)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to look up %s: %w", email, err)
		}
		if _, dup := seen[owner.ID]; dup {
			continue
		}
		seen[owner.ID] = struct{}{}
		found = append(found, owner)
	}

	return orderIdentities(found, order), nil
}

// orderIdentities promotes, for each domain in priority order, the first
// identity owning an address at that domain; at most one identity per order
// entry. Unmatched identities follow in their original order.
func orderIdentities(identities []*Identity, order []string) []*Identity {
	if len(order) == 0 || len(identities) < 2 {
		return identities
	}

	remaining := make([]*Identity, len(identities))
	copy(remaining, identities)

	ordered := make([]*Identity, 0, len(identities))
	for _, domain := range order {
		for i, id := range remaining {
			if id.OwnsDomain(domain) {
				ordered = append(ordered, id)
				remaining = append(remaining[:i], remaining[i+1:]...)
				break
			}
		}
	}
	return append(ordered, remaining...)
}
