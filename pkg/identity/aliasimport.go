package identity

import (
	"context"
	"fmt"
)

// AliasReport accumulates the outcome of one alias import batch.
type AliasReport struct {
	RowsProcessed int      `json:"rows_processed"`
	RowsSkipped   int      `json:"rows_skipped"`
	Logs          []string `json:"logs"`
}

func (r *AliasReport) logf(format string, args ...interface{}) {
	r.Logs = append(r.Logs, fmt.Sprintf(format, args...))
}

// AliasRow is one alias import row: an address identifying an existing
// identity and the new alias to attach to it.
type AliasRow struct {
	Email string `json:"email"`
	Alias string `json:"alias"`
}

// AliasImporter attaches additional email aliases to existing identities.
// Unlike merge reconciliation it never merges or deletes records: rows that
// would require a merge are skipped for manual review.
type AliasImporter struct {
	store Store
}

// NewAliasImporter creates an alias importer over the given store.
func NewAliasImporter(store Store) *AliasImporter {
	return &AliasImporter{store: store}
}

// Import processes alias rows in order. Each row is validated and then
// skipped when the owning identity is missing, the alias already belongs to
// a different identity, or the alias is already attached.
func (ai *AliasImporter) Import(ctx context.Context, rows []AliasRow, dryRun bool) (*AliasReport, error) {
	report := &AliasReport{}

	for i, row := range rows {
		report.logf("------ row %d -------", i+1)

		email := Normalize(row.Email)
		alias := Normalize(row.Alias)

		if err := firstInvalid(email, alias); err != nil {
			report.logf("validation error: %v; skipping", err)
			report.RowsSkipped++
			continue
		}

		owner, err := ai.store.GetByEmail(ctx, email)
		if err != nil && err != ErrNotFound {
			return report, fmt.Errorf("failed to look up %s: %w", email, err)
		}
		aliasOwner, err := ai.store.GetByEmail(ctx, alias)
		if err != nil && err != ErrNotFound {
			return report, fmt.Errorf("failed to look up %s: %w", alias, err)
		}

		switch {
		case owner == nil:
			report.logf("user with %s does not exist; skipping", email)
			report.RowsSkipped++
		case aliasOwner != nil && aliasOwner.ID != owner.ID:
			report.logf("two user records for %s and %s; manual merge required, skipping", email, alias)
			report.RowsSkipped++
		case aliasOwner != nil:
			report.logf("alias %s already exists for user with email %s; skipping", alias, email)
			report.RowsSkipped++
		default:
			if !dryRun {
				if err := ai.store.AddAlias(ctx, owner.ID, alias); err != nil {
					return report, fmt.Errorf("failed to add alias %s: %w", alias, err)
				}
			}
			report.logf("%s added to user with email %s", alias, email)
			report.RowsProcessed++
		}
	}

	return report, nil
}

func firstInvalid(emails ...string) error {
	for _, e := range emails {
		if err := ValidateEmail(e); err != nil {
			return err
		}
	}
	return nil
}
