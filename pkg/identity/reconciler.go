package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/crossfield/ssobroker/pkg/observability"
)

// Report accumulates the outcome of one reconciliation batch. Logs holds one
// human-readable block per input row, in input order.
type Report struct {
	RowsImported int      `json:"rows_imported"`
	RowsFailed   int      `json:"rows_failed"`
	UsersCreated int      `json:"users_created"`
	UsersUpdated int      `json:"users_updated"`
	UsersDeleted int      `json:"users_deleted"`
	Logs         []string `json:"logs"`
}

func (r *Report) logf(format string, args ...interface{}) {
	r.Logs = append(r.Logs, fmt.Sprintf(format, args...))
}

// Reconciler executes create/update/merge decisions for bulk import rows
// against the identity store.
type Reconciler struct {
	store    Store
	resolver *Resolver
	policy   *DomainOrderPolicy
	logger   *observability.Logger
}

// NewReconciler creates a reconciler. The store must also serve alias
// lookups so that later rows observe identities written by earlier rows in
// the same batch.
func NewReconciler(store Store, policy *DomainOrderPolicy, logger *observability.Logger) *Reconciler {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Reconciler{
		store:    store,
		resolver: NewResolver(store),
		policy:   policy,
		logger:   logger,
	}
}

// Reconcile processes rows strictly in input order. Invalid rows are
// counted and skipped; the batch never aborts for them. With dryRun set the
// decision computation and report are identical but nothing is persisted.
//
// An AliasConflictError from the store aborts the batch and is returned
// together with the report accumulated so far: it indicates a concurrent
// writer or an integrity bug, not bad input.
func (rc *Reconciler) Reconcile(ctx context.Context, rows []ImportRow, appKeys []string, dryRun bool) (*Report, error) {
	report := &Report{}
	order := rc.policy.DefaultOrder()

	for i, raw := range rows {
		report.logf("------ row %d -------", i+1)

		row, err := NormalizeRow(raw)
		if err != nil {
			report.logf("skipping row due to validation error: %v", err)
			report.RowsFailed++
			continue
		}

		emails := OrderEmails(row.Emails, order)

		existing, err := rc.resolver.Resolve(ctx, emails, order)
		if err != nil {
			return report, fmt.Errorf("failed to resolve row %d: %w", i+1, err)
		}

		primary, related := PickPrimary(emails, order)

		existingEmails := make([]string, len(existing))
		for j, id := range existing {
			existingEmails[j] = id.PrimaryEmail
		}
		report.logf("found %d users: %s", len(existing), strings.Join(existingEmails, ", "))
		report.logf("primary email: %s / related emails: %s", primary, strings.Join(related, ", "))

		decision := rc.decide(row, existing, primary, related, appKeys)

		switch decision.Action {
		case ActionCreate:
			report.logf("creating a new user")
			report.UsersCreated++
		case ActionUpdate:
			report.logf("updating user")
			report.UsersUpdated++
			if n := len(decision.DeleteIDs); n > 0 {
				report.logf("deleting %d other users", n)
				report.UsersDeleted += n
			}
		}
		report.RowsImported++

		if dryRun {
			continue
		}

		if err := rc.store.Apply(ctx, decision); err != nil {
			if IsAliasConflict(err) {
				return report, fmt.Errorf("row %d: %w", i+1, err)
			}
			return report, fmt.Errorf("failed to apply decision for row %d: %w", i+1, err)
		}
	}

	rc.logger.WithFields(map[string]interface{}{
		"rows_imported": report.RowsImported,
		"rows_failed":   report.RowsFailed,
		"users_created": report.UsersCreated,
		"users_updated": report.UsersUpdated,
		"users_deleted": report.UsersDeleted,
		"dry_run":       dryRun,
	}).Info("reconciliation batch complete")

	return report, nil
}

// decide computes the decision for one validated row. The first resolved
// identity (by domain-priority order) survives; its name fields, primary
// email, and alias set are replaced wholesale from the row, and the
// remaining matches are absorbed. Identities not referenced by the row are
// never touched.
func (rc *Reconciler) decide(row ImportRow, existing []*Identity, primary string, related []string, appKeys []string) *Decision {
	now := time.Now().UTC()

	emails := make([]EmailAddress, 0, len(related)+1)
	emails = append(emails, EmailAddress{Email: primary})
	for _, e := range related {
		emails = append(emails, EmailAddress{Email: e})
	}

	survivor := &Identity{
		PrimaryEmail: primary,
		FirstName:    row.FirstName,
		LastName:     row.LastName,
		Emails:       emails,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if len(existing) == 0 {
		survivor.ID = uuid.NewString()
		return &Decision{
			Action:    ActionCreate,
			Identity:  survivor,
			GrantApps: appKeys,
		}
	}

	survivor.ID = existing[0].ID
	survivor.CreatedAt = existing[0].CreatedAt
	survivor.AccessProfiles = existing[0].AccessProfiles
	survivor.PermittedApps = existing[0].PermittedApps
	survivor.LastAccessed = existing[0].LastAccessed

	deleteIDs := make([]string, 0, len(existing)-1)
	for _, other := range existing[1:] {
		deleteIDs = append(deleteIDs, other.ID)
	}

	return &Decision{
		Action:    ActionUpdate,
		Identity:  survivor,
		DeleteIDs: deleteIDs,
		GrantApps: appKeys,
	}
}
