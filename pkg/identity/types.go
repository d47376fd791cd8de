package identity

import (
	"context"
	"strings"
	"time"
)

// EmailAddress is a normalized address owned by exactly one Identity.
type EmailAddress struct {
	Email     string     `json:"email"`
	LastLogin *time.Time `json:"last_login,omitempty"`
}

// Identity is the canonical user record. The set of all emails (primary plus
// aliases) across all identities forms a partition: no address ever belongs
// to two identities at once.
type Identity struct {
	ID             string         `json:"user_id"`
	PrimaryEmail   string         `json:"email"`
	FirstName      string         `json:"first_name"`
	LastName       string         `json:"last_name"`
	Emails         []EmailAddress `json:"emails"` // includes the primary email
	PermittedApps  []string       `json:"permitted_applications,omitempty"`
	AccessProfiles []string       `json:"access_profiles,omitempty"`
	LastAccessed   *time.Time     `json:"last_accessed,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// FullName returns "first last", falling back to the primary email when both
// name fields are empty.
func (id *Identity) FullName() string {
	names := make([]string, 0, 2)
	for _, n := range []string{id.FirstName, id.LastName} {
		if n != "" {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return id.PrimaryEmail
	}
	return strings.Join(names, " ")
}

// EmailStrings returns all owned addresses in stored order.
func (id *Identity) EmailStrings() []string {
	out := make([]string, len(id.Emails))
	for i, e := range id.Emails {
		out[i] = e.Email
	}
	return out
}

// OwnsEmail reports whether the identity owns the given normalized address.
func (id *Identity) OwnsEmail(email string) bool {
	for _, e := range id.Emails {
		if e.Email == email {
			return true
		}
	}
	return false
}

// OwnsDomain reports whether any owned address is at the given bare domain.
func (id *Identity) OwnsDomain(domain string) bool {
	for _, e := range id.Emails {
		if Domain(e.Email) == domain {
			return true
		}
	}
	return false
}

// EmailsForApplication selects the address presented to a consuming
// application as the user's primary email, plus the related aliases. When
// immutable is set the identity's own primary email is always returned,
// bypassing domain-priority selection.
func (id *Identity) EmailsForApplication(order []string, immutable bool) (primary string, related []string) {
	if immutable || len(id.Emails) == 0 {
		related = make([]string, 0, len(id.Emails))
		for _, e := range id.Emails {
			if e.Email != id.PrimaryEmail {
				related = append(related, e.Email)
			}
		}
		return id.PrimaryEmail, related
	}
	return PickPrimary(id.EmailStrings(), order)
}

// ImportRow is one row of bulk import data. It exists only for the duration
// of a reconciliation pass.
type ImportRow struct {
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name"`
	Emails    []string `json:"emails"` // candidate emails as supplied, not yet deduplicated
}

// ParseRow builds an ImportRow from raw CSV columns: first name, last name,
// then any number of email columns. Blank columns are dropped.
func ParseRow(cols []string) ImportRow {
	row := ImportRow{}
	if len(cols) > 0 {
		row.FirstName = strings.TrimSpace(cols[0])
	}
	if len(cols) > 1 {
		row.LastName = strings.TrimSpace(cols[1])
	}
	if len(cols) > 2 {
		for _, col := range cols[2:] {
			if strings.TrimSpace(col) != "" {
				row.Emails = append(row.Emails, col)
			}
		}
	}
	return row
}

// Action is the decision taken for one import row.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
)

// Decision is the computed outcome of reconciling one import row. It is
// applied against the store as a single atomic unit: the survivor is written,
// the listed duplicates are deleted, and the granted applications are added,
// all within one transaction.
type Decision struct {
	Action    Action
	Identity  *Identity // desired final state of the surviving identity
	DeleteIDs []string  // duplicate identities absorbed by the survivor
	GrantApps []string  // application keys added (not replaced) on the survivor
}

// Store is the persistence contract the reconciliation engine writes
// through. Implementations must enforce global email uniqueness atomically
// with the write (a unique index, not a check-then-insert) and must apply a
// Decision transactionally.
type Store interface {
	// GetByEmail returns the identity owning the address (primary or
	// alias), or ErrNotFound.
	GetByEmail(ctx context.Context, email string) (*Identity, error)
	// GetByID returns the identity with the given stable ID, or ErrNotFound.
	GetByID(ctx context.Context, id string) (*Identity, error)
	// Apply executes a reconciliation decision atomically.
	Apply(ctx context.Context, d *Decision) error
	// AddAlias attaches a new alias to an existing identity. Fails with an
	// AliasConflictError when the address is owned elsewhere.
	AddAlias(ctx context.Context, identityID, email string) error
	// RecordLogin stamps the last-login time on the matched address.
	RecordLogin(ctx context.Context, email string, at time.Time) error
}
