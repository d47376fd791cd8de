package identity

import "strings"

// DomainOrderPolicy resolves the ordered list of email domains used to pick
// a primary email. A per-application ordering, when configured, strictly
// wins over the system-wide default.
type DomainOrderPolicy struct {
	defaultOrder []string
}

// NewDomainOrderPolicy builds a policy from a comma-separated default
// ordering, e.g. "aaa.com, bbb.com". An empty string means no default order.
func NewDomainOrderPolicy(defaultOrder string) *DomainOrderPolicy {
	return &DomainOrderPolicy{defaultOrder: ParseDomainList(defaultOrder)}
}

// ParseDomainList splits a comma-separated list of bare domains, trimming
// whitespace and dropping empty entries.
func ParseDomainList(list string) []string {
	if strings.TrimSpace(list) == "" {
		return nil
	}
	parts := strings.Split(list, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if d := strings.TrimSpace(p); d != "" {
			out = append(out, d)
		}
	}
	return out
}

// DefaultOrder returns the system-wide ordering.
func (p *DomainOrderPolicy) DefaultOrder() []string {
	return p.defaultOrder
}

// OrderFor resolves the effective ordering for an application-specific
// override (comma-separated, possibly empty). A non-empty override wins;
// otherwise the default applies; with neither configured the result is nil
// and callers fall back to the arbitrary-but-deterministic pick implemented
// by PickPrimary.
func (p *DomainOrderPolicy) OrderFor(appOrdering string) []string {
	if override := ParseDomainList(appOrdering); len(override) > 0 {
		return override
	}
	return p.defaultOrder
}

// OrderEmails reorders addresses so that, for each domain in priority order,
// the first address at that domain comes next; at most one address is
// promoted per order entry. Addresses whose domain never appears in the
// order keep their original relative order at the end.
func OrderEmails(emails, order []string) []string {
	remaining := make([]string, len(emails))
	copy(remaining, emails)

	ordered := make([]string, 0, len(emails))
	for _, domain := range order {
		for i, email := range remaining {
			if Domain(email) == domain {
				ordered = append(ordered, email)
				remaining = append(remaining[:i], remaining[i+1:]...)
				break
			}
		}
	}
	return append(ordered, remaining...)
}

// PickPrimary chooses the primary address among emails: the first order
// entry with a matching address wins. When no order entry matches (or no
// order is configured at all) the last supplied address is chosen.
//
// The last-element fallback mirrors long-standing observable behavior that
// downstream consumers may depend on; callers must not assume the first
// element wins in the unordered case.
func PickPrimary(emails, order []string) (primary string, remaining []string) {
	if len(emails) == 0 {
		return "", nil
	}

	idx := -1
	for _, domain := range order {
		for i, email := range emails {
			if Domain(email) == domain {
				idx = i
				break
			}
		}
		if idx >= 0 {
			break
		}
	}
	if idx < 0 {
		idx = len(emails) - 1
	}

	primary = emails[idx]
	remaining = make([]string, 0, len(emails)-1)
	for i, email := range emails {
		if i != idx {
			remaining = append(remaining, email)
		}
	}
	return primary, remaining
}
