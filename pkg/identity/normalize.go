package identity

import (
	"fmt"
	"net/mail"
	"strings"
)

// Normalize trims surrounding whitespace and lower-cases an email address.
// Normalization is idempotent.
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Domain returns the bare domain of an address, or "" when the address has
// no "@".
func Domain(email string) string {
	parts := strings.SplitN(email, "@", 2)
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}

// ValidateEmail checks that an address is RFC-5322 shaped: parseable as a
// bare address with a non-empty local part and a domain. The address is
// expected to already be normalized.
func ValidateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return fmt.Errorf("%s is not valid", email)
	}
	// Reject display-name forms ("Name <a@b>") and anything the parser
	// rewrote; only the bare address is acceptable in import data.
	if addr.Address != email {
		return fmt.Errorf("%s is not valid", email)
	}
	local, domain, _ := strings.Cut(email, "@")
	if local == "" || domain == "" {
		return fmt.Errorf("%s is not valid", email)
	}
	return nil
}

// NormalizeRow normalizes and validates an import row in place: names are
// trimmed, emails trimmed and lower-cased, duplicates dropped while
// preserving first-seen order. Returns an InvalidRowError on missing names,
// missing emails, or a malformed address.
func NormalizeRow(row ImportRow) (ImportRow, error) {
	row.FirstName = strings.TrimSpace(row.FirstName)
	row.LastName = strings.TrimSpace(row.LastName)

	if row.FirstName == "" || row.LastName == "" {
		return row, &InvalidRowError{Reason: "missing first or last name"}
	}

	seen := make(map[string]struct{}, len(row.Emails))
	emails := make([]string, 0, len(row.Emails))
	for _, raw := range row.Emails {
		email := Normalize(raw)
		if email == "" {
			continue
		}
		if _, dup := seen[email]; dup {
			continue
		}
		if err := ValidateEmail(email); err != nil {
			return row, &InvalidRowError{Reason: err.Error()}
		}
		seen[email] = struct{}{}
		emails = append(emails, email)
	}

	if len(emails) == 0 {
		return row, &InvalidRowError{Reason: "no emails provided"}
	}

	row.Emails = emails
	return row, nil
}
