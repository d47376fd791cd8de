// Package cli provides the ssoctl command-line interface for broker operations.
//
// # Overview
//
// This package implements the `ssoctl` tool operators use to bulk-import users,
// attach aliases, and export the user population without going through the HTTP
// API. Commands talk directly to the configured storage backend.
//
// # Commands
//
// import: Merge-import users from a CSV of first name, last name, emails...
//
//	ssoctl import \
//		--file users.csv \
//		--apps wiki,payroll \
//		--dry-run
//
// import-aliases: Attach aliases from a CSV of email,alias pairs
//
//	ssoctl import-aliases --file aliases.csv
//
// export: Write the full user population as CSV
//
//	ssoctl export --out users.csv
//	ssoctl export --upload   # push to the configured S3 bucket
//
// # Configuration
//
// Storage is selected with the same SSOB_* environment variables the broker
// reads (SSOB_STORAGE_TYPE, SSOB_POSTGRES_URL, SSOB_SQLITE_PATH, ...), or per
// command with --storage-type/--postgres-url/--sqlite-path flags.
//
// # Related Packages
//
//   - pkg/identity: reconciler and alias importer the commands drive
//   - pkg/export: CSV rendering and S3 upload
package cli
