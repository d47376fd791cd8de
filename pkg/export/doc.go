// Package export produces the administrative user-data export: one CSV row
// per identity with its aliases, access profiles, and permitted applications,
// optionally uploaded to an S3-compatible object store.
package export
