package cli

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/crossfield/ssobroker/pkg/identity"
	"github.com/crossfield/ssobroker/pkg/observability"
	"github.com/crossfield/ssobroker/pkg/storage"
)

func newImportCommand() *Command {
	cmd := &Command{
		Name:        "import",
		Description: "Merge-import users from a CSV file",
		Flags:       flag.NewFlagSet("import", flag.ExitOnError),
	}

	file := cmd.Flags.String("file", "", "CSV file: first name, last name, then email columns")
	appList := cmd.Flags.String("apps", "", "Comma-separated application keys to grant to every imported user")
	dryRun := cmd.Flags.Bool("dry-run", false, "Report decisions without writing anything")
	skipHeader := cmd.Flags.Bool("skip-header", false, "Skip the first CSV row")
	domainOrder := cmd.Flags.String("domain-order", getEnv("SSOB_DEFAULT_EMAIL_ORDER", ""), "Comma-separated domain priority for primary selection")
	sf := addStorageFlags(cmd.Flags)

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *file == "" {
			return fmt.Errorf("--file is required")
		}

		logger := sf.logger()

		rows, err := readImportRows(*file, *skipHeader)
		if err != nil {
			return err
		}
		logger.Infof("Read %d rows from %s", len(rows), *file)

		store, err := sf.open()
		if err != nil {
			return err
		}
		defer store.Close()

		policy := identity.NewDomainOrderPolicy(*domainOrder)
		report, err := importUsers(context.Background(), store, policy, rows, splitList(*appList), *dryRun)
		printReconcileReport(logger, report, *dryRun)
		if err != nil {
			return fmt.Errorf("import failed: %w", err)
		}
		return nil
	}

	return cmd
}

// importUsers runs one merge-reconciliation pass over the parsed rows.
func importUsers(ctx context.Context, store storage.Store, policy *identity.DomainOrderPolicy, rows []identity.ImportRow, appKeys []string, dryRun bool) (*identity.Report, error) {
	reconciler := identity.NewReconciler(store, policy, observability.NewLogger(observability.WarnLevel, os.Stderr))
	return reconciler.Reconcile(ctx, rows, appKeys, dryRun)
}

// readImportRows parses a CSV file into import rows. Rows may carry any
// number of email columns, so field counts are not enforced.
func readImportRows(path string, skipHeader bool) ([]identity.ImportRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var rows []identity.ImportRow
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if skipHeader {
			skipHeader = false
			continue
		}
		rows = append(rows, identity.ParseRow(record))
	}
	return rows, nil
}

func printReconcileReport(logger *logrus.Logger, report *identity.Report, dryRun bool) {
	if report == nil {
		return
	}
	for _, line := range report.Logs {
		logger.Debug(line)
	}
	if dryRun {
		logger.Info("Dry run, no changes were written")
	}
	logger.Infof("Imported: %d, failed: %d", report.RowsImported, report.RowsFailed)
	logger.Infof("Users created: %d, updated: %d, deleted: %d", report.UsersCreated, report.UsersUpdated, report.UsersDeleted)
}

func splitList(list string) []string {
	var out []string
	for _, item := range strings.Split(list, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
