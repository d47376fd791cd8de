package cli

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/crossfield/ssobroker/pkg/identity"
)

func newImportAliasesCommand() *Command {
	cmd := &Command{
		Name:        "import-aliases",
		Description: "Attach email aliases to existing users from a CSV file",
		Flags:       flag.NewFlagSet("import-aliases", flag.ExitOnError),
	}

	file := cmd.Flags.String("file", "", "CSV file of email,alias pairs")
	dryRun := cmd.Flags.Bool("dry-run", false, "Report decisions without writing anything")
	skipHeader := cmd.Flags.Bool("skip-header", false, "Skip the first CSV row")
	sf := addStorageFlags(cmd.Flags)

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *file == "" {
			return fmt.Errorf("--file is required")
		}

		logger := sf.logger()

		rows, err := readAliasRows(*file, *skipHeader)
		if err != nil {
			return err
		}
		logger.Infof("Read %d rows from %s", len(rows), *file)

		store, err := sf.open()
		if err != nil {
			return err
		}
		defer store.Close()

		report, err := identity.NewAliasImporter(store).Import(context.Background(), rows, *dryRun)
		if report != nil {
			for _, line := range report.Logs {
				logger.Debug(line)
			}
			if *dryRun {
				logger.Info("Dry run, no changes were written")
			}
			logger.Infof("Aliases attached: %d, skipped: %d", report.RowsProcessed, report.RowsSkipped)
		}
		if err != nil {
			return fmt.Errorf("alias import failed: %w", err)
		}
		return nil
	}

	return cmd
}

// readAliasRows parses a CSV of email,alias pairs. Extra columns are ignored.
func readAliasRows(path string, skipHeader bool) ([]identity.AliasRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var rows []identity.AliasRow
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
		if len(record) < 2 {
			return nil, fmt.Errorf("%s: alias rows need two columns, got %d", path, len(record))
		}
		rows = append(rows, identity.AliasRow{Email: record[0], Alias: record[1]})
	}
	return rows, nil
}
